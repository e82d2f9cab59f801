package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/metatx-labs/metatx-relay-go/pkg/authorizer"
)

/*
Server exposes the meta-transaction relay over HTTP.

Authorization Flow:
  POST /authorize:
    - Request: { signer, encoded_call, signature, relayer }
    - Verifies the signature over digest(signer || encodedCall || nonce)
    - Executes the encoded call through the action registry
    - Response: { executed, id, action, nonce }
    - 401 on signature mismatch (includes replays: the digest embeds the
      already-incremented nonce), 422 when the dispatched call fails
      (nonce restored)

Query Flow:
  GET /nonce?address=0x...:
    - Returns the signer's current nonce; request builders use it to
      construct the next valid digest. Never-seen addresses return 0.

  GET /audit?signer=0x...:
    - Returns persisted audit records for a signer.

  GET /health:
    - Verifies the nonce store is reachable.

Rate Limiting:
  - The mutating /authorize endpoint sits behind a token bucket; excess
    submissions get 429. Queries are not limited.
*/

// Server handles HTTP requests for the relay
type Server struct {
	authorizer *authorizer.Authorizer
	logger     *zap.Logger
	limiter    *rate.Limiter
	httpServer *http.Server
}

// NewServer creates a new server instance. ratePerSecond bounds accepted
// authorize submissions; burst is twice the rate, minimum 1.
func NewServer(auth *authorizer.Authorizer, logger *zap.Logger, port int, ratePerSecond float64) *Server {
	burst := int(2 * ratePerSecond)
	if burst < 1 {
		burst = 1
	}

	s := &Server{
		authorizer: auth,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}

	mux := http.NewServeMux()

	// Mutating entry point
	mux.HandleFunc("/authorize", s.handleAuthorize)

	// Queries
	mux.HandleFunc("/nonce", s.handleGetNonce)
	mux.HandleFunc("/audit", s.handleListAudit)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
