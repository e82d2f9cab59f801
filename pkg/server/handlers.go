package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metatx-labs/metatx-relay-go/pkg/authorizer"
	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

// handleAuthorize handles the /authorize mutating entry point
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.limiter.Allow() {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	var req types.AuthorizeRequestV1
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return
	}

	if !common.IsHexAddress(req.Signer) {
		http.Error(w, "signer must be a valid hex address", http.StatusBadRequest)
		return
	}
	if len(req.EncodedCall) == 0 {
		http.Error(w, "encoded_call is required", http.StatusBadRequest)
		return
	}
	if len(req.Signature) != types.SignatureLength {
		http.Error(w, fmt.Sprintf("signature must be %d bytes", types.SignatureLength), http.StatusBadRequest)
		return
	}

	relayer := req.Relayer
	if relayer == "" {
		relayer = r.RemoteAddr
	}

	receipt, err := s.authorizer.Authorize(r.Context(), &types.AuthorizationRequest{
		Signer:      common.HexToAddress(req.Signer),
		EncodedCall: []byte(req.EncodedCall),
		Signature:   []byte(req.Signature),
	}, relayer)
	if err != nil {
		switch {
		case errors.Is(err, authorizer.ErrInvalidSignature):
			http.Error(w, err.Error(), http.StatusUnauthorized)
		case errors.Is(err, authorizer.ErrCallExecution):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			s.logger.Sugar().Errorw("Authorization failed", "error", err)
			http.Error(w, "Internal error", http.StatusInternalServerError)
		}
		return
	}

	response := types.AuthorizeResponseV1{
		Executed: receipt.Executed,
		ID:       receipt.ID,
		Action:   receipt.Action,
		Nonce:    receipt.Nonce,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Sugar().Errorw("Failed to encode response", "error", err)
	}
}

// handleGetNonce handles the /nonce query
func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	address := r.URL.Query().Get("address")
	if !common.IsHexAddress(address) {
		http.Error(w, "address must be a valid hex address", http.StatusBadRequest)
		return
	}

	addr := common.HexToAddress(address)
	nonce, err := s.authorizer.GetNonce(addr)
	if err != nil {
		s.logger.Sugar().Errorw("Failed to read nonce", "address", addr.Hex(), "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	response := types.NonceResponseV1{
		Address: addr.Hex(),
		Nonce:   nonce,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Sugar().Errorw("Failed to encode response", "error", err)
	}
}

// handleListAudit handles the /audit query
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	signer := r.URL.Query().Get("signer")
	if !common.IsHexAddress(signer) {
		http.Error(w, "signer must be a valid hex address", http.StatusBadRequest)
		return
	}

	addr := common.HexToAddress(signer)
	records, err := s.authorizer.ListAuditRecords(addr)
	if err != nil {
		s.logger.Sugar().Errorw("Failed to list audit records", "signer", addr.Hex(), "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	response := types.AuditResponseV1{
		Signer:  addr.Hex(),
		Records: records,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Sugar().Errorw("Failed to encode response", "error", err)
	}
}

// handleHealth handles the /health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.authorizer.HealthCheck(); err != nil {
		http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
