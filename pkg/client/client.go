package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

// ErrRejected is returned when the relay rejects a submission. Rejections
// are never retried: retry policy only covers transport failures, the
// authorizer's verdict is final for a given signature.
var ErrRejected = errors.New("authorization rejected")

// RetryConfig configures retry behavior for transport failures
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

// Client is the relayer-side client: it fetches nonces, submits pre-signed
// authorizations and reports the resulting authorization ID. It holds no
// verification logic of its own.
type Client struct {
	baseURL     string
	relayer     string
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *zap.Logger
}

// NewClient creates a relay client. relayer is the identity reported in
// submissions for the audit trail.
func NewClient(baseURL string, relayer string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		relayer:     relayer,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retryConfig: DefaultRetryConfig,
		logger:      logger,
	}
}

// buildRequestURL constructs a full URL for a relay endpoint
func (c *Client) buildRequestURL(path string) string {
	return fmt.Sprintf("%s%s", c.baseURL, path)
}

// GetNonce fetches the current nonce for a signer. Request builders call
// this before computing the digest.
func (c *Client) GetNonce(ctx context.Context, signer common.Address) (uint64, error) {
	url := c.buildRequestURL("/nonce?address=" + signer.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to build nonce request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to fetch nonce for %s", signer.Hex())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, errors.Errorf("nonce query returned status %d: %s", resp.StatusCode, string(body))
	}

	var nonceResp types.NonceResponseV1
	if err := json.NewDecoder(resp.Body).Decode(&nonceResp); err != nil {
		return 0, errors.Wrapf(err, "failed to decode nonce response")
	}

	return nonceResp.Nonce, nil
}

// SubmitAuthorization submits a pre-signed authorization, retrying
// transport failures with exponential backoff. HTTP-level rejections are
// returned as ErrRejected without retry.
func (c *Client) SubmitAuthorization(ctx context.Context, req *types.AuthorizationRequest) (*types.AuthorizeResponseV1, error) {
	wireReq := types.AuthorizeRequestV1{
		Signer:      req.Signer.Hex(),
		EncodedCall: req.EncodedCall,
		Signature:   req.Signature,
		Relayer:     c.relayer,
	}

	data, err := json.Marshal(wireReq)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal authorization request")
	}

	url := c.buildRequestURL("/authorize")

	var lastErr error
	backoff := c.retryConfig.InitialBackoff
	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to build authorize request")
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err == nil {
			return c.readAuthorizeResponse(resp)
		}
		lastErr = err

		if attempt < c.retryConfig.MaxAttempts-1 {
			c.logger.Sugar().Warnw("Submission attempt failed, retrying",
				"attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.retryConfig.BackoffMultiple)
			if backoff > c.retryConfig.MaxBackoff {
				backoff = c.retryConfig.MaxBackoff
			}
		}
	}

	return nil, errors.Wrapf(lastErr, "failed to submit authorization after %d attempts", c.retryConfig.MaxAttempts)
}

// readAuthorizeResponse decodes a submission response or maps the rejection
func (c *Client) readAuthorizeResponse(resp *http.Response) (*types.AuthorizeResponseV1, error) {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Wrapf(ErrRejected, "status %d: %s", resp.StatusCode, string(bytes.TrimSpace(body)))
	}

	var authResp types.AuthorizeResponseV1
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return nil, errors.Wrapf(err, "failed to decode authorize response")
	}

	return &authResp, nil
}

// Authorize runs the full request-builder + relayer flow: fetch the
// signer's current nonce, encode and sign the call, submit it.
func (c *Client) Authorize(ctx context.Context, signer *RequestSigner, call *types.ActionCall) (*types.AuthorizeResponseV1, error) {
	nonce, err := c.GetNonce(ctx, signer.Address())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch nonce for %s", signer.Address().Hex())
	}

	req, err := signer.BuildRequest(call, nonce)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build authorization request")
	}

	resp, err := c.SubmitAuthorization(ctx, req)
	if err != nil {
		return nil, err
	}

	c.logger.Sugar().Infow("Authorization submitted",
		"id", resp.ID, "signer", signer.Address().Hex(), "action", call.Action, "nonce", resp.Nonce)

	return resp, nil
}
