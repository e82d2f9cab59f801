package types

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SignatureLength is the expected length of an [R || S || V] ECDSA signature
const SignatureLength = 65

// ActionCall is the tagged-variant encoding of an intended action.
// Action selects a registered handler; Params is an opaque byte payload
// that the target handler decodes itself.
type ActionCall struct {
	Action string        `json:"action"`
	Params hexutil.Bytes `json:"params"`
}

// Encode serializes the call to its canonical wire form. The authorization
// digest is computed over these exact bytes, so the encoding must stay
// deterministic: field order is fixed by the struct definition.
func (c *ActionCall) Encode() ([]byte, error) {
	if c.Action == "" {
		return nil, fmt.Errorf("action cannot be empty")
	}
	return json.Marshal(c)
}

// DecodeActionCall deserializes a canonical encoded call.
func DecodeActionCall(data []byte) (*ActionCall, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot decode empty call")
	}

	var call ActionCall
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("failed to decode action call: %w", err)
	}
	if call.Action == "" {
		return nil, fmt.Errorf("decoded action call has empty action")
	}

	return &call, nil
}

// AuthorizationRequest is a complete pre-signed authorization as submitted
// by a relayer. Constructed off-chain, never persisted.
type AuthorizationRequest struct {
	Signer      common.Address `json:"signer"`
	EncodedCall hexutil.Bytes  `json:"encodedCall"`
	Signature   hexutil.Bytes  `json:"signature"`
}

// AuthorizationReceipt describes a successfully executed authorization.
type AuthorizationReceipt struct {
	ID       string         `json:"id"`
	Signer   common.Address `json:"signer"`
	Action   string         `json:"action"`
	Nonce    uint64         `json:"nonce"`
	Executed bool           `json:"executed"`
}

// AuditRecord is the persisted audit event for an executed authorization.
// Nonce is the pre-increment value the digest was computed over.
type AuditRecord struct {
	ID          string         `json:"id"`
	Signer      common.Address `json:"signer"`
	Relayer     string         `json:"relayer"`
	Action      string         `json:"action"`
	EncodedCall hexutil.Bytes  `json:"encodedCall"`
	Nonce       uint64         `json:"nonce"`
	Timestamp   int64          `json:"timestamp"`
}
