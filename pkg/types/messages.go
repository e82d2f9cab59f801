package types

import "github.com/ethereum/go-ethereum/common/hexutil"

// AuthorizeRequestV1 is the wire request for POST /authorize.
// Relayer is the submitting party's self-reported identity; the server
// falls back to the connection's remote address when it is empty.
type AuthorizeRequestV1 struct {
	Signer      string        `json:"signer"`
	EncodedCall hexutil.Bytes `json:"encoded_call"`
	Signature   hexutil.Bytes `json:"signature"`
	Relayer     string        `json:"relayer,omitempty"`
}

// AuthorizeResponseV1 is the wire response for a successful authorization
type AuthorizeResponseV1 struct {
	Executed bool   `json:"executed"`
	ID       string `json:"id"`
	Action   string `json:"action"`
	Nonce    uint64 `json:"nonce"`
}

// NonceResponseV1 is the wire response for GET /nonce
type NonceResponseV1 struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

// AuditResponseV1 is the wire response for GET /audit
type AuditResponseV1 struct {
	Signer  string         `json:"signer"`
	Records []*AuditRecord `json:"records"`
}
