package client

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/metatx-labs/metatx-relay-go/pkg/digest"
	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

// RequestSigner holds a signer's private key and produces authorization
// signatures over the exact digest the verifier recomputes. It is the
// off-chain half of the wire contract: same field order, same prefix.
type RequestSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewRequestSigner creates a signer from a hex-encoded secp256k1 private
// key. The hex string can optionally start with "0x".
func NewRequestSigner(privateKeyHex string) (*RequestSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key from hex: %w", err)
	}

	return &RequestSigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// GenerateRequestSigner creates a signer with a fresh random key.
// This is useful for testing.
func GenerateRequestSigner() (*RequestSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	return &RequestSigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the signer's Ethereum address
func (s *RequestSigner) Address() common.Address {
	return s.address
}

// SignAuthorization signs the authorization digest for the given encoded
// call at the given nonce, returning a 65-byte [R || S || V] signature.
func (s *RequestSigner) SignAuthorization(encodedCall []byte, nonce uint64) ([]byte, error) {
	d := digest.AuthorizationDigest(s.address, encodedCall, nonce)
	return digest.SignDigest(d, s.privateKey)
}

// BuildRequest encodes a call and signs it at the given nonce, producing a
// complete authorization request ready for submission.
func (s *RequestSigner) BuildRequest(call *types.ActionCall, nonce uint64) (*types.AuthorizationRequest, error) {
	encoded, err := call.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode call: %w", err)
	}

	signature, err := s.SignAuthorization(encoded, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}

	return &types.AuthorizationRequest{
		Signer:      s.address,
		EncodedCall: encoded,
		Signature:   signature,
	}, nil
}
