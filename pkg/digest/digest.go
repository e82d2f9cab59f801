package digest

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// messagePrefix is the EIP-191 personal-message prefix for a 32-byte payload.
// The prefixing scheme must match exactly between signer and verifier.
const messagePrefix = "\x19Ethereum Signed Message:\n32"

// AuthorizationDigest computes the hash binding signer, intended call and
// the pre-increment nonce:
//
//	keccak256(signer(20) || encodedCall || nonce(8, big-endian))
//
// The concatenation order is part of the wire contract between the off-chain
// request builder and the verifier. Changing it invalidates every
// previously issued signature.
func AuthorizationDigest(signer common.Address, encodedCall []byte, nonce uint64) common.Hash {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return crypto.Keccak256Hash(signer.Bytes(), encodedCall, nonceBytes[:])
}

// prefixedHash applies the EIP-191 prefix to an authorization digest
func prefixedHash(d common.Hash) []byte {
	return crypto.Keccak256(append([]byte(messagePrefix), d.Bytes()...))
}

// SignDigest produces a 65-byte [R || S || V] signature over the prefixed
// digest. V is returned in Ethereum convention (27/28).
func SignDigest(d common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}

	sig, err := crypto.Sign(prefixedHash(d), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}

	sig[64] += 27
	return sig, nil
}

// RecoverSigner recovers the signing address from a 65-byte signature over
// the prefixed digest. Accepts V in either 0/1 or 27/28 convention.
func RecoverSigner(d common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: expected %d, got %d", crypto.SignatureLength, len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id: %d", signature[64])
	}

	pub, err := crypto.SigToPub(prefixedHash(d), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}
