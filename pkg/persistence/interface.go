package persistence

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

// ErrNonceConflict is returned when a conditional nonce update observes a
// stored value different from the expected one, meaning a concurrent
// consumer won the race. Callers treat the request as stale.
var ErrNonceConflict = errors.New("nonce conflict")

// INonceStore defines the interface for the authorizer's persistent state:
// per-signer replay-protection nonces and the audit trail of executed
// authorizations. All implementations must be thread-safe as the authorizer
// serves concurrent relayers, and nonce updates are conditional so that
// several relay frontends can safely share one backend.
//
// The interface supports:
// - Nonce bookkeeping (get, consume, restore)
// - Audit record storage (save, list)
// - Lifecycle management (close, health check)
type INonceStore interface {
	// Nonce Bookkeeping

	// GetNonce returns the current nonce for a signer.
	// Returns 0 for a never-seen address, error only on storage failure.
	GetNonce(signer common.Address) (uint64, error)

	// ConsumeNonce atomically increments the stored nonce for a signer,
	// but only if the current value equals expected (a never-seen address
	// has current value 0). Returns the new value, or an error wrapping
	// ErrNonceConflict when another consumer got there first.
	ConsumeNonce(signer common.Address, expected uint64) (uint64, error)

	// RestoreNonce rolls a consumed nonce back from `from` to `to`, but
	// only if the stored value still equals from. Returns an error wrapping
	// ErrNonceConflict when the value has moved on, leaving it untouched.
	// Used by the authorizer when the dispatched call fails.
	RestoreNonce(signer common.Address, from, to uint64) error

	// Audit Trail

	// SaveAuditRecord persists an audit record for an executed authorization.
	// Records are indexed by signer; ordering within a signer follows
	// insertion order.
	SaveAuditRecord(record *types.AuditRecord) error

	// ListAuditRecords returns all audit records for a signer in insertion
	// order. Returns an empty slice if none exist, error only on storage
	// failure.
	ListAuditRecords(signer common.Address) ([]*types.AuditRecord, error)

	// Lifecycle Management

	// Close cleanly shuts down the store.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the store is operational.
	// Returns nil if healthy, error describing the problem if not.
	// Should be called during server startup to fail fast.
	HealthCheck() error
}
