package memory

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metatx-labs/metatx-relay-go/pkg/persistence"
	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

// MemoryStore is an in-memory implementation of INonceStore.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies audit records to prevent external mutation.
type MemoryStore struct {
	mu sync.RWMutex

	// Nonce storage: signer -> current nonce
	nonces map[common.Address]uint64

	// Audit storage: signer -> records in insertion order
	audits map[common.Address][]*types.AuditRecord

	// Closed flag
	closed bool
}

// NewMemoryStore creates a new in-memory nonce store.
// Prints a loud warning since this should only be used for testing.
func NewMemoryStore() *MemoryStore {
	fmt.Println("⚠️  WARNING: Using in-memory nonce store - ALL DATA WILL BE LOST ON RESTART")
	fmt.Println("⚠️  This should ONLY be used for testing. Use badger or redis for production")

	return &MemoryStore{
		nonces: make(map[common.Address]uint64),
		audits: make(map[common.Address][]*types.AuditRecord),
	}
}

// GetNonce returns the current nonce for a signer, 0 if never seen.
func (m *MemoryStore) GetNonce(signer common.Address) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, fmt.Errorf("nonce store is closed")
	}

	return m.nonces[signer], nil
}

// ConsumeNonce increments the nonce for a signer if it still equals expected.
func (m *MemoryStore) ConsumeNonce(signer common.Address, expected uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, fmt.Errorf("nonce store is closed")
	}

	if current := m.nonces[signer]; current != expected {
		return 0, fmt.Errorf("%w: expected %d, have %d", persistence.ErrNonceConflict, expected, current)
	}

	m.nonces[signer] = expected + 1
	return m.nonces[signer], nil
}

// RestoreNonce rolls the nonce back from `from` to `to` if it is still `from`.
func (m *MemoryStore) RestoreNonce(signer common.Address, from, to uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("nonce store is closed")
	}

	if current := m.nonces[signer]; current != from {
		return fmt.Errorf("%w: expected %d, have %d", persistence.ErrNonceConflict, from, current)
	}

	m.nonces[signer] = to
	return nil
}

// SaveAuditRecord appends an audit record for the record's signer.
func (m *MemoryStore) SaveAuditRecord(record *types.AuditRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil AuditRecord")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("nonce store is closed")
	}

	// Deep copy to prevent external mutation
	m.audits[record.Signer] = append(m.audits[record.Signer], deepCopyAuditRecord(record))
	return nil
}

// ListAuditRecords returns all audit records for a signer in insertion order.
func (m *MemoryStore) ListAuditRecords(signer common.Address) ([]*types.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("nonce store is closed")
	}

	records := m.audits[signer]
	result := make([]*types.AuditRecord, 0, len(records))
	for _, record := range records {
		result = append(result, deepCopyAuditRecord(record))
	}

	return result, nil
}

// Close shuts down the store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the store is operational.
func (m *MemoryStore) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("nonce store is closed")
	}
	return nil
}

// deepCopyAuditRecord copies a record including its byte payload
func deepCopyAuditRecord(record *types.AuditRecord) *types.AuditRecord {
	cp := *record
	cp.EncodedCall = append([]byte{}, record.EncodedCall...)
	return &cp
}

// Compile-time interface check
var _ persistence.INonceStore = (*MemoryStore)(nil)
