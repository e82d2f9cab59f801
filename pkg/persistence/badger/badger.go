package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/metatx-labs/metatx-relay-go/pkg/persistence"
	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyPrefixNonce       = "nonce:"
	keyPrefixAudit       = "audit:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerStore is a production-ready nonce store implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees. The read-check-
// increment of a nonce happens inside a single Badger transaction.
type BadgerStore struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerStore creates a new Badger-backed nonce store.
// The database is opened at the specified path with SyncWrites enabled for
// durability. A background goroutine is started for garbage collection.
func NewBadgerStore(dataPath string, logger *zap.Logger) (*BadgerStore, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &storeLogger{logger: logger}
	opts.SyncWrites = true // fsync on every write; a lost nonce bump is a replay window
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bs := &BadgerStore{
		db:     db,
		logger: logger,
	}

	if err := bs.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bs.gcCancel = cancel
	bs.gcWg.Add(1)
	go bs.runGC(ctx)

	logger.Sugar().Infow("Badger nonce store initialized", "path", absPath)

	return bs, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerStore) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerStore) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// nonceKey builds the storage key for a signer's nonce
func nonceKey(signer common.Address) []byte {
	return []byte(keyPrefixNonce + signer.Hex())
}

// auditKey builds the storage key for an audit record. The pre-increment
// nonce keeps records for a signer ordered and unique.
func auditKey(signer common.Address, nonce uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", keyPrefixAudit, signer.Hex(), nonce))
}

// decodeNonce reads an 8-byte big-endian nonce value
func decodeNonce(val []byte) (uint64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("invalid nonce data length: %d", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// readNonce reads a signer's nonce within a transaction, 0 if never seen
func readNonce(txn *badgerdb.Txn, signer common.Address) (uint64, error) {
	item, err := txn.Get(nonceKey(signer))
	if err == badgerdb.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var nonce uint64
	err = item.Value(func(val []byte) error {
		nonce, err = decodeNonce(val)
		return err
	})
	return nonce, err
}

// writeNonce stores a signer's nonce within a transaction
func writeNonce(txn *badgerdb.Txn, signer common.Address, nonce uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	return txn.Set(nonceKey(signer), buf)
}

// GetNonce returns the current nonce for a signer, 0 if never seen.
func (b *BadgerStore) GetNonce(signer common.Address) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("nonce store is closed")
	}

	var nonce uint64

	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		nonce, err = readNonce(txn, signer)
		return err
	})

	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}

	return nonce, nil
}

// ConsumeNonce increments the nonce for a signer if it still equals expected.
// The compare and the write happen in a single Badger transaction.
func (b *BadgerStore) ConsumeNonce(signer common.Address, expected uint64) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("nonce store is closed")
	}

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		current, err := readNonce(txn, signer)
		if err != nil {
			return err
		}
		if current != expected {
			return fmt.Errorf("%w: expected %d, have %d", persistence.ErrNonceConflict, expected, current)
		}
		return writeNonce(txn, signer, expected+1)
	})

	if err != nil {
		if errors.Is(err, persistence.ErrNonceConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to consume nonce: %w", err)
	}

	return expected + 1, nil
}

// RestoreNonce rolls the nonce back from `from` to `to` if it is still `from`.
func (b *BadgerStore) RestoreNonce(signer common.Address, from, to uint64) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("nonce store is closed")
	}

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		current, err := readNonce(txn, signer)
		if err != nil {
			return err
		}
		if current != from {
			return fmt.Errorf("%w: expected %d, have %d", persistence.ErrNonceConflict, from, current)
		}
		return writeNonce(txn, signer, to)
	})

	if err != nil {
		if errors.Is(err, persistence.ErrNonceConflict) {
			return err
		}
		return fmt.Errorf("failed to restore nonce: %w", err)
	}

	return nil
}

// SaveAuditRecord persists an audit record keyed by signer and nonce.
func (b *BadgerStore) SaveAuditRecord(record *types.AuditRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil AuditRecord")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("nonce store is closed")
	}

	data, err := persistence.MarshalAuditRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal AuditRecord: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(auditKey(record.Signer, record.Nonce), data)
	})
}

// ListAuditRecords returns all audit records for a signer ordered by nonce.
func (b *BadgerStore) ListAuditRecords(signer common.Address) ([]*types.AuditRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("nonce store is closed")
	}

	records := make([]*types.AuditRecord, 0)

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixAudit + signer.Hex() + ":")

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var data []byte
			err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...) // Copy value
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			record, err := persistence.UnmarshalAuditRecord(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal AuditRecord, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}

			records = append(records, record)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list AuditRecords: %w", err)
	}

	return records, nil
}

// Close shuts down the store
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger nonce store closed")
	return nil
}

// HealthCheck verifies the store is operational
func (b *BadgerStore) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("nonce store is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}

// Compile-time interface check
var _ persistence.INonceStore = (*BadgerStore)(nil)
