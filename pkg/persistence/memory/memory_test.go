package memory

import (
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metatx-labs/metatx-relay-go/pkg/persistence"
	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

func TestMemoryStore_NonceLifecycle(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	signer := common.HexToAddress("0x0000000000000000000000000000000000000001")

	// Never-seen address reads as 0
	nonce, err := store.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)

	newNonce, err := store.ConsumeNonce(signer, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), newNonce)

	nonce, err = store.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	// Rollback path
	err = store.RestoreNonce(signer, 1, 0)
	require.NoError(t, err)

	nonce, err = store.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
}

func TestMemoryStore_ConsumeNonce_Conflict(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	signer := common.HexToAddress("0x0000000000000000000000000000000000000005")

	_, err := store.ConsumeNonce(signer, 0)
	require.NoError(t, err)

	// Stale expected value loses the race
	_, err = store.ConsumeNonce(signer, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrNonceConflict))

	nonce, err := store.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
}

func TestMemoryStore_RestoreNonce_Conflict(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	signer := common.HexToAddress("0x0000000000000000000000000000000000000006")

	_, err := store.ConsumeNonce(signer, 0)
	require.NoError(t, err)
	_, err = store.ConsumeNonce(signer, 1)
	require.NoError(t, err)

	// The nonce moved past `from`, so the restore must not clobber it
	err = store.RestoreNonce(signer, 1, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrNonceConflict))

	nonce, err := store.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), nonce)
}

func TestMemoryStore_AuditRecords(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	signer := common.HexToAddress("0x0000000000000000000000000000000000000002")

	records, err := store.ListAuditRecords(signer)
	require.NoError(t, err)
	assert.Empty(t, records)

	for i := 0; i < 3; i++ {
		err := store.SaveAuditRecord(&types.AuditRecord{
			ID:     "id",
			Signer: signer,
			Nonce:  uint64(i),
		})
		require.NoError(t, err)
	}

	records, err = store.ListAuditRecords(signer)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(0), records[0].Nonce)
	assert.Equal(t, uint64(2), records[2].Nonce)
}

func TestMemoryStore_SaveAuditRecord_Nil(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	err := store.SaveAuditRecord(nil)
	require.Error(t, err)
}

func TestMemoryStore_ClosedOperations(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	signer := common.HexToAddress("0x0000000000000000000000000000000000000003")

	_, err := store.GetNonce(signer)
	require.Error(t, err)

	_, err = store.ConsumeNonce(signer, 0)
	require.Error(t, err)

	err = store.RestoreNonce(signer, 1, 0)
	require.Error(t, err)

	require.Error(t, store.HealthCheck())

	// Close is idempotent
	require.NoError(t, store.Close())
}

func TestMemoryStore_ConcurrentConsumers(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	signer := common.HexToAddress("0x0000000000000000000000000000000000000004")

	// All consumers race at expected nonce 0; exactly one may win
	const goroutines = 32
	var wg sync.WaitGroup
	wg.Add(goroutines)

	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.ConsumeNonce(signer, 0)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, errors.Is(err, persistence.ErrNonceConflict))
		}
	}
	assert.Equal(t, 1, wins)

	nonce, err := store.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
}
