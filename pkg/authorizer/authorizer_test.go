package authorizer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metatx-labs/metatx-relay-go/pkg/digest"
	"github.com/metatx-labs/metatx-relay-go/pkg/logger"
	"github.com/metatx-labs/metatx-relay-go/pkg/persistence"
	"github.com/metatx-labs/metatx-relay-go/pkg/persistence/memory"
	"github.com/metatx-labs/metatx-relay-go/pkg/registry"
	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

type testEnv struct {
	auth    *Authorizer
	reg     *registry.ActionRegistry
	calls   []common.Address // signers seen by the ok handler
	callsMu sync.Mutex
}

// newTestEnv builds an authorizer over a memory store with two registered
// actions: "ok" records the dispatched signer, "fail" always errors.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	return newTestEnvWithStore(t, store)
}

func newTestEnvWithStore(t *testing.T, store persistence.INonceStore) *testEnv {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	reg := registry.NewActionRegistry(testLogger)
	env := &testEnv{reg: reg}

	require.NoError(t, reg.Register("ok", func(ctx context.Context, signer common.Address, params []byte) error {
		env.callsMu.Lock()
		env.calls = append(env.calls, signer)
		env.callsMu.Unlock()
		return nil
	}))
	require.NoError(t, reg.Register("fail", func(ctx context.Context, signer common.Address, params []byte) error {
		return fmt.Errorf("handler rejected the call")
	}))

	env.auth = NewAuthorizer(store, reg, testLogger)
	return env
}

func newSignerKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

// signedRequest builds a complete authorization request for action at the
// given nonce, signed with key
func signedRequest(t *testing.T, key *ecdsa.PrivateKey, signer common.Address, action string, nonce uint64) *types.AuthorizationRequest {
	t.Helper()

	call := &types.ActionCall{Action: action, Params: []byte{1}}
	encoded, err := call.Encode()
	require.NoError(t, err)

	d := digest.AuthorizationDigest(signer, encoded, nonce)
	sig, err := digest.SignDigest(d, key)
	require.NoError(t, err)

	return &types.AuthorizationRequest{
		Signer:      signer,
		EncodedCall: encoded,
		Signature:   sig,
	}
}

func TestAuthorize_SuccessIncrementsNonceAndAudits(t *testing.T) {
	env := newTestEnv(t)
	key, signer := newSignerKey(t)

	req := signedRequest(t, key, signer, "ok", 0)

	receipt, err := env.auth.Authorize(context.Background(), req, "relayer-1")
	require.NoError(t, err)
	require.NotNil(t, receipt)

	assert.True(t, receipt.Executed)
	assert.Equal(t, signer, receipt.Signer)
	assert.Equal(t, "ok", receipt.Action)
	assert.Equal(t, uint64(0), receipt.Nonce)
	assert.NotEmpty(t, receipt.ID)

	nonce, err := env.auth.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	// Handler saw the typed signer argument
	assert.Equal(t, []common.Address{signer}, env.calls)

	// Audit event recorded with signer and relayer
	records, err := env.auth.ListAuditRecords(signer)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, receipt.ID, records[0].ID)
	assert.Equal(t, signer, records[0].Signer)
	assert.Equal(t, "relayer-1", records[0].Relayer)
	assert.Equal(t, uint64(0), records[0].Nonce)
}

func TestAuthorize_ReplayFailsWithInvalidSignature(t *testing.T) {
	env := newTestEnv(t)
	key, signer := newSignerKey(t)

	req := signedRequest(t, key, signer, "ok", 0)

	_, err := env.auth.Authorize(context.Background(), req, "relayer-1")
	require.NoError(t, err)

	// Re-submitting the identical triple: the digest now embeds the
	// incremented nonce, so the signature no longer matches
	_, err = env.auth.Authorize(context.Background(), req, "relayer-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSignature))

	nonce, err := env.auth.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
}

func TestAuthorize_WrongKeyFails(t *testing.T) {
	env := newTestEnv(t)
	_, signer := newSignerKey(t)
	otherKey, _ := newSignerKey(t)

	// Signed by a different private key than the claimed signer
	req := signedRequest(t, otherKey, signer, "ok", 0)

	_, err := env.auth.Authorize(context.Background(), req, "relayer-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSignature))

	// No state mutated
	nonce, err := env.auth.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
	assert.Empty(t, env.calls)
}

func TestAuthorize_MalformedSignatureFails(t *testing.T) {
	env := newTestEnv(t)
	key, signer := newSignerKey(t)

	req := signedRequest(t, key, signer, "ok", 0)
	req.Signature = []byte{1, 2, 3}

	_, err := env.auth.Authorize(context.Background(), req, "relayer-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestAuthorize_FailedCallRollsBackNonce(t *testing.T) {
	env := newTestEnv(t)
	key, signer := newSignerKey(t)

	req := signedRequest(t, key, signer, "fail", 0)

	_, err := env.auth.Authorize(context.Background(), req, "relayer-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCallExecution))

	// Nonce unchanged after the failed attempt
	nonce, err := env.auth.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)

	// No audit record for a failed attempt
	records, err := env.auth.ListAuditRecords(signer)
	require.NoError(t, err)
	assert.Empty(t, records)

	// The same signature is still valid after the rollback
	_, err = env.auth.Authorize(context.Background(), signedRequest(t, key, signer, "ok", 0), "relayer-1")
	require.NoError(t, err)
}

func TestAuthorize_UnknownActionRollsBack(t *testing.T) {
	env := newTestEnv(t)
	key, signer := newSignerKey(t)

	req := signedRequest(t, key, signer, "missing", 0)

	_, err := env.auth.Authorize(context.Background(), req, "relayer-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCallExecution))

	nonce, err := env.auth.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
}

func TestGetNonce_NeverSeenAddressIsZero(t *testing.T) {
	env := newTestEnv(t)
	_, signer := newSignerKey(t)

	nonce, err := env.auth.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
}

func TestAuthorize_SequenceScenario(t *testing.T) {
	env := newTestEnv(t)
	key, signer := newSignerKey(t)

	// Nonce 0: authorize call C
	reqC := signedRequest(t, key, signer, "ok", 0)
	receipt, err := env.auth.Authorize(context.Background(), reqC, "relayer-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), receipt.Nonce)

	nonce, err := env.auth.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	// Replaying the same triple fails
	_, err = env.auth.Authorize(context.Background(), reqC, "relayer-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSignature))

	// Nonce 1: fresh signature for call C'
	reqC2 := signedRequest(t, key, signer, "ok", 1)
	receipt, err = env.auth.Authorize(context.Background(), reqC2, "relayer-2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.Nonce)

	nonce, err = env.auth.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), nonce)

	records, err := env.auth.ListAuditRecords(signer)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "relayer-1", records[0].Relayer)
	assert.Equal(t, "relayer-2", records[1].Relayer)
}

func TestAuthorize_ConcurrentDifferentSigners(t *testing.T) {
	env := newTestEnv(t)

	const signers = 8
	var wg sync.WaitGroup
	wg.Add(signers)

	errs := make([]error, signers)
	addrs := make([]common.Address, signers)

	for i := 0; i < signers; i++ {
		key, signer := newSignerKey(t)
		addrs[i] = signer
		req := signedRequest(t, key, signer, "ok", 0)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.auth.Authorize(context.Background(), req, "relayer-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < signers; i++ {
		require.NoError(t, errs[i])
		nonce, err := env.auth.GetNonce(addrs[i])
		require.NoError(t, err)
		assert.Equal(t, uint64(1), nonce)
	}
}

func TestAuthorize_EmptyCallRejected(t *testing.T) {
	env := newTestEnv(t)
	_, signer := newSignerKey(t)

	_, err := env.auth.Authorize(context.Background(), &types.AuthorizationRequest{
		Signer:    signer,
		Signature: make([]byte, 65),
	}, "relayer-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestAuthorize_NilRequest(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.Authorize(context.Background(), nil, "relayer-1")
	require.Error(t, err)
}

// auditFailStore fails the first n SaveAuditRecord calls, then delegates.
type auditFailStore struct {
	persistence.INonceStore
	failures int
}

func (s *auditFailStore) SaveAuditRecord(record *types.AuditRecord) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("audit backend unavailable")
	}
	return s.INonceStore.SaveAuditRecord(record)
}

func TestAuthorize_AuditSaveFailureDoesNotEnableReplay(t *testing.T) {
	inner := memory.NewMemoryStore()
	t.Cleanup(func() { _ = inner.Close() })

	env := newTestEnvWithStore(t, &auditFailStore{INonceStore: inner, failures: 1})
	key, signer := newSignerKey(t)

	req := signedRequest(t, key, signer, "ok", 0)

	// The handler executed, so the authorization commits even though the
	// audit write failed; the nonce must stay consumed
	receipt, err := env.auth.Authorize(context.Background(), req, "relayer-1")
	require.NoError(t, err)
	assert.True(t, receipt.Executed)

	nonce, err := env.auth.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	records, err := env.auth.ListAuditRecords(signer)
	require.NoError(t, err)
	assert.Empty(t, records)

	// The original signature must not authorize a second execution
	_, err = env.auth.Authorize(context.Background(), req, "relayer-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
	assert.Equal(t, []common.Address{signer}, env.calls)
}

func TestAuthorize_SharedStoreAcrossFrontends(t *testing.T) {
	// Two authorizer instances over one store model two relay frontends:
	// their in-process locks are independent, so only the store-side
	// compare-and-increment keeps the triple from executing twice
	store := memory.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	envA := newTestEnvWithStore(t, store)
	envB := newTestEnvWithStore(t, store)

	key, signer := newSignerKey(t)
	req := signedRequest(t, key, signer, "ok", 0)

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make([]error, 2)
	go func() {
		defer wg.Done()
		_, errs[0] = envA.auth.Authorize(context.Background(), req, "frontend-a")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = envB.auth.Authorize(context.Background(), req, "frontend-b")
	}()
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, errors.Is(err, ErrInvalidSignature))
		}
	}
	assert.Equal(t, 1, wins)

	nonce, err := store.GetNonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
	assert.Equal(t, 1, len(envA.calls)+len(envB.calls))
}
