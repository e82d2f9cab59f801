package authorizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metatx-labs/metatx-relay-go/pkg/digest"
	"github.com/metatx-labs/metatx-relay-go/pkg/persistence"
	"github.com/metatx-labs/metatx-relay-go/pkg/registry"
	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

var (
	// ErrInvalidSignature is returned when the recovered signer does not
	// match the claimed signer, or the signature is malformed. No state is
	// mutated. A replayed authorization surfaces as this error: the digest
	// now embeds the incremented nonce, so recovery yields a different
	// address.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrCallExecution is returned when the dispatched call fails. The
	// nonce consumed for the attempt is restored, so the whole invocation
	// either commits or leaves no trace.
	ErrCallExecution = errors.New("call execution failed")
)

// Authorizer verifies off-chain-signed authorizations and executes the
// intended action exactly once per nonce. It exclusively owns the nonce
// store: nothing else reads or writes nonces.
//
// Authorization flow per request:
//  1. Read the signer's current nonce (0 if unseen).
//  2. Compute digest = keccak256(signer || encodedCall || nonce).
//  3. Recover the signing address from the signature over the prefixed digest.
//  4. Mismatch -> ErrInvalidSignature, no state mutated.
//  5. Consume the stored nonce BEFORE dispatching (compare-and-increment
//     against the verified value), so a nested authorization from within a
//     handler can never reuse the same nonce.
//  6. Dispatch the call with the signer as a typed argument. On failure the
//     nonce is restored (again conditionally) and ErrCallExecution returned.
//  7. Persist and log an audit record {signer, relayer, call, nonce}. Once
//     the call effect has committed the nonce is never given back: a failed
//     audit write is logged, not rolled back.
//
// Requests for the same signer are serialized with a per-address mutex, so a
// single frontend never races against itself. The conditional store updates
// extend the same guarantee to several frontends sharing one backend.
type Authorizer struct {
	store    persistence.INonceStore
	registry *registry.ActionRegistry
	logger   *zap.Logger

	// Per-signer locks: common.Address -> *sync.Mutex
	locks sync.Map
}

// NewAuthorizer creates an authorizer over a nonce store and action registry
func NewAuthorizer(store persistence.INonceStore, reg *registry.ActionRegistry, logger *zap.Logger) *Authorizer {
	return &Authorizer{
		store:    store,
		registry: reg,
		logger:   logger,
	}
}

// signerLock returns the mutex serializing authorizations for a signer
func (a *Authorizer) signerLock(signer common.Address) *sync.Mutex {
	lock, _ := a.locks.LoadOrStore(signer, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// GetNonce returns the current nonce for a signer. Request builders use
// this to construct the next valid digest.
func (a *Authorizer) GetNonce(signer common.Address) (uint64, error) {
	return a.store.GetNonce(signer)
}

// ListAuditRecords returns the audit trail for a signer
func (a *Authorizer) ListAuditRecords(signer common.Address) ([]*types.AuditRecord, error) {
	return a.store.ListAuditRecords(signer)
}

// HealthCheck verifies the underlying store is operational
func (a *Authorizer) HealthCheck() error {
	return a.store.HealthCheck()
}

// Authorize verifies a pre-signed authorization and executes the encoded
// call. relayer identifies the submitting party for the audit trail; it has
// no bearing on verification.
func (a *Authorizer) Authorize(ctx context.Context, req *types.AuthorizationRequest, relayer string) (*types.AuthorizationReceipt, error) {
	if req == nil {
		return nil, fmt.Errorf("authorization request cannot be nil")
	}
	if len(req.EncodedCall) == 0 {
		return nil, fmt.Errorf("%w: encoded call cannot be empty", ErrInvalidSignature)
	}

	lock := a.signerLock(req.Signer)
	lock.Lock()
	defer lock.Unlock()

	nonce, err := a.store.GetNonce(req.Signer)
	if err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	d := digest.AuthorizationDigest(req.Signer, req.EncodedCall, nonce)

	recovered, err := digest.RecoverSigner(d, req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if recovered != req.Signer {
		a.logger.Sugar().Warnw("Signature recovery mismatch",
			"claimed", req.Signer.Hex(), "recovered", recovered.Hex(), "nonce", nonce)
		return nil, fmt.Errorf("%w: recovered %s, expected %s", ErrInvalidSignature, recovered.Hex(), req.Signer.Hex())
	}

	// Consume the nonce before dispatching. The store compares against the
	// verified value, so a concurrent frontend sharing the store cannot
	// consume the same nonce.
	if _, err := a.store.ConsumeNonce(req.Signer, nonce); err != nil {
		if errors.Is(err, persistence.ErrNonceConflict) {
			return nil, fmt.Errorf("%w: nonce %d already consumed", ErrInvalidSignature, nonce)
		}
		return nil, fmt.Errorf("failed to consume nonce: %w", err)
	}

	call, err := types.DecodeActionCall(req.EncodedCall)
	if err != nil {
		return nil, a.rollback(req.Signer, nonce, fmt.Errorf("%w: %v", ErrCallExecution, err))
	}

	if err := a.registry.Dispatch(ctx, req.Signer, call); err != nil {
		a.logger.Sugar().Warnw("Dispatched call failed",
			"signer", req.Signer.Hex(), "action", call.Action, "nonce", nonce, "error", err)
		return nil, a.rollback(req.Signer, nonce, fmt.Errorf("%w: %v", ErrCallExecution, err))
	}

	record := &types.AuditRecord{
		ID:          uuid.New().String(),
		Signer:      req.Signer,
		Relayer:     relayer,
		Action:      call.Action,
		EncodedCall: req.EncodedCall,
		Nonce:       nonce,
		Timestamp:   time.Now().Unix(),
	}
	if err := a.store.SaveAuditRecord(record); err != nil {
		// The call effect already committed. Rolling the nonce back here
		// would make the original signature valid again and let the
		// executed authorization replay, so the nonce stays consumed and
		// the missing record is surfaced in the logs.
		a.logger.Sugar().Errorw("Failed to persist audit record for executed authorization",
			"id", record.ID, "signer", req.Signer.Hex(), "action", call.Action, "nonce", nonce, "error", err)
	}

	a.logger.Sugar().Infow("Authorization executed",
		"id", record.ID,
		"signer", req.Signer.Hex(),
		"relayer", relayer,
		"action", call.Action,
		"nonce", nonce,
	)

	return &types.AuthorizationReceipt{
		ID:       record.ID,
		Signer:   req.Signer,
		Action:   call.Action,
		Nonce:    nonce,
		Executed: true,
	}, nil
}

// rollback restores a consumed nonce after a failed dispatch. The restore is
// conditional on the nonce still holding the value this call wrote, so it
// cannot clobber a consume that happened on another frontend in the meantime.
func (a *Authorizer) rollback(signer common.Address, nonce uint64, cause error) error {
	if err := a.store.RestoreNonce(signer, nonce+1, nonce); err != nil {
		a.logger.Sugar().Errorw("Failed to roll back nonce",
			"signer", signer.Hex(), "nonce", nonce, "error", err)
		return fmt.Errorf("%v (nonce rollback also failed: %v)", cause, err)
	}
	return cause
}
