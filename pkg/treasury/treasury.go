package treasury

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/metatx-labs/metatx-relay-go/pkg/registry"
	"github.com/metatx-labs/metatx-relay-go/pkg/util"
)

// ActionTransfer is the registry identifier for the owner-gated transfer
const ActionTransfer = "treasury/transfer"

// ErrUnauthorized is returned when a signer lacks the capability for a
// privileged treasury action
var ErrUnauthorized = errors.New("unauthorized treasury action")

// Treasury holds value balances and exposes a transfer action restricted to
// a designated owner. It is the example privileged target: the authorizer
// establishes who signed, the treasury decides whether that signer may move
// funds.
type Treasury struct {
	mu       sync.Mutex
	owner    common.Address
	balances map[common.Address]*big.Int
	logger   *zap.Logger
}

// NewTreasury creates a treasury owned by the given address
func NewTreasury(owner common.Address, logger *zap.Logger) *Treasury {
	return &Treasury{
		owner:    owner,
		balances: make(map[common.Address]*big.Int),
		logger:   logger,
	}
}

// Owner returns the designated owner address
func (t *Treasury) Owner() common.Address {
	return t.owner
}

// Deposit credits an address. Open to anyone.
func (t *Treasury) Deposit(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.credit(to, amount)
	return nil
}

// BalanceOf returns the current balance of an address, 0 if never credited.
func (t *Treasury) BalanceOf(addr common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if balance, exists := t.balances[addr]; exists {
		return new(big.Int).Set(balance)
	}
	return new(big.Int)
}

// Transfer moves funds from the owner's balance to a recipient. Only the
// designated owner may transfer; any other signer fails the capability
// check. Validation happens before any mutation, so a failed transfer
// leaves balances untouched.
func (t *Treasury) Transfer(signer common.Address, to common.Address, amount *big.Int) error {
	if signer != t.owner {
		return fmt.Errorf("%w: signer %s is not the owner", ErrUnauthorized, signer.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	balance, exists := t.balances[t.owner]
	if !exists || balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient treasury balance for transfer of %s", amount.String())
	}

	balance.Sub(balance, amount)
	t.credit(to, amount)

	t.logger.Sugar().Infow("Treasury transfer executed",
		"owner", t.owner.Hex(), "to", to.Hex(), "amount", amount.String())
	return nil
}

// credit adds to an address's balance. Caller must hold the lock.
func (t *Treasury) credit(to common.Address, amount *big.Int) {
	if balance, exists := t.balances[to]; exists {
		balance.Add(balance, amount)
		return
	}
	t.balances[to] = new(big.Int).Set(amount)
}

// TransferHandler adapts Transfer into a registry handler. Params are
// ABI-encoded (address to, uint256 amount).
func (t *Treasury) TransferHandler() registry.Handler {
	return func(ctx context.Context, signer common.Address, params []byte) error {
		to, amount, err := util.DecodeTransferParams(params)
		if err != nil {
			return fmt.Errorf("invalid transfer params: %w", err)
		}
		return t.Transfer(signer, to, amount)
	}
}
