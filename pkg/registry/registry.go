package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

// ErrUnknownAction is returned when a call names an unregistered action
var ErrUnknownAction = errors.New("unknown action")

// Handler executes a dispatched action on behalf of an authorized signer.
// The signer is the address recovered from the authorization signature,
// passed as an explicit argument. The authorizer guarantees who signed;
// each handler must enforce its own capability check on the signer before
// acting (who is *allowed* is the handler's concern).
type Handler func(ctx context.Context, signer common.Address, params []byte) error

// ActionRegistry maps action identifiers to capability-checked handlers.
// It is the execution environment for forwarded calls: dispatch by tag
// instead of low-level call forwarding.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewActionRegistry creates an empty registry
func NewActionRegistry(logger *zap.Logger) *ActionRegistry {
	return &ActionRegistry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register binds a handler to an action identifier.
// Registering the same action twice is an error.
func (r *ActionRegistry) Register(action string, handler Handler) error {
	if action == "" {
		return fmt.Errorf("action identifier cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[action]; exists {
		return fmt.Errorf("action %q is already registered", action)
	}

	r.handlers[action] = handler
	r.logger.Sugar().Infow("Registered action handler", "action", action)
	return nil
}

// Dispatch routes a decoded call to its handler, passing the authorized
// signer through as a typed argument.
func (r *ActionRegistry) Dispatch(ctx context.Context, signer common.Address, call *types.ActionCall) error {
	if call == nil {
		return fmt.Errorf("cannot dispatch nil call")
	}

	r.mu.RLock()
	handler, exists := r.handlers[call.Action]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAction, call.Action)
	}

	return handler(ctx, signer, call.Params)
}

// Actions returns the registered action identifiers, sorted.
func (r *ActionRegistry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actions := make([]string, 0, len(r.handlers))
	for action := range r.handlers {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}
