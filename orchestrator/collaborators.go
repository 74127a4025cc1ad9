package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// Handler is the external collaborator that performs the actual domain
// work of a phase. Handlers must be idempotent under at-least-once
// re-invocation; this is the core's only behavioral requirement of them.
type Handler interface {
	Execute(ctx context.Context, flowID id.FlowID, phase string, tenant scope.Tenant, state []byte) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, flowID id.FlowID, phase string, tenant scope.Tenant, state []byte) ([]byte, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, flowID id.FlowID, phase string, tenant scope.Tenant, state []byte) ([]byte, error) {
	return f(ctx, flowID, phase, tenant, state)
}

// ValidationResult is the outcome of a precondition check.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validator is the external collaborator that checks a phase's
// preconditions against the accumulated state.
type Validator interface {
	Validate(ctx context.Context, state []byte) ValidationResult
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, state []byte) ValidationResult

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, state []byte) ValidationResult {
	return f(ctx, state)
}

// collaborators resolves handler and validator identifiers from flow
// type configs to registered implementations.
type collaborators struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	validators map[string]Validator
}

func newCollaborators() *collaborators {
	return &collaborators{
		handlers:   make(map[string]Handler),
		validators: make(map[string]Validator),
	}
}

func (c *collaborators) registerHandler(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = h
}

func (c *collaborators) registerValidator(name string, v Validator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validators[name] = v
}

func (c *collaborators) handler(name string) (Handler, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[name]
	if !ok {
		return nil, fmt.Errorf("no handler registered for %q", name)
	}
	return h, nil
}

func (c *collaborators) validator(name string) (Validator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.validators[name]
	if !ok {
		return nil, fmt.Errorf("no validator registered for %q", name)
	}
	return v, nil
}
