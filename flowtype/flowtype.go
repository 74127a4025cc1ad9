// Package flowtype defines the static catalog of flow types.
//
// Each flow type carries an ordered, non-empty list of named phases plus
// capability flags. Configurations are immutable once registered; the
// registry is a pure lookup table consulted by the orchestrator,
// reconciliation service, and health monitor.
package flowtype

import (
	"fmt"
	"sort"
	"sync"

	floworc "github.com/floworc/floworc"
)

// Type names the built-in flow types.
type Type string

const (
	Discovery  Type = "discovery"
	Assessment Type = "assessment"
	Collection Type = "collection"
	Planning   Type = "planning"
	Execution  Type = "execution"
)

// Phase is one ordered step within a flow type.
type Phase struct {
	// Name is unique within the flow type.
	Name string `json:"name"`

	// Validators lists precondition validator identifiers run before the
	// handler. May be empty.
	Validators []string `json:"validators,omitempty"`

	// Handler is the identifier of the external phase handler. Empty means
	// the phase completes as soon as its validators pass.
	Handler string `json:"handler,omitempty"`
}

// Capabilities are per-flow-type feature flags.
type Capabilities struct {
	PauseResume   bool `json:"pause_resume"`
	Checkpointing bool `json:"checkpointing"`
	Rollback      bool `json:"rollback"`

	// MaxIterations caps retry-driven re-entry of a single phase across the
	// flow's lifetime. Zero means no cap beyond the retry ceiling.
	MaxIterations int `json:"max_iterations,omitempty"`
}

// Config is the immutable configuration for one flow type.
type Config struct {
	Type         Type         `json:"type"`
	Phases       []Phase      `json:"phases"`
	Capabilities Capabilities `json:"capabilities"`

	// ErrorHandler is the identifier invoked when a flow of this type
	// transitions to failed.
	ErrorHandler string `json:"error_handler"`
}

// PhaseNames returns the ordered phase names.
func (c *Config) PhaseNames() []string {
	names := make([]string, len(c.Phases))
	for i, p := range c.Phases {
		names[i] = p.Name
	}
	return names
}

// PhaseIndex returns the position of the named phase, or -1 if the phase
// does not belong to this flow type.
func (c *Config) PhaseIndex(name string) int {
	for i, p := range c.Phases {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// PhaseAt returns the phase at the given index.
func (c *Config) PhaseAt(i int) (Phase, bool) {
	if i < 0 || i >= len(c.Phases) {
		return Phase{}, false
	}
	return c.Phases[i], true
}

// Registry maps flow types to their configurations. Registration happens
// once at process start; re-registration fails loudly so a configuration
// error surfaces at startup rather than degrading into a runtime one.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	configs map[Type]*Config
}

// NewRegistry creates an empty flow type registry.
func NewRegistry() *Registry {
	return &Registry{configs: make(map[Type]*Config)}
}

// RegisterFlowType registers an immutable flow type configuration.
// Returns ErrFlowTypeRegistered if the type is already present and an
// error if the configuration has no phases or duplicate phase names.
func (r *Registry) RegisterFlowType(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("flowtype: nil config")
	}
	if cfg.Type == "" {
		return fmt.Errorf("flowtype: empty type name")
	}
	if len(cfg.Phases) == 0 {
		return fmt.Errorf("flowtype: %q has no phases", cfg.Type)
	}
	seen := make(map[string]struct{}, len(cfg.Phases))
	for _, p := range cfg.Phases {
		if p.Name == "" {
			return fmt.Errorf("flowtype: %q has a phase with an empty name", cfg.Type)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("flowtype: %q has duplicate phase %q", cfg.Type, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[cfg.Type]; exists {
		return fmt.Errorf("%w: %q", floworc.ErrFlowTypeRegistered, cfg.Type)
	}

	// Deep-copy so callers cannot mutate the registered config afterwards.
	stored := &Config{
		Type:         cfg.Type,
		Phases:       append([]Phase(nil), cfg.Phases...),
		Capabilities: cfg.Capabilities,
		ErrorHandler: cfg.ErrorHandler,
	}
	for i := range stored.Phases {
		stored.Phases[i].Validators = append([]string(nil), cfg.Phases[i].Validators...)
	}
	r.configs[cfg.Type] = stored
	return nil
}

// Get returns the configuration for a flow type.
func (r *Registry) Get(t Type) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", floworc.ErrFlowTypeNotFound, t)
	}
	return cfg, nil
}

// Types returns all registered flow types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.configs))
	for t := range r.configs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// VerifyAll is a startup self-test: every registered flow type must have
// at least one phase, a non-empty error handler, and every phase must
// carry at least one validator or a handler. Not a runtime hot path.
func (r *Registry) VerifyAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for t, cfg := range r.configs {
		if len(cfg.Phases) == 0 {
			return fmt.Errorf("flowtype: %q registered with no phases", t)
		}
		if cfg.ErrorHandler == "" {
			return fmt.Errorf("flowtype: %q has no error handler", t)
		}
		for _, p := range cfg.Phases {
			if len(p.Validators) == 0 && p.Handler == "" {
				return fmt.Errorf("flowtype: %q phase %q has neither validators nor a handler", t, p.Name)
			}
		}
	}
	return nil
}
