// Package connectors maps adapter kinds named in configuration to the venue
// client factories that implement them.
package connectors

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/backtesting-org/trading-node/internal/config"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/venue"
)

var (
	ErrUnknownKind     = errors.New("no adapter registered for kind")
	ErrUnsupportedRole = errors.New("adapter does not support role")
)

// ParamType represents the type of an adapter parameter
type ParamType string

const (
	ParamString   ParamType = "string"
	ParamBool     ParamType = "bool"
	ParamInt      ParamType = "int"
	ParamDuration ParamType = "duration"
	ParamList     ParamType = "list"
	ParamMap      ParamType = "map"
)

// ParamMetadata describes a single venue parameter
type ParamMetadata struct {
	Name         string    `json:"name"`
	Type         ParamType `json:"type"`
	Description  string    `json:"description"`
	DefaultValue any       `json:"default_value,omitempty"`
	Required     bool      `json:"required"`
}

// Provider describes one adapter kind. Either factory may be nil when the
// adapter does not serve that role.
type Provider struct {
	Kind        string                  `json:"kind"`
	Description string                  `json:"description"`
	Params      []ParamMetadata         `json:"params"`
	Data        venue.DataClientFactory `json:"-"`
	Exec        venue.ExecClientFactory `json:"-"`
}

// Roles lists the roles the provider can build clients for.
func (p Provider) Roles() []venue.Role {
	var roles []venue.Role
	if p.Data != nil {
		roles = append(roles, venue.RoleData)
	}
	if p.Exec != nil {
		roles = append(roles, venue.RoleExecution)
	}
	return roles
}

// Registry holds registered adapter providers
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider. Kinds are case-insensitive and unique.
func (r *Registry) Register(p Provider) error {
	kind := strings.ToLower(p.Kind)
	if kind == "" {
		return errors.New("provider kind is required")
	}
	if p.Data == nil && p.Exec == nil {
		return fmt.Errorf("provider %s has no factories", kind)
	}
	if _, exists := r.providers[kind]; exists {
		return fmt.Errorf("provider %s already registered", kind)
	}
	p.Kind = kind
	r.providers[kind] = p
	return nil
}

// Get returns the provider registered for kind
func (r *Registry) Get(kind string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(kind)]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return p, nil
}

// List returns all providers ordered by kind
func (r *Registry) List() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Provider) int { return strings.Compare(a.Kind, b.Kind) })
	return out
}

// FactoryRegistrar is the part of the trading node that accepts factories.
type FactoryRegistrar interface {
	AddDataClientFactory(v model.Venue, f venue.DataClientFactory) error
	AddExecClientFactory(v model.Venue, f venue.ExecClientFactory) error
}

// Wire registers, for every configured venue, the factory of the adapter
// kind the configuration selects. All problems are reported together.
func (r *Registry) Wire(n FactoryRegistrar, cfg *config.Config) error {
	var errs []error

	for _, key := range sortedKeys(cfg.DataClients) {
		v := config.Venue(key)
		p, err := r.Get(cfg.FactoryKind(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("data client %s: %w", v, err))
			continue
		}
		if p.Data == nil {
			errs = append(errs, fmt.Errorf("data client %s: %w: %s/%s", v, ErrUnsupportedRole, p.Kind, venue.RoleData))
			continue
		}
		if err := n.AddDataClientFactory(v, p.Data); err != nil {
			errs = append(errs, err)
		}
	}

	for _, key := range sortedKeys(cfg.ExecClients) {
		v := config.Venue(key)
		p, err := r.Get(cfg.FactoryKind(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("exec client %s: %w", v, err))
			continue
		}
		if p.Exec == nil {
			errs = append(errs, fmt.Errorf("exec client %s: %w: %s/%s", v, ErrUnsupportedRole, p.Kind, venue.RoleExecution))
			continue
		}
		if err := n.AddExecClientFactory(v, p.Exec); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
