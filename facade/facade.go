// Package facade is the stateless composition layer between the HTTP
// gateway and the stores. It normalizes element selectors, checks the
// caller's capability before touching any store, merges multi-id results in
// request order, and passes typed store errors through unchanged.
package facade

import (
	"context"
	"log/slog"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/graphstore"
	"github.com/cesmii/i3x/registry"
	"github.com/cesmii/i3x/subscription"
	"github.com/cesmii/i3x/valuestore"
)

// Capability names the permission an operation requires.
type Capability string

const (
	CapabilityRead      Capability = "read"
	CapabilityWrite     Capability = "write"
	CapabilitySubscribe Capability = "subscribe"
	CapabilityAdmin     Capability = "admin"
)

// Authorizer is the identity extension point. The routing layer attaches
// the authenticated identity to the request context; Allow decides whether
// that identity may exercise the capability. AllowAll is used when no
// authorizer is configured.
type Authorizer interface {
	Allow(ctx context.Context, capability Capability) bool
}

// AllowAll permits every operation.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, Capability) bool { return true }

// Dependencies contains everything the facade needs.
type Dependencies struct {
	Registry      *registry.Registry
	Graph         *graphstore.Store
	Values        *valuestore.Store
	Subscriptions *subscription.Manager
	Authorizer    Authorizer
	Logger        *slog.Logger
}

// Facade composes the stores behind a single request-facing API. It holds
// no state of its own.
type Facade struct {
	registry *registry.Registry
	graph    *graphstore.Store
	values   *valuestore.Store
	subs     *subscription.Manager
	auth     Authorizer
	logger   *slog.Logger
}

// New creates a facade over the given stores.
func New(deps Dependencies) (*Facade, error) {
	if deps.Registry == nil {
		return nil, errors.WrapInvalid(nil, "Facade", "New", "registry is required")
	}
	if deps.Graph == nil {
		return nil, errors.WrapInvalid(nil, "Facade", "New", "graph store is required")
	}
	if deps.Values == nil {
		return nil, errors.WrapInvalid(nil, "Facade", "New", "value store is required")
	}
	if deps.Subscriptions == nil {
		return nil, errors.WrapInvalid(nil, "Facade", "New", "subscription manager is required")
	}
	if deps.Logger == nil {
		return nil, errors.WrapInvalid(nil, "Facade", "New", "logger is required")
	}
	auth := deps.Authorizer
	if auth == nil {
		auth = AllowAll{}
	}
	return &Facade{
		registry: deps.Registry,
		graph:    deps.Graph,
		values:   deps.Values,
		subs:     deps.Subscriptions,
		auth:     auth,
		logger:   deps.Logger.With("component", "facade"),
	}, nil
}

func (f *Facade) allow(ctx context.Context, capability Capability) error {
	if !f.auth.Allow(ctx, capability) {
		return errors.NewForbidden(string(capability))
	}
	return nil
}

// IDSelector carries the elementId-or-elementIds shape shared by the query
// endpoints. Exactly one form must be supplied; a lone elementId normalizes
// to a one-element list.
type IDSelector struct {
	ElementID  string   `json:"elementId,omitempty"`
	ElementIDs []string `json:"elementIds,omitempty"`
}

// IDs normalizes the selector to a non-empty id list.
func (s IDSelector) IDs() ([]string, error) {
	if s.ElementID != "" {
		if len(s.ElementIDs) > 0 {
			return nil, errors.NewValidation("elementId", "supply elementId or elementIds, not both")
		}
		return []string{s.ElementID}, nil
	}
	if len(s.ElementIDs) == 0 {
		return nil, errors.NewValidation("elementId", "elementId or elementIds is required")
	}
	ve := &errors.ValidationError{}
	for i, id := range s.ElementIDs {
		if id == "" {
			ve.Add(locIndex("elementIds", i), "elementId cannot be empty")
		}
	}
	if !ve.Empty() {
		return nil, ve
	}
	return s.ElementIDs, nil
}
