package facade

import (
	"context"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/pkg/timestamp"
	"github.com/cesmii/i3x/types"
)

// WriteValueRequest carries one value write. Timestamp accepts unix ms or an
// RFC3339 string; absent means now. Quality defaults to Good.
type WriteValueRequest struct {
	Value     any           `json:"value"`
	Timestamp any           `json:"timestamp,omitempty"`
	Quality   types.Quality `json:"quality,omitempty"`
	Source    string        `json:"source,omitempty"`
}

func (r WriteValueRequest) point(elementID string) types.ValuePoint {
	return types.ValuePoint{
		ElementID: elementID,
		Value:     r.Value,
		Timestamp: timestamp.Parse(r.Timestamp),
		Quality:   r.Quality,
		Source:    r.Source,
	}
}

// WriteValue appends one point to the element's series and returns the
// committed point.
func (f *Facade) WriteValue(ctx context.Context, elementID string, req WriteValueRequest) (*types.ValuePoint, error) {
	if err := f.allow(ctx, CapabilityWrite); err != nil {
		return nil, err
	}
	if elementID == "" {
		return nil, errors.NewValidation("elementId", "elementId is required")
	}
	return f.values.WriteValue(ctx, req.point(elementID))
}

// WriteHistory appends a batch of points to the element's series. The whole
// batch is validated first; nothing is written on failure. Returns the
// number of points written.
func (f *Facade) WriteHistory(ctx context.Context, elementID string, values []WriteValueRequest) (int, error) {
	if err := f.allow(ctx, CapabilityWrite); err != nil {
		return 0, err
	}
	if elementID == "" {
		return 0, errors.NewValidation("elementId", "elementId is required")
	}
	if len(values) == 0 {
		return 0, errors.NewValidation("values", "values cannot be empty")
	}
	points := make([]types.ValuePoint, len(values))
	for i, v := range values {
		points[i] = v.point(elementID)
	}
	return f.values.WriteHistory(ctx, elementID, points)
}

// CreateObject adds an object to the graph and returns the committed record.
func (f *Facade) CreateObject(ctx context.Context, obj *types.Object) (*types.Object, error) {
	if err := f.allow(ctx, CapabilityAdmin); err != nil {
		return nil, err
	}
	return f.graph.CreateObject(ctx, obj)
}

// UpdateObject replaces an object's content and returns the committed record.
func (f *Facade) UpdateObject(ctx context.Context, obj *types.Object) (*types.Object, error) {
	if err := f.allow(ctx, CapabilityAdmin); err != nil {
		return nil, err
	}
	return f.graph.UpdateObject(ctx, obj)
}

// DeleteObject removes an object, cascading over its composition subtree
// when requested. Returns the deleted element ids.
func (f *Facade) DeleteObject(ctx context.Context, elementID string, cascade bool) ([]string, error) {
	if err := f.allow(ctx, CapabilityAdmin); err != nil {
		return nil, err
	}
	return f.graph.DeleteObject(ctx, elementID, cascade)
}

// RegisterNamespace upserts a namespace record.
func (f *Facade) RegisterNamespace(ctx context.Context, ns types.Namespace) error {
	if err := f.allow(ctx, CapabilityAdmin); err != nil {
		return err
	}
	return f.registry.RegisterNamespace(ctx, ns)
}

// RegisterObjectType upserts an object type record.
func (f *Facade) RegisterObjectType(ctx context.Context, ot types.ObjectType) error {
	if err := f.allow(ctx, CapabilityAdmin); err != nil {
		return err
	}
	return f.registry.RegisterObjectType(ctx, ot)
}

// RegisterRelationshipType upserts a relationship type record.
func (f *Facade) RegisterRelationshipType(ctx context.Context, rt types.RelationshipType) error {
	if err := f.allow(ctx, CapabilityAdmin); err != nil {
		return err
	}
	return f.registry.RegisterRelationshipType(ctx, rt)
}
