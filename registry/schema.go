package registry

import (
	"github.com/xeipuuv/gojsonschema"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/types"
)

// validateObjectType checks the parts of a type that need no registry state:
// identity fields and the schema document itself. The rendered draft-07
// document must compile, which catches structural problems the typed model
// cannot express.
func (r *Registry) validateObjectType(ot *types.ObjectType) error {
	if ot.ElementID == "" {
		return errors.NewValidation("elementId", "object type elementId is required")
	}
	if err := ot.Schema.Validate(); err != nil {
		return err
	}
	if !ot.Schema.IsEmpty() {
		loader := gojsonschema.NewGoLoader(ot.Schema.JSONSchema())
		if _, err := gojsonschema.NewSchema(loader); err != nil {
			ve := &errors.ValidationError{}
			ve.Add("schema", "schema document does not compile: "+err.Error())
			return ve
		}
	}
	return nil
}

// checkBaseChain verifies the base reference resolves and that following the
// chain from the new base never reaches the type being registered. The walk
// runs against current registry state, so re-registering a type with a base
// pointing into its own descendants is caught as well. Caller holds the lock.
func (r *Registry) checkBaseChain(ot types.ObjectType) error {
	if ot.BaseTypeID == "" {
		return nil
	}
	if ot.BaseTypeID == ot.ElementID {
		return errors.NewSchemaBase(ot.ElementID, ot.BaseTypeID, "type cannot be its own base")
	}

	cur := ot.BaseTypeID
	for cur != "" {
		if cur == ot.ElementID {
			return errors.NewSchemaBase(ot.ElementID, ot.BaseTypeID, "base chain forms a cycle")
		}
		base, ok := r.objTypes[cur]
		if !ok {
			return errors.NewSchemaBase(ot.ElementID, cur, "base type does not resolve")
		}
		cur = base.BaseTypeID
	}
	return nil
}

// ResolveEffectiveSchema merges the type's base chain from root to leaf, leaf
// properties overriding base properties on name collision. Results are
// memoized until the next type registration.
func (r *Registry) ResolveEffectiveSchema(typeID string) (types.Schema, error) {
	r.mu.RLock()
	if schema, ok := r.effective[typeID]; ok {
		r.mu.RUnlock()
		return schema, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock.
	if schema, ok := r.effective[typeID]; ok {
		return schema, nil
	}

	if _, ok := r.objTypes[typeID]; !ok {
		return types.Schema{}, errors.NewNotFound("objecttype", typeID)
	}

	// Collect leaf to root, then merge root first.
	var chain []types.ObjectType
	for cur := typeID; cur != ""; {
		ot, ok := r.objTypes[cur]
		if !ok {
			return types.Schema{}, errors.NewSchemaBase(typeID, cur, "base type does not resolve")
		}
		chain = append(chain, ot)
		cur = ot.BaseTypeID
	}

	var schema types.Schema
	for i := len(chain) - 1; i >= 0; i-- {
		schema = schema.Merge(chain[i].Schema)
	}
	r.effective[typeID] = schema
	return schema, nil
}
