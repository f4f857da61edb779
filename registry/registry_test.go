package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/storage/memstore"
	"github.com/cesmii/i3x/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(context.Background(), Dependencies{
		Backend: memstore.New(),
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	return r
}

func registerTestNamespace(t *testing.T, r *Registry, uri string) {
	t.Helper()
	require.NoError(t, r.RegisterNamespace(context.Background(), types.Namespace{
		URI:         uri,
		DisplayName: uri,
	}))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(context.Background(), Dependencies{Logger: testLogger()})
	require.Error(t, err)

	_, err = New(context.Background(), Dependencies{Backend: memstore.New()})
	require.Error(t, err)
}

func TestRegisterNamespace(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	err := r.RegisterNamespace(ctx, types.Namespace{DisplayName: "no uri"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	require.NoError(t, r.RegisterNamespace(ctx, types.Namespace{URI: "urn:t:ns", DisplayName: "Test"}))
	require.NoError(t, r.RegisterNamespace(ctx, types.Namespace{URI: "urn:t:ns", DisplayName: "Renamed"}))

	namespaces := r.Namespaces()
	require.Len(t, namespaces, 1, "re-register is an update, not a duplicate")
	assert.Equal(t, "Renamed", namespaces[0].DisplayName)
	assert.True(t, r.NamespaceExists("urn:t:ns"))
	assert.False(t, r.NamespaceExists("urn:other"))
}

func TestRegisterNamespaceFrozenOnceReferenced(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.RegisterNamespace(ctx, types.Namespace{URI: "urn:t:ns", DisplayName: "Test"}))
	require.NoError(t, r.RegisterObjectType(ctx, types.ObjectType{
		ElementID: "equip", NamespaceURI: "urn:t:ns",
	}))

	t.Run("content change rejected", func(t *testing.T) {
		err := r.RegisterNamespace(ctx, types.Namespace{URI: "urn:t:ns", DisplayName: "Renamed"})
		require.Error(t, err)
		assert.Equal(t, errors.CodeConflict, errors.CodeOf(err))

		var ce *errors.ConflictError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, errors.ConflictNamespaceInUse, ce.Reason)

		namespaces := r.Namespaces()
		require.Len(t, namespaces, 1)
		assert.Equal(t, "Test", namespaces[0].DisplayName, "rejected update must not commit")
	})

	t.Run("identical re-registration is a no-op", func(t *testing.T) {
		assert.NoError(t, r.RegisterNamespace(ctx, types.Namespace{URI: "urn:t:ns", DisplayName: "Test"}))
	})

	t.Run("unreferenced namespace stays mutable", func(t *testing.T) {
		require.NoError(t, r.RegisterNamespace(ctx, types.Namespace{URI: "urn:t:other", DisplayName: "Other"}))
		assert.NoError(t, r.RegisterNamespace(ctx, types.Namespace{URI: "urn:t:other", DisplayName: "Renamed"}))
	})
}

func TestRegisterObjectTypeValidation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	registerTestNamespace(t, r, "urn:t:ns")

	t.Run("missing elementId", func(t *testing.T) {
		err := r.RegisterObjectType(ctx, types.ObjectType{NamespaceURI: "urn:t:ns"})
		assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	})

	t.Run("unknown namespace", func(t *testing.T) {
		err := r.RegisterObjectType(ctx, types.ObjectType{ElementID: "equip", NamespaceURI: "urn:missing"})
		assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
	})

	t.Run("malformed schema", func(t *testing.T) {
		err := r.RegisterObjectType(ctx, types.ObjectType{
			ElementID:    "equip",
			NamespaceURI: "urn:t:ns",
			Schema: types.Schema{Properties: map[string]types.PropertyDef{
				"state": {Type: types.PropertyEnum}, // enum without values
			}},
		})
		assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	})

	t.Run("unknown base", func(t *testing.T) {
		err := r.RegisterObjectType(ctx, types.ObjectType{
			ElementID:    "pump",
			NamespaceURI: "urn:t:ns",
			BaseTypeID:   "missing-base",
		})
		require.Error(t, err)
		assert.Equal(t, errors.CodeInvalidBase, errors.CodeOf(err))

		var sbe *errors.SchemaBaseError
		require.ErrorAs(t, err, &sbe)
		assert.Equal(t, "missing-base", sbe.BaseID)
	})

	t.Run("self base", func(t *testing.T) {
		err := r.RegisterObjectType(ctx, types.ObjectType{
			ElementID:    "pump",
			NamespaceURI: "urn:t:ns",
			BaseTypeID:   "pump",
		})
		assert.Equal(t, errors.CodeInvalidBase, errors.CodeOf(err))
	})
}

func TestRegisterObjectTypeBaseCycle(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	registerTestNamespace(t, r, "urn:t:ns")

	require.NoError(t, r.RegisterObjectType(ctx, types.ObjectType{
		ElementID: "a", NamespaceURI: "urn:t:ns",
	}))
	require.NoError(t, r.RegisterObjectType(ctx, types.ObjectType{
		ElementID: "b", NamespaceURI: "urn:t:ns", BaseTypeID: "a",
	}))
	require.NoError(t, r.RegisterObjectType(ctx, types.ObjectType{
		ElementID: "c", NamespaceURI: "urn:t:ns", BaseTypeID: "b",
	}))

	// Re-registering the root with a base inside its own descendants would
	// close the loop a -> c -> b -> a.
	err := r.RegisterObjectType(ctx, types.ObjectType{
		ElementID: "a", NamespaceURI: "urn:t:ns", BaseTypeID: "c",
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidBase, errors.CodeOf(err))

	// The failed registration must leave the graph unchanged.
	a, ok := r.ObjectType("a")
	require.True(t, ok)
	assert.Empty(t, a.BaseTypeID)
}

func TestResolveEffectiveSchema(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	registerTestNamespace(t, r, "urn:t:ns")

	require.NoError(t, r.RegisterObjectType(ctx, types.ObjectType{
		ElementID: "equip", NamespaceURI: "urn:t:ns",
		Schema: types.Schema{Properties: map[string]types.PropertyDef{
			"status": {Type: types.PropertyString},
			"rating": {Type: types.PropertyNumber},
		}},
	}))
	require.NoError(t, r.RegisterObjectType(ctx, types.ObjectType{
		ElementID: "pump", NamespaceURI: "urn:t:ns", BaseTypeID: "equip",
		Schema: types.Schema{Properties: map[string]types.PropertyDef{
			"rating": {Type: types.PropertyString}, // leaf overrides base
			"flow":   {Type: types.PropertyNumber},
		}},
	}))

	schema, err := r.ResolveEffectiveSchema("pump")
	require.NoError(t, err)
	assert.Equal(t, types.PropertyString, schema.Properties["status"].Type, "inherited from base")
	assert.Equal(t, types.PropertyString, schema.Properties["rating"].Type, "leaf wins on collision")
	assert.Equal(t, types.PropertyNumber, schema.Properties["flow"].Type)

	_, err = r.ResolveEffectiveSchema("missing")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	// Re-registering the base invalidates the memoized result.
	require.NoError(t, r.RegisterObjectType(ctx, types.ObjectType{
		ElementID: "equip", NamespaceURI: "urn:t:ns",
		Schema: types.Schema{Properties: map[string]types.PropertyDef{
			"status": {Type: types.PropertyEnum, Enum: []string{"on", "off"}},
		}},
	}))
	schema, err = r.ResolveEffectiveSchema("pump")
	require.NoError(t, err)
	assert.Equal(t, types.PropertyEnum, schema.Properties["status"].Type)
	assert.Equal(t, types.PropertyString, schema.Properties["rating"].Type)
}

func TestRegisterRelationshipType(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	registerTestNamespace(t, r, "urn:t:ns")

	t.Run("unknown reverse", func(t *testing.T) {
		err := r.RegisterRelationshipType(ctx, types.RelationshipType{
			ElementID: "feeds", NamespaceURI: "urn:t:ns", ReverseOf: "fed-by",
		})
		assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
	})

	t.Run("mutual pair via re-register", func(t *testing.T) {
		require.NoError(t, r.RegisterRelationshipType(ctx, types.RelationshipType{
			ElementID: "feeds", NamespaceURI: "urn:t:ns",
		}))
		require.NoError(t, r.RegisterRelationshipType(ctx, types.RelationshipType{
			ElementID: "fed-by", NamespaceURI: "urn:t:ns", ReverseOf: "feeds",
		}))
		require.NoError(t, r.RegisterRelationshipType(ctx, types.RelationshipType{
			ElementID: "feeds", NamespaceURI: "urn:t:ns", ReverseOf: "fed-by",
		}))
	})

	t.Run("symmetric self reverse", func(t *testing.T) {
		require.NoError(t, r.RegisterRelationshipType(ctx, types.RelationshipType{
			ElementID: "connected-to", NamespaceURI: "urn:t:ns", ReverseOf: "connected-to",
		}))
	})
}

func TestListByNamespace(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	registerTestNamespace(t, r, "urn:a")
	registerTestNamespace(t, r, "urn:b")

	for _, spec := range []struct{ id, ns string }{
		{"zeta", "urn:a"}, {"alpha", "urn:a"}, {"other", "urn:b"},
	} {
		require.NoError(t, r.RegisterObjectType(ctx, types.ObjectType{
			ElementID: spec.id, NamespaceURI: spec.ns,
		}))
	}

	listed := r.ListObjectTypesByNamespace("urn:a")
	require.Len(t, listed, 2)
	assert.Equal(t, "alpha", listed[0].ElementID, "ordered by elementId")
	assert.Equal(t, "zeta", listed[1].ElementID)

	all := r.ListObjectTypesByNamespace("")
	assert.Len(t, all, 3)
}

func TestGetByIDsPreservesRequestOrder(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	registerTestNamespace(t, r, "urn:t:ns")

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.RegisterObjectType(ctx, types.ObjectType{
			ElementID: id, NamespaceURI: "urn:t:ns",
		}))
	}

	got := r.ObjectTypesByIDs([]string{"c", "missing", "a"})
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ElementID)
	assert.Equal(t, "a", got[1].ElementID)
}

func TestLoadFromBackend(t *testing.T) {
	backend := memstore.New()
	ctx := context.Background()

	first, err := New(ctx, Dependencies{Backend: backend, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, first.RegisterNamespace(ctx, types.Namespace{URI: "urn:t:ns"}))
	require.NoError(t, first.RegisterObjectType(ctx, types.ObjectType{
		ElementID: "equip", NamespaceURI: "urn:t:ns",
		Schema: types.Schema{Properties: map[string]types.PropertyDef{
			"status": {Type: types.PropertyString},
		}},
	}))
	require.NoError(t, first.RegisterRelationshipType(ctx, types.RelationshipType{
		ElementID: "feeds", NamespaceURI: "urn:t:ns",
	}))

	second, err := New(ctx, Dependencies{Backend: backend, Logger: testLogger()})
	require.NoError(t, err)

	assert.True(t, second.NamespaceExists("urn:t:ns"))
	equip, ok := second.ObjectType("equip")
	require.True(t, ok)
	assert.Equal(t, types.PropertyString, equip.Schema.Properties["status"].Type)
	_, ok = second.RelationshipType("feeds")
	assert.True(t, ok)
}
