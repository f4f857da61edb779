package graphstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/notifier"
	"github.com/cesmii/i3x/registry"
	"github.com/cesmii/i3x/storage"
	"github.com/cesmii/i3x/storage/memstore"
	"github.com/cesmii/i3x/types"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []types.ChangeEvent
}

func (r *eventRecorder) Notify(event types.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) byType(t types.ChangeType) []types.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ChangeEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	store    *Store
	registry *registry.Registry
	backend  storage.Backend
	notifier *notifier.Notifier
	events   *eventRecorder
}

// flush waits for queued change events to reach the recorder.
func (env *testEnv) flush() {
	env.notifier.Flush()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, backend storage.Backend) *testEnv {
	t.Helper()
	ctx := context.Background()

	if backend == nil {
		backend = memstore.New()
	}
	reg, err := registry.New(ctx, registry.Dependencies{Backend: backend, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, reg.RegisterNamespace(ctx, types.Namespace{URI: "urn:t:ns"}))
	require.NoError(t, reg.RegisterObjectType(ctx, types.ObjectType{
		ElementID: "equip", NamespaceURI: "urn:t:ns",
	}))
	require.NoError(t, reg.RegisterRelationshipType(ctx, types.RelationshipType{
		ElementID: "feeds", NamespaceURI: "urn:t:ns",
	}))
	require.NoError(t, reg.RegisterRelationshipType(ctx, types.RelationshipType{
		ElementID: "fed-by", NamespaceURI: "urn:t:ns", ReverseOf: "feeds",
	}))
	require.NoError(t, reg.RegisterRelationshipType(ctx, types.RelationshipType{
		ElementID: "feeds", NamespaceURI: "urn:t:ns", ReverseOf: "fed-by",
	}))

	n, err := notifier.New(notifier.Dependencies{Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(n.Stop)
	events := &eventRecorder{}
	n.Subscribe(events)

	store, err := New(ctx, Dependencies{
		Backend:  backend,
		Registry: reg,
		Notifier: n,
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	return &testEnv{store: store, registry: reg, backend: backend, notifier: n, events: events}
}

func (env *testEnv) create(t *testing.T, id, parentID string) *types.Object {
	t.Helper()
	obj, err := env.store.CreateObject(context.Background(), &types.Object{
		ElementID:    id,
		DisplayName:  id,
		TypeID:       "equip",
		ParentID:     parentID,
		NamespaceURI: "urn:t:ns",
	})
	require.NoError(t, err)
	return obj
}

func TestCreateObject(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	t.Run("assigns elementId when absent", func(t *testing.T) {
		obj, err := env.store.CreateObject(ctx, &types.Object{NamespaceURI: "urn:t:ns"})
		require.NoError(t, err)
		assert.NotEmpty(t, obj.ElementID)
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		env.create(t, "pump1", "")
		_, err := env.store.CreateObject(ctx, &types.Object{
			ElementID: "pump1", NamespaceURI: "urn:t:ns",
		})
		require.Error(t, err)
		assert.Equal(t, errors.CodeConflict, errors.CodeOf(err))
	})

	t.Run("dangling references rejected", func(t *testing.T) {
		cases := []*types.Object{
			{ElementID: "x1", NamespaceURI: "urn:missing"},
			{ElementID: "x2", NamespaceURI: "urn:t:ns", TypeID: "missing-type"},
			{ElementID: "x3", NamespaceURI: "urn:t:ns", ParentID: "missing-parent"},
			{ElementID: "x4", NamespaceURI: "urn:t:ns", Relationships: map[string][]string{"missing-rel": {"pump1"}}},
			{ElementID: "x5", NamespaceURI: "urn:t:ns", Relationships: map[string][]string{"feeds": {"missing-target"}}},
		}
		for _, obj := range cases {
			_, err := env.store.CreateObject(ctx, obj)
			require.Error(t, err, obj.ElementID)
			assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err), obj.ElementID)
			assert.False(t, env.store.Exists(obj.ElementID), "failed create must not commit")
		}
	})

	t.Run("emits object_created", func(t *testing.T) {
		env.flush()
		created := env.events.byType(types.ChangeObjectCreated)
		require.NotEmpty(t, created)
		last := created[len(created)-1]
		assert.NotNil(t, last.Object)
	})
}

func TestCompositionFlag(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.create(t, "line1", "")
	line1, _ := env.store.Object("line1")
	assert.False(t, line1.IsComposition)

	env.create(t, "pump1", "line1")
	line1, _ = env.store.Object("line1")
	assert.True(t, line1.IsComposition, "flag recomputed after child create")

	pump1, _ := env.store.Object("pump1")
	assert.False(t, pump1.IsComposition)

	_, err := env.store.DeleteObject(ctx, "pump1", false)
	require.NoError(t, err)
	line1, _ = env.store.Object("line1")
	assert.False(t, line1.IsComposition, "flag recomputed after child delete")
}

func TestRelinkCycleDetection(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.create(t, "line1", "")
	env.create(t, "pump1", "line1")
	env.create(t, "motor1", "pump1")

	// line1 under its own grandchild closes a cycle.
	err := env.store.Relink(ctx, "line1", "motor1")
	require.Error(t, err)
	assert.Equal(t, errors.CodeCycleDetected, errors.CodeOf(err))

	var ce *errors.CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "line1", ce.ElementID)

	// The graph must be unchanged.
	line1, _ := env.store.Object("line1")
	assert.Empty(t, line1.ParentID)

	// Self-parenting is the degenerate cycle.
	err = env.store.Relink(ctx, "pump1", "pump1")
	assert.Equal(t, errors.CodeCycleDetected, errors.CodeOf(err))
}

func TestRelinkMovesSubtree(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.create(t, "lineA", "")
	env.create(t, "lineB", "")
	env.create(t, "pump1", "lineA")

	require.NoError(t, env.store.Relink(ctx, "pump1", "lineB"))

	pump1, _ := env.store.Object("pump1")
	assert.Equal(t, "lineB", pump1.ParentID)

	lineA, _ := env.store.Object("lineA")
	assert.False(t, lineA.IsComposition)
	lineB, _ := env.store.Object("lineB")
	assert.True(t, lineB.IsComposition)

	// Relink to the current parent is a no-op.
	require.NoError(t, env.store.Relink(ctx, "pump1", "lineB"))
}

func TestDeleteObject(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.create(t, "line1", "")
	env.create(t, "pump1", "line1")
	env.create(t, "pump2", "line1")
	env.create(t, "motor1", "pump1")

	t.Run("children without cascade conflicts", func(t *testing.T) {
		_, err := env.store.DeleteObject(ctx, "line1", false)
		require.Error(t, err)
		assert.Equal(t, errors.CodeConflict, errors.CodeOf(err))

		var ce *errors.ConflictError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, errors.ConflictHasChildren, ce.Reason)
	})

	t.Run("missing object", func(t *testing.T) {
		_, err := env.store.DeleteObject(ctx, "nobody", false)
		assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
	})

	t.Run("cascade deletes children first", func(t *testing.T) {
		deleted, err := env.store.DeleteObject(ctx, "line1", true)
		require.NoError(t, err)
		assert.Equal(t, []string{"motor1", "pump1", "pump2", "line1"}, deleted)

		for _, id := range deleted {
			assert.False(t, env.store.Exists(id))
		}
	})
}

func TestDeleteCleansDanglingReferences(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.create(t, "tank1", "")
	obj, err := env.store.CreateObject(ctx, &types.Object{
		ElementID:    "pump1",
		NamespaceURI: "urn:t:ns",
		Relationships: map[string][]string{
			"feeds": {"tank1"},
		},
	})
	require.NoError(t, err)
	require.Contains(t, obj.Relationships, "feeds")

	_, err = env.store.DeleteObject(ctx, "tank1", false)
	require.NoError(t, err)

	pump1, _ := env.store.Object("pump1")
	assert.NotContains(t, pump1.Relationships, "feeds", "reference to deleted target removed")
}

func TestDeleteEventCarriesObjectSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.create(t, "line1", "")
	env.create(t, "tank1", "")
	_, err := env.store.CreateObject(ctx, &types.Object{
		ElementID:    "pump1",
		DisplayName:  "pump1",
		TypeID:       "equip",
		ParentID:     "line1",
		NamespaceURI: "urn:t:ns",
		Relationships: map[string][]string{
			"feeds": {"tank1"},
		},
	})
	require.NoError(t, err)

	_, err = env.store.DeleteObject(ctx, "line1", true)
	require.NoError(t, err)
	env.flush()

	deleted := env.events.byType(types.ChangeObjectDeleted)
	require.Len(t, deleted, 2)

	byID := make(map[string]types.ChangeEvent, len(deleted))
	for _, ev := range deleted {
		require.NotNil(t, ev.Object, "delete event for %s must carry the removed object", ev.ElementID)
		byID[ev.ElementID] = ev
	}

	pump := byID["pump1"].Object
	assert.Equal(t, "line1", pump.ParentID)
	assert.Equal(t, []string{"tank1"}, pump.Relationships["feeds"])
	assert.Equal(t, "urn:t:ns", byID["line1"].Object.NamespaceURI)
}

// ancestorWalker models a consumer that resolves the ancestor chain of every
// changed element, reading the store from inside event delivery.
type ancestorWalker struct {
	store *Store
	count atomic.Int64
}

func (w *ancestorWalker) Notify(event types.ChangeEvent) {
	cur := event.ElementID
	for cur != "" {
		obj, ok := w.store.Object(cur)
		if !ok {
			break
		}
		cur = obj.ParentID
	}
	w.count.Add(1)
}

func TestConcurrentMutationWithStoreReadingListener(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// A deep chain keeps each delivery inside the store for many reads.
	parent := ""
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("chain-%02d", i)
		env.create(t, id, parent)
		parent = id
	}

	env.flush()
	walker := &ancestorWalker{store: env.store}
	env.notifier.Subscribe(walker)

	const writers = 8
	const perWriter = 300

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(writer int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					_, err := env.store.CreateObject(ctx, &types.Object{
						ElementID:    fmt.Sprintf("w%d-obj-%d", writer, i),
						ParentID:     parent,
						NamespaceURI: "urn:t:ns",
					})
					assert.NoError(t, err)
				}
			}(w)
		}
		wg.Wait()
		env.flush()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("mutators wedged against event delivery")
	}
	assert.EqualValues(t, writers*perWriter, walker.count.Load())
}

// failingBackend wraps a memstore and fails DeleteRecord for one id.
type failingBackend struct {
	*memstore.Backend
	failID string
}

func (f *failingBackend) DeleteRecord(ctx context.Context, kind storage.RecordKind, id string) error {
	if id == f.failID {
		return errors.New("disk error")
	}
	return f.Backend.DeleteRecord(ctx, kind, id)
}

func TestCascadePartialFailure(t *testing.T) {
	backend := &failingBackend{Backend: memstore.New(), failID: "pump2"}
	env := newTestEnv(t, backend)
	ctx := context.Background()

	env.create(t, "line1", "")
	env.create(t, "pump1", "line1")
	env.create(t, "pump2", "line1")

	_, err := env.store.DeleteObject(ctx, "line1", true)
	require.Error(t, err)
	assert.Equal(t, errors.CodePartialFailure, errors.CodeOf(err))

	var pf *errors.PartialFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, []string{"pump1"}, pf.Succeeded)
	assert.Equal(t, []string{"pump2", "line1"}, pf.Remaining)

	// The still-present ids really are still present.
	assert.False(t, env.store.Exists("pump1"))
	assert.True(t, env.store.Exists("pump2"))
	assert.True(t, env.store.Exists("line1"))
}

func TestGetRelated(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.create(t, "line1", "")
	env.create(t, "pumpB", "line1")
	env.create(t, "pumpA", "line1")
	env.create(t, "motor1", "pumpA")

	env.create(t, "tank1", "")
	_, err := env.store.UpdateObject(ctx, &types.Object{
		ElementID:    "pumpA",
		DisplayName:  "pumpA",
		TypeID:       "equip",
		ParentID:     "line1",
		NamespaceURI: "urn:t:ns",
		Relationships: map[string][]string{
			"feeds": {"tank1"},
		},
	})
	require.NoError(t, err)

	t.Run("depth one returns direct neighbors in lexical order", func(t *testing.T) {
		related, err := env.store.GetRelated("line1", "", 1)
		require.NoError(t, err)
		require.Len(t, related, 2)
		assert.Equal(t, "pumpA", related[0].ElementID)
		assert.Equal(t, "pumpB", related[1].ElementID)
	})

	t.Run("unbounded traversal reaches the whole component", func(t *testing.T) {
		related, err := env.store.GetRelated("line1", "", 0)
		require.NoError(t, err)
		ids := make([]string, len(related))
		for i, obj := range related {
			ids[i] = obj.ElementID
		}
		// Level 1 lexical, then level 2 lexical.
		assert.Equal(t, []string{"pumpA", "pumpB", "motor1", "tank1"}, ids)
	})

	t.Run("typed traversal follows declared edges", func(t *testing.T) {
		related, err := env.store.GetRelated("pumpA", "feeds", 1)
		require.NoError(t, err)
		require.Len(t, related, 1)
		assert.Equal(t, "tank1", related[0].ElementID)
	})

	t.Run("reverse edge is derived, not stored", func(t *testing.T) {
		related, err := env.store.GetRelated("tank1", "fed-by", 1)
		require.NoError(t, err)
		require.Len(t, related, 1)
		assert.Equal(t, "pumpA", related[0].ElementID)

		tank1, _ := env.store.Object("tank1")
		assert.Empty(t, tank1.Relationships, "reverse edges never appear in stored records")
	})

	t.Run("unknown start or type", func(t *testing.T) {
		_, err := env.store.GetRelated("nobody", "", 1)
		assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

		_, err = env.store.GetRelated("line1", "missing-rel", 1)
		assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
	})
}

func TestLoadRebuildsDerivedState(t *testing.T) {
	backend := memstore.New()
	env := newTestEnv(t, backend)
	ctx := context.Background()

	env.create(t, "line1", "")
	env.create(t, "pump1", "line1")
	_, err := env.store.UpdateObject(ctx, &types.Object{
		ElementID:    "pump1",
		DisplayName:  "pump1",
		TypeID:       "equip",
		ParentID:     "line1",
		NamespaceURI: "urn:t:ns",
		Relationships: map[string][]string{
			"feeds": {"line1"},
		},
	})
	require.NoError(t, err)

	// Fresh store over the same backend must rebuild children, composition
	// flags and the reverse index.
	reloaded := newTestEnv(t, backend)

	line1, ok := reloaded.store.Object("line1")
	require.True(t, ok)
	assert.True(t, line1.IsComposition)
	assert.Equal(t, []string{"pump1"}, reloaded.store.Children("line1"))

	related, err := reloaded.store.GetRelated("line1", "fed-by", 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "pump1", related[0].ElementID)
}

func TestListByType(t *testing.T) {
	env := newTestEnv(t, nil)

	env.create(t, "b", "")
	env.create(t, "a", "")

	listed := env.store.ListByType("equip")
	require.Len(t, listed, 2)
	assert.Equal(t, "a", listed[0].ElementID)
	assert.Equal(t, "b", listed[1].ElementID)

	assert.Empty(t, env.store.ListByType("missing"))
}
