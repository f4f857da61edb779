package graphstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/pkg/retry"
	"github.com/cesmii/i3x/storage"
	"github.com/cesmii/i3x/types"
)

// publishCommitted emits the events and releases the store lock. Call with
// s.mu held after a successful commit: Publish enqueues without blocking and
// without invoking listeners, so publishing under mu is what makes listeners
// observe mutations in commit order.
func (s *Store) publishCommitted(events ...types.ChangeEvent) {
	for _, event := range events {
		s.notifier.Publish(event)
	}
	s.mu.Unlock()
}

// CreateObject validates the object's references, assigns an elementId when
// absent, commits and publishes object_created. Returns the stored copy.
func (s *Store) CreateObject(ctx context.Context, obj *types.Object) (*types.Object, error) {
	if obj == nil {
		s.observe("createObject", "invalid")
		return nil, errors.WrapInvalid(nil, "GraphStore", "CreateObject", "object is required")
	}

	stored := obj.Clone()
	if stored.ElementID == "" {
		stored.ElementID = uuid.NewString()
	}
	normalizeRelationships(stored)

	s.mu.Lock()

	if _, exists := s.objects[stored.ElementID]; exists {
		s.mu.Unlock()
		s.observe("createObject", "conflict")
		return nil, errors.NewConflict(errors.ConflictDuplicateID, stored.ElementID)
	}
	if err := s.validateRefsLocked(stored); err != nil {
		s.mu.Unlock()
		s.observe("createObject", "invalid")
		return nil, err
	}

	stored.IsComposition = false
	if err := s.persist(ctx, stored); err != nil {
		s.mu.Unlock()
		s.observe("createObject", "error")
		return nil, err
	}

	s.objects[stored.ElementID] = stored
	if stored.ParentID != "" {
		s.addChild(stored.ParentID, stored.ElementID)
		s.refreshComposition(ctx, stored.ParentID)
	}
	s.indexRelationships(stored)
	if s.metrics != nil {
		s.metrics.ObjectsTotal.Inc()
	}
	s.observe("createObject", "ok")

	result := stored.Clone()
	s.publishCommitted(types.ChangeEvent{
		Type:      types.ChangeObjectCreated,
		ElementID: stored.ElementID,
		Object:    stored.Clone(),
	})
	s.logger.Debug("object created", "elementId", result.ElementID, "parentId", result.ParentID)
	return result, nil
}

// UpdateObject replaces the object's metadata, parent and relationships.
// A parent change runs the same cycle check as Relink. Returns the stored
// copy.
func (s *Store) UpdateObject(ctx context.Context, obj *types.Object) (*types.Object, error) {
	if obj == nil || obj.ElementID == "" {
		s.observe("updateObject", "invalid")
		return nil, errors.WrapInvalid(nil, "GraphStore", "UpdateObject", "object with elementId is required")
	}

	stored := obj.Clone()
	normalizeRelationships(stored)

	s.mu.Lock()

	prev, exists := s.objects[stored.ElementID]
	if !exists {
		s.mu.Unlock()
		s.observe("updateObject", "not_found")
		return nil, errors.NewNotFound("object", stored.ElementID)
	}
	if err := s.validateRefsLocked(stored); err != nil {
		s.mu.Unlock()
		s.observe("updateObject", "invalid")
		return nil, err
	}
	if stored.ParentID != prev.ParentID {
		if err := s.checkRelinkLocked(stored.ElementID, stored.ParentID); err != nil {
			s.mu.Unlock()
			s.observe("updateObject", "conflict")
			return nil, err
		}
	}

	stored.IsComposition = len(s.children[stored.ElementID]) > 0
	if err := s.persist(ctx, stored); err != nil {
		s.mu.Unlock()
		s.observe("updateObject", "error")
		return nil, err
	}

	s.unindexRelationships(prev)
	s.objects[stored.ElementID] = stored
	s.indexRelationships(stored)
	if stored.ParentID != prev.ParentID {
		if prev.ParentID != "" {
			s.removeChild(prev.ParentID, stored.ElementID)
			s.refreshComposition(ctx, prev.ParentID)
		}
		if stored.ParentID != "" {
			s.addChild(stored.ParentID, stored.ElementID)
			s.refreshComposition(ctx, stored.ParentID)
		}
	}
	s.observe("updateObject", "ok")

	result := stored.Clone()
	s.publishCommitted(types.ChangeEvent{
		Type:      types.ChangeObjectUpdated,
		ElementID: stored.ElementID,
		Object:    stored.Clone(),
	})
	return result, nil
}

// Relink moves the object under a new parent (empty for root). Fails with a
// cycle error when the new parent is the object itself or one of its
// descendants; the graph is unchanged on failure.
func (s *Store) Relink(ctx context.Context, id, newParentID string) error {
	s.mu.Lock()

	obj, exists := s.objects[id]
	if !exists {
		s.mu.Unlock()
		s.observe("relink", "not_found")
		return errors.NewNotFound("object", id)
	}
	if newParentID == obj.ParentID {
		s.mu.Unlock()
		s.observe("relink", "ok")
		return nil
	}
	if newParentID != "" {
		if _, ok := s.objects[newParentID]; !ok {
			s.mu.Unlock()
			s.observe("relink", "not_found")
			return errors.NewNotFound("object", newParentID)
		}
	}
	if err := s.checkRelinkLocked(id, newParentID); err != nil {
		s.mu.Unlock()
		s.observe("relink", "conflict")
		return err
	}

	updated := obj.Clone()
	updated.ParentID = newParentID
	if err := s.persist(ctx, updated); err != nil {
		s.mu.Unlock()
		s.observe("relink", "error")
		return err
	}

	oldParent := obj.ParentID
	s.objects[id] = updated
	if oldParent != "" {
		s.removeChild(oldParent, id)
		s.refreshComposition(ctx, oldParent)
	}
	if newParentID != "" {
		s.addChild(newParentID, id)
		s.refreshComposition(ctx, newParentID)
	}
	s.observe("relink", "ok")

	s.publishCommitted(types.ChangeEvent{
		Type:      types.ChangeObjectUpdated,
		ElementID: id,
		Object:    updated.Clone(),
	})
	s.logger.Debug("object relinked", "elementId", id, "from", oldParent, "to", newParentID)
	return nil
}

// DeleteObject removes the object. With children and no cascade it fails
// with a conflict; with cascade it deletes depth-first post-order, children
// before parents. The cascade is not atomic: a failure mid-way returns a
// PartialFailure naming the still-present elementIds. Returns the deleted
// ids in deletion order.
func (s *Store) DeleteObject(ctx context.Context, id string, cascade bool) ([]string, error) {
	s.mu.Lock()

	obj, exists := s.objects[id]
	if !exists {
		s.mu.Unlock()
		s.observe("deleteObject", "not_found")
		return nil, errors.NewNotFound("object", id)
	}
	if len(s.children[id]) > 0 && !cascade {
		s.mu.Unlock()
		s.observe("deleteObject", "conflict")
		return nil, errors.NewConflict(errors.ConflictHasChildren, id)
	}

	order := s.postOrderLocked(id)
	parentID := obj.ParentID

	var deleted []string
	events := make([]types.ChangeEvent, 0, len(order))
	for i, target := range order {
		// Snapshot before the delete mutates relationship lists, so the
		// event carries the object as consumers last saw it.
		snapshot := s.objects[target].Clone()
		if err := s.deleteOneLocked(ctx, target); err != nil {
			s.observe("deleteObject", "error")
			s.publishCommitted(events...)
			return deleted, errors.NewPartialFailure("deleteObject", deleted, order[i:], err)
		}
		deleted = append(deleted, target)
		events = append(events, types.ChangeEvent{
			Type:      types.ChangeObjectDeleted,
			ElementID: target,
			Object:    snapshot,
		})
	}

	if parentID != "" {
		s.refreshComposition(ctx, parentID)
	}
	s.observe("deleteObject", "ok")
	s.publishCommitted(events...)
	s.logger.Debug("object deleted", "elementId", id, "cascade", cascade, "removed", len(deleted))
	return deleted, nil
}

// postOrderLocked lists the subtree rooted at id children-first, siblings in
// lexical order.
func (s *Store) postOrderLocked(id string) []string {
	var order []string
	var walk func(string)
	walk = func(cur string) {
		for _, child := range s.childrenLocked(cur) {
			walk(child)
		}
		order = append(order, cur)
	}
	walk(id)
	return order
}

// deleteOneLocked removes a single object from the backend, the in-memory
// graph, and every relationship list that targets it. The caller publishes
// object_deleted for successful removals.
func (s *Store) deleteOneLocked(ctx context.Context, id string) error {
	err := retry.Do(ctx, retry.Quick(), func() error {
		return s.backend.DeleteRecord(ctx, storage.KindObject, id)
	})
	if err != nil {
		return errors.WrapTransient(err, "GraphStore", "deleteOneLocked", "delete record")
	}

	obj := s.objects[id]
	s.unindexRelationships(obj)

	// Drop dangling references from objects that point at the deleted one.
	for ref := range s.reverse[id] {
		source, ok := s.objects[ref.SourceID]
		if !ok {
			continue
		}
		source.Relationships[ref.RelationshipTypeID] = removeTarget(
			source.Relationships[ref.RelationshipTypeID], id)
		if len(source.Relationships[ref.RelationshipTypeID]) == 0 {
			delete(source.Relationships, ref.RelationshipTypeID)
		}
		if err := s.persist(ctx, source); err != nil {
			s.logger.Error("failed to persist dangling-reference cleanup",
				"sourceId", ref.SourceID, "deletedId", id, "error", err)
		}
	}
	delete(s.reverse, id)

	if obj.ParentID != "" {
		s.removeChild(obj.ParentID, id)
	}
	delete(s.objects, id)

	if err := s.backend.DeletePoints(ctx, id); err != nil {
		s.logger.Error("failed to delete value history", "elementId", id, "error", err)
	}
	if s.metrics != nil {
		s.metrics.ObjectsTotal.Dec()
	}
	return nil
}

// checkRelinkLocked walks the ancestry of the proposed parent; the object
// itself appearing there means the relink would create a cycle. A visited
// set guards the walk even though the graph is acyclic by invariant.
func (s *Store) checkRelinkLocked(id, newParentID string) error {
	if newParentID == id {
		return errors.NewCycle(id, []string{id})
	}
	path := []string{newParentID}
	visited := map[string]struct{}{newParentID: {}}
	cur := newParentID
	for cur != "" {
		obj, ok := s.objects[cur]
		if !ok {
			break
		}
		next := obj.ParentID
		if next == "" {
			break
		}
		if next == id {
			return errors.NewCycle(id, append(path, next))
		}
		if _, seen := visited[next]; seen {
			break
		}
		visited[next] = struct{}{}
		path = append(path, next)
		cur = next
	}
	return nil
}

// refreshComposition recomputes the derived flag and persists the record
// when it changed.
func (s *Store) refreshComposition(ctx context.Context, id string) {
	obj, ok := s.objects[id]
	if !ok {
		return
	}
	actual := len(s.children[id]) > 0
	if obj.IsComposition == actual {
		return
	}
	obj.IsComposition = actual
	if err := s.persist(ctx, obj); err != nil {
		s.logger.Error("failed to persist composition flag", "elementId", id, "error", err)
	}
}

// validateRefsLocked enforces the no-dangling-references invariant: every
// typeId, parentId, namespaceUri, relationship type and relationship target
// must resolve or be absent.
func (s *Store) validateRefsLocked(obj *types.Object) error {
	if obj.NamespaceURI == "" {
		return errors.NewValidation("namespaceUri", "namespace uri is required")
	}
	if !s.registry.NamespaceExists(obj.NamespaceURI) {
		return errors.NewNotFound("namespace", obj.NamespaceURI)
	}
	if obj.TypeID != "" {
		if _, ok := s.registry.ObjectType(obj.TypeID); !ok {
			return errors.NewNotFound("objecttype", obj.TypeID)
		}
	}
	if obj.ParentID != "" {
		if _, ok := s.objects[obj.ParentID]; !ok {
			return errors.NewNotFound("object", obj.ParentID)
		}
	}
	for relType, targets := range obj.Relationships {
		if _, ok := s.registry.RelationshipType(relType); !ok {
			return errors.NewNotFound("relationshiptype", relType)
		}
		for _, target := range targets {
			if _, ok := s.objects[target]; !ok && target != obj.ElementID {
				return errors.NewNotFound("object", target)
			}
		}
	}
	return nil
}

// normalizeRelationships deduplicates relationship targets preserving first
// occurrence order and drops empty lists.
func normalizeRelationships(obj *types.Object) {
	for relType, targets := range obj.Relationships {
		seen := make(map[string]struct{}, len(targets))
		deduped := targets[:0]
		for _, target := range targets {
			if target == "" {
				continue
			}
			if _, dup := seen[target]; dup {
				continue
			}
			seen[target] = struct{}{}
			deduped = append(deduped, target)
		}
		if len(deduped) == 0 {
			delete(obj.Relationships, relType)
			continue
		}
		obj.Relationships[relType] = deduped
	}
	if len(obj.Relationships) == 0 {
		obj.Relationships = nil
	}
}

func removeTarget(targets []string, id string) []string {
	out := targets[:0]
	for _, t := range targets {
		if t != id {
			out = append(out, t)
		}
	}
	return out
}
