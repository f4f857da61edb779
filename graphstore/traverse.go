package graphstore

import (
	"sort"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/types"
)

// GetRelated traverses outward from the element breadth-first and returns
// the reachable objects, excluding the start. depth bounds the number of BFS
// levels; 0 means unbounded. With a relationship type the traversal follows
// only edges of that type, declared or derived via reverseOf; without one it
// follows composition children plus every observable relationship edge.
// Discovery order is deterministic: level by level, lexical within a level.
func (s *Store) GetRelated(elementID, relationshipTypeID string, depth int) ([]*types.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.objects[elementID]; !ok {
		s.observe("getRelated", "not_found")
		return nil, errors.NewNotFound("object", elementID)
	}
	if relationshipTypeID != "" {
		if _, ok := s.registry.RelationshipType(relationshipTypeID); !ok {
			s.observe("getRelated", "not_found")
			return nil, errors.NewNotFound("relationshiptype", relationshipTypeID)
		}
	}

	var result []*types.Object
	// Visited-set cycle guard, even though the graph is acyclic by
	// invariant.
	visited := map[string]struct{}{elementID: {}}
	frontier := []string{elementID}

	for level := 0; len(frontier) > 0 && (depth == 0 || level < depth); level++ {
		var next []string
		for _, id := range frontier {
			for _, neighbor := range s.neighborsLocked(id, relationshipTypeID) {
				if _, seen := visited[neighbor]; seen {
					continue
				}
				visited[neighbor] = struct{}{}
				next = append(next, neighbor)
			}
		}
		sort.Strings(next)
		for _, id := range next {
			result = append(result, s.objects[id].Clone())
		}
		frontier = next
	}

	s.observe("getRelated", "ok")
	return result, nil
}

// neighborsLocked collects the element's outgoing edges for one BFS step.
// Derived reverse edges are computed from the reverse index and the
// relationship type's reverseOf declaration; they are never stored.
func (s *Store) neighborsLocked(id, relationshipTypeID string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(neighbor string) {
		if neighbor == id {
			return
		}
		if _, dup := seen[neighbor]; dup {
			return
		}
		seen[neighbor] = struct{}{}
		out = append(out, neighbor)
	}

	obj := s.objects[id]

	if relationshipTypeID == "" {
		for _, child := range s.childrenLocked(id) {
			add(child)
		}
		for _, targets := range obj.Relationships {
			for _, target := range targets {
				add(target)
			}
		}
		for ref := range s.reverse[id] {
			if s.reverseResolvesLocked(ref.RelationshipTypeID) != "" {
				add(ref.SourceID)
			}
		}
		return out
	}

	for _, target := range obj.Relationships[relationshipTypeID] {
		add(target)
	}
	for ref := range s.reverse[id] {
		if s.reverseResolvesLocked(ref.RelationshipTypeID) == relationshipTypeID {
			add(ref.SourceID)
		}
	}
	return out
}

// reverseResolvesLocked returns the derived reverse type id for edges of the
// given type, or empty when reverseOf is unset or does not resolve.
func (s *Store) reverseResolvesLocked(relationshipTypeID string) string {
	rt, ok := s.registry.RelationshipType(relationshipTypeID)
	if !ok || rt.ReverseOf == "" {
		return ""
	}
	if _, ok := s.registry.RelationshipType(rt.ReverseOf); !ok {
		return ""
	}
	return rt.ReverseOf
}
