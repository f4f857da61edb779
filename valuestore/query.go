package valuestore

import (
	"context"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/pkg/timestamp"
	"github.com/cesmii/i3x/types"
)

// CurrentValue returns the element's latest point, and when the element is a
// composition, the child current values nested beneath it up to maxDepth
// levels counting the element itself (0 = unbounded, 1 = the element only).
// An element with no written points yields a null value with Bad quality so
// composite results stay structurally complete.
func (s *Store) CurrentValue(ctx context.Context, elementID string, maxDepth int) (*types.ValueNode, error) {
	if !s.graph.Exists(elementID) {
		s.observe("currentValue", "not_found")
		return nil, errors.NewNotFound("object", elementID)
	}

	visited := make(map[string]struct{})
	node, err := s.currentNode(ctx, elementID, maxDepth, visited)
	if err != nil {
		s.observe("currentValue", "error")
		return nil, err
	}
	s.observe("currentValue", "ok")
	return node, nil
}

func (s *Store) currentNode(ctx context.Context, elementID string, remaining int, visited map[string]struct{}) (*types.ValueNode, error) {
	if _, seen := visited[elementID]; seen {
		return nil, nil
	}
	visited[elementID] = struct{}{}

	node := &types.ValueNode{ValuePoint: s.latestPoint(ctx, elementID)}

	// remaining counts levels including this one; 1 stops recursion,
	// 0 means unbounded.
	if remaining == 1 {
		return node, nil
	}
	next := remaining - 1
	if remaining == 0 {
		next = 0
	}
	for _, child := range s.graph.Children(elementID) {
		childNode, err := s.currentNode(ctx, child, next, visited)
		if err != nil {
			return nil, err
		}
		if childNode != nil {
			node.Children = append(node.Children, childNode)
		}
	}
	return node, nil
}

// latestPoint returns the element's point with the greatest timestamp,
// insertion order breaking ties. Elements without points get a null Bad
// placeholder.
func (s *Store) latestPoint(ctx context.Context, elementID string) types.ValuePoint {
	sr, err := s.getSeries(ctx, elementID)
	if err != nil {
		s.logger.Warn("series unavailable", "elementId", elementID, "error", err)
		return types.ValuePoint{ElementID: elementID, Quality: types.QualityBad}
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	if len(sr.points) == 0 {
		return types.ValuePoint{ElementID: elementID, Quality: types.QualityBad}
	}
	return sr.points[len(sr.points)-1].ValuePoint
}

// HistoryQuery bounds a history read. Zero Start/End default to the
// configured window back from now; Aggregate is optional.
type HistoryQuery struct {
	Start     int64
	End       int64
	MaxDepth  int
	Aggregate *AggregateQuery
}

// History returns the ranged points of the element and, within MaxDepth
// composition levels, of its descendants: element by element in composition
// order, ascending timestamps within each element. With an aggregate the raw
// points of each element are replaced by its bucket sequence. A caller
// deadline is honored between elements and surfaces as a retryable timeout.
func (s *Store) History(ctx context.Context, elementID string, q HistoryQuery) ([]types.ValuePoint, error) {
	if !s.graph.Exists(elementID) {
		s.observe("history", "not_found")
		return nil, errors.NewNotFound("object", elementID)
	}

	start, end := q.Start, q.End
	if end == 0 {
		end = timestamp.Now()
	}
	if start == 0 {
		start = timestamp.Sub(end, s.config.DefaultWindow)
	}
	if start > end {
		s.observe("history", "invalid")
		return nil, errors.NewValidation("startTime", "start is after end")
	}
	if q.Aggregate != nil {
		if err := q.Aggregate.validate(); err != nil {
			s.observe("history", "invalid")
			return nil, err
		}
	}

	elements := s.collectElements(elementID, q.MaxDepth)

	var out []types.ValuePoint
	for _, id := range elements {
		if err := ctx.Err(); err != nil {
			s.observe("history", "timeout")
			return nil, errors.NewTimeout("history", err)
		}
		points, err := s.rangePoints(ctx, id, start, end)
		if err != nil {
			s.observe("history", "error")
			return nil, err
		}
		if q.Aggregate != nil {
			out = append(out, q.Aggregate.apply(id, start, end, points)...)
		} else {
			out = append(out, points...)
		}
	}
	s.observe("history", "ok")
	return out, nil
}

// collectElements lists the element and its composition descendants within
// maxDepth levels, depth-first with lexically ordered siblings.
func (s *Store) collectElements(elementID string, maxDepth int) []string {
	var out []string
	visited := make(map[string]struct{})
	var walk func(id string, remaining int)
	walk = func(id string, remaining int) {
		if _, seen := visited[id]; seen {
			return
		}
		visited[id] = struct{}{}
		out = append(out, id)
		if remaining == 1 {
			return
		}
		next := remaining - 1
		if remaining == 0 {
			next = 0
		}
		for _, child := range s.graph.Children(id) {
			walk(child, next)
		}
	}
	depth := maxDepth
	if depth < 0 {
		depth = 1
	}
	if depth == 0 {
		walk(elementID, 0)
	} else {
		walk(elementID, depth)
	}
	return out
}

// rangePoints copies the element's points with start <= ts < end.
func (s *Store) rangePoints(ctx context.Context, elementID string, start, end int64) ([]types.ValuePoint, error) {
	sr, err := s.getSeries(ctx, elementID)
	if err != nil {
		return nil, err
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	var out []types.ValuePoint
	for _, p := range sr.points {
		if p.Timestamp < start || p.Timestamp >= end {
			continue
		}
		out = append(out, p.ValuePoint)
	}
	return out, nil
}
