// Package storage provides pluggable persistence backends for the i3X stores.
//
// The in-memory stores are authoritative at runtime; a Backend receives
// write-through copies of every mutation and replays them on startup. Three
// implementations exist:
//   - memstore.Backend: process-local, the default for tests and ephemeral runs
//   - boltstore.Backend: single-node durable storage on bbolt
//   - natskv.Backend: NATS JetStream KV for shared deployments
//
// All Backend implementations must be safe for concurrent use from multiple
// goroutines.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage backend is closed")

// RecordKind partitions the graph record keyspace. Each kind maps to its own
// bucket or key prefix in the backend.
type RecordKind string

const (
	KindNamespace        RecordKind = "namespace"
	KindObjectType       RecordKind = "objecttype"
	KindRelationshipType RecordKind = "relationshiptype"
	KindObject           RecordKind = "object"
)

// Kinds lists every record kind in load order: namespaces before types,
// types before objects, so replay never references a missing record.
func Kinds() []RecordKind {
	return []RecordKind{KindNamespace, KindObjectType, KindRelationshipType, KindObject}
}

// Backend is the pluggable persistence interface. Records hold JSON-encoded
// graph entities keyed by elementId; points hold JSON-encoded value history
// keyed by (elementId, timestamp, seq).
type Backend interface {
	// PutRecord stores data under (kind, id), overwriting any prior value.
	PutRecord(ctx context.Context, kind RecordKind, id string, data []byte) error

	// DeleteRecord removes the record at (kind, id). Deleting a missing
	// record is not an error.
	DeleteRecord(ctx context.Context, kind RecordKind, id string) error

	// LoadRecords returns every record of the given kind keyed by id.
	// Returns an empty map when the kind has no records.
	LoadRecords(ctx context.Context, kind RecordKind) (map[string][]byte, error)

	// AppendPoint stores one history point. The (ts, seq) pair is unique
	// per element; seq breaks ties between same-timestamp writes.
	AppendPoint(ctx context.Context, elementID string, ts int64, seq uint64, data []byte) error

	// LoadPoints returns the element's points with start <= ts < end, in
	// (ts, seq) ascending order.
	LoadPoints(ctx context.Context, elementID string, start, end int64) ([][]byte, error)

	// DeletePoints removes all history for the element. Used by cascade
	// deletes; removing a missing element is not an error.
	DeletePoints(ctx context.Context, elementID string) error

	// Close releases backend resources. The backend is unusable afterwards.
	Close() error
}
