// Package memstore implements the storage.Backend interface with in-process
// maps. It is the default backend for tests and for runs that do not need
// durability.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cesmii/i3x/storage"
)

type pointKey struct {
	ts  int64
	seq uint64
}

type pointEntry struct {
	key  pointKey
	data []byte
}

// Backend is a map-backed storage.Backend. Safe for concurrent use.
type Backend struct {
	mu      sync.RWMutex
	records map[storage.RecordKind]map[string][]byte
	points  map[string][]pointEntry
	closed  bool
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		records: make(map[storage.RecordKind]map[string][]byte),
		points:  make(map[string][]pointEntry),
	}
}

// PutRecord stores a copy of data under (kind, id).
func (b *Backend) PutRecord(_ context.Context, kind storage.RecordKind, id string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrClosed
	}
	byID, ok := b.records[kind]
	if !ok {
		byID = make(map[string][]byte)
		b.records[kind] = byID
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	byID[id] = cp
	return nil
}

// DeleteRecord removes the record at (kind, id). Missing records are ignored.
func (b *Backend) DeleteRecord(_ context.Context, kind storage.RecordKind, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrClosed
	}
	delete(b.records[kind], id)
	return nil
}

// LoadRecords returns copies of every record of the given kind.
func (b *Backend) LoadRecords(_ context.Context, kind storage.RecordKind) (map[string][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, storage.ErrClosed
	}
	out := make(map[string][]byte, len(b.records[kind]))
	for id, data := range b.records[kind] {
		cp := make([]byte, len(data))
		copy(cp, data)
		out[id] = cp
	}
	return out, nil
}

// AppendPoint stores one history point, keeping the element's point list in
// (ts, seq) order.
func (b *Backend) AppendPoint(_ context.Context, elementID string, ts int64, seq uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	entry := pointEntry{key: pointKey{ts: ts, seq: seq}, data: cp}

	list := b.points[elementID]
	// Appends are almost always in order; insert-sort only on backfill.
	if n := len(list); n == 0 || lessPoint(list[n-1].key, entry.key) {
		b.points[elementID] = append(list, entry)
		return nil
	}
	idx := sort.Search(len(list), func(i int) bool {
		return !lessPoint(list[i].key, entry.key)
	})
	list = append(list, pointEntry{})
	copy(list[idx+1:], list[idx:])
	list[idx] = entry
	b.points[elementID] = list
	return nil
}

// LoadPoints returns copies of the element's points with start <= ts < end.
func (b *Backend) LoadPoints(_ context.Context, elementID string, start, end int64) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, storage.ErrClosed
	}
	var out [][]byte
	for _, entry := range b.points[elementID] {
		if entry.key.ts < start || entry.key.ts >= end {
			continue
		}
		cp := make([]byte, len(entry.data))
		copy(cp, entry.data)
		out = append(out, cp)
	}
	return out, nil
}

// DeletePoints removes all history for the element.
func (b *Backend) DeletePoints(_ context.Context, elementID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrClosed
	}
	delete(b.points, elementID)
	return nil
}

// Close marks the backend closed. Further operations fail.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func lessPoint(a, b pointKey) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.seq < b.seq
}
