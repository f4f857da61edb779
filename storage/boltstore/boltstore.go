// Package boltstore implements the storage.Backend interface on a bbolt
// database file. It is the durable single-node backend.
//
// Layout: one top-level bucket per record kind with elementId keys, plus a
// "points" bucket holding one nested bucket per element where keys are the
// big-endian encoding of (timestamp, seq) so a cursor scan yields points in
// write order.
package boltstore

import (
	"context"
	"encoding/binary"
	"log/slog"

	bolt "go.etcd.io/bbolt"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/storage"
)

const pointsBucket = "points"

// Config configures the bolt backend.
type Config struct {
	// Path is the database file path. Required.
	Path string `json:"path" yaml:"path"`

	// NoSync disables fsync on commit. Faster, loses the last writes on
	// power failure.
	NoSync bool `json:"noSync" yaml:"noSync"`
}

// Backend is a bbolt-backed storage.Backend.
type Backend struct {
	db     *bolt.DB
	logger *slog.Logger
}

// New opens (creating if needed) the database at cfg.Path and ensures all
// record buckets exist.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if cfg.Path == "" {
		return nil, errors.WrapInvalid(nil, "boltstore", "New", "path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := bolt.Open(cfg.Path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "boltstore", "New", "open database")
	}
	db.NoSync = cfg.NoSync

	err = db.Update(func(tx *bolt.Tx) error {
		for _, kind := range storage.Kinds() {
			if _, err := tx.CreateBucketIfNotExists([]byte(kind)); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucketIfNotExists([]byte(pointsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "boltstore", "New", "create buckets")
	}

	logger.Info("bolt backend opened", "path", cfg.Path, "noSync", cfg.NoSync)
	return &Backend{db: db, logger: logger}, nil
}

// PutRecord stores data under (kind, id).
func (b *Backend) PutRecord(_ context.Context, kind storage.RecordKind, id string, data []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(kind)).Put([]byte(id), data)
	})
	if err != nil {
		return errors.Wrap(err, "boltstore", "PutRecord", "put "+string(kind))
	}
	return nil
}

// DeleteRecord removes the record at (kind, id).
func (b *Backend) DeleteRecord(_ context.Context, kind storage.RecordKind, id string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(kind)).Delete([]byte(id))
	})
	if err != nil {
		return errors.Wrap(err, "boltstore", "DeleteRecord", "delete "+string(kind))
	}
	return nil
}

// LoadRecords returns every record of the given kind.
func (b *Backend) LoadRecords(_ context.Context, kind storage.RecordKind) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(kind)).ForEach(func(k, v []byte) error {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[string(k)] = cp
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "boltstore", "LoadRecords", "scan "+string(kind))
	}
	return out, nil
}

// AppendPoint stores one history point under the element's point bucket.
func (b *Backend) AppendPoint(_ context.Context, elementID string, ts int64, seq uint64, data []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		eb, err := tx.Bucket([]byte(pointsBucket)).CreateBucketIfNotExists([]byte(elementID))
		if err != nil {
			return err
		}
		return eb.Put(pointKey(ts, seq), data)
	})
	if err != nil {
		return errors.Wrap(err, "boltstore", "AppendPoint", "put point")
	}
	return nil
}

// LoadPoints returns the element's points with start <= ts < end in (ts, seq)
// order via a range cursor.
func (b *Backend) LoadPoints(_ context.Context, elementID string, start, end int64) ([][]byte, error) {
	var out [][]byte
	err := b.db.View(func(tx *bolt.Tx) error {
		eb := tx.Bucket([]byte(pointsBucket)).Bucket([]byte(elementID))
		if eb == nil {
			return nil
		}
		c := eb.Cursor()
		min := pointKey(start, 0)
		max := pointKey(end, 0)
		for k, v := c.Seek(min); k != nil && string(k) < string(max); k, v = c.Next() {
			cp := make([]byte, len(v))
			copy(cp, v)
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "boltstore", "LoadPoints", "scan points")
	}
	return out, nil
}

// DeletePoints drops the element's point bucket.
func (b *Backend) DeletePoints(_ context.Context, elementID string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket([]byte(pointsBucket))
		if pb.Bucket([]byte(elementID)) == nil {
			return nil
		}
		return pb.DeleteBucket([]byte(elementID))
	})
	if err != nil {
		return errors.Wrap(err, "boltstore", "DeletePoints", "drop bucket")
	}
	return nil
}

// Close closes the database file.
func (b *Backend) Close() error {
	if err := b.db.Close(); err != nil {
		return errors.Wrap(err, "boltstore", "Close", "close database")
	}
	return nil
}

// pointKey encodes (ts, seq) so byte order equals (ts, seq) order. Timestamps
// are sign-flipped so negative values sort before positive ones.
func pointKey(ts int64, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(ts)^(1<<63))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}
