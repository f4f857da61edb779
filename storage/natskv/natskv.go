// Package natskv implements the storage.Backend interface on NATS JetStream
// KV buckets, for deployments where graph state must survive process restarts
// and be reachable from more than one node.
//
// Two buckets are used: one for graph records and one for value history.
// ElementIds are base64url-encoded in keys since NATS KV restricts the key
// alphabet; timestamps and sequence numbers are fixed-width hex so the KV
// key order matches (ts, seq) order.
package natskv

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/storage"
)

// Config configures the NATS KV backend.
type Config struct {
	// URL is the NATS server URL. Defaults to nats.DefaultURL.
	URL string `json:"url" yaml:"url"`

	// RecordBucket holds graph records. Defaults to "i3x-records".
	RecordBucket string `json:"recordBucket" yaml:"recordBucket"`

	// PointBucket holds value history. Defaults to "i3x-points".
	PointBucket string `json:"pointBucket" yaml:"pointBucket"`

	// Timeout bounds every KV operation. Defaults to 5s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.RecordBucket == "" {
		c.RecordBucket = "i3x-records"
	}
	if c.PointBucket == "" {
		c.PointBucket = "i3x-points"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// Backend is a JetStream-KV-backed storage.Backend.
type Backend struct {
	conn    *nats.Conn
	records jetstream.KeyValue
	points  jetstream.KeyValue
	timeout time.Duration
	logger  *slog.Logger
}

// New connects to NATS and creates or binds both KV buckets.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "natskv", "New", "connect to nats")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "natskv", "New", "create jetstream context")
	}

	records, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.RecordBucket,
		Description: "i3x graph records",
	})
	if err != nil {
		conn.Close()
		return nil, errors.WrapTransient(err, "natskv", "New", "create record bucket")
	}

	points, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.PointBucket,
		Description: "i3x value history",
	})
	if err != nil {
		conn.Close()
		return nil, errors.WrapTransient(err, "natskv", "New", "create point bucket")
	}

	logger.Info("nats kv backend ready",
		"url", cfg.URL,
		"recordBucket", cfg.RecordBucket,
		"pointBucket", cfg.PointBucket)

	return &Backend{
		conn:    conn,
		records: records,
		points:  points,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

func (b *Backend) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

// PutRecord stores data under the record key for (kind, id).
func (b *Backend) PutRecord(ctx context.Context, kind storage.RecordKind, id string, data []byte) error {
	ctx, cancel := b.applyTimeout(ctx)
	defer cancel()

	if _, err := b.records.Put(ctx, recordKey(kind, id), data); err != nil {
		return errors.WrapTransient(err, "natskv", "PutRecord", "kv put")
	}
	return nil
}

// DeleteRecord purges the record key for (kind, id).
func (b *Backend) DeleteRecord(ctx context.Context, kind storage.RecordKind, id string) error {
	ctx, cancel := b.applyTimeout(ctx)
	defer cancel()

	err := b.records.Purge(ctx, recordKey(kind, id))
	if err != nil && !isKeyNotFound(err) {
		return errors.WrapTransient(err, "natskv", "DeleteRecord", "kv purge")
	}
	return nil
}

// LoadRecords scans the record bucket for all keys of the given kind.
func (b *Backend) LoadRecords(ctx context.Context, kind storage.RecordKind) (map[string][]byte, error) {
	lister, err := b.records.ListKeysFiltered(ctx, string(kind)+".>")
	if err != nil {
		return nil, errors.WrapTransient(err, "natskv", "LoadRecords", "list keys")
	}
	defer func() { _ = lister.Stop() }()

	out := make(map[string][]byte)
	for key := range lister.Keys() {
		entry, err := b.records.Get(ctx, key)
		if err != nil {
			if isKeyNotFound(err) {
				continue // deleted between list and get
			}
			return nil, errors.WrapTransient(err, "natskv", "LoadRecords", "kv get")
		}
		id, err := recordID(key)
		if err != nil {
			b.logger.Warn("skipping malformed record key", "key", key, "error", err)
			continue
		}
		out[id] = entry.Value()
	}
	return out, nil
}

// AppendPoint stores one history point keyed by (elementId, ts, seq).
func (b *Backend) AppendPoint(ctx context.Context, elementID string, ts int64, seq uint64, data []byte) error {
	ctx, cancel := b.applyTimeout(ctx)
	defer cancel()

	if _, err := b.points.Put(ctx, pointKeyFor(elementID, ts, seq), data); err != nil {
		return errors.WrapTransient(err, "natskv", "AppendPoint", "kv put")
	}
	return nil
}

// LoadPoints scans the element's point keys and returns values with
// start <= ts < end in (ts, seq) order. Key order is lexicographic and the
// encoding is order-preserving, so sorting the keys is enough.
func (b *Backend) LoadPoints(ctx context.Context, elementID string, start, end int64) ([][]byte, error) {
	keys, err := b.pointKeys(ctx, elementID)
	if err != nil {
		return nil, err
	}

	min := encodeTS(start)
	max := encodeTS(end)
	var out [][]byte
	for _, key := range keys {
		tsPart := pointKeyTS(key)
		if tsPart < min || tsPart >= max {
			continue
		}
		entry, err := b.points.Get(ctx, key)
		if err != nil {
			if isKeyNotFound(err) {
				continue
			}
			return nil, errors.WrapTransient(err, "natskv", "LoadPoints", "kv get")
		}
		out = append(out, entry.Value())
	}
	return out, nil
}

// DeletePoints purges every point key for the element.
func (b *Backend) DeletePoints(ctx context.Context, elementID string) error {
	keys, err := b.pointKeys(ctx, elementID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := b.points.Purge(ctx, key); err != nil && !isKeyNotFound(err) {
			return errors.WrapTransient(err, "natskv", "DeletePoints", "kv purge")
		}
	}
	return nil
}

// Close drains and closes the NATS connection.
func (b *Backend) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return errors.Wrap(err, "natskv", "Close", "drain connection")
	}
	return nil
}

func (b *Backend) pointKeys(ctx context.Context, elementID string) ([]string, error) {
	lister, err := b.points.ListKeysFiltered(ctx, encodeID(elementID)+".>")
	if err != nil {
		return nil, errors.WrapTransient(err, "natskv", "pointKeys", "list keys")
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	// The lister gives no order guarantee.
	sort.Strings(keys)
	return keys, nil
}

// encodeID makes an elementId safe for the NATS KV key alphabet.
func encodeID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func decodeID(enc string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func recordKey(kind storage.RecordKind, id string) string {
	return string(kind) + "." + encodeID(id)
}

func recordID(key string) (string, error) {
	_, enc, found := strings.Cut(key, ".")
	if !found {
		return "", fmt.Errorf("record key %q has no id segment", key)
	}
	return decodeID(enc)
}

// encodeTS renders a timestamp as sign-flipped fixed-width hex so string
// order matches numeric order, negative timestamps included.
func encodeTS(ts int64) string {
	return fmt.Sprintf("%016x", uint64(ts)^(1<<63))
}

func pointKeyFor(elementID string, ts int64, seq uint64) string {
	return fmt.Sprintf("%s.%s.%016x", encodeID(elementID), encodeTS(ts), seq)
}

// pointKeyTS extracts the encoded timestamp segment of a point key.
func pointKeyTS(key string) string {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func isKeyNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrNoKeysFound)
}
