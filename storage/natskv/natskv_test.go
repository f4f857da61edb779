package natskv

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesmii/i3x/storage"
)

func TestRecordKeyRoundTrip(t *testing.T) {
	ids := []string{
		"pump1",
		"has spaces and.dots",
		"unicode-⌘-id",
		"path/like/id",
	}
	for _, id := range ids {
		key := recordKey(storage.KindObject, id)
		decoded, err := recordID(key)
		require.NoError(t, err, id)
		assert.Equal(t, id, decoded)
	}
}

func TestRecordIDRejectsMalformedKey(t *testing.T) {
	_, err := recordID("nodotsegment")
	assert.Error(t, err)
}

func TestPointKeyOrderMatchesTimestampOrder(t *testing.T) {
	keys := []string{
		pointKeyFor("pump1", 2000, 0),
		pointKeyFor("pump1", -1000, 0),
		pointKeyFor("pump1", 1000, 2),
		pointKeyFor("pump1", 1000, 1),
		pointKeyFor("pump1", 0, 0),
	}
	sort.Strings(keys)

	expected := []string{
		pointKeyFor("pump1", -1000, 0),
		pointKeyFor("pump1", 0, 0),
		pointKeyFor("pump1", 1000, 1),
		pointKeyFor("pump1", 1000, 2),
		pointKeyFor("pump1", 2000, 0),
	}
	assert.Equal(t, expected, keys)
}

func TestPointKeyTSWindow(t *testing.T) {
	key := pointKeyFor("pump1", 1500, 7)
	ts := pointKeyTS(key)

	assert.True(t, ts >= encodeTS(1000))
	assert.True(t, ts < encodeTS(2000))
	assert.False(t, ts >= encodeTS(1501))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	assert.NotEmpty(t, cfg.URL)
	assert.Equal(t, "i3x-records", cfg.RecordBucket)
	assert.Equal(t, "i3x-points", cfg.PointBucket)
	assert.Positive(t, cfg.Timeout)
}
