package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	ms := ToUnixMs(now)
	assert.Equal(t, now.UnixMilli(), ms)
	assert.True(t, FromUnixMs(ms).Equal(now))
}

func TestZeroSemantics(t *testing.T) {
	assert.True(t, IsZero(0))
	assert.True(t, FromUnixMs(0).IsZero())
	assert.Equal(t, "", Format(0))
	assert.Equal(t, int64(0), Sub(0, time.Hour))
}

func TestParseVariants(t *testing.T) {
	assert.Equal(t, int64(1672574400000), Parse("2023-01-01T12:00:00Z"))
	assert.Equal(t, int64(1672574400000), Parse(int64(1672574400000)))
	assert.Equal(t, int64(1672574400000), Parse(int64(1672574400))) // seconds upscaled
	assert.Equal(t, int64(1672574400000), Parse("1672574400000"))
	assert.Equal(t, int64(0), Parse("not a time"))
	assert.Equal(t, int64(0), Parse(nil))
}

func TestBucketStartEpochAligned(t *testing.T) {
	iv := time.Minute
	assert.Equal(t, int64(0), BucketStart(59_999, iv))
	assert.Equal(t, int64(60_000), BucketStart(60_000, iv))
	assert.Equal(t, int64(60_000), BucketStart(119_999, iv))

	// Alignment is to epoch, not to the query start
	ts := int64(1672574400000) + 42_500
	assert.Equal(t, int64(1672574400000)+0, BucketStart(ts, iv))
}

func TestBucketCount(t *testing.T) {
	iv := time.Minute
	assert.Equal(t, 1, BucketCount(0, 60_000, iv))
	assert.Equal(t, 2, BucketCount(0, 60_001, iv))
	assert.Equal(t, 10, BucketCount(0, 600_000, iv))
	assert.Equal(t, 0, BucketCount(100, 100, iv))
	assert.Equal(t, 0, BucketCount(200, 100, iv))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(Now()))
	assert.Error(t, Validate(-1))
	assert.Error(t, Validate(40000000000000))
}
