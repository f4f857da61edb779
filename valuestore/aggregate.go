package valuestore

import (
	"encoding/json"
	"math"
	"time"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/pkg/timestamp"
	"github.com/cesmii/i3x/types"
)

// AggregateQuery buckets history points into fixed-width windows aligned to
// the Unix epoch. Only Good-quality points are considered unless
// IncludeNonGood is set.
type AggregateQuery struct {
	Func           types.AggregateFunc
	Interval       time.Duration
	IncludeNonGood bool
}

func (a *AggregateQuery) validate() error {
	ve := &errors.ValidationError{}
	if !a.Func.IsValid() {
		ve.Add("aggregation", "unknown aggregation function "+string(a.Func))
	}
	if a.Interval <= 0 {
		ve.Add("interval", "aggregation interval must be positive")
	}
	if ve.Empty() {
		return nil
	}
	return ve
}

// apply buckets the element's points on the epoch grid: the first bucket is
// start aligned down to the grid, and the sequence extends far enough to cover
// every instant of [start, end). A bucket with no qualifying points yields a
// null value with Bad quality instead of being omitted, so consumers always
// see a contiguous sequence. Computed buckets carry Calculated quality.
func (a *AggregateQuery) apply(elementID string, start, end int64, points []types.ValuePoint) []types.ValuePoint {
	base := timestamp.BucketStart(start, a.Interval)
	// Counting from the aligned base keeps the tail of an unaligned range
	// inside the last bucket.
	count := timestamp.BucketCount(base, end, a.Interval)
	if count <= 0 {
		return nil
	}

	intervalMs := a.Interval.Milliseconds()

	buckets := make([][]types.ValuePoint, count)
	for _, p := range points {
		if !a.IncludeNonGood && p.Quality != types.QualityGood {
			continue
		}
		idx := int((timestamp.BucketStart(p.Timestamp, a.Interval) - base) / intervalMs)
		if idx < 0 || idx >= count {
			continue
		}
		buckets[idx] = append(buckets[idx], p)
	}

	out := make([]types.ValuePoint, 0, count)
	for i, bucket := range buckets {
		bucketStart := base + int64(i)*intervalMs
		value, ok := a.compute(bucket)
		if !ok {
			out = append(out, types.ValuePoint{
				ElementID: elementID,
				Value:     nil,
				Timestamp: bucketStart,
				Quality:   types.QualityBad,
			})
			continue
		}
		out = append(out, types.ValuePoint{
			ElementID: elementID,
			Value:     value,
			Timestamp: bucketStart,
			Quality:   types.QualityCalculated,
		})
	}
	return out
}

// compute evaluates the aggregation function over one bucket. first/last and
// count work on any value type; the numeric functions skip points whose
// values are not numbers and fail the bucket when none remain.
func (a *AggregateQuery) compute(bucket []types.ValuePoint) (any, bool) {
	if len(bucket) == 0 {
		return nil, false
	}

	switch a.Func {
	case types.AggregateCount:
		return len(bucket), true
	case types.AggregateFirst:
		return bucket[0].Value, true
	case types.AggregateLast:
		return bucket[len(bucket)-1].Value, true
	}

	nums := make([]float64, 0, len(bucket))
	for _, p := range bucket {
		if f, ok := toFloat(p.Value); ok {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		return nil, false
	}

	switch a.Func {
	case types.AggregateAvg:
		return sum(nums) / float64(len(nums)), true
	case types.AggregateSum:
		return sum(nums), true
	case types.AggregateMin:
		min := nums[0]
		for _, f := range nums[1:] {
			if f < min {
				min = f
			}
		}
		return min, true
	case types.AggregateMax:
		max := nums[0]
		for _, f := range nums[1:] {
			if f > max {
				max = f
			}
		}
		return max, true
	case types.AggregateRange:
		min, max := nums[0], nums[0]
		for _, f := range nums[1:] {
			if f < min {
				min = f
			}
			if f > max {
				max = f
			}
		}
		return max - min, true
	case types.AggregateStddev:
		mean := sum(nums) / float64(len(nums))
		var variance float64
		for _, f := range nums {
			variance += (f - mean) * (f - mean)
		}
		return math.Sqrt(variance / float64(len(nums))), true
	default:
		return nil, false
	}
}

func sum(nums []float64) float64 {
	var total float64
	for _, f := range nums {
		total += f
	}
	return total
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
