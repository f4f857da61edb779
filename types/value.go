package types

import (
	"encoding/json"
)

// Quality represents the data quality of a value point, following the usual
// industrial data quality taxonomy.
type Quality string

const (
	// QualityGood indicates a trusted reading. Aggregation considers only
	// Good points unless configured otherwise.
	QualityGood Quality = "Good"

	// QualityBad indicates an untrusted or failed reading.
	QualityBad Quality = "Bad"

	// QualityUncertain indicates a reading of unknown trustworthiness.
	QualityUncertain Quality = "Uncertain"

	// QualityNotConnected indicates the source was not connected when the
	// reading was taken.
	QualityNotConnected Quality = "NotConnected"

	// QualityStale indicates the reading has not been refreshed within its
	// expected update interval.
	QualityStale Quality = "Stale"

	// QualityCalculated indicates the value was derived, not measured.
	QualityCalculated Quality = "Calculated"

	// QualityManuallyEntered indicates a human-entered value.
	QualityManuallyEntered Quality = "ManuallyEntered"
)

// String returns the string representation of the Quality.
func (q Quality) String() string {
	return string(q)
}

// IsValid checks if the Quality is one of the defined constants.
func (q Quality) IsValid() bool {
	switch q {
	case QualityGood, QualityBad, QualityUncertain, QualityNotConnected,
		QualityStale, QualityCalculated, QualityManuallyEntered:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler to ensure Quality serializes as a string.
func (q Quality) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(q))
}

// UnmarshalJSON implements json.Unmarshaler to deserialize Quality from string.
func (q *Quality) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*q = Quality(s)
	return nil
}

// ValuePoint is one VQT (value, quality, timestamp) reading for an object.
// Timestamp is Unix milliseconds UTC.
type ValuePoint struct {
	ElementID string  `json:"elementId"`
	Value     any     `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Quality   Quality `json:"quality"`
	Source    string  `json:"source,omitempty"`
}

// ValueNode is a value point with the current values of composition children
// nested beneath it, produced by depth-bounded current-value queries.
type ValueNode struct {
	ValuePoint
	Children []*ValueNode `json:"children,omitempty"`
}

// Flatten returns the node and all nested children as a flat point list in
// depth-first order.
func (vn *ValueNode) Flatten() []ValuePoint {
	if vn == nil {
		return nil
	}
	out := []ValuePoint{vn.ValuePoint}
	for _, child := range vn.Children {
		out = append(out, child.Flatten()...)
	}
	return out
}

// AggregateFunc names a supported history aggregation function.
type AggregateFunc string

// Supported aggregation functions. Buckets are fixed-width windows aligned to
// the Unix epoch.
const (
	AggregateAvg    AggregateFunc = "avg"
	AggregateMin    AggregateFunc = "min"
	AggregateMax    AggregateFunc = "max"
	AggregateSum    AggregateFunc = "sum"
	AggregateCount  AggregateFunc = "count"
	AggregateFirst  AggregateFunc = "first"
	AggregateLast   AggregateFunc = "last"
	AggregateRange  AggregateFunc = "range"
	AggregateStddev AggregateFunc = "stddev"
)

// IsValid checks if the AggregateFunc is one of the defined constants.
func (af AggregateFunc) IsValid() bool {
	switch af {
	case AggregateAvg, AggregateMin, AggregateMax, AggregateSum, AggregateCount,
		AggregateFirst, AggregateLast, AggregateRange, AggregateStddev:
		return true
	default:
		return false
	}
}
