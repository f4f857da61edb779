package types

// ChangeType categorizes a change event emitted by the stores.
type ChangeType string

const (
	// ChangeObjectCreated is emitted when a new object enters the graph.
	ChangeObjectCreated ChangeType = "object_created"

	// ChangeObjectUpdated is emitted when an object's metadata or
	// relationships change.
	ChangeObjectUpdated ChangeType = "object_updated"

	// ChangeObjectDeleted is emitted when an object is removed, including
	// each descendant removed by a cascade.
	ChangeObjectDeleted ChangeType = "object_deleted"

	// ChangeValueWritten is emitted when a value point is written for an
	// object.
	ChangeValueWritten ChangeType = "value_written"
)

// IsValid checks if the ChangeType is one of the defined constants.
func (ct ChangeType) IsValid() bool {
	switch ct {
	case ChangeObjectCreated, ChangeObjectUpdated, ChangeObjectDeleted, ChangeValueWritten:
		return true
	default:
		return false
	}
}

// ChangeEvent describes one change to the graph or to an object's value.
// Seq is a monotonically increasing sequence assigned by the notifier and is
// strictly ordered per ElementID.
type ChangeEvent struct {
	Type      ChangeType `json:"type"`
	ElementID string     `json:"elementId"`
	Timestamp int64      `json:"timestamp"`
	Seq       uint64     `json:"seq"`

	// Point is set for value_written events.
	Point *ValuePoint `json:"point,omitempty"`

	// Object is set for object_created, object_updated and object_deleted
	// events. For creates and updates it is a snapshot after the change;
	// for deletes it is the object as it stood immediately before removal.
	Object *Object `json:"object,omitempty"`
}
