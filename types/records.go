// Package types provides the core record types of the i3X object model:
// namespaces, object types with schemas, objects, relationship types, value
// points and change events.
package types

// Namespace identifies a schema namespace. Immutable once referenced by a
// type; created by schema import.
type Namespace struct {
	URI         string `json:"uri"`
	DisplayName string `json:"displayName"`
}

// ObjectType describes a typed object schema. Forms a single-inheritance tree
// via BaseTypeID; the effective schema is the deep merge of the base chain,
// base properties first.
type ObjectType struct {
	ElementID    string `json:"elementId"`
	DisplayName  string `json:"displayName"`
	NamespaceURI string `json:"namespaceUri"`
	Schema       Schema `json:"schema"`
	BaseTypeID   string `json:"baseTypeId,omitempty"`
}

// RelationshipType describes a typed, directed relationship between objects.
// When ReverseOf resolves, the reverse edge is derived, never stored.
type RelationshipType struct {
	ElementID    string `json:"elementId"`
	DisplayName  string `json:"displayName"`
	NamespaceURI string `json:"namespaceUri"`
	ReverseOf    string `json:"reverseOf,omitempty"`
}

// Object is a node in the composition forest. Relationships maps a
// relationship type elementId to an ordered set of target elementIds.
//
// IsComposition is derived: true iff the object currently has at least one
// child. It is recomputed on every structural change and never trusted from
// client input.
type Object struct {
	ElementID     string              `json:"elementId"`
	DisplayName   string              `json:"displayName"`
	TypeID        string              `json:"typeId,omitempty"`
	ParentID      string              `json:"parentId,omitempty"`
	IsComposition bool                `json:"isComposition"`
	NamespaceURI  string              `json:"namespaceUri"`
	Relationships map[string][]string `json:"relationships,omitempty"`
}

// Clone returns a deep copy of the object so store internals never alias
// caller-held maps.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Relationships != nil {
		cp.Relationships = make(map[string][]string, len(o.Relationships))
		for k, v := range o.Relationships {
			targets := make([]string, len(v))
			copy(targets, v)
			cp.Relationships[k] = targets
		}
	}
	return &cp
}

// RelatedRef is one entry in the derived reverse-relationship index: the
// source object and the relationship type pointing at the indexed target.
type RelatedRef struct {
	SourceID           string `json:"sourceId"`
	RelationshipTypeID string `json:"relationshipTypeId"`
}
