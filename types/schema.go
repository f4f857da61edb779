package types

import (
	"encoding/json"
	"fmt"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/pkg/timestamp"
)

// PropertyType is the closed set of property value types an ObjectType schema
// may declare. Attribute values are validated against this set at write time.
type PropertyType string

const (
	// PropertyString accepts JSON strings.
	PropertyString PropertyType = "string"

	// PropertyNumber accepts JSON numbers (integer or float).
	PropertyNumber PropertyType = "number"

	// PropertyBoolean accepts JSON booleans.
	PropertyBoolean PropertyType = "boolean"

	// PropertyDatetime accepts RFC3339 strings or Unix millisecond numbers.
	PropertyDatetime PropertyType = "datetime"

	// PropertyEnum accepts one of the strings listed in PropertyDef.Enum.
	PropertyEnum PropertyType = "enum"

	// PropertyObject accepts a nested JSON object validated against
	// PropertyDef.Properties.
	PropertyObject PropertyType = "object"
)

// IsValid checks if the PropertyType is one of the defined constants.
func (pt PropertyType) IsValid() bool {
	switch pt {
	case PropertyString, PropertyNumber, PropertyBoolean, PropertyDatetime, PropertyEnum, PropertyObject:
		return true
	default:
		return false
	}
}

// String returns the string representation of the PropertyType.
func (pt PropertyType) String() string {
	return string(pt)
}

// PropertyDef describes one named property in an ObjectType schema.
type PropertyDef struct {
	Type       PropertyType           `json:"type"`
	Required   bool                   `json:"required,omitempty"`
	Enum       []string               `json:"enum,omitempty"`
	Properties map[string]PropertyDef `json:"properties,omitempty"` // for type "object"
}

// Schema is a JSON-Schema-like property map for an ObjectType.
type Schema struct {
	Properties map[string]PropertyDef `json:"properties,omitempty"`
}

// IsEmpty reports whether the schema declares no properties.
func (s Schema) IsEmpty() bool {
	return len(s.Properties) == 0
}

// Merge deep-merges other on top of s: other's properties override s's on
// name collision, nested object properties merge recursively. The receiver is
// not mutated.
func (s Schema) Merge(other Schema) Schema {
	if s.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return s
	}
	merged := make(map[string]PropertyDef, len(s.Properties)+len(other.Properties))
	for name, def := range s.Properties {
		merged[name] = def
	}
	for name, def := range other.Properties {
		if base, ok := merged[name]; ok && base.Type == PropertyObject && def.Type == PropertyObject {
			merged[name] = PropertyDef{
				Type:       PropertyObject,
				Required:   def.Required,
				Properties: Schema{Properties: base.Properties}.Merge(Schema{Properties: def.Properties}).Properties,
			}
			continue
		}
		merged[name] = def
	}
	return Schema{Properties: merged}
}

// Validate checks that every declared property is well formed.
func (s Schema) Validate() error {
	ve := &errors.ValidationError{}
	s.validateDefs("schema.properties", ve)
	if ve.Empty() {
		return nil
	}
	return ve
}

func (s Schema) validateDefs(loc string, ve *errors.ValidationError) {
	for name, def := range s.Properties {
		propLoc := loc + "." + name
		if !def.Type.IsValid() {
			ve.Add(propLoc, fmt.Sprintf("unknown property type %q", def.Type))
			continue
		}
		if def.Type == PropertyEnum && len(def.Enum) == 0 {
			ve.Add(propLoc, "enum property requires at least one allowed value")
		}
		if def.Type == PropertyObject {
			Schema{Properties: def.Properties}.validateDefs(propLoc, ve)
		}
	}
}

// ValidateValue validates a structured attribute value against the schema.
// Scalar values pass unchecked (an object's value need not be structured);
// map values are checked property by property, and every violation is
// collected, not just the first. Validation is advisory at write time.
func (s Schema) ValidateValue(value any) error {
	attrs, ok := value.(map[string]any)
	if !ok || s.IsEmpty() {
		return nil
	}

	ve := &errors.ValidationError{}
	s.validateAttrs("", attrs, ve)
	if ve.Empty() {
		return nil
	}
	return ve
}

func (s Schema) validateAttrs(loc string, attrs map[string]any, ve *errors.ValidationError) {
	for name, def := range s.Properties {
		propLoc := name
		if loc != "" {
			propLoc = loc + "." + name
		}
		raw, present := attrs[name]
		if !present {
			if def.Required {
				ve.Add(propLoc, "required property is missing")
			}
			continue
		}
		validateAttr(propLoc, def, raw, ve)
	}
}

func validateAttr(loc string, def PropertyDef, raw any, ve *errors.ValidationError) {
	switch def.Type {
	case PropertyString:
		if _, ok := raw.(string); !ok {
			ve.Add(loc, "expected string")
		}
	case PropertyNumber:
		switch raw.(type) {
		case float64, int, int64, json.Number:
		default:
			ve.Add(loc, "expected number")
		}
	case PropertyBoolean:
		if _, ok := raw.(bool); !ok {
			ve.Add(loc, "expected boolean")
		}
	case PropertyDatetime:
		if timestamp.Parse(raw) == 0 {
			ve.Add(loc, "expected RFC3339 string or Unix millisecond timestamp")
		}
	case PropertyEnum:
		str, ok := raw.(string)
		if !ok {
			ve.Add(loc, "expected enum string")
			return
		}
		for _, allowed := range def.Enum {
			if str == allowed {
				return
			}
		}
		ve.Add(loc, fmt.Sprintf("value %q not in enum", str))
	case PropertyObject:
		nested, ok := raw.(map[string]any)
		if !ok {
			ve.Add(loc, "expected object")
			return
		}
		Schema{Properties: def.Properties}.validateAttrs(loc, nested, ve)
	}
}

// JSONSchema renders the schema as a JSON-Schema draft-07 document. The
// rendering is what external tooling consumes and what the registry
// meta-validates on registration.
func (s Schema) JSONSchema() map[string]any {
	doc := map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
	}
	if props, required := renderProps(s.Properties); len(props) > 0 {
		doc["properties"] = props
		if len(required) > 0 {
			doc["required"] = required
		}
	}
	return doc
}

func renderProps(defs map[string]PropertyDef) (map[string]any, []string) {
	if len(defs) == 0 {
		return nil, nil
	}
	props := make(map[string]any, len(defs))
	var required []string
	for name, def := range defs {
		var rendered map[string]any
		switch def.Type {
		case PropertyDatetime:
			rendered = map[string]any{"type": "string", "format": "date-time"}
		case PropertyEnum:
			rendered = map[string]any{"type": "string", "enum": def.Enum}
		case PropertyObject:
			rendered = map[string]any{"type": "object"}
			if nested, nestedReq := renderProps(def.Properties); len(nested) > 0 {
				rendered["properties"] = nested
				if len(nestedReq) > 0 {
					rendered["required"] = nestedReq
				}
			}
		default:
			rendered = map[string]any{"type": string(def.Type)}
		}
		props[name] = rendered
		if def.Required {
			required = append(required, name)
		}
	}
	return props, required
}
