package protocol

import (
	"encoding/json"
	"fmt"

	"ticksync.dev/internal/sim/geom"
)

// PropertyKind tags the value slice held by a Property.
type PropertyKind string

const (
	PropertyBool   PropertyKind = "bool"
	PropertyFloat  PropertyKind = "float"
	PropertyInt    PropertyKind = "int"
	PropertyVec2   PropertyKind = "vec2"
	PropertyString PropertyKind = "string"
)

// PropertyValue is one of Bools, Floats, Ints, Vec2s or Strings.
type PropertyValue interface {
	Kind() PropertyKind
	Len() int
}

type (
	Bools   []bool
	Floats  []float64
	Ints    []int64
	Vec2s   []geom.Vec2
	Strings []string
)

func (Bools) Kind() PropertyKind   { return PropertyBool }
func (Floats) Kind() PropertyKind  { return PropertyFloat }
func (Ints) Kind() PropertyKind    { return PropertyInt }
func (Vec2s) Kind() PropertyKind   { return PropertyVec2 }
func (Strings) Kind() PropertyKind { return PropertyString }

func (v Bools) Len() int   { return len(v) }
func (v Floats) Len() int  { return len(v) }
func (v Ints) Len() int    { return len(v) }
func (v Vec2s) Len() int   { return len(v) }
func (v Strings) Len() int { return len(v) }

// Property is a named entity property. Scalar properties hold exactly one
// value with Array false.
type Property struct {
	Name  string
	Array bool
	Value PropertyValue
}

func ScalarProperty(name string, v PropertyValue) Property {
	return Property{Name: name, Value: v}
}

func ArrayProperty(name string, v PropertyValue) Property {
	return Property{Name: name, Array: true, Value: v}
}

type propertyJSON struct {
	Name   string          `json:"name"`
	Kind   PropertyKind    `json:"kind"`
	Array  bool            `json:"array,omitempty"`
	Values json.RawMessage `json:"values"`
}

func (p Property) MarshalJSON() ([]byte, error) {
	if p.Value == nil {
		return nil, fmt.Errorf("property %q: nil value", p.Name)
	}
	if !p.Array && p.Value.Len() != 1 {
		return nil, fmt.Errorf("property %q: scalar with %d values", p.Name, p.Value.Len())
	}
	vals, err := json.Marshal(p.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(propertyJSON{Name: p.Name, Kind: p.Value.Kind(), Array: p.Array, Values: vals})
}

func (p *Property) UnmarshalJSON(b []byte) error {
	var raw propertyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var v PropertyValue
	var err error
	switch raw.Kind {
	case PropertyBool:
		var x Bools
		err = json.Unmarshal(raw.Values, &x)
		v = x
	case PropertyFloat:
		var x Floats
		err = json.Unmarshal(raw.Values, &x)
		v = x
	case PropertyInt:
		var x Ints
		err = json.Unmarshal(raw.Values, &x)
		v = x
	case PropertyVec2:
		var x Vec2s
		err = json.Unmarshal(raw.Values, &x)
		v = x
	case PropertyString:
		var x Strings
		err = json.Unmarshal(raw.Values, &x)
		v = x
	default:
		return fmt.Errorf("property %q: unknown kind %q", raw.Name, raw.Kind)
	}
	if err != nil {
		return fmt.Errorf("property %q: %w", raw.Name, err)
	}
	if !raw.Array && v.Len() != 1 {
		return fmt.Errorf("property %q: scalar with %d values", raw.Name, v.Len())
	}
	*p = Property{Name: raw.Name, Array: raw.Array, Value: v}
	return nil
}
