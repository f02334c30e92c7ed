package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind identifies the dynamic type carried by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindFloat
	KindInt
	KindBool
	KindList
	KindMap
)

// Value is a schema-less tagged union used for open-ended metadata,
// episode context and concept attributes. Stored records never carry a
// bare `any`: serialization and equality stay well-defined.
type Value struct {
	kind ValueKind
	s    string
	f    float64
	i    int64
	b    bool
	list []Value
	m    map[string]Value
}

// Metadata is an open key→value map attached to memory records.
type Metadata map[string]Value

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// FloatValue returns a float Value.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// IntValue returns an integer Value.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ListValue returns a list Value.
func ListValue(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

// MapValue returns a map Value.
func MapValue(m map[string]Value) Value {
	copied := make(map[string]Value, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return Value{kind: KindMap, m: copied}
}

// Kind reports the dynamic kind of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is the zero/null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsFloat returns a numeric payload, converting integers.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsList returns the list payload.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsMap returns the map payload.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Truthy reports whether the value reads as an affirmative flag:
// true booleans, non-zero numbers, and the strings "true"/"yes"/"1".
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		s := strings.ToLower(v.s)
		return s == "true" || s == "yes" || s == "1"
	}
	return false
}

// Text renders the value as a human-readable string.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.Text()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + v.m[k].Text()
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return ""
}

// Equal reports deep equality between two values.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == other.s
	case KindFloat:
		return v.f == other.f
	case KindInt:
		return v.i == other.i
	case KindBool:
		return v.b == other.b
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, val := range v.m {
			ov, ok := other.m[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON encodes the value as its plain JSON representation.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.s)
	case KindFloat:
		return json.Marshal(v.f)
	case KindInt:
		return json.Marshal(v.i)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON decodes plain JSON into the tagged union.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	decoded, ok := CoerceValue(raw)
	if !ok {
		return fmt.Errorf("cannot coerce %T into a memory value", raw)
	}
	*v = decoded
	return nil
}

// CoerceValue converts a dynamically-typed payload into a Value.
func CoerceValue(raw any) (Value, bool) {
	switch x := raw.(type) {
	case nil:
		return Value{}, true
	case Value:
		return x, true
	case string:
		return StringValue(x), true
	case bool:
		return BoolValue(x), true
	case float64:
		return FloatValue(x), true
	case float32:
		return FloatValue(float64(x)), true
	case int:
		return IntValue(int64(x)), true
	case int64:
		return IntValue(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return IntValue(i), true
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, false
		}
		return FloatValue(f), true
	case []any:
		items := make([]Value, 0, len(x))
		for _, item := range x {
			v, ok := CoerceValue(item)
			if !ok {
				return Value{}, false
			}
			items = append(items, v)
		}
		return ListValue(items...), true
	case []Value:
		return ListValue(x...), true
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			v, ok := CoerceValue(item)
			if !ok {
				return Value{}, false
			}
			m[k] = v
		}
		return MapValue(m), true
	case map[string]Value:
		return MapValue(x), true
	}
	return Value{}, false
}

// Clone returns a deep copy of the metadata map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports whether two metadata maps hold the same entries.
func (m Metadata) Equal(other Metadata) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Flag reports whether the named metadata key is an affirmative flag.
func (m Metadata) Flag(key string) bool {
	v, ok := m[key]
	return ok && v.Truthy()
}

// Text returns the named entry rendered as a string, or "" when absent.
func (m Metadata) Text(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	return v.Text()
}
