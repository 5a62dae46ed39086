package values

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags a Value with its type. Comparison and arithmetic inspect the tag.
type Kind string

const (
	KindNumber    Kind = "number"
	KindText      Kind = "text"
	KindBoolean   Kind = "boolean"
	KindDatetime  Kind = "datetime"
	KindDuration  Kind = "duration"
	KindReference Kind = "reference"
	KindList      Kind = "list"
	KindRecord    Kind = "record"
)

// Value is a tagged value. A nil *Value is null, distinct from every tagged
// value. Datetime, duration and reference share the Text slot; datetimes are
// ISO-8601 strings, references are entity ids.
type Value struct {
	Kind        Kind
	Num         float64
	Text        string
	Bool        bool
	ElementKind Kind
	List        []*Value
	Record      map[string]*Value
}

func Number(n float64) *Value {
	return &Value{Kind: KindNumber, Num: n}
}

func Text(s string) *Value {
	return &Value{Kind: KindText, Text: s}
}

func Boolean(b bool) *Value {
	return &Value{Kind: KindBoolean, Bool: b}
}

func Datetime(iso string) *Value {
	return &Value{Kind: KindDatetime, Text: iso}
}

func DatetimeOf(t time.Time) *Value {
	return &Value{Kind: KindDatetime, Text: t.UTC().Format(time.RFC3339Nano)}
}

func Duration(iso string) *Value {
	return &Value{Kind: KindDuration, Text: iso}
}

func Reference(entityID string) *Value {
	return &Value{Kind: KindReference, Text: entityID}
}

func List(elementKind Kind, items []*Value) *Value {
	return &Value{Kind: KindList, ElementKind: elementKind, List: items}
}

func Record(fields map[string]*Value) *Value {
	return &Value{Kind: KindRecord, Record: fields}
}

// IsNull reports whether v is the null value.
func IsNull(v *Value) bool {
	return v == nil
}

func (v *Value) IsKind(kind Kind) bool {
	return v != nil && v.Kind == kind
}

// AsNumber returns the numeric payload, or false if v is null or not a number.
func (v *Value) AsNumber() (float64, bool) {
	if v == nil || v.Kind != KindNumber {
		return 0, false
	}
	return v.Num, true
}

func (v *Value) AsText() (string, bool) {
	if v == nil || v.Kind != KindText {
		return "", false
	}
	return v.Text, true
}

func (v *Value) AsBoolean() (bool, bool) {
	if v == nil || v.Kind != KindBoolean {
		return false, false
	}
	return v.Bool, true
}

func (v *Value) AsList() ([]*Value, bool) {
	if v == nil || v.Kind != KindList {
		return nil, false
	}
	return v.List, true
}

func (v *Value) AsReference() (string, bool) {
	if v == nil || v.Kind != KindReference {
		return "", false
	}
	return v.Text, true
}

// AsTime parses a datetime value. Accepts RFC3339 with or without fractional
// seconds.
func (v *Value) AsTime() (time.Time, bool) {
	if v == nil || v.Kind != KindDatetime {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v.Text)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Equals is deep and kind-aware. Two nulls are equal; null never equals a
// tagged value. Lists compare element-wise, records by key set and values,
// references by entity id only.
func Equals(a, b *Value) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Kind != b.Kind {
		return false
	}

	switch a.Kind {
	case KindNumber:
		return a.Num == b.Num
	case KindText, KindDatetime, KindDuration, KindReference:
		return a.Text == b.Text
	case KindBoolean:
		return a.Bool == b.Bool
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equals(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		if len(a.Record) != len(b.Record) {
			return false
		}
		for key, av := range a.Record {
			bv, ok := b.Record[key]
			if !ok || !Equals(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders the value for display and CONCAT coercion.
func (v *Value) String() string {
	if v == nil {
		return "null"
	}
	switch v.Kind {
	case KindNumber:
		// render integers without a trailing .0
		if v.Num == float64(int64(v.Num)) {
			return fmt.Sprintf("%d", int64(v.Num))
		}
		return fmt.Sprintf("%g", v.Num)
	case KindText, KindDatetime, KindDuration, KindReference:
		return v.Text
	case KindBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindList:
		b, _ := json.Marshal(v)
		return string(b)
	case KindRecord:
		b, _ := json.Marshal(v)
		return string(b)
	default:
		return ""
	}
}

type valueJSON struct {
	Kind        Kind            `json:"kind"`
	Value       json.RawMessage `json:"value"`
	ElementKind Kind            `json:"element_kind,omitempty"`
}

func (v *Value) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	var payload any
	switch v.Kind {
	case KindNumber:
		payload = v.Num
	case KindText, KindDatetime, KindDuration, KindReference:
		payload = v.Text
	case KindBoolean:
		payload = v.Bool
	case KindList:
		payload = v.List
	case KindRecord:
		payload = v.Record
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %q", v.Kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(valueJSON{Kind: v.Kind, Value: raw, ElementKind: v.ElementKind})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var wire valueJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	v.Kind = wire.Kind
	v.ElementKind = wire.ElementKind

	switch wire.Kind {
	case KindNumber:
		return json.Unmarshal(wire.Value, &v.Num)
	case KindText, KindDatetime, KindDuration, KindReference:
		return json.Unmarshal(wire.Value, &v.Text)
	case KindBoolean:
		return json.Unmarshal(wire.Value, &v.Bool)
	case KindList:
		return json.Unmarshal(wire.Value, &v.List)
	case KindRecord:
		return json.Unmarshal(wire.Value, &v.Record)
	default:
		return fmt.Errorf("cannot unmarshal value of kind %q", wire.Kind)
	}
}
