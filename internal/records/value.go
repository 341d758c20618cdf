package records

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind distinguishes numeric from textual attribute values.
type Kind uint8

const (
	KindNumber Kind = iota
	KindText
)

func (k Kind) String() string {
	if k == KindText {
		return "text"
	}
	return "number"
}

// Value is a single building attribute or sampled parameter value: either a
// float64 or a string. The zero Value is the number 0.
type Value struct {
	kind Kind
	num  float64
	text string
	// raw is the source text of a number read from a record file. String
	// returns it verbatim so untouched cells are rewritten byte for byte.
	raw string
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Text returns a textual Value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// ParseValue interprets s as a number when it parses as a float and as text
// otherwise. Surrounding whitespace is ignored for the numeric check only.
func ParseValue(s string) Value {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return Number(f)
	}
	return Text(s)
}

// ParseCell is ParseValue for stored record cells: a numeric cell keeps its
// original text, so "018956", "3.10" and "1E5" are written back unchanged.
func ParseCell(s string) Value {
	v := ParseValue(s)
	if v.kind == KindNumber {
		v.raw = s
	}
	return v
}

// NumberText returns a numeric Value that renders as s. An empty s renders
// the number itself.
func NumberText(f float64, s string) Value {
	return Value{kind: KindNumber, num: f, raw: s}
}

// FromAny converts decoded JSON/YAML scalars into a Value.
func FromAny(v interface{}) (Value, error) {
	switch x := v.(type) {
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", x, err)
		}
		return Number(f), nil
	case string:
		return Text(x), nil
	case Value:
		return x, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

func (v Value) Kind() Kind { return v.kind }

// Float returns the numeric value and whether v is a number.
func (v Value) Float() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Str returns the textual value and whether v is text.
func (v Value) Str() (string, bool) {
	return v.text, v.kind == KindText
}

// String renders v for tabular output. Numbers use their source text when
// they have one and otherwise the shortest representation that round-trips
// exactly.
func (v Value) String() string {
	if v.kind == KindText {
		return v.text
	}
	if v.raw != "" {
		return v.raw
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// MarshalJSON encodes numbers as JSON numbers and text as JSON strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindText {
		return json.Marshal(v.text)
	}
	return json.Marshal(v.num)
}

// UnmarshalJSON accepts a JSON number or string.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Text(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("value must be a number or string: %s", data)
	}
	*v = Number(f)
	return nil
}

// Equal reports whether v and o hold the same kind and value. Source text is
// not compared.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == KindText {
		return v.text == o.text
	}
	return v.num == o.num
}
