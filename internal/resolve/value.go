package resolve

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind tags the shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is a node of a JSON-like document whose shape is not known ahead of
// time. Objects keep their keys in document order. Containers hold child
// pointers, so a programmatically built document may alias or even contain
// itself; traversals in this package guard against that.
type Value struct {
	kind Kind
	b    bool
	text string // string contents, or the literal text of a number
	keys []string
	obj  map[string]*Value
	arr  []*Value
}

// Null returns a new null value.
func Null() *Value { return &Value{kind: KindNull} }

// NewBool wraps a boolean.
func NewBool(b bool) *Value { return &Value{kind: KindBool, b: b} }

// NewString wraps a string.
func NewString(s string) *Value { return &Value{kind: KindString, text: s} }

// NewNumber wraps a float64.
func NewNumber(f float64) *Value {
	return &Value{kind: KindNumber, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// NewObject returns an empty object.
func NewObject() *Value { return &Value{kind: KindObject, obj: map[string]*Value{}} }

// NewArray returns an array holding items.
func NewArray(items ...*Value) *Value { return &Value{kind: KindArray, arr: items} }

// Set adds or replaces key on an object and returns the object for chaining.
// It is a no-op on non-objects.
func (v *Value) Set(key string, child *Value) *Value {
	if v == nil || v.kind != KindObject {
		return v
	}
	if _, ok := v.obj[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.obj[key] = child
	return v
}

// Append adds items to an array. It is a no-op on non-arrays.
func (v *Value) Append(items ...*Value) *Value {
	if v == nil || v.kind != KindArray {
		return v
	}
	v.arr = append(v.arr, items...)
	return v
}

// Kind reports the value's tag. A nil *Value is null.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether v is nil or a JSON null.
func (v *Value) IsNull() bool { return v.Kind() == KindNull }

// IsScalar reports whether v is a non-null bool, number or string.
func (v *Value) IsScalar() bool {
	switch v.Kind() {
	case KindBool, KindNumber, KindString:
		return true
	default:
		return false
	}
}

// Keys returns the object's keys in document order.
func (v *Value) Keys() []string {
	if v.Kind() != KindObject {
		return nil
	}
	return v.keys
}

// Field returns the child stored under key.
func (v *Value) Field(key string) (*Value, bool) {
	if v.Kind() != KindObject {
		return nil, false
	}
	child, ok := v.obj[key]
	return child, ok
}

// Len returns the element count of an array or the key count of an object.
func (v *Value) Len() int {
	switch v.Kind() {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.keys)
	default:
		return 0
	}
}

// Index returns the i-th array element.
func (v *Value) Index(i int) (*Value, bool) {
	if v.Kind() != KindArray || i < 0 || i >= len(v.arr) {
		return nil, false
	}
	return v.arr[i], true
}

// Items returns the array elements.
func (v *Value) Items() []*Value {
	if v.Kind() != KindArray {
		return nil
	}
	return v.arr
}

// Str returns the contents of a string value.
func (v *Value) Str() (string, bool) {
	if v.Kind() != KindString {
		return "", false
	}
	return v.text, true
}

// Float returns the numeric value of a number.
func (v *Value) Float() (float64, bool) {
	if v.Kind() != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Text stringifies a scalar. Numbers keep their literal text so that large
// frame counters and ids survive without float rounding.
func Text(v *Value) (string, bool) {
	switch v.Kind() {
	case KindString, KindNumber:
		return v.text, true
	case KindBool:
		return strconv.FormatBool(v.b), true
	default:
		return "", false
	}
}

// Parse decodes a JSON document into a Value tree, preserving key order and
// the literal text of numbers.
func Parse(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseValue(dec)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("parse document: trailing data after top-level value")
	}
	return v, nil
}

func parseValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return NewBool(t), nil
	case json.Number:
		return &Value{kind: KindNumber, text: t.String()}, nil
	case string:
		return NewString(t), nil
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				child, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := NewArray()
			for dec.More() {
				child, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				arr.arr = append(arr.arr, child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// MarshalJSON renders the tree back to JSON. Object keys keep their order.
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf, map[*Value]bool{}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) encode(buf *bytes.Buffer, onPath map[*Value]bool) error {
	switch v.Kind() {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(v.text)
	case KindString:
		b, err := json.Marshal(v.text)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindObject, KindArray:
		if onPath[v] {
			return errors.New("cannot encode self-referencing value")
		}
		onPath[v] = true
		defer delete(onPath, v)
		if v.kind == KindArray {
			buf.WriteByte('[')
			for i, item := range v.arr {
				if i > 0 {
					buf.WriteByte(',')
				}
				if err := item.encode(buf, onPath); err != nil {
					return err
				}
			}
			buf.WriteByte(']')
			return nil
		}
		buf.WriteByte('{')
		for i, key := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(key)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.obj[key].encode(buf, onPath); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}
