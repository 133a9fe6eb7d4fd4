package facts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// StructuredValue is a JSON-like document. The set of implementations is
// closed: Int, Str, Float, Bool, Null, Object and Array.
type StructuredValue interface {
	isStructured()
}

type (
	// Int is an integral number.
	Int int64

	// Str is a string.
	Str string

	// Float is a non-integral number.
	Float float64

	// Bool is a boolean.
	Bool bool

	// Null is the JSON null.
	Null struct{}

	// Object is an ordered list of members. Keys are unique.
	Object []Member

	// Array is an ordered list of elements.
	Array []StructuredValue
)

// Member is one key/value pair of an Object.
type Member struct {
	Key   string
	Value StructuredValue
}

func (Int) isStructured()    {}
func (Str) isStructured()    {}
func (Float) isStructured()  {}
func (Bool) isStructured()   {}
func (Null) isStructured()   {}
func (Object) isStructured() {}
func (Array) isStructured()  {}

// Get returns the value of the member named key.
func (o Object) Get(key string) (StructuredValue, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// FromJSON parses a JSON document, keeping object members in document order.
// Numbers without a fraction or exponent that fit in int64 become Int.
func FromJSON(data []byte) (StructuredValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("facts: trailing data after JSON document")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (StructuredValue, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("facts: decode JSON: %w", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := Object{}
			seen := make(map[string]bool)
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("facts: decode JSON: %w", err)
				}
				key, _ := kt.(string)
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				if seen[key] {
					return nil, fmt.Errorf("facts: duplicate object key %q", key)
				}
				seen[key] = true
				obj = append(obj, Member{Key: key, Value: v})
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("facts: decode JSON: %w", err)
			}
			return obj, nil
		case '[':
			arr := Array{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("facts: decode JSON: %w", err)
			}
			return arr, nil
		}
	case json.Number:
		return fromNumber(t)
	case string:
		return Str(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null{}, nil
	}
	return nil, fmt.Errorf("facts: unexpected JSON token %v", tok)
}

func fromNumber(n json.Number) (StructuredValue, error) {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return Int(i), nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return nil, fmt.Errorf("facts: invalid number %s", n)
	}
	return Float(f), nil
}

// FromAny converts a generically decoded document, as produced by
// encoding/json or gopkg.in/yaml.v3, into a StructuredValue. Map keys are
// sorted since Go maps carry no order.
func FromAny(v any) (StructuredValue, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case StructuredValue:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return Str(x), nil
	case json.Number:
		return fromNumber(x)
	case json.RawMessage:
		return FromJSON(x)
	case int:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return Float(float64(x)), nil
		}
		return Int(int64(x)), nil
	case float64:
		return Float(x), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := make(Object, 0, len(keys))
		for _, k := range keys {
			child, err := FromAny(x[k])
			if err != nil {
				return nil, err
			}
			obj = append(obj, Member{Key: k, Value: child})
		}
		return obj, nil
	case []any:
		arr := make(Array, 0, len(x))
		for _, e := range x {
			child, err := FromAny(e)
			if err != nil {
				return nil, err
			}
			arr = append(arr, child)
		}
		return arr, nil
	}
	return nil, fmt.Errorf("facts: unsupported document value of type %T", v)
}
