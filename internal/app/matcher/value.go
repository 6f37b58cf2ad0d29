package matcher

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Normalize converts v into the canonical JSON value shape. Values that
// cannot be marshalled are returned unchanged.
func Normalize(v interface{}) interface{} {
	switch v.(type) {
	case nil, string, bool, json.Number:
		return v
	}

	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	out, err := Decode(b)
	if err != nil {
		return v
	}
	return out
}

// Decode parses JSON keeping numbers as json.Number.
func Decode(data []byte) (interface{}, error) {
	var out interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.Errorf("unexpected data after JSON value at offset %d", dec.InputOffset())
	}
	return out, nil
}

// KindOf returns the JSON type tag of v, or "" for values outside the JSON model.
func KindOf(v interface{}) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool:
		return KindBoolean
	case []interface{}:
		return KindArray
	case map[string]interface{}:
		return KindObject
	}

	d, ok := toDecimal(v)
	if !ok {
		return ""
	}
	if d.IsInteger() {
		return KindInteger
	}
	return KindNumber
}

// DeepEqual compares two values with JSON semantics: object key order is
// irrelevant, array order is relevant, numbers compare by value.
func DeepEqual(a, b interface{}) bool {
	if da, ok := toDecimal(a); ok {
		db, ok := toDecimal(b)
		return ok && da.Equal(db)
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !DeepEqual(v, other) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		d, err := decimal.NewFromString(strconv.FormatUint(uint64(n), 10))
		return d, err == nil
	case uint8:
		return decimal.NewFromInt(int64(n)), true
	case uint16:
		return decimal.NewFromInt(int64(n)), true
	case uint32:
		return decimal.NewFromInt(int64(n)), true
	case uint64:
		d, err := decimal.NewFromString(strconv.FormatUint(n, 10))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}
