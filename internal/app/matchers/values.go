package matchers

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ValueType is the JSON type of a decoded value.
type ValueType string

const (
	NullType    ValueType = "Null"
	BooleanType ValueType = "Boolean"
	NumberType  ValueType = "Number"
	StringType  ValueType = "String"
	ArrayType   ValueType = "Array"
	ObjectType  ValueType = "Object"
)

// TypeOf classifies a value decoded from JSON (with or without json.Number) or built in Go.
func TypeOf(v interface{}) ValueType {
	switch v.(type) {
	case nil:
		return NullType
	case bool:
		return BooleanType
	case json.Number, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return NumberType
	case string:
		return StringType
	case []interface{}:
		return ArrayType
	case map[string]interface{}:
		return ObjectType
	}
	return ValueType(fmt.Sprintf("%T", v))
}

// IsContainer reports whether v is an array or an object.
func IsContainer(v interface{}) bool {
	t := TypeOf(v)
	return t == ArrayType || t == ObjectType
}

// Describe renders a value for mismatch messages: strings are single quoted, containers are JSON.
func Describe(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return "'" + val + "'"
	case json.Number:
		return val.String()
	case []interface{}, map[string]interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

// numberText returns the textual form of a number value.
func numberText(v interface{}) (string, bool) {
	switch n := v.(type) {
	case json.Number:
		return n.String(), true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", n), true
	}
	return "", false
}

// Float converts a number value to float64.
func Float(v interface{}) (float64, bool) {
	text, ok := numberText(v)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func isIntegerText(text string) bool {
	if _, err := strconv.ParseInt(text, 10, 64); err == nil {
		return true
	}
	_, err := strconv.ParseUint(text, 10, 64)
	return err == nil
}

func isDecimalText(text string) bool {
	if !strings.ContainsAny(text, ".eE") {
		return false
	}
	f, err := strconv.ParseFloat(text, 64)
	return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// numbersEqual compares two numbers exactly, so 1.5 equals 1.50 but 64-bit integers beyond
// float64 precision stay distinct.
func numbersEqual(expected, actual interface{}) bool {
	et, eok := numberText(expected)
	at, aok := numberText(actual)
	if !eok || !aok {
		return false
	}
	e, eok := new(big.Rat).SetString(et)
	a, aok := new(big.Rat).SetString(at)
	return eok && aok && e.Cmp(a) == 0
}

// Equal compares two decoded values deeply. Numbers compare by value.
func Equal(expected, actual interface{}) bool {
	et, at := TypeOf(expected), TypeOf(actual)
	if et != at {
		return false
	}
	switch et {
	case NullType:
		return true
	case NumberType:
		return numbersEqual(expected, actual)
	case ArrayType:
		ea, aa := expected.([]interface{}), actual.([]interface{})
		if len(ea) != len(aa) {
			return false
		}
		for i := range ea {
			if !Equal(ea[i], aa[i]) {
				return false
			}
		}
		return true
	case ObjectType:
		eo, ao := expected.(map[string]interface{}), actual.(map[string]interface{})
		if len(eo) != len(ao) {
			return false
		}
		for k, v := range eo {
			other, ok := ao[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	}
	return expected == actual
}

// Text renders a scalar as the string a text matcher (regex, include) is applied to.
func Text(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	}
	if text, ok := numberText(v); ok {
		return text
	}
	return fmt.Sprintf("%v", v)
}
