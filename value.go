package svcl

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/oarkflow/json"
)

type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindJSON
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindJSON:
		return "json"
	}
	return "unknown"
}

// Value is the result of evaluating an expression. The zero Value is the empty string.
type Value struct {
	kind ValueKind
	num  float64
	str  string
	b    bool
	tree any
}

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func String(s string) Value  { return Value{kind: KindString, str: s} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }

// JSON wraps a tree of nil, bool, float64, string, []any and map[string]any.
// Other numeric types are normalized to float64.
func JSON(tree any) Value { return Value{kind: KindJSON, tree: normalizeJSON(tree)} }

// Empty is the value of an if without a taken branch and of a zero-count repeat.
var Empty = String("")

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsString() bool { return v.kind == KindString }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsJSON() bool   { return v.kind == KindJSON }

func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }
func (v Value) AsString() (string, bool)  { return v.str, v.kind == KindString }
func (v Value) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) AsJSON() (any, bool)       { return v.tree, v.kind == KindJSON }

// Truthy maps any value to a boolean for if/and/or.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num != 0
	case KindString:
		return v.str != ""
	}
	return true
}

// Render is the canonical text form handed to the HTTP layer.
func (v Value) Render() string {
	switch v.kind {
	case KindNumber:
		return FormatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindJSON:
		data, err := json.MarshalIndent(v.tree, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v.tree)
		}
		return string(data)
	}
	return v.str
}

func (v Value) String() string { return v.Render() }

// Equal is structural equality without coercion across kinds.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	}
	return jsonEqual(v.tree, o.tree)
}

// Interface returns the natural Go form of the value.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindJSON:
		return v.tree
	}
	return v.str
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// ValueFromJSON maps scalars to their own kinds and arrays/objects/null to JSON.
func ValueFromJSON(tree any) Value {
	switch t := normalizeJSON(tree).(type) {
	case float64:
		return Number(t)
	case string:
		return String(t)
	case bool:
		return Bool(t)
	default:
		return Value{kind: KindJSON, tree: t}
	}
}

// ParseJSONValue decodes JSON text into a Value.
func ParseJSONValue(text string) (Value, error) {
	var tree any
	if err := json.Unmarshal([]byte(text), &tree); err != nil {
		return Value{}, err
	}
	return ValueFromJSON(tree), nil
}

// FormatNumber renders the shortest decimal form: 2 not 2.0, 0.1 not 0.1000000001.
func FormatNumber(n float64) string {
	if math.IsInf(n, 1) {
		return "Infinity"
	}
	if math.IsInf(n, -1) {
		return "-Infinity"
	}
	if n == 0 {
		return "0"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func normalizeJSON(v any) any {
	switch t := v.(type) {
	case nil, bool, float64, string:
		return t
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeJSON(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeJSON(item)
		}
		return out
	case Value:
		return t.Interface()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return string(data)
	}
	return normalizeJSON(tree)
}

func jsonEqual(a, b any) bool {
	switch at := a.(type) {
	case nil:
		return b == nil
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case float64:
		bt, ok := b.(float64)
		return ok && at == bt
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !jsonEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !jsonEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// sortedKeys is used where a deterministic key order matters.
func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
