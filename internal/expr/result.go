package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// EvaluationResult is a canonical value plus its kind. Canonical values are
// bool, decimal.Decimal, string, Version, nil, a slice (Array) or a map with
// string keys (Object).
type EvaluationResult struct {
	Kind  ValueKind
	Value any
	level int
}

// TypeCastError reports a failed coercion.
type TypeCastError struct {
	Value any
	From  ValueKind
	To    ValueKind
}

func (e *TypeCastError) Error() string {
	return fmt.Sprintf("Unable to convert from %s to %s. Value: '%v'", e.From, e.To, displayValue(e.Value))
}

// looseNumberPattern is the String to Number grammar: optional sign,
// thousands separators in the integral part, optional fraction.
var looseNumberPattern = regexp.MustCompile(`^[+-]?(\d[\d,]*)?(\.\d*)?$`)

// NewResult canonicalizes raw and traces it at level.
func NewResult(ctx *EvaluationContext, level int, raw any) (EvaluationResult, error) {
	v, kind, err := Canonicalize(raw)
	if err != nil {
		return EvaluationResult{}, err
	}
	r := EvaluationResult{Kind: kind, Value: v, level: level}
	r.traceValue(ctx, v, kind)
	return r, nil
}

// Canonicalize maps a Go value onto one of the seven value kinds.
func Canonicalize(raw any) (any, ValueKind, error) {
	switch t := raw.(type) {
	case nil:
		return nil, KindNull, nil
	case bool:
		return t, KindBoolean, nil
	case string:
		return t, KindString, nil
	case decimal.Decimal:
		return t, KindNumber, nil
	case Version:
		return t, KindVersion, nil
	case *Version:
		if t == nil {
			return nil, KindNull, nil
		}
		return *t, KindVersion, nil
	case int:
		return decimal.NewFromInt(int64(t)), KindNumber, nil
	case int32:
		return decimal.NewFromInt32(t), KindNumber, nil
	case int64:
		return decimal.NewFromInt(t), KindNumber, nil
	case uint:
		return decimal.RequireFromString(strconv.FormatUint(uint64(t), 10)), KindNumber, nil
	case uint64:
		return decimal.RequireFromString(strconv.FormatUint(t, 10)), KindNumber, nil
	case float32:
		return floatNumber(float64(t))
	case float64:
		return floatNumber(t)
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil, KindNull, fmt.Errorf("invalid number %q", t.String())
		}
		return d, KindNumber, nil
	case []any:
		return t, KindArray, nil
	case map[string]any:
		return t, KindObject, nil
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return raw, KindArray, nil
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return raw, KindObject, nil
		}
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, KindNull, nil
		}
		return Canonicalize(rv.Elem().Interface())
	}
	return nil, KindNull, fmt.Errorf("unsupported value type %T", raw)
}

func floatNumber(f float64) (any, ValueKind, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, KindNull, fmt.Errorf("number %v is not finite", f)
	}
	return decimal.NewFromFloat(f), KindNumber, nil
}

// ConvertToBoolean never fails: only false, 0, the empty string and null
// are falsy.
func (r EvaluationResult) ConvertToBoolean(ctx *EvaluationContext) bool {
	var result bool
	switch r.Kind {
	case KindBoolean:
		return r.Value.(bool)
	case KindNumber:
		result = !r.Value.(decimal.Decimal).IsZero()
	case KindString:
		result = r.Value.(string) != ""
	case KindArray, KindObject, KindVersion:
		result = true
	case KindNull:
		result = false
	}
	r.traceValue(ctx, result, KindBoolean)
	return result
}

// TryConvertToNull succeeds for null and the empty string.
func (r EvaluationResult) TryConvertToNull(ctx *EvaluationContext) bool {
	switch r.Kind {
	case KindNull:
		return true
	case KindString:
		if r.Value.(string) == "" {
			r.traceValue(ctx, nil, KindNull)
			return true
		}
	}
	r.traceCoercionFailed(ctx, KindNull)
	return false
}

func (r EvaluationResult) TryConvertToNumber(ctx *EvaluationContext) (decimal.Decimal, bool) {
	switch r.Kind {
	case KindBoolean:
		d := decimal.Zero
		if r.Value.(bool) {
			d = decimal.NewFromInt(1)
		}
		r.traceValue(ctx, d, KindNumber)
		return d, true
	case KindNumber:
		return r.Value.(decimal.Decimal), true
	case KindString:
		d, ok := stringToNumber(r.Value.(string))
		if !ok {
			r.traceCoercionFailed(ctx, KindNumber)
			return decimal.Zero, false
		}
		r.traceValue(ctx, d, KindNumber)
		return d, true
	case KindNull:
		r.traceValue(ctx, decimal.Zero, KindNumber)
		return decimal.Zero, true
	}
	r.traceCoercionFailed(ctx, KindNumber)
	return decimal.Zero, false
}

func (r EvaluationResult) ConvertToNumber(ctx *EvaluationContext) (decimal.Decimal, error) {
	if d, ok := r.TryConvertToNumber(ctx); ok {
		return d, nil
	}
	return decimal.Zero, &TypeCastError{Value: r.Value, From: r.Kind, To: KindNumber}
}

func (r EvaluationResult) TryConvertToString(ctx *EvaluationContext) (string, bool) {
	var s string
	switch r.Kind {
	case KindBoolean:
		s = formatBool(r.Value.(bool))
	case KindNumber:
		s = formatNumber(r.Value.(decimal.Decimal))
	case KindString:
		return r.Value.(string), true
	case KindVersion:
		s = r.Value.(Version).String()
	case KindNull:
		r.traceValue(ctx, nil, KindNull)
		return "", true
	default:
		r.traceCoercionFailed(ctx, KindString)
		return "", false
	}
	r.traceValue(ctx, s, KindString)
	return s, true
}

func (r EvaluationResult) ConvertToString(ctx *EvaluationContext) (string, error) {
	if s, ok := r.TryConvertToString(ctx); ok {
		return s, nil
	}
	return "", &TypeCastError{Value: r.Value, From: r.Kind, To: KindString}
}

func (r EvaluationResult) TryConvertToVersion(ctx *EvaluationContext) (Version, bool) {
	var (
		v  Version
		ok bool
	)
	switch r.Kind {
	case KindVersion:
		return r.Value.(Version), true
	case KindNumber:
		v, ok = ParseVersion(formatNumber(r.Value.(decimal.Decimal)))
	case KindString:
		v, ok = ParseVersion(r.Value.(string))
	}
	if !ok {
		r.traceCoercionFailed(ctx, KindVersion)
		return Version{}, false
	}
	r.traceValue(ctx, v, KindVersion)
	return v, true
}

func (r EvaluationResult) ConvertToVersion(ctx *EvaluationContext) (Version, error) {
	if v, ok := r.TryConvertToVersion(ctx); ok {
		return v, nil
	}
	return Version{}, &TypeCastError{Value: r.Value, From: r.Kind, To: KindVersion}
}

// Equals coerces right to the kind of r. Strings compare case-insensitively;
// arrays and objects compare by reference.
func (r EvaluationResult) Equals(ctx *EvaluationContext, right EvaluationResult) bool {
	switch r.Kind {
	case KindBoolean:
		return r.Value.(bool) == right.ConvertToBoolean(ctx)
	case KindNumber:
		if d, ok := right.TryConvertToNumber(ctx); ok {
			return r.Value.(decimal.Decimal).Equal(d)
		}
	case KindVersion:
		if v, ok := right.TryConvertToVersion(ctx); ok {
			return r.Value.(Version) == v
		}
	case KindString:
		if s, ok := right.TryConvertToString(ctx); ok {
			return strings.EqualFold(r.Value.(string), s)
		}
	case KindArray, KindObject:
		return r.Kind == right.Kind && sameReference(r.Value, right.Value)
	case KindNull:
		return right.TryConvertToNull(ctx)
	}
	return false
}

// CompareTo orders r against right, coercing right to the kind of r. Left
// values that are not Boolean, Number, String or Version are first
// converted to Number, which fails for arrays, objects and versions.
func (r EvaluationResult) CompareTo(ctx *EvaluationContext, right EvaluationResult) (int, error) {
	left := r
	switch r.Kind {
	case KindBoolean, KindNumber, KindString, KindVersion:
	default:
		d, err := r.ConvertToNumber(ctx)
		if err != nil {
			return 0, err
		}
		left = EvaluationResult{Kind: KindNumber, Value: d, level: r.level}
	}

	switch left.Kind {
	case KindBoolean:
		a, b := left.Value.(bool), right.ConvertToBoolean(ctx)
		switch {
		case a == b:
			return 0, nil
		case !a:
			return -1, nil
		default:
			return 1, nil
		}
	case KindNumber:
		d, err := right.ConvertToNumber(ctx)
		if err != nil {
			return 0, err
		}
		return left.Value.(decimal.Decimal).Cmp(d), nil
	case KindString:
		s, err := right.ConvertToString(ctx)
		if err != nil {
			return 0, err
		}
		return strings.Compare(strings.ToUpper(left.Value.(string)), strings.ToUpper(s)), nil
	default:
		v, err := right.ConvertToVersion(ctx)
		if err != nil {
			return 0, err
		}
		return left.Value.(Version).Compare(v), nil
	}
}

func (r EvaluationResult) realizedExpression() string {
	switch r.Kind {
	case KindBoolean:
		return formatBool(r.Value.(bool))
	case KindNumber:
		return formatNumber(r.Value.(decimal.Decimal))
	case KindString:
		return quoteString(r.Value.(string))
	case KindVersion:
		return "v" + r.Value.(Version).String()
	default:
		return r.Kind.String()
	}
}

func (r EvaluationResult) traceValue(ctx *EvaluationContext, v any, kind ValueKind) {
	switch kind {
	case KindBoolean:
		r.traceVerbose(ctx, fmt.Sprintf("=> (%s) %s", kind, formatBool(v.(bool))))
	case KindNumber:
		r.traceVerbose(ctx, fmt.Sprintf("=> (%s) %s", kind, formatNumber(v.(decimal.Decimal))))
	case KindVersion:
		r.traceVerbose(ctx, fmt.Sprintf("=> (%s) %s", kind, v.(Version)))
	case KindString:
		r.traceVerbose(ctx, fmt.Sprintf("=> (%s) %s", kind, quoteString(v.(string))))
	default:
		r.traceVerbose(ctx, fmt.Sprintf("=> (%s)", kind))
	}
}

func (r EvaluationResult) traceCoercionFailed(ctx *EvaluationContext, to ValueKind) {
	r.traceVerbose(ctx, fmt.Sprintf("=> Unable to coerce %s to %s.", r.Kind, to))
}

func (r EvaluationResult) traceVerbose(ctx *EvaluationContext, msg string) {
	if ctx == nil || ctx.Trace == nil {
		return
	}
	ctx.Trace.Verbose(indent(r.level) + msg)
}

// stringToNumber follows the loose decimal grammar: surrounding whitespace,
// a sign, a point and thousands separators are allowed. The empty string is 0.
func stringToNumber(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, true
	}
	t := strings.TrimSpace(s)
	if !looseNumberPattern.MatchString(t) || !strings.ContainsAny(t, "0123456789") {
		return decimal.Zero, false
	}
	return parseDecimal(strings.ReplaceAll(t, ",", ""))
}

// formatNumber renders d without an exponent and without trailing
// fractional zeros.
func formatNumber(d decimal.Decimal) string {
	s := d.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// FormatNumber is the Number to String conversion.
func FormatNumber(d decimal.Decimal) string { return formatNumber(d) }

func numberString(v any) (string, bool) {
	if d, ok := v.(decimal.Decimal); ok {
		return formatNumber(d), true
	}
	return "", false
}

func displayValue(v any) any {
	switch t := v.(type) {
	case decimal.Decimal:
		return formatNumber(t)
	case bool:
		return formatBool(t)
	case nil:
		return ""
	}
	return v
}

func sameReference(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != vb.Kind() {
		return false
	}
	switch va.Kind() {
	case reflect.Map:
		return va.UnsafePointer() == vb.UnsafePointer()
	case reflect.Slice:
		return va.UnsafePointer() == vb.UnsafePointer() && va.Len() == vb.Len()
	case reflect.Pointer:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

func arrayLen(v any) int {
	if a, ok := v.([]any); ok {
		return len(a)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return rv.Len()
	}
	return 0
}

func arrayAt(v any, i int) any {
	if a, ok := v.([]any); ok {
		return a[i]
	}
	return reflect.ValueOf(v).Index(i).Interface()
}

// objectGet looks key up exactly, then falls back to a case-insensitive
// match over the sorted keys.
func objectGet(v any, key string) (any, bool) {
	if m, ok := v.(map[string]any); ok {
		if x, ok := m[key]; ok {
			return x, true
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if strings.EqualFold(k, key) {
				return m[k], true
			}
		}
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	kv := reflect.ValueOf(key).Convert(rv.Type().Key())
	if x := rv.MapIndex(kv); x.IsValid() {
		return x.Interface(), true
	}
	var keys []string
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(k, key) {
			return rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface(), true
		}
	}
	return nil, false
}

// ObjectKeys returns the sorted keys of an Object value.
func ObjectKeys(v any) []string {
	var keys []string
	if m, ok := v.(map[string]any); ok {
		for k := range m {
			keys = append(keys, k)
		}
	} else if rv := reflect.ValueOf(v); rv.Kind() == reflect.Map {
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
	}
	sort.Strings(keys)
	return keys
}

// ArrayItems returns the elements of an Array value.
func ArrayItems(v any) []any {
	if a, ok := v.([]any); ok {
		return a
	}
	n := arrayLen(v)
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = arrayAt(v, i)
	}
	return out
}

// ObjectGet looks key up in an Object value, exactly first and then
// case-insensitively.
func ObjectGet(v any, key string) (any, bool) {
	return objectGet(v, key)
}
