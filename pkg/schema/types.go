package schema

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Type defines the contract for field validation.
type Type interface {
	// Name returns the human-readable name of the type (e.g., "string", "int").
	Name() string
	// Validate checks if a value conforms to this type.
	Validate(value any) error
}

// Coercer is implemented by types that can repair a value that failed validation.
// Coerce returns a value that passes Validate, or an error when the value is beyond repair.
type Coercer interface {
	Coerce(c *Coercion, path string, value any) (any, error)
}

// --- Scalars ---

// StringType validates string values with optional length bounds.
// Length is measured in runes after trimming surrounding whitespace.
type StringType struct {
	Min int
	Max int // 0 means unbounded
}

func (t *StringType) Name() string { return "string" }

func (t *StringType) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("invalid utf-8")
	}
	if s != strings.TrimSpace(s) {
		return fmt.Errorf("surrounding whitespace")
	}
	n := utf8.RuneCountInString(s)
	if n < t.Min {
		return fmt.Errorf("shorter than %d characters", t.Min)
	}
	if t.Max > 0 && n > t.Max {
		return fmt.Errorf("longer than %d characters", t.Max)
	}
	return nil
}

// Coerce trims, clips to Max and stringifies scalars.
func (t *StringType) Coerce(c *Coercion, path string, value any) (any, error) {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case bool, int, int64, float64:
		s = fmt.Sprint(v)
		c.warn(path, "converted %T to string", v)
	default:
		return nil, fmt.Errorf("expected string, got %T", value)
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
		c.warn(path, "removed invalid utf-8")
	}
	if trimmed := strings.TrimSpace(s); trimmed != s {
		s = trimmed
		c.warn(path, "trimmed whitespace")
	}
	if t.Max > 0 && utf8.RuneCountInString(s) > t.Max {
		s = string([]rune(s)[:t.Max])
		c.warn(path, "clipped to %d characters", t.Max)
	}
	if utf8.RuneCountInString(s) < t.Min {
		return nil, fmt.Errorf("shorter than %d characters", t.Min)
	}
	return s, nil
}

// IntType validates integer values within an optional range.
type IntType struct {
	Min, Max int64
	bounded  bool
}

func (t *IntType) Name() string { return "int" }

func (t *IntType) Validate(value any) error {
	n, err := toInt(value)
	if err != nil {
		return err
	}
	if t.bounded && (n < t.Min || n > t.Max) {
		return fmt.Errorf("out of range [%d, %d]", t.Min, t.Max)
	}
	return nil
}

// Coerce parses numeric strings, rounds floats and clamps into range.
func (t *IntType) Coerce(c *Coercion, path string, value any) (any, error) {
	var n int64
	switch v := value.(type) {
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("expected int, got %q", v)
		}
		n = int64(math.Round(parsed))
		c.warn(path, "parsed int from string")
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("expected int, got %v", v)
		}
		n = int64(math.Round(v))
		c.warn(path, "rounded %v", v)
	default:
		var err error
		if n, err = toInt(value); err != nil {
			return nil, err
		}
	}
	if t.bounded {
		switch {
		case n < t.Min:
			c.warn(path, "clamped %d to %d", n, t.Min)
			n = t.Min
		case n > t.Max:
			c.warn(path, "clamped %d to %d", n, t.Max)
			n = t.Max
		}
	}
	return n, nil
}

func toInt(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		// Accept floats that are whole numbers (from JSON unmarshaling)
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int64(v), nil
		}
		return 0, fmt.Errorf("expected int, got float (not a whole number)")
	default:
		return 0, fmt.Errorf("expected int, got %T", value)
	}
}

// FloatType validates floating-point values.
type FloatType struct{}

func (t *FloatType) Name() string { return "float" }

func (t *FloatType) Validate(value any) error {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64:
		return nil
	default:
		return fmt.Errorf("expected float, got %T", value)
	}
}

// BoolType validates boolean values.
type BoolType struct{}

func (t *BoolType) Name() string { return "bool" }

func (t *BoolType) Validate(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

// Coerce accepts "true"/"false"/"yes"/"no" strings and 0/1 numbers.
func (t *BoolType) Coerce(c *Coercion, path string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			c.warn(path, "parsed bool from string")
			return true, nil
		case "false", "no", "0", "":
			c.warn(path, "parsed bool from string")
			return false, nil
		}
	case float64:
		if v == 0 || v == 1 {
			c.warn(path, "parsed bool from number")
			return v == 1, nil
		}
	}
	return nil, fmt.Errorf("expected bool, got %T", value)
}

// EnumType accepts one of a closed set of strings.
// Coercion matches ignoring case, spaces and underscores, accepts a numeric index
// into Values and otherwise falls back to Fallback (when set).
type EnumType struct {
	Values   []string
	Fallback string
}

func (t *EnumType) Name() string { return "enum(" + strings.Join(t.Values, "|") + ")" }

func (t *EnumType) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	for _, v := range t.Values {
		if v == s {
			return nil
		}
	}
	return fmt.Errorf("%q is not one of %s", s, strings.Join(t.Values, ", "))
}

func (t *EnumType) Coerce(c *Coercion, path string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		want := foldEnum(v)
		for _, candidate := range t.Values {
			if foldEnum(candidate) == want {
				c.warn(path, "normalized %q to %q", v, candidate)
				return candidate, nil
			}
		}
	case float64:
		if i := int(v); float64(i) == v && i >= 0 && i < len(t.Values) {
			c.warn(path, "mapped index %d to %q", i, t.Values[i])
			return t.Values[i], nil
		}
	}
	if t.Fallback != "" {
		c.warn(path, "replaced invalid value with %q", t.Fallback)
		return t.Fallback, nil
	}
	return nil, fmt.Errorf("no valid value for %v", value)
}

func foldEnum(s string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
}

// TimeType accepts RFC 3339 timestamps.
type TimeType struct{}

func (t *TimeType) Name() string { return "time" }

func (t *TimeType) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected RFC 3339 time, got %T", value)
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		return fmt.Errorf("expected RFC 3339 time, got %q", s)
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// Coerce normalizes known layouts and unix timestamps (seconds or milliseconds) to UTC RFC 3339.
func (t *TimeType) Coerce(c *Coercion, path string, value any) (any, error) {
	var parsed time.Time
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				parsed = ts
				break
			}
		}
		if parsed.IsZero() {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				parsed = fromUnix(n)
			}
		}
	case float64:
		parsed = fromUnix(int64(v))
	}
	if parsed.IsZero() {
		return nil, fmt.Errorf("unrecognized time %v", value)
	}
	c.warn(path, "normalized time")
	return parsed.UTC().Format(time.RFC3339Nano), nil
}

func fromUnix(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

// --- Composites ---

// SliceType validates slices of a specific element type.
type SliceType struct {
	elemType Type
}

func (t *SliceType) Name() string {
	return fmt.Sprintf("[%s]", t.elemType.Name())
}

func (t *SliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return fmt.Errorf("expected slice, got %T", value)
	}

	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		if err := t.elemType.Validate(elem); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// Coerce repairs each element and drops the ones beyond repair.
func (t *SliceType) Coerce(c *Coercion, path string, value any) (any, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected slice, got %T", value)
	}
	out := make([]any, 0, len(items))
	for i, item := range items {
		elemPath := fmt.Sprintf("%s[%d]", path, i)
		fixed, err := c.value(t.elemType, elemPath, item)
		if err != nil {
			c.warn(elemPath, "dropped: %v", err)
			continue
		}
		out = append(out, fixed)
	}
	return out, nil
}

// MapType validates string-keyed maps whose values share one type.
type MapType struct {
	elemType Type
}

func (t *MapType) Name() string { return fmt.Sprintf("{%s}", t.elemType.Name()) }

func (t *MapType) Validate(value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("expected object, got %T", value)
	}
	for k, v := range m {
		if err := t.elemType.Validate(v); err != nil {
			return fmt.Errorf("entry %q: %w", k, err)
		}
	}
	return nil
}

// Coerce repairs each entry and drops the ones beyond repair.
func (t *MapType) Coerce(c *Coercion, path string, value any) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", value)
	}
	out := make(map[string]any, len(m))
	for _, k := range sortedKeys(m) {
		entryPath := path + "." + k
		fixed, err := c.value(t.elemType, entryPath, m[k])
		if err != nil {
			c.warn(entryPath, "dropped: %v", err)
			continue
		}
		out[k] = fixed
	}
	return out, nil
}

// ObjectType validates a nested object against its own schema.
type ObjectType struct {
	Fields Schema
}

func (t *ObjectType) Name() string { return "object" }

func (t *ObjectType) Validate(value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("expected object, got %T", value)
	}
	return Validate(t.Fields, m)
}

func (t *ObjectType) Coerce(c *Coercion, path string, value any) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", value)
	}
	return c.object(t.Fields, path, m)
}

// OptionalType marks a field that may be absent or null.
// Values that cannot be repaired are dropped instead of failing the record.
type OptionalType struct {
	elemType Type
}

func (t *OptionalType) Name() string { return "?" + t.elemType.Name() }

func (t *OptionalType) Validate(value any) error {
	if value == nil {
		return nil
	}
	return t.elemType.Validate(value)
}

// DefaultType supplies a value when the field is absent or beyond repair.
type DefaultType struct {
	elemType Type
	value    any
}

func (t *DefaultType) Name() string { return t.elemType.Name() }

func (t *DefaultType) Validate(value any) error { return t.elemType.Validate(value) }

// CustomType applies a user-defined validation function.
type CustomType struct {
	name     string
	validate func(any) error
}

func (t *CustomType) Name() string { return t.name }

func (t *CustomType) Validate(value any) error {
	return t.validate(value)
}

// --- Factory Functions ---

// String creates a string type validator.
func String() Type { return &StringType{} }

// Text creates a bounded string type. max <= 0 means unbounded.
func Text(min, max int) Type { return &StringType{Min: min, Max: max} }

// Int creates an integer type validator.
func Int() Type { return &IntType{} }

// IntRange creates an integer type bounded to [min, max].
func IntRange(min, max int64) Type { return &IntType{Min: min, Max: max, bounded: true} }

// Float creates a float type validator.
func Float() Type { return &FloatType{} }

// Bool creates a boolean type validator.
func Bool() Type { return &BoolType{} }

// Enum creates a closed-set string type. fallback may be empty.
func Enum(fallback string, values ...string) Type {
	return &EnumType{Values: values, Fallback: fallback}
}

// Time creates an RFC 3339 timestamp type.
func Time() Type { return &TimeType{} }

// Slice creates a slice type validator for elements of the given type.
func Slice(elemType Type) Type {
	return &SliceType{elemType: elemType}
}

// Map creates a string-keyed map type.
func Map(elemType Type) Type { return &MapType{elemType: elemType} }

// Object creates a nested object type.
func Object(fields Schema) Type { return &ObjectType{Fields: fields} }

// Optional wraps a type so the field may be missing.
func Optional(elemType Type) Type { return &OptionalType{elemType: elemType} }

// Default wraps a type with a replacement value for missing or unrecoverable input.
func Default(elemType Type, value any) Type { return &DefaultType{elemType: elemType, value: value} }

// Custom creates a custom type validator with a user-defined function.
func Custom(name string, validate func(any) error) Type {
	return &CustomType{name: name, validate: validate}
}

// ParseType converts a string type name to a Type.
// Supports "string", "int", "float", "bool", "time", slices ("[string]") and optionals ("?int").
func ParseType(typeStr string) (Type, error) {
	if strings.HasPrefix(typeStr, "?") {
		elem, err := ParseType(typeStr[1:])
		if err != nil {
			return nil, err
		}
		return Optional(elem), nil
	}

	if len(typeStr) > 2 && typeStr[0] == '[' && typeStr[len(typeStr)-1] == ']' {
		elemType, err := ParseType(typeStr[1 : len(typeStr)-1])
		if err != nil {
			return nil, err
		}
		return Slice(elemType), nil
	}

	switch typeStr {
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "float":
		return Float(), nil
	case "bool":
		return Bool(), nil
	case "time":
		return Time(), nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", typeStr)
	}
}

// ParseTypeMap converts a map of field names to type strings into a Schema.
func ParseTypeMap(typeMap map[string]string) (Schema, error) {
	result := make(Schema)
	for key, typeStr := range typeMap {
		t, err := ParseType(typeStr)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		result[key] = t
	}
	return result, nil
}
