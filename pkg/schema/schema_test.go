package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypes_Validate(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		value   any
		wantErr bool
	}{
		{"string ok", String(), "hello", false},
		{"string wrong type", String(), 42, true},
		{"text too short", Text(3, 0), "ok", true},
		{"text too long", Text(0, 3), "four", true},
		{"text padded", Text(0, 0), " x ", true},
		{"int from json", Int(), float64(42), false},
		{"int fractional", Int(), 42.5, true},
		{"int range", IntRange(0, 10), 11, true},
		{"bool", Bool(), true, false},
		{"enum ok", Enum("", "a", "b"), "b", false},
		{"enum bad", Enum("", "a", "b"), "c", true},
		{"time ok", Time(), "2026-01-02T03:04:05Z", false},
		{"time bad", Time(), "yesterday", true},
		{"slice", Slice(Int()), []any{float64(1), float64(2)}, false},
		{"slice element", Slice(Int()), []any{"x"}, true},
		{"map", Map(Int()), map[string]any{"a": float64(1)}, false},
		{"optional nil", Optional(Int()), nil, false},
		{"object", Object(Schema{"k": String()}), map[string]any{"k": "v"}, false},
		{"object missing", Object(Schema{"k": String()}), map[string]any{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.typ.Validate(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_AggregatesInKeyOrder(t *testing.T) {
	s := Schema{
		"b": Int(),
		"a": String(),
		"c": Optional(String()),
	}
	err := Validate(s, map[string]any{"b": "x"})
	require.Error(t, err)

	errs := ValidationErrors(err)
	require.Len(t, errs, 2)
	var first *ValidationError
	require.True(t, errors.As(errs[0], &first))
	assert.Equal(t, "a", first.Key)
	assert.Equal(t, "required", first.Reason)
	assert.Contains(t, err.Error(), "2 validation errors")
}

func TestValidateFields_UndefinedField(t *testing.T) {
	err := ValidateFields(Schema{"a": String()}, map[string]any{"a": "x"}, "a", "zzz")
	require.Error(t, err)
	assert.Len(t, ValidationErrors(err), 1)
	assert.Contains(t, err.Error(), "not defined in schema")
}

func TestCoerce_RepairsFields(t *testing.T) {
	s := Schema{
		"name":    Text(1, 5),
		"count":   IntRange(0, 10),
		"kind":    Enum("other", "alpha", "beta_gamma"),
		"when":    Time(),
		"flag":    Bool(),
		"epoch":   Default(IntRange(0, 100), int64(0)),
		"comment": Optional(Time()),
	}
	data := map[string]any{
		"name":    "  abcdefgh ",
		"count":   "42",
		"kind":    "BETA-GAMMA",
		"when":    "2026-01-02 03:04:05",
		"flag":    "yes",
		"comment": "not a time",
		"legacy":  true,
	}

	out, warnings, err := Coerce(s, data)
	require.NoError(t, err)
	assert.Equal(t, "abcde", out["name"])
	assert.Equal(t, int64(10), out["count"])
	assert.Equal(t, "beta_gamma", out["kind"])
	assert.Equal(t, "2026-01-02T03:04:05Z", out["when"])
	assert.Equal(t, true, out["flag"])
	assert.Equal(t, int64(0), out["epoch"])
	assert.NotContains(t, out, "comment")
	assert.NotContains(t, out, "legacy")
	assert.NotEmpty(t, warnings)

	require.NoError(t, Validate(s, out))
}

func TestCoerce_EnumFallbackAndIndex(t *testing.T) {
	s := Schema{"a": Enum("x", "x", "y", "z"), "b": Enum("x", "x", "y", "z")}
	out, _, err := Coerce(s, map[string]any{"a": float64(2), "b": "nope"})
	require.NoError(t, err)
	assert.Equal(t, "z", out["a"])
	assert.Equal(t, "x", out["b"])
}

func TestCoerce_NeverFabricatesRequired(t *testing.T) {
	s := Schema{"id": Text(1, 10), "enum": Enum("", "a")}
	_, _, err := Coerce(s, map[string]any{"id": "   ", "enum": "b"})
	require.Error(t, err)

	diags := Diagnostics(err)
	assert.Len(t, diags, 2)
}

func TestCoerce_NestedDropsBrokenElements(t *testing.T) {
	item := Object(Schema{
		"key":   Text(1, 0),
		"value": Text(0, 3),
	})
	s := Schema{"items": Slice(item)}

	data := map[string]any{
		"items": []any{
			map[string]any{"key": "a", "value": "abcdef"},
			map[string]any{"key": "", "value": "x"},
			"garbage",
		},
	}

	out, warnings, err := Coerce(s, data)
	require.NoError(t, err)
	items := out["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "abc", items[0].(map[string]any)["value"])
	assert.GreaterOrEqual(t, len(warnings), 3)
}

func TestCoerce_IsIdempotent(t *testing.T) {
	s := Schema{
		"name": Text(1, 5),
		"tags": Slice(Text(1, 3)),
		"when": Optional(Time()),
	}
	data := map[string]any{"name": " longer name ", "tags": []any{"abcd", " x"}, "when": float64(1767225600)}

	first, _, err := Coerce(s, data)
	require.NoError(t, err)

	// Round-trip through JSON like a stored record.
	raw, err := json.Marshal(first)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	second, warnings, err := Coerce(s, decoded)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.JSONEq(t, string(a), string(b))
}

func TestParseType(t *testing.T) {
	for _, in := range []string{"string", "int", "float", "bool", "time", "[string]", "?int", "?[time]"} {
		typ, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, in, typ.Name())
	}
	_, err := ParseType("complex")
	assert.Error(t, err)
}

func TestSchema_JSON(t *testing.T) {
	s := Schema{"a": String(), "b": Slice(Int())}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"string","b":"[int]"}`, string(data))

	var back Schema
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "[int]", back["b"].Name())
}
