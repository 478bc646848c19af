package schema

import "sort"

// Schema is a map of field names to their expected types.
// Example: {"id": Text(1, 128), "epoch": IntRange(0, math.MaxInt64), "tags": Slice(String())}
type Schema map[string]Type

// Validate checks if data conforms to the schema.
// Keys not described by the schema are ignored. Returns an *AggregateError with
// every failure found, in key order.
func Validate(schema Schema, data map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	var errs []error
	for _, fieldName := range sortedKeys(schema) {
		if err := validateField(fieldName, schema[fieldName], data); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// ValidateFields validates only specific fields from data against the schema.
// Missing fields are treated as an error unless the type is Optional.
func ValidateFields(schema Schema, data map[string]any, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}

	var errs []error
	for _, fieldName := range fields {
		fieldType, exists := schema[fieldName]
		if !exists {
			errs = append(errs, &ValidationError{Key: fieldName, Reason: "not defined in schema"})
			continue
		}
		if err := validateField(fieldName, fieldType, data); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

func validateField(name string, fieldType Type, data map[string]any) error {
	value, exists := data[name]
	if !exists || value == nil {
		if _, optional := fieldType.(*OptionalType); optional {
			return nil
		}
		return &ValidationError{Key: name, Reason: "required"}
	}
	if err := fieldType.Validate(value); err != nil {
		return &ValidationError{Key: name, Reason: err.Error(), Value: value}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
