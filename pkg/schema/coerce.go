package schema

import (
	"fmt"
)

// Coercion collects the repairs applied while coercing a record.
type Coercion struct {
	Warnings []string
}

func (c *Coercion) warn(path, format string, args ...any) {
	c.Warnings = append(c.Warnings, path+": "+fmt.Sprintf(format, args...))
}

// Coerce repairs data field by field so that it passes Validate.
//
// Valid values are kept untouched. Invalid values are repaired by types implementing
// Coercer; keys the schema does not describe are dropped; Optional fields that cannot be
// repaired are dropped; Default fields fall back to their default. Required fields that
// cannot be repaired produce an *AggregateError. Coerce never invents required values.
func Coerce(schema Schema, data map[string]any) (map[string]any, []string, error) {
	c := &Coercion{}
	out, err := c.object(schema, "", data)
	if err != nil {
		return nil, c.Warnings, err
	}
	return out, c.Warnings, nil
}

func (c *Coercion) object(schema Schema, prefix string, data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(schema))
	var errs []error

	for _, key := range sortedKeys(data) {
		if _, known := schema[key]; !known {
			c.warn(join(prefix, key), "dropped unrecognized key")
		}
	}

	for _, key := range sortedKeys(schema) {
		path := join(prefix, key)
		fieldType := schema[key]
		value, exists := data[key]

		if !exists || value == nil {
			switch t := fieldType.(type) {
			case *OptionalType:
			case *DefaultType:
				out[key] = t.value
				c.warn(path, "missing, using default")
			default:
				errs = append(errs, &ValidationError{Key: path, Reason: "required"})
			}
			continue
		}

		fixed, err := c.value(fieldType, path, value)
		if err != nil {
			errs = append(errs, &ValidationError{Key: path, Reason: err.Error(), Value: value})
			continue
		}
		if fixed != nil {
			out[key] = fixed
		}
	}

	if len(errs) > 0 {
		return nil, &AggregateError{Errors: errs}
	}
	return out, nil
}

// value coerces one non-nil value. A nil result with a nil error means "drop the key".
func (c *Coercion) value(fieldType Type, path string, value any) (any, error) {
	switch t := fieldType.(type) {
	case *OptionalType:
		fixed, err := c.value(t.elemType, path, value)
		if err != nil {
			c.warn(path, "dropped: %v", err)
			return nil, nil
		}
		return fixed, nil
	case *DefaultType:
		fixed, err := c.value(t.elemType, path, value)
		if err != nil {
			c.warn(path, "replaced with default: %v", err)
			return t.value, nil
		}
		return fixed, nil
	}

	err := fieldType.Validate(value)
	if err == nil {
		return value, nil
	}
	coercer, ok := fieldType.(Coercer)
	if !ok {
		return nil, err
	}
	fixed, err := coercer.Coerce(c, path, value)
	if err != nil {
		return nil, err
	}
	if err := fieldType.Validate(fixed); err != nil {
		return nil, err
	}
	return fixed, nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
