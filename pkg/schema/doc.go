// Package schema provides validation and repair for loosely typed records.
//
// It defines a small type system (string, int, bool, enum, time, slices, maps and
// nested objects) and a Schema mapping field names to types. Validate is strict;
// Coerce attempts field-level repair and reports every change it made.
//
// Basic usage:
//
//	record := schema.Schema{
//	    "id":     schema.Text(1, 128),
//	    "stage":  schema.Enum("topic1", "topic1", "topic2"),
//	    "epoch":  schema.Default(schema.IntRange(0, 1<<53), 0),
//	    "tags":   schema.Optional(schema.Slice(schema.String())),
//	}
//
//	if err := schema.Validate(record, data); err != nil {
//	    fixed, warnings, err := schema.Coerce(record, data)
//	    // ...
//	}
//
// Coercion trims and clips strings, clamps numeric ranges, defaults invalid enum
// values, normalizes timestamps and drops unrecognized keys. It never fabricates a
// required value: when a required field cannot be repaired the record is rejected
// with an *AggregateError listing every diagnostic.
package schema
