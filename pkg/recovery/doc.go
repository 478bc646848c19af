// Package recovery validates stored session records before they reach the
// conversation core.
//
// A record is first checked strictly against the session schema. When that
// fails, field-level coercion repairs what it can (trimming, clipping,
// clamping, enum defaults, timestamp normalization, dropping unknown keys)
// and the result is validated once more. Records that still fail are
// rejected with a *ValidationError; recovery never fabricates content to
// force success.
//
// Migrate applies the same validation to every record of a store, rewriting
// repaired records and purging the ones beyond repair.
package recovery
