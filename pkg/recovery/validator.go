package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/aretw0/blueprint/internal/logging"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/schema"
	"github.com/mitchellh/mapstructure"
)

// Result is a recovered session and the repairs applied to it.
type Result struct {
	Session  *domain.Session
	Warnings []string
}

// Repaired reports whether the stored record had to be changed.
func (r *Result) Repaired() bool {
	return len(r.Warnings) > 0
}

// Validator recovers sessions from stored records.
type Validator struct {
	schema      schema.Schema
	concurrency int
	logger      *slog.Logger
}

// Option configures the Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithConcurrency bounds how many records Migrate validates at once.
func WithConcurrency(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// New creates a validator for session records.
func New(opts ...Option) *Validator {
	v := &Validator{
		schema:      SessionSchema(),
		concurrency: 8,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate decodes raw into a session. Valid records pass through untouched;
// invalid ones are coerced and re-validated once.
func (v *Validator) Validate(raw []byte) (*Result, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &ValidationError{Diagnostics: []string{"malformed JSON: " + err.Error()}, Err: err}
	}
	if data == nil {
		return nil, &ValidationError{Diagnostics: []string{"record is empty"}}
	}
	id, _ := data["id"].(string)

	var warnings []string
	if strictErr := schema.Validate(v.schema, data); strictErr != nil {
		fixed, repairs, err := schema.Coerce(v.schema, data)
		if err != nil {
			return nil, &ValidationError{SessionID: id, Diagnostics: schema.Diagnostics(err), Err: err}
		}
		if err := schema.Validate(v.schema, fixed); err != nil {
			return nil, &ValidationError{SessionID: id, Diagnostics: schema.Diagnostics(err), Err: err}
		}
		data, warnings = fixed, repairs
	}

	s, err := decode(data)
	if err != nil {
		return nil, &ValidationError{SessionID: id, Diagnostics: []string{err.Error()}, Err: err}
	}
	warnings = append(warnings, dedupe(s)...)

	if len(warnings) > 0 {
		v.logger.Debug("Recovered session record", "session_id", s.ID, "repairs", len(warnings))
	}
	return &Result{Session: s, Warnings: warnings}, nil
}

func decode(data map[string]any) (*domain.Session, error) {
	var s domain.Session
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &s,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.DecodeHookFuncType(utcHook),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(data); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if s.Attempts == nil {
		s.Attempts = make(map[string]int)
	}
	return &s, nil
}

// utcHook keeps decoded timestamps in UTC so a re-encoded record is stable.
func utcHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if t, ok := data.(time.Time); ok && to == reflect.TypeOf(time.Time{}) {
		return t.UTC(), nil
	}
	return data, nil
}

// dedupe keeps one entry per field key: the first position, the last value.
func dedupe(s *domain.Session) []string {
	seen := make(map[string]bool, len(s.Fields))
	dup := false
	for _, f := range s.Fields {
		if seen[f.Key] {
			dup = true
			break
		}
		seen[f.Key] = true
	}
	if !dup {
		return nil
	}

	var warnings []string
	fields := s.Fields
	s.Fields = make([]domain.CapturedField, 0, len(seen))
	counted := make(map[string]bool, len(seen))
	for _, f := range fields {
		if _, ok := s.Field(f.Key); ok && !counted[f.Key] {
			warnings = append(warnings, fmt.Sprintf("fields: merged duplicate key %q", f.Key))
			counted[f.Key] = true
		}
		s.Put(f)
	}
	return warnings
}

// IsInvalid reports whether err marks an unrecoverable record.
func IsInvalid(err error) bool {
	return errors.Is(err, domain.ErrInvalidRecord)
}
