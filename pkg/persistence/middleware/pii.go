package middleware

import (
	"fmt"
	"regexp"

	"github.com/aretw0/blueprint/pkg/domain"
)

// Mask replaces redacted values.
const Mask = "***"

// Redactor masks captured values whose keys match any pattern.
// With no patterns every value is masked.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the key patterns.
func NewRedactor(patternStrings []string) (*Redactor, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return &Redactor{patterns: patterns}, nil
}

// Redact returns a masked copy of the session for diagnostics output.
// The input session is not modified.
func (r *Redactor) Redact(s *domain.Session) *domain.Session {
	out := s.Clone()
	for i := range out.Fields {
		if r.matches(out.Fields[i].Key) {
			out.Fields[i].Value = Mask
		}
	}
	if out.Pending != nil && r.matches(out.Pending.Target) {
		out.Pending.Value = Mask
	}
	return out
}

func (r *Redactor) matches(key string) bool {
	if len(r.patterns) == 0 {
		return true
	}
	for _, p := range r.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
