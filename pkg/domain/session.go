package domain

import (
	"time"
)

// Provenance records who authored a captured value.
type Provenance string

const (
	ProvenanceUser      Provenance = "user"      // Typed by the author
	ProvenanceSuggested Provenance = "suggested" // Proposed by the generation collaborator and accepted
)

// CapturedField is a single authored value addressed by a dotted key (e.g. "topic1.value").
type CapturedField struct {
	Key        string     `json:"key"`
	Value      string     `json:"value"`
	Confirmed  bool       `json:"confirmed"`
	Provenance Provenance `json:"provenance"`
	// Forced marks values committed by the forced-accept safety valve.
	Forced    bool      `json:"forced,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Address points at one atomic prompt inside a decomposed stage.
// Index is the position in the flattened address queue.
type Address struct {
	Stage StageID `json:"stage"`
	Index int     `json:"index"`
}

// PendingConfirmation holds a proposed value awaiting explicit accept or refine.
type PendingConfirmation struct {
	// Target is a field key, or the section id for composite confirmations.
	Target     string     `json:"target"`
	Stage      StageID    `json:"stage"`
	Value      string     `json:"value"`
	Attempts   int        `json:"attempts"`
	Composite  bool       `json:"composite,omitempty"`
	Quality    Quality    `json:"quality,omitempty"`
	Hint       string     `json:"hint,omitempty"`
	Provenance Provenance `json:"provenance,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Session is the authored blueprint in progress.
type Session struct {
	ID string `json:"id"`

	// Fields keeps captured values in first-capture order. Keys are unique.
	Fields []CapturedField `json:"fields"`

	Stage   StageID              `json:"stage"`
	SubStep *Address             `json:"sub_step,omitempty"`
	Pending *PendingConfirmation `json:"pending,omitempty"`

	// Attempts counts consecutive rejected inputs per field key.
	Attempts map[string]int `json:"attempts,omitempty"`

	// Epoch increments on every reset; persistence results from older epochs are ignored.
	Epoch int64 `json:"epoch"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an empty session positioned at the first stage.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Fields:    []CapturedField{},
		Stage:     FirstStage,
		Attempts:  make(map[string]int),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	next := *s
	next.Fields = make([]CapturedField, len(s.Fields))
	copy(next.Fields, s.Fields)
	next.Attempts = make(map[string]int, len(s.Attempts))
	for k, v := range s.Attempts {
		next.Attempts[k] = v
	}
	if s.SubStep != nil {
		addr := *s.SubStep
		next.SubStep = &addr
	}
	if s.Pending != nil {
		p := *s.Pending
		next.Pending = &p
	}
	return &next
}

// Reset returns the empty initial state for the same session id with a bumped epoch.
func (s *Session) Reset(now time.Time) *Session {
	fresh := NewSession(s.ID, now)
	fresh.CreatedAt = s.CreatedAt
	fresh.Epoch = s.Epoch + 1
	return fresh
}

// Field looks up a captured field by key.
func (s *Session) Field(key string) (CapturedField, bool) {
	if i := s.indexOf(key); i >= 0 {
		return s.Fields[i], true
	}
	return CapturedField{}, false
}

// Value returns the captured value for key, or "" when absent.
func (s *Session) Value(key string) string {
	f, _ := s.Field(key)
	return f.Value
}

// Put writes a field, overwriting any existing entry with the same key.
func (s *Session) Put(field CapturedField) {
	if i := s.indexOf(field.Key); i >= 0 {
		s.Fields[i] = field
		return
	}
	s.Fields = append(s.Fields, field)
}

// Capture stores an unconfirmed user value (micro-step sub-fields).
func (s *Session) Capture(key, value string, now time.Time) {
	s.Put(CapturedField{
		Key:        key,
		Value:      value,
		Provenance: ProvenanceUser,
		UpdatedAt:  now,
	})
}

// Commit stores a confirmed value. Committing the same key twice overwrites.
func (s *Session) Commit(key, value string, prov Provenance, forced bool, now time.Time) {
	if prov == "" {
		prov = ProvenanceUser
	}
	s.Put(CapturedField{
		Key:        key,
		Value:      value,
		Confirmed:  true,
		Provenance: prov,
		Forced:     forced,
		UpdatedAt:  now,
	})
	delete(s.Attempts, key)
}

// Confirm marks existing fields as confirmed without altering their values.
func (s *Session) Confirm(now time.Time, keys ...string) {
	for _, key := range keys {
		if i := s.indexOf(key); i >= 0 {
			s.Fields[i].Confirmed = true
			s.Fields[i].UpdatedAt = now
		}
	}
}

// Remove deletes a field. It reports whether the field existed.
func (s *Session) Remove(key string) bool {
	i := s.indexOf(key)
	if i < 0 {
		return false
	}
	s.Fields = append(s.Fields[:i], s.Fields[i+1:]...)
	return true
}

// RecordRejection increments the consecutive rejection counter for key.
func (s *Session) RecordRejection(key string) int {
	if s.Attempts == nil {
		s.Attempts = make(map[string]int)
	}
	s.Attempts[key]++
	return s.Attempts[key]
}

// Rejections returns the consecutive rejection counter for key.
func (s *Session) Rejections(key string) int {
	return s.Attempts[key]
}

func (s *Session) indexOf(key string) int {
	for i := range s.Fields {
		if s.Fields[i].Key == key {
			return i
		}
	}
	return -1
}
