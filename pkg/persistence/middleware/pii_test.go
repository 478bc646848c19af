package middleware_test

import (
	"testing"
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample() *domain.Session {
	s := domain.NewSession("p1", now)
	s.Commit("topic1.value", "Solar ovens for rural schools", domain.ProvenanceUser, false, now)
	s.Commit("milestones.item1", "Kickoff survey", domain.ProvenanceUser, false, now)
	s.Pending = &domain.PendingConfirmation{Target: "milestones.value", Value: "1. Kickoff survey"}
	return s
}

func TestRedactor_MasksMatchingKeys(t *testing.T) {
	r, err := middleware.NewRedactor([]string{`^milestones\.`})
	require.NoError(t, err)

	s := sample()
	out := r.Redact(s)

	assert.Equal(t, "Solar ovens for rural schools", out.Value("topic1.value"))
	assert.Equal(t, middleware.Mask, out.Value("milestones.item1"))
	assert.Equal(t, middleware.Mask, out.Pending.Value)

	assert.Equal(t, "Kickoff survey", s.Value("milestones.item1"), "input is not modified")
	assert.Equal(t, "1. Kickoff survey", s.Pending.Value)
}

func TestRedactor_NoPatternsMasksEverything(t *testing.T) {
	r, err := middleware.NewRedactor(nil)
	require.NoError(t, err)

	out := r.Redact(sample())
	for _, f := range out.Fields {
		assert.Equal(t, middleware.Mask, f.Value, f.Key)
	}
}

func TestNewRedactor_InvalidPattern(t *testing.T) {
	_, err := middleware.NewRedactor([]string{"("})
	assert.Error(t, err)
}
