package persistence_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestPolicy_Delay(t *testing.T) {
	p := persistence.Policy{Base: 500 * time.Millisecond, Multiplier: 2, Max: 3 * time.Second, MaxAttempts: 5}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 500*time.Millisecond, p.Delay(1))
	assert.Equal(t, time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 3*time.Second, p.Delay(4), "capped")
	assert.Equal(t, 3*time.Second, p.Delay(40))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, persistence.DefaultPolicy().Validate())

	bad := persistence.DefaultPolicy()
	bad.MaxAttempts = 0
	assert.Error(t, bad.Validate())

	bad = persistence.DefaultPolicy()
	bad.Multiplier = 0.5
	assert.Error(t, bad.Validate())

	bad = persistence.DefaultPolicy()
	bad.Max = bad.Base / 2
	assert.Error(t, bad.Validate())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, persistence.ClassPermanent, persistence.Classify(fmt.Errorf("save: %w", domain.ErrPermissionDenied)))
	assert.Equal(t, persistence.ClassTransient, persistence.Classify(fmt.Errorf("save: %w", domain.ErrUnavailable)))
	assert.Equal(t, persistence.ClassTransient, persistence.Classify(fmt.Errorf("boom")))

	err := &persistence.PersistError{Class: persistence.ClassPermanent, SessionID: "p1", Attempts: 1, Err: domain.ErrPermissionDenied}
	assert.True(t, persistence.IsPermanent(fmt.Errorf("wrapped: %w", err)))
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "p1")
}
