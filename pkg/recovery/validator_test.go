package recovery_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func validSession() *domain.Session {
	s := domain.NewSession("p1", now)
	s.Commit("topic1.value", "Solar ovens for rural schools", domain.ProvenanceUser, false, now)
	s.Stage = domain.StageTopic2
	s.Pending = &domain.PendingConfirmation{
		Target:    "topic2.value",
		Stage:     domain.StageTopic2,
		Value:     "Heat transfer in everyday cooking",
		Attempts:  1,
		Quality:   domain.QualityMedium,
		CreatedAt: now,
	}
	s.Attempts["topic2.value"] = 1
	return s
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestValidate_ValidRecordPassesUntouched(t *testing.T) {
	want := validSession()
	res, err := recovery.New().Validate(encode(t, want))
	require.NoError(t, err)

	assert.False(t, res.Repaired())
	assert.Equal(t, want, res.Session)
}

func TestValidate_CoercesRepairableFields(t *testing.T) {
	raw := `{
		"id": "p1",
		"stage": "TOPIC_2",
		"epoch": "2",
		"legacy_flag": true,
		"fields": [
			{"key": "topic1.value", "value": "  Solar ovens  ", "confirmed": "yes", "provenance": "robot", "updated_at": "2026-03-01 12:00:00"},
			{"key": "", "value": "orphan", "updated_at": "2026-03-01T12:00:00Z"}
		],
		"attempts": {"topic2.value": -4},
		"sub_step": {"stage": "nowhere", "index": 0},
		"created_at": 1772366400,
		"updated_at": "2026-03-01T12:00:00Z"
	}`

	res, err := recovery.New().Validate([]byte(raw))
	require.NoError(t, err)
	require.True(t, res.Repaired())

	s := res.Session
	assert.Equal(t, domain.StageTopic2, s.Stage)
	assert.Equal(t, int64(2), s.Epoch)
	require.Len(t, s.Fields, 1, "unrepairable slice element is dropped")
	f := s.Fields[0]
	assert.Equal(t, "Solar ovens", f.Value)
	assert.True(t, f.Confirmed)
	assert.Equal(t, domain.ProvenanceUser, f.Provenance)
	assert.True(t, now.Equal(f.UpdatedAt))
	assert.Equal(t, 0, s.Attempts["topic2.value"], "clamped into range")
	assert.Nil(t, s.SubStep, "optional sub-step with an unknown stage is dropped")
	assert.True(t, now.Equal(s.CreatedAt))
	assert.Contains(t, res.Warnings, "legacy_flag: dropped unrecognized key")
}

func TestValidate_InvalidStageFallsBackToFirst(t *testing.T) {
	raw := `{"id":"p1","stage":"epilogue","fields":[],"created_at":"2026-03-01T12:00:00Z","updated_at":"2026-03-01T12:00:00Z"}`
	res, err := recovery.New().Validate([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, domain.FirstStage, res.Session.Stage)
}

func TestValidate_MergesDuplicateKeys(t *testing.T) {
	s := validSession()
	s.Fields = append(s.Fields, domain.CapturedField{Key: "topic1.value", Value: "Wind turbines", Confirmed: true, Provenance: domain.ProvenanceUser, UpdatedAt: now})

	res, err := recovery.New().Validate(encode(t, s))
	require.NoError(t, err)
	require.Len(t, res.Session.Fields, 1)
	assert.Equal(t, "Wind turbines", res.Session.Value("topic1.value"))
	assert.Equal(t, []string{`fields: merged duplicate key "topic1.value"`}, res.Warnings)
}

func TestValidate_RejectsUnrecoverable(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		diag string
	}{
		{"malformed json", `{"id":`, "malformed JSON"},
		{"null", `null`, "record is empty"},
		{"missing id", `{"stage":"topic1","created_at":"2026-03-01T12:00:00Z","updated_at":"2026-03-01T12:00:00Z"}`, `"id": required`},
		{"bad timestamps", `{"id":"p1","stage":"topic1","created_at":"yesterday","updated_at":"2026-03-01T12:00:00Z"}`, `"created_at"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := recovery.New().Validate([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidRecord))
			assert.True(t, recovery.IsInvalid(err))

			var verr *recovery.ValidationError
			require.True(t, errors.As(err, &verr))
			require.NotEmpty(t, verr.Diagnostics)
			assert.Contains(t, verr.Error(), tt.diag)
		})
	}
}

func TestValidate_IsIdempotent(t *testing.T) {
	inputs := []string{
		string(encode(t, validSession())),
		`{"id":" p1 ","stage":"Milestones","epoch":1.6,"fields":[{"key":"topic1.value","value":" x ","updated_at":"2026-03-01"}],"created_at":"2026-03-01T12:00:00+02:00","updated_at":1772366400000}`,
	}
	v := recovery.New()

	for _, raw := range inputs {
		first, err := v.Validate([]byte(raw))
		require.NoError(t, err)

		second, err := v.Validate(encode(t, first.Session))
		require.NoError(t, err)
		assert.False(t, second.Repaired(), "sanitized output needs no further repair: %v", second.Warnings)
		assert.Equal(t, first.Session, second.Session)
	}
}
