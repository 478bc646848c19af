package stage_test

import (
	"errors"
	"testing"
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commit(s *domain.Session, key, value string) {
	s.Commit(key, value, domain.ProvenanceUser, false, time.Now())
}

func TestDefault_PrerequisitesAreCumulative(t *testing.T) {
	g := stage.Default()

	d, ok := g.Definition(domain.StageDeliverables)
	require.True(t, ok)
	assert.Equal(t, []string{
		"topic1.value", "topic2.value", "topic3.value",
		"driving_question.value", "learning_goals.value", "milestones.value",
	}, d.Prerequisites)

	review, _ := g.Definition(domain.StageReview)
	assert.Len(t, review.Prerequisites, 7)
	assert.Equal(t, stage.KindTerminal, review.Kind)
	assert.Len(t, g.Outputs(), 7)
}

func TestNewGraph_RejectsBrokenDefinitions(t *testing.T) {
	defs := stage.DefaultDefinitions()
	defs[1].Prerequisites = []string{"topic3.value"}
	_, err := stage.NewGraph(defs)
	assert.ErrorContains(t, err, "not produced by an earlier stage")

	_, err = stage.NewGraph(stage.DefaultDefinitions()[:3])
	assert.ErrorContains(t, err, "is not defined")

	defs = stage.DefaultDefinitions()
	defs[0].Field = ""
	_, err = stage.NewGraph(defs)
	assert.ErrorContains(t, err, "needs a field")
}

func TestCanEnter(t *testing.T) {
	g := stage.Default()
	s := domain.NewSession("s", time.Now())

	check := g.CanEnter(domain.StageTopic1, s)
	assert.True(t, check.OK)

	check = g.CanEnter(domain.StageTopic3, s)
	assert.False(t, check.OK)
	assert.Equal(t, []string{"topic1.value", "topic2.value"}, check.Missing)

	commit(s, "topic1.value", "Energy")
	commit(s, "topic2.value", "ab") // below the minimum-length bar
	check = g.CanEnter(domain.StageTopic3, s)
	assert.Equal(t, []string{"topic2.value"}, check.Missing)

	s.Commit("topic2.value", "ab", domain.ProvenanceUser, true, time.Now())
	assert.True(t, g.CanEnter(domain.StageTopic3, s).OK, "forced values skip the length bar")
}

func TestCanEnter_RequiresConfirmation(t *testing.T) {
	g := stage.Default()
	s := domain.NewSession("s", time.Now())
	s.Capture("topic1.value", "Renewable energy", time.Now())
	assert.False(t, g.CanEnter(domain.StageTopic2, s).OK)
}

// Scenario D: a jump to deliverables while topic3.value is empty is rejected.
func TestValidateJump_NamesMissingField(t *testing.T) {
	g := stage.Default()
	s := domain.NewSession("s", time.Now())
	commit(s, "topic1.value", "Energy")
	commit(s, "topic2.value", "Water")
	s.Stage = domain.StageTopic3

	err := g.ValidateJump(s, domain.StageDeliverables)
	require.Error(t, err)

	var gateErr *domain.GateError
	require.True(t, errors.As(err, &gateErr))
	assert.Equal(t, domain.StageDeliverables, gateErr.Stage)
	assert.Contains(t, gateErr.Missing, "topic3.value")
	assert.Contains(t, err.Error(), "topic3.value")
	assert.Equal(t, domain.StageTopic3, s.Stage)
}

func TestValidateJump_Backward(t *testing.T) {
	g := stage.Default()
	s := domain.NewSession("s", time.Now())
	commit(s, "topic1.value", "Energy")
	s.Stage = domain.StageTopic2

	assert.ErrorIs(t, g.ValidateJump(s, domain.StageTopic1), domain.ErrBackwardJump)
	assert.NoError(t, g.ValidateJump(s, domain.StageTopic2))
	assert.ErrorIs(t, g.ValidateJump(s, domain.StageID(99)), domain.ErrUnknownStage)
}

func TestSweep_RollsBackToEarliestUnmet(t *testing.T) {
	g := stage.Default()
	s := domain.NewSession("s", time.Now())
	commit(s, "topic1.value", "Energy")
	commit(s, "topic3.value", "Transport")
	s.Stage = domain.StageDrivingQuestion

	rb, ok := g.Sweep(s)
	require.True(t, ok)
	assert.Equal(t, domain.StageDrivingQuestion, rb.From)
	assert.Equal(t, domain.StageTopic2, rb.To)
	assert.Equal(t, []string{"topic2.value"}, rb.Missing)
	assert.Contains(t, rb.Reason, "topic2.value")

	s.Stage = domain.StageTopic2
	_, ok = g.Sweep(s)
	assert.False(t, ok)
}

func TestCompletion(t *testing.T) {
	g := stage.Default()
	s := domain.NewSession("s", time.Now())
	assert.Equal(t, 0.0, g.Completion(s))

	commit(s, "topic1.value", "Energy")
	commit(s, "topic2.value", "Water")
	assert.InDelta(t, 2.0/7.0, g.Completion(s), 1e-9)
}

