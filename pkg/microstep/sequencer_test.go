package microstep_test

import (
	"testing"
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/microstep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	listTemplate = microstep.Template{
		Section:  "milestones",
		Layout:   microstep.LayoutList,
		Rows:     4,
		RowLabel: "Milestone",
	}
	matrixTemplate = microstep.Template{
		Section:  "learning_goals",
		Layout:   microstep.LayoutMatrix,
		Rows:     2,
		RowLabel: "Goal",
		Columns: []microstep.Column{
			{Name: "statement", Label: "Statement"},
			{Name: "evidence", Label: "Evidence"},
		},
	}
)

func input(text string) domain.Input {
	return domain.Input{Text: text, At: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func TestTemplate_Keys(t *testing.T) {
	require.NoError(t, matrixTemplate.Validate())
	assert.Equal(t, []string{
		"learning_goals.1.statement",
		"learning_goals.1.evidence",
		"learning_goals.2.statement",
		"learning_goals.2.evidence",
	}, matrixTemplate.Keys())
	assert.Equal(t, "Goal 2 / Evidence", matrixTemplate.Label(3))
	assert.Equal(t, "milestones.3", listTemplate.Key(2))
	assert.Equal(t, "milestones.value", listTemplate.CompositeKey())
}

func TestTemplate_Validate(t *testing.T) {
	assert.Error(t, microstep.Template{Layout: microstep.LayoutList, Rows: 1}.Validate())
	assert.Error(t, microstep.Template{Section: "x", Layout: microstep.LayoutMatrix, Rows: 1}.Validate())
	assert.Error(t, microstep.Template{Section: "x", Layout: "grid", Rows: 1}.Validate())
	assert.Error(t, microstep.Template{Section: "x", Layout: microstep.LayoutList, Rows: 0}.Validate())
}

func TestSequencer_SentinelTruncatesList(t *testing.T) {
	s := domain.NewSession("s", time.Now())
	s.Stage = domain.StageMilestones
	q := microstep.New(domain.StageMilestones, listTemplate)
	q.Start(s)

	for i, text := range []string{"Research", "Prototype", "Pitch"} {
		out := q.Handle(s, input(text))
		require.Equal(t, microstep.Advanced, out.Kind)
		require.NotNil(t, out.Address)
		assert.Equal(t, i+1, out.Address.Index)
	}

	out := q.Handle(s, input("DONE"))
	require.Equal(t, microstep.Completed, out.Kind)
	assert.Nil(t, s.SubStep)
	assert.Equal(t, "1. Research\n2. Prototype\n3. Pitch", out.Draft)
	assert.Equal(t, "", s.Value("milestones.4"))
	assert.Equal(t, 3, q.Captured(s))
}

func TestSequencer_SentinelNeedsOneEntry(t *testing.T) {
	s := domain.NewSession("s", time.Now())
	q := microstep.New(domain.StageMilestones, listTemplate)
	q.Start(s)

	out := q.Handle(s, input("done"))
	assert.Equal(t, microstep.Stayed, out.Kind)
	assert.NotEmpty(t, out.Reason)
	require.NotNil(t, s.SubStep)
	assert.Equal(t, 0, s.SubStep.Index)
}

func TestSequencer_SentinelIsAValueInMatrix(t *testing.T) {
	s := domain.NewSession("s", time.Now())
	q := microstep.New(domain.StageLearningGoals, matrixTemplate)
	q.Start(s)

	q.Handle(s, input("Explain photosynthesis"))
	out := q.Handle(s, input("done"))
	assert.Equal(t, microstep.Advanced, out.Kind)
	assert.Equal(t, "done", s.Value("learning_goals.1.evidence"))
}

func TestSequencer_MatrixCompletes(t *testing.T) {
	s := domain.NewSession("s", time.Now())
	q := microstep.New(domain.StageLearningGoals, matrixTemplate)
	q.Start(s)

	var out microstep.Outcome
	for _, text := range []string{"Model energy flow", "Diagram", "Compare sources", "Report"} {
		out = q.Handle(s, input(text))
	}
	require.Equal(t, microstep.Completed, out.Kind)
	assert.Equal(t,
		"Goal 1: Statement: Model energy flow; Evidence: Diagram\nGoal 2: Statement: Compare sources; Evidence: Report",
		out.Draft)
}

func TestSequencer_BackClearsPreviousValue(t *testing.T) {
	s := domain.NewSession("s", time.Now())
	q := microstep.New(domain.StageMilestones, listTemplate)
	q.Start(s)

	q.Handle(s, input("Research"))
	q.Handle(s, input("Prototype"))

	out := q.Handle(s, input("back"))
	require.Equal(t, microstep.Retreated, out.Kind)
	assert.Equal(t, 1, s.SubStep.Index)
	assert.Equal(t, "", s.Value("milestones.2"))
	assert.Equal(t, "Research", s.Value("milestones.1"))

	q.Handle(s, input("back"))
	out = q.Handle(s, input("back"))
	assert.Equal(t, microstep.Stayed, out.Kind)
	assert.Equal(t, 0, s.SubStep.Index)
}

func TestSequencer_EmptyInputStays(t *testing.T) {
	s := domain.NewSession("s", time.Now())
	q := microstep.New(domain.StageMilestones, listTemplate)
	q.Start(s)

	out := q.Handle(s, input("   "))
	assert.Equal(t, microstep.Stayed, out.Kind)
	assert.Empty(t, s.Fields)
}

func TestSequencer_ReopenTruncatesStaleTail(t *testing.T) {
	s := domain.NewSession("s", time.Now())
	q := microstep.New(domain.StageMilestones, listTemplate)
	q.Start(s)
	for _, text := range []string{"A", "B", "C", "D"} {
		q.Handle(s, input(text))
	}
	require.Nil(t, s.SubStep)

	q.Start(s)
	prompt := q.Prompt(s, *s.SubStep)
	assert.Equal(t, "A", prompt.Value)
	assert.Equal(t, "Milestone 1", prompt.Label)

	q.Handle(s, input("A2"))
	out := q.Handle(s, input("done"))
	require.Equal(t, microstep.Completed, out.Kind)
	assert.Equal(t, "1. A2", out.Draft)
}

func TestSequencer_OwnsRejectsForeignAddress(t *testing.T) {
	q := microstep.New(domain.StageMilestones, listTemplate)
	assert.False(t, q.Owns(nil))
	assert.False(t, q.Owns(&domain.Address{Stage: domain.StageLearningGoals, Index: 0}))
	assert.False(t, q.Owns(&domain.Address{Stage: domain.StageMilestones, Index: 4}))
	assert.True(t, q.Owns(&domain.Address{Stage: domain.StageMilestones, Index: 3}))
}
