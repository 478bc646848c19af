package stage

import (
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/microstep"
)

// Heuristic set names used by the default graph.
const (
	HeuristicsTopic       = "topic"
	HeuristicsQuestion    = "question"
	HeuristicsComposite   = "composite"
	HeuristicsDeliverable = "deliverable"
)

// DefaultDefinitions returns the project-blueprint workflow:
// three topics, a driving question, a learning-goal matrix, a milestone list,
// deliverables and a terminal review. Each stage requires the outputs of every
// earlier stage.
func DefaultDefinitions() []Definition {
	goals := microstep.Template{
		Section:  "learning_goals",
		Layout:   microstep.LayoutMatrix,
		Rows:     3,
		RowLabel: "Goal",
		Columns: []microstep.Column{
			{Name: "statement", Label: "Statement"},
			{Name: "evidence", Label: "Evidence"},
		},
	}
	milestones := microstep.Template{
		Section:  "milestones",
		Layout:   microstep.LayoutList,
		Rows:     4,
		RowLabel: "Milestone",
	}

	defs := []Definition{
		{ID: domain.StageTopic1, Kind: KindSingle, Label: "First topic", Field: "topic1.value", Heuristics: HeuristicsTopic},
		{ID: domain.StageTopic2, Kind: KindSingle, Label: "Second topic", Field: "topic2.value", Heuristics: HeuristicsTopic},
		{ID: domain.StageTopic3, Kind: KindSingle, Label: "Third topic", Field: "topic3.value", Heuristics: HeuristicsTopic},
		{ID: domain.StageDrivingQuestion, Kind: KindSingle, Label: "Driving question", Field: "driving_question.value", Heuristics: HeuristicsQuestion},
		{ID: domain.StageLearningGoals, Kind: KindDecomposed, Label: "Learning goals", Heuristics: HeuristicsComposite, Template: &goals},
		{ID: domain.StageMilestones, Kind: KindDecomposed, Label: "Milestones", Heuristics: HeuristicsComposite, Template: &milestones},
		{ID: domain.StageDeliverables, Kind: KindSingle, Label: "Deliverables", Field: "deliverables.value", Heuristics: HeuristicsDeliverable},
		{ID: domain.StageReview, Kind: KindTerminal, Label: "Review"},
	}

	var produced []string
	for i := range defs {
		defs[i].Prerequisites = append([]string(nil), produced...)
		if out := defs[i].Output(); out != "" {
			produced = append(produced, out)
		}
	}
	return defs
}

// Default builds the default graph. It panics only if the built-in definitions are invalid.
func Default(opts ...Option) *Graph {
	g, err := NewGraph(DefaultDefinitions(), opts...)
	if err != nil {
		panic(err)
	}
	return g
}
