package domain

import (
	"fmt"
	"strings"
)

// StageID identifies a top-level stage of the blueprint workflow.
// The numeric value is the stage's position in the total order.
type StageID int

const (
	StageTopic1 StageID = iota
	StageTopic2
	StageTopic3
	StageDrivingQuestion
	StageLearningGoals
	StageMilestones
	StageDeliverables
	StageReview

	stageCount
)

var stageNames = [stageCount]string{
	StageTopic1:          "topic1",
	StageTopic2:          "topic2",
	StageTopic3:          "topic3",
	StageDrivingQuestion: "driving_question",
	StageLearningGoals:   "learning_goals",
	StageMilestones:      "milestones",
	StageDeliverables:    "deliverables",
	StageReview:          "review",
}

// StageCount is the number of stages in the workflow.
const StageCount = int(stageCount)

// FirstStage is where every new or reset session begins.
const FirstStage = StageTopic1

// AllStages returns every stage in workflow order.
func AllStages() []StageID {
	out := make([]StageID, 0, stageCount)
	for s := StageID(0); s < stageCount; s++ {
		out = append(out, s)
	}
	return out
}

// Valid reports whether s names a known stage.
func (s StageID) Valid() bool {
	return s >= 0 && s < stageCount
}

func (s StageID) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// MarshalText encodes the stage by name so stored records stay readable.
func (s StageID) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStage, int(s))
	}
	return []byte(stageNames[s]), nil
}

// UnmarshalText accepts the canonical name or the upper-case form (e.g. TOPIC_1).
func (s *StageID) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStage resolves a stage name. Matching ignores case and underscores, so
// "TOPIC_1", "topic1" and "Topic_1" are equivalent.
func ParseStage(name string) (StageID, error) {
	want := normalizeStageName(name)
	for s := StageID(0); s < stageCount; s++ {
		if normalizeStageName(stageNames[s]) == want {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

func normalizeStageName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "")
}
