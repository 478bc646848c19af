package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/blueprint/internal/presentation/graph"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/stage"
	"github.com/stretchr/testify/assert"
)

func TestGenerateMermaid(t *testing.T) {
	out := graph.GenerateMermaid(stage.Default(), nil)

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, `topic1 -- "topic1.value" --> topic2`)
	assert.Contains(t, out, "milestones[[")
	assert.Contains(t, out, "review((")
	assert.NotContains(t, out, "review -->")
	assert.NotContains(t, out, "classDef")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	overlay := graph.OverlayFor(domain.Snapshot{Stage: domain.StageTopic3})
	assert.Equal(t, []domain.StageID{domain.StageTopic1, domain.StageTopic2}, overlay.Completed)

	out := graph.GenerateMermaid(stage.Default(), overlay)
	assert.Contains(t, out, "class topic1 completed;")
	assert.Contains(t, out, "class topic2 completed;")
	assert.Contains(t, out, "class topic3 current;")
	assert.NotContains(t, out, "class driving_question")
}
