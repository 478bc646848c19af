package generate_test

import (
	"testing"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/generate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplates_Render(t *testing.T) {
	tmpl := generate.DefaultTemplates()

	tests := []struct {
		prompt domain.Prompt
		want   string
	}{
		{domain.Prompt{Kind: domain.PromptAskField, Label: "First topic"}, "What is the first topic of your project?"},
		{domain.Prompt{Kind: domain.PromptConfirm, Label: "First topic", Value: "Solar ovens"}, `Keep "Solar ovens" as the first topic?`},
		{domain.Prompt{Kind: domain.PromptRefine, Label: "First topic", Hint: "Add a concrete context."}, "Could you say more about the first topic? Add a concrete context."},
		{domain.Prompt{Kind: domain.PromptConfirmComposite, Label: "Milestones", Value: "1. Kickoff"}, "Here is the draft for milestones:\n1. Kickoff\nKeep it?"},
		{domain.Prompt{Kind: domain.PromptComplete, Label: "Review"}, "The blueprint is complete."},
	}
	for _, tt := range tests {
		t.Run(string(tt.prompt.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tmpl.Render(tt.prompt))
		})
	}
}

func TestTemplates_CustomWording(t *testing.T) {
	tmpl, err := generate.NewTemplates(map[domain.PromptKind]string{
		domain.PromptAskField: "Tell me the {{lower .Label}}.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Tell me the driving question.", tmpl.Render(domain.Prompt{Kind: domain.PromptAskField, Label: "Driving question"}))
	assert.Equal(t, "The blueprint is complete.", tmpl.Render(domain.Prompt{Kind: domain.PromptComplete}))

	_, err = generate.NewTemplates(map[domain.PromptKind]string{domain.PromptConfirm: "{{.Broken"})
	assert.Error(t, err)
}

func TestTemplates_UnknownKindFallsBackToLabel(t *testing.T) {
	assert.Equal(t, "Label", generate.DefaultTemplates().Render(domain.Prompt{Kind: "other", Label: "Label"}))
}
