package generate

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/aretw0/blueprint/pkg/domain"
)

// defaultWording is the deterministic text used when generation is unavailable.
var defaultWording = map[domain.PromptKind]string{
	domain.PromptAskField:         `What is the {{lower .Label}} of your project?`,
	domain.PromptAskSubStep:       `{{.Label}}?{{if .Hint}} {{.Hint}}{{end}}`,
	domain.PromptConfirm:          `Keep "{{.Value}}" as the {{lower .Label}}?{{if .Hint}} {{.Hint}}{{end}}`,
	domain.PromptConfirmComposite: "Here is the draft for {{lower .Label}}:\n{{.Value}}\nKeep it?",
	domain.PromptRefine:           `Could you say more about the {{lower .Label}}?{{if .Hint}} {{.Hint}}{{end}}`,
	domain.PromptComplete:         `The blueprint is complete.`,
}

// Templates renders prompt wording with text/template.
type Templates struct {
	tmpl *template.Template
}

// NewTemplates parses wording per prompt kind. Kinds missing from wording use
// the defaults.
func NewTemplates(wording map[domain.PromptKind]string) (*Templates, error) {
	root := template.New("prompts").Funcs(template.FuncMap{"lower": strings.ToLower})
	for kind, text := range defaultWording {
		if custom, ok := wording[kind]; ok {
			text = custom
		}
		if _, err := root.New(string(kind)).Parse(text); err != nil {
			return nil, fmt.Errorf("invalid wording for %s: %w", kind, err)
		}
	}
	return &Templates{tmpl: root}, nil
}

// DefaultTemplates returns the built-in wording.
func DefaultTemplates() *Templates {
	t, err := NewTemplates(nil)
	if err != nil {
		panic(err)
	}
	return t
}

// Render returns the wording for p. It never fails: a template error falls
// back to the prompt label.
func (t *Templates) Render(p domain.Prompt) string {
	var buf bytes.Buffer
	if err := t.tmpl.ExecuteTemplate(&buf, string(p.Kind), p); err != nil {
		return p.Label
	}
	return buf.String()
}
