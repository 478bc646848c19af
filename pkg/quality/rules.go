package quality

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// Severity decides how a failed rule degrades the grade.
type Severity string

const (
	// SeverityHard failures grade the input low (refine).
	SeverityHard Severity = "hard"
	// SeveritySoft failures grade the input medium (confirm with a hint).
	SeveritySoft Severity = "soft"
)

// Rule is one heuristic predicate. When is an expr-lang expression that must
// evaluate to true for the input to pass. The environment exposes:
//
//	text             string   the trimmed input
//	lower            string   text in lower case
//	words            []string tokens with surrounding punctuation removed
//	tokens           int      len(words)
//	chars            int      rune count of text
//	first            string   first word, lower case
//	has_question     bool     text contains '?'
//	has_action_verb  bool     some word is a configured action verb
type Rule struct {
	Name     string   `yaml:"name" koanf:"name" json:"name"`
	When     string   `yaml:"when" koanf:"when" json:"when"`
	Severity Severity `yaml:"severity" koanf:"severity" json:"severity"`
	Hint     string   `yaml:"hint" koanf:"hint" json:"hint,omitempty"`
}

// RuleSets maps a heuristic set name (see stage.Definition.Heuristics) to its rules.
type RuleSets map[string][]Rule

// FallbackSet is applied when a stage names a set that is not configured.
const FallbackSet = "default"

// DefaultRules returns the built-in heuristic sets.
func DefaultRules() RuleSets {
	return RuleSets{
		FallbackSet: {
			{Name: "not_empty", When: "tokens >= 1", Severity: SeverityHard, Hint: "Please type an answer."},
		},
		"topic": {
			{Name: "min_tokens", When: "tokens >= 3", Severity: SeverityHard, Hint: "Describe the topic in at least a few words."},
			{Name: "descriptive", When: "tokens >= 6", Severity: SeveritySoft, Hint: "Consider adding who is involved and what they will do."},
		},
		"question": {
			{Name: "min_tokens", When: "tokens >= 4", Severity: SeverityHard, Hint: "A driving question needs a few more words."},
			{Name: "question_marker", When: "has_question", Severity: SeverityHard, Hint: "Phrase it as a question ending with '?'."},
			{Name: "open_question", When: `!(first in ["is", "are", "do", "does", "can", "will", "should"])`, Severity: SeveritySoft, Hint: "Open questions usually start with how, what or why."},
		},
		"composite": {
			{Name: "min_chars", When: "chars >= 10", Severity: SeverityHard, Hint: "Add a little more detail to the section."},
		},
		"deliverable": {
			{Name: "min_tokens", When: "tokens >= 3", Severity: SeverityHard, Hint: "Describe what students will hand in."},
			{Name: "action_verb", When: "has_action_verb", Severity: SeveritySoft, Hint: "Start with an action verb such as build, present or publish."},
		},
	}
}

// DefaultActionVerbs is the vocabulary behind has_action_verb.
var DefaultActionVerbs = []string{
	"analyze", "build", "compare", "compose", "construct", "create", "deliver", "design",
	"develop", "draw", "film", "map", "model", "organize", "perform", "plan", "present",
	"produce", "propose", "prototype", "publish", "record", "research", "test", "write",
}

// Validate checks rule fields and compiles every expression.
func (rs RuleSets) Validate() error {
	var errs []error
	for set, rules := range rs {
		for i, r := range rules {
			if r.Name == "" {
				errs = append(errs, fmt.Errorf("rule set %q: rule %d has no name", set, i))
			}
			if r.Severity != SeverityHard && r.Severity != SeveritySoft {
				errs = append(errs, fmt.Errorf("rule set %q: rule %q: unknown severity %q", set, r.Name, r.Severity))
			}
			if _, err := compile(r.When); err != nil {
				errs = append(errs, fmt.Errorf("rule set %q: rule %q: %w", set, r.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// LoadRules reads rule sets from YAML:
//
//	topic:
//	  - name: min_tokens
//	    when: tokens >= 3
//	    severity: hard
//	    hint: Describe the topic in at least a few words.
func LoadRules(r io.Reader) (RuleSets, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var rs RuleSets
	if err := dec.Decode(&rs); err != nil {
		if errors.Is(err, io.EOF) {
			return RuleSets{}, nil
		}
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

// LoadRulesFile reads rule sets from a YAML file.
func LoadRulesFile(path string) (RuleSets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return LoadRules(bytes.NewReader(data))
}

// Merge returns a copy of rs where sets present in override replace the defaults.
func (rs RuleSets) Merge(override RuleSets) RuleSets {
	out := make(RuleSets, len(rs)+len(override))
	for k, v := range rs {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// sampleEnv fixes the variable types so expressions are type-checked at compile time.
var sampleEnv = map[string]any{
	"text":            "",
	"lower":           "",
	"words":           []string{},
	"tokens":          0,
	"chars":           0,
	"first":           "",
	"has_question":    false,
	"has_action_verb": false,
}

func compile(expression string) (*exprvm.Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errors.New("expression must not be empty")
	}
	return exprlang.Compile(expression, exprlang.Env(sampleEnv), exprlang.AsBool())
}

type compiledRule struct {
	Rule
	program *exprvm.Program
}

func (r compiledRule) passes(env map[string]any) (bool, error) {
	out, err := exprlang.Run(r.program, env)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

// environment derives the rule variables from one input.
func environment(text string, verbs map[string]bool) map[string]any {
	text = strings.TrimSpace(text)
	words := tokenize(text)
	first := ""
	if len(words) > 0 {
		first = strings.ToLower(words[0])
	}
	hasVerb := false
	for _, w := range words {
		if verbs[strings.ToLower(w)] {
			hasVerb = true
			break
		}
	}
	return map[string]any{
		"text":            text,
		"lower":           strings.ToLower(text),
		"words":           words,
		"tokens":          len(words),
		"chars":           utf8.RuneCountInString(text),
		"first":           first,
		"has_question":    strings.Contains(text, "?"),
		"has_action_verb": hasVerb,
	}
}

func tokenize(text string) []string {
	var words []string
	for _, f := range strings.Fields(text) {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}
