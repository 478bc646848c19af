// Package quality implements the confirmation protocol: heuristic grading of raw
// input, the accept/confirm/refine decision, the progress/refine detector applied
// to answers while a confirmation is pending, the forced-accept safety valve and
// detection of orphaned confirmations.
package quality

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/blueprint/internal/logging"
	"github.com/aretw0/blueprint/pkg/domain"
)

// Config is the quality configuration surface.
type Config struct {
	// ForcedAcceptAfter is K: after K consecutive rejections the next input commits.
	ForcedAcceptAfter int `koanf:"forced_accept_after"`
	// ConfirmationCeiling force-clears a pending confirmation older than this.
	ConfirmationCeiling time.Duration `koanf:"confirmation_ceiling"`
	Affirmative         []string      `koanf:"affirmative"`
	Hedge               []string      `koanf:"hedge"`
	ActionVerbs         []string      `koanf:"action_verbs"`
	// Rules override the built-in sets of the same name.
	Rules RuleSets `koanf:"rules"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		ForcedAcceptAfter:   3,
		ConfirmationCeiling: 30 * time.Minute,
		Affirmative: []string{
			"yes", "y", "yep", "yeah", "ok", "okay", "sure", "confirm", "confirmed",
			"correct", "right", "accept", "perfect", "great", "good",
			"looks good", "sounds good", "that's it",
		},
		Hedge: []string{
			"no", "n", "nope", "maybe", "hmm", "change", "edit", "refine", "redo",
			"wait", "actually", "unsure", "not sure", "not really", "i don't know",
		},
		ActionVerbs: DefaultActionVerbs,
	}
}

// Validate rejects impossible values.
func (c Config) Validate() error {
	var errs []error
	if c.ForcedAcceptAfter < 1 {
		errs = append(errs, fmt.Errorf("forced_accept_after must be >= 1, got %d", c.ForcedAcceptAfter))
	}
	if c.ConfirmationCeiling <= 0 {
		errs = append(errs, fmt.Errorf("confirmation_ceiling must be positive, got %s", c.ConfirmationCeiling))
	}
	if len(c.Affirmative) == 0 {
		errs = append(errs, errors.New("affirmative token list is empty"))
	}
	if err := c.Rules.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Assessment is the heuristic grade of one input.
type Assessment struct {
	Quality domain.Quality
	// Hint is the enhancement hint of the first failed rule.
	Hint string
	// Failed lists the names of failed rules.
	Failed []string
}

// Gate grades inputs and classifies confirmation answers. It is safe for concurrent use.
type Gate struct {
	cfg         Config
	sets        map[string][]compiledRule
	affirmative map[string]bool
	hedge       map[string]bool
	verbs       map[string]bool
	logger      *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger used for rule evaluation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// NewGate compiles the configured rule sets on top of the defaults.
func NewGate(cfg Config, opts ...Option) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid quality config: %w", err)
	}

	g := &Gate{
		cfg:         cfg,
		sets:        make(map[string][]compiledRule),
		affirmative: phraseSet(cfg.Affirmative),
		hedge:       phraseSet(cfg.Hedge),
		verbs:       phraseSet(cfg.ActionVerbs),
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	for name, rules := range DefaultRules().Merge(cfg.Rules) {
		compiled := make([]compiledRule, 0, len(rules))
		for _, r := range rules {
			program, err := compile(r.When)
			if err != nil {
				return nil, fmt.Errorf("rule set %q: rule %q: %w", name, r.Name, err)
			}
			compiled = append(compiled, compiledRule{Rule: r, program: program})
		}
		g.sets[name] = compiled
	}
	return g, nil
}

// ForcedAcceptAfter returns K.
func (g *Gate) ForcedAcceptAfter() int { return g.cfg.ForcedAcceptAfter }

// Assess grades text with the named rule set. A failed hard rule grades low,
// a failed soft rule grades medium, otherwise high.
func (g *Gate) Assess(set, text string) Assessment {
	rules, ok := g.sets[set]
	if !ok {
		rules = g.sets[FallbackSet]
	}
	env := environment(text, g.verbs)

	a := Assessment{Quality: domain.QualityHigh}
	for _, r := range rules {
		pass, err := r.passes(env)
		if err != nil {
			g.logger.Warn("Quality rule failed to evaluate", "rule", r.Name, "set", set, "err", err)
		}
		if pass {
			continue
		}
		a.Failed = append(a.Failed, r.Name)
		if r.Severity == SeverityHard {
			if a.Quality != domain.QualityLow {
				a.Hint = r.Hint
			}
			a.Quality = domain.QualityLow
		} else if a.Quality == domain.QualityHigh {
			a.Quality = domain.QualityMedium
			a.Hint = r.Hint
		}
	}
	return a
}

// Decide maps a grade to a decision. High input commits immediately only on
// stages that opt in with autoAccept; otherwise it awaits confirmation.
func (g *Gate) Decide(a Assessment, autoAccept bool) domain.Decision {
	switch a.Quality {
	case domain.QualityHigh:
		if autoAccept {
			return domain.DecisionAcceptImmediate
		}
		return domain.DecisionAwaitConfirm
	case domain.QualityMedium:
		return domain.DecisionAwaitConfirm
	default:
		return domain.DecisionAwaitRefine
	}
}

// Evaluate is Assess followed by Decide.
func (g *Gate) Evaluate(set, text string, autoAccept bool) (Assessment, domain.Decision) {
	a := g.Assess(set, text)
	return a, g.Decide(a, autoAccept)
}

// Classify runs the progress/refine detector on an answer to a pending confirmation.
// Affirmative phrases (or short answers starting with one) affirm; answers starting
// with a hedge/correction token refine; anything else replaces the pending value,
// including punctuation-only replies.
func (g *Gate) Classify(text string) domain.Reply {
	phrase := normalizePhrase(text)
	if phrase == "" {
		return domain.ReplyReplace
	}
	if g.affirmative[phrase] {
		return domain.ReplyAffirm
	}
	if g.hedge[phrase] {
		return domain.ReplyRefine
	}

	words := strings.Fields(phrase)
	if g.hedge[words[0]] {
		return domain.ReplyRefine
	}
	if g.affirmative[words[0]] && len(words) <= 3 {
		return domain.ReplyAffirm
	}
	return domain.ReplyReplace
}

// ShouldForce reports whether the next input for key must be committed unconditionally.
func (g *Gate) ShouldForce(s *domain.Session, key string) bool {
	return s.Rejections(key) >= g.cfg.ForcedAcceptAfter
}

// CheckOrphan reports a pending confirmation that must be cleared: its target no
// longer belongs to the active stage, or it has been idle past the inactivity ceiling.
func (g *Gate) CheckOrphan(s *domain.Session, now time.Time) *domain.OrphanStateError {
	p := s.Pending
	if p == nil {
		return nil
	}
	if p.Stage != s.Stage {
		return &domain.OrphanStateError{
			Target: p.Target,
			Reason: fmt.Sprintf("belongs to stage '%s' but the active stage is '%s'", p.Stage, s.Stage),
		}
	}
	if !now.IsZero() && !p.CreatedAt.IsZero() && now.Sub(p.CreatedAt) > g.cfg.ConfirmationCeiling {
		return &domain.OrphanStateError{
			Target: p.Target,
			Reason: fmt.Sprintf("no answer for %s", now.Sub(p.CreatedAt).Round(time.Second)),
		}
	}
	return nil
}

func phraseSet(phrases []string) map[string]bool {
	out := make(map[string]bool, len(phrases))
	for _, p := range phrases {
		if n := normalizePhrase(p); n != "" {
			out[n] = true
		}
	}
	return out
}

// normalizePhrase lower-cases, collapses whitespace and strips surrounding punctuation
// from every word ("Yes!" == "yes", "Looks  good." == "looks good").
func normalizePhrase(text string) string {
	words := tokenize(strings.ToLower(text))
	return strings.Join(words, " ")
}
