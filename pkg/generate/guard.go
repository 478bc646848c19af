package generate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/blueprint/internal/logging"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/ports"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Outcome is the text chosen for one generation request.
type Outcome struct {
	Token     string
	Text      string
	Generated bool // false when the fallback wording was used
}

type inflight struct {
	token  string
	cancel context.CancelFunc
}

// Guard calls the generation collaborator on behalf of sessions. A newer
// request for a session cancels the previous one, and a response that
// arrives after its request was superseded is discarded.
type Guard struct {
	gen      ports.Generator
	timeout  time.Duration
	clock    clockwork.Clock
	notifier ports.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	current map[string]inflight
}

// Option configures the Guard.
type Option func(*Guard)

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		g.timeout = d
	}
}

// WithClock sets the clock used for the timeout.
func WithClock(clock clockwork.Clock) Option {
	return func(g *Guard) {
		g.clock = clock
	}
}

// WithNotifier receives generation_unavailable notices.
func WithNotifier(n ports.Notifier) Option {
	return func(g *Guard) {
		g.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// NewGuard wraps gen. A nil gen always uses the fallback.
func NewGuard(gen ports.Generator, opts ...Option) *Guard {
	g := &Guard{
		gen:      gen,
		timeout:  8 * time.Second,
		clock:    clockwork.NewRealClock(),
		notifier: ports.NotifierFunc(func(context.Context, domain.Notice) {}),
		logger:   logging.NewNop(),
		current:  make(map[string]inflight),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the collaborator for text. On failure, timeout or an empty
// answer the fallback is returned instead. ErrSuperseded is returned when a
// newer request for the same session was started before this one resolved.
func (g *Guard) Generate(ctx context.Context, sessionID string, req domain.GenerationRequest, fallback string) (Outcome, error) {
	token := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	if prev, ok := g.current[sessionID]; ok {
		prev.cancel()
	}
	g.current[sessionID] = inflight{token: token, cancel: cancel}
	g.mu.Unlock()
	defer g.finish(sessionID, token)

	out := Outcome{Token: token, Text: fallback}
	if g.gen == nil {
		return out, nil
	}

	text, err := g.call(ctx, req)
	if !g.Current(sessionID, token) {
		g.logger.Debug("Discarded superseded generation", "session_id", sessionID, "kind", req.Kind)
		return Outcome{Token: token}, domain.ErrSuperseded
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty response")
	}
	if err != nil {
		gerr := &domain.GenerationError{Kind: string(req.Kind), Err: err}
		g.logger.Debug("Generation unavailable, using fallback", "session_id", sessionID, "err", gerr)
		g.notifier.Notify(ctx, domain.Notice{
			Kind:      domain.NoticeGenerationUnavailable,
			SessionID: sessionID,
			Field:     req.Field,
			Message:   gerr.Error(),
			At:        g.clock.Now(),
		})
		return out, nil
	}

	out.Text = strings.TrimSpace(text)
	out.Generated = true
	return out, nil
}

// call runs the collaborator and gives up after the timeout. The collaborator
// is also handed a canceled context at that point.
func (g *Guard) call(ctx context.Context, req domain.GenerationRequest) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := g.gen.Generate(ctx, req)
		done <- reply{text, err}
	}()

	timer := g.clock.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.text, r.err
	case <-timer.Chan():
		return "", context.DeadlineExceeded
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Current reports whether token belongs to the latest request of the session.
func (g *Guard) Current(sessionID, token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current[sessionID].token == token
}

// Cancel aborts the in-flight request of the session, if any.
func (g *Guard) Cancel(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.current[sessionID]; ok {
		prev.cancel()
		delete(g.current, sessionID)
	}
}

func (g *Guard) finish(sessionID, token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current[sessionID].token == token {
		delete(g.current, sessionID)
	}
}
