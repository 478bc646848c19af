package blueprint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/blueprint/internal/logging"
	"github.com/aretw0/blueprint/internal/runtime"
	"github.com/aretw0/blueprint/pkg/adapters/memory"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/generate"
	"github.com/aretw0/blueprint/pkg/microstep"
	"github.com/aretw0/blueprint/pkg/persistence"
	"github.com/aretw0/blueprint/pkg/ports"
	"github.com/aretw0/blueprint/pkg/quality"
	"github.com/aretw0/blueprint/pkg/recovery"
	"github.com/aretw0/blueprint/pkg/session"
	"github.com/aretw0/blueprint/pkg/stage"
	"github.com/jonboulle/clockwork"
)

// Turn is what a caller gets back from every operation.
type Turn struct {
	Snapshot domain.Snapshot     `json:"snapshot"`
	Diff     *domain.SessionDiff `json:"diff,omitempty"`
	Notices  []domain.Notice     `json:"notices,omitempty"`
}

// Engine hosts the conversation state machine. It owns the live sessions,
// runs one operation at a time per session and carries out the commands the
// machine returns.
type Engine struct {
	local     ports.RecordStore
	remote    ports.RecordStore
	queue     ports.SyncQueue
	locker    ports.DistributedLocker
	generator ports.Generator
	notifier  ports.Notifier
	hooks     domain.LifecycleHooks
	templates *generate.Templates
	graph     *stage.Graph
	clock     clockwork.Clock
	logger    *slog.Logger

	qualityCfg quality.Config
	seqOpts    []microstep.Option
	coordOpts  []persistence.Option
	guardOpts  []generate.Option

	machine   *runtime.Machine
	coord     *persistence.Coordinator
	validator *recovery.Validator
	sessions  *session.Manager
	guard     *generate.Guard

	mu   sync.Mutex
	live map[string]*domain.Session
}

// New initializes an Engine. Without options it runs fully in memory with the
// default stage graph and quality rules.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		qualityCfg: quality.DefaultConfig(),
		live:       make(map[string]*domain.Session),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.local == nil {
		e.local = memory.NewStore()
	}
	if e.graph == nil {
		e.graph = stage.Default()
	}
	if e.templates == nil {
		e.templates = generate.DefaultTemplates()
	}

	gate, err := quality.NewGate(e.qualityCfg, quality.WithLogger(e.logger))
	if err != nil {
		return nil, fmt.Errorf("invalid quality configuration: %w", err)
	}
	e.machine = runtime.NewMachine(e.graph, gate,
		runtime.WithLogger(e.logger),
		runtime.WithSequencerOptions(e.seqOpts...),
	)

	notify := ports.NotifierFunc(e.emit)
	coordOpts := []persistence.Option{
		persistence.WithClock(e.clock),
		persistence.WithNotifier(notify),
		persistence.WithLogger(e.logger),
	}
	if e.remote != nil {
		coordOpts = append(coordOpts, persistence.WithRemote(e.remote))
	}
	if e.queue != nil {
		coordOpts = append(coordOpts, persistence.WithQueue(e.queue))
	}
	if e.locker != nil {
		coordOpts = append(coordOpts, persistence.WithLocker(e.locker))
	}
	e.coord = persistence.New(e.local, append(coordOpts, e.coordOpts...)...)

	e.validator = recovery.New(recovery.WithLogger(e.logger))
	managerOpts := []session.Option{
		session.WithValidator(e.validator),
		session.WithClock(e.clock),
		session.WithLogger(e.logger),
	}
	if e.remote != nil {
		managerOpts = append(managerOpts, session.WithRemote(e.remote))
	}
	e.sessions = session.NewManager(e.local, e.coord, managerOpts...)

	e.guard = generate.NewGuard(e.generator, append([]generate.Option{
		generate.WithClock(e.clock),
		generate.WithNotifier(notify),
		generate.WithLogger(e.logger),
	}, e.guardOpts...)...)

	return e, nil
}

// Graph returns the stage graph the engine runs.
func (e *Engine) Graph() *stage.Graph { return e.graph }

// Create starts a new empty session.
func (e *Engine) Create(ctx context.Context) (*Turn, error) {
	s, err := e.sessions.Create(ctx)
	if err != nil {
		return nil, err
	}

	var turn *Turn
	var req *domain.GenerationRequest
	err = e.sessions.WithLock(ctx, s.ID, func(ctx context.Context) error {
		res := e.machine.Start(s, e.clock.Now())
		turn, req = e.apply(ctx, nil, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.word(ctx, turn, req)
	return turn, nil
}

// Load reads a session from storage, replacing any live copy. Repaired records
// are reported with a recovered notice and written back.
func (e *Engine) Load(ctx context.Context, sessionID string) (*Turn, error) {
	var turn *Turn
	var req *domain.GenerationRequest
	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		e.forget(sessionID)
		r, err := e.restore(ctx, sessionID)
		if err != nil {
			return err
		}
		res := e.machine.Start(r.Session, e.clock.Now())
		if r.Repaired && !res.NeedsPersist() {
			res.Commands = append(res.Commands, domain.Command{Type: domain.CommandPersist})
		}
		for _, n := range r.Notices {
			e.emit(ctx, n)
		}
		turn, req = e.apply(ctx, nil, res)
		turn.Notices = append(r.Notices, turn.Notices...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.word(ctx, turn, req)
	return turn, nil
}

// Submit applies one author input.
func (e *Engine) Submit(ctx context.Context, sessionID, text string) (*Turn, error) {
	return e.run(ctx, sessionID, func(s *domain.Session, at time.Time) (runtime.Result, error) {
		return e.machine.Transition(s, domain.Input{Text: text, At: at}), nil
	})
}

// Resolve accepts or refines the pending confirmation.
func (e *Engine) Resolve(ctx context.Context, sessionID string, accept bool) (*Turn, error) {
	return e.run(ctx, sessionID, func(s *domain.Session, at time.Time) (runtime.Result, error) {
		return e.machine.Resolve(s, accept, at)
	})
}

// Jump requests a validated forward move to target. A rejected jump returns
// the unchanged session together with the error.
func (e *Engine) Jump(ctx context.Context, sessionID string, target domain.StageID) (*Turn, error) {
	return e.run(ctx, sessionID, func(s *domain.Session, at time.Time) (runtime.Result, error) {
		return e.machine.Jump(s, target, at)
	})
}

// Reset returns the session to the empty initial state. Generation in flight
// for the old contents is canceled and queued writes of the old epoch are dropped.
func (e *Engine) Reset(ctx context.Context, sessionID string) (*Turn, error) {
	e.guard.Cancel(sessionID)
	return e.run(ctx, sessionID, func(s *domain.Session, at time.Time) (runtime.Result, error) {
		return e.machine.Reset(s, at), nil
	})
}

// Suggest asks the generation collaborator for a value for the active field
// and proposes it as the pending confirmation.
func (e *Engine) Suggest(ctx context.Context, sessionID string) (*Turn, error) {
	var req domain.GenerationRequest
	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := e.current(ctx, sessionID)
		if err != nil {
			return err
		}
		p := e.machine.Prompt(s)
		if p.Kind != domain.PromptAskField && p.Kind != domain.PromptRefine {
			return fmt.Errorf("stage '%s' does not accept a suggestion now", s.Stage)
		}
		req = domain.GenerationRequest{
			Kind:   domain.GenerationSuggest,
			Stage:  s.Stage,
			Field:  p.Field,
			Fields: confirmed(s),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out, err := e.guard.Generate(ctx, sessionID, req, "")
	if err != nil {
		return nil, err
	}
	if !out.Generated {
		return nil, &domain.GenerationError{Kind: string(req.Kind), Err: errors.New("no suggestion available")}
	}

	return e.run(ctx, sessionID, func(s *domain.Session, at time.Time) (runtime.Result, error) {
		if e.machine.Prompt(s).Field != req.Field {
			return runtime.Result{}, domain.ErrSuperseded
		}
		return e.machine.Propose(s, out.Text, domain.ProvenanceSuggested, at)
	})
}

// Snapshot returns the read model of the session without changing it.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := e.current(ctx, sessionID)
		if err != nil {
			return err
		}
		snap = e.snapshot(s)
		return nil
	})
	return snap, err
}

// Delete removes the session from memory and both stores.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	e.guard.Cancel(sessionID)
	e.forget(sessionID)
	return e.sessions.Delete(ctx, sessionID)
}

// List returns the ids of stored sessions.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// Recover runs the bulk migration over the local store. Live copies of
// removed sessions are dropped.
func (e *Engine) Recover(ctx context.Context) (recovery.Report, error) {
	report, err := e.validator.Migrate(ctx, e.local)
	for _, id := range report.RemovedIDs() {
		e.forget(id)
	}
	return report, err
}

// Sync drains the sync queue once.
func (e *Engine) Sync(ctx context.Context) (persistence.DrainReport, error) {
	return e.coord.Drain(ctx)
}

// RunSync drains the sync queue every interval until ctx is done.
func (e *Engine) RunSync(ctx context.Context, interval time.Duration) error {
	return e.coord.Run(ctx, interval)
}

// Close flushes pending remote writes.
func (e *Engine) Close(ctx context.Context) error {
	return e.coord.Flush(ctx)
}

type operation func(s *domain.Session, at time.Time) (runtime.Result, error)

// run executes op on the live session under the session lock. Domain
// rejections (a refused jump, nothing pending) return the turn and the error.
func (e *Engine) run(ctx context.Context, sessionID string, op operation) (*Turn, error) {
	var turn *Turn
	var req *domain.GenerationRequest
	var opErr error
	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := e.current(ctx, sessionID)
		if err != nil {
			return err
		}
		res, err := op(s, e.clock.Now())
		if res.Session == nil {
			return err
		}
		opErr = err
		turn, req = e.apply(ctx, s, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.word(ctx, turn, req)
	return turn, opErr
}

// apply makes res.Session the live copy and carries out its commands.
func (e *Engine) apply(ctx context.Context, prev *domain.Session, res runtime.Result) (*Turn, *domain.GenerationRequest) {
	next := res.Session
	e.mu.Lock()
	e.live[next.ID] = next
	e.mu.Unlock()

	turn := &Turn{Diff: domain.Diff(prev, next)}
	for _, n := range res.Notices() {
		e.emit(ctx, n)
		turn.Notices = append(turn.Notices, n)
	}
	if res.NeedsPersist() {
		if err := e.sessions.Save(ctx, next); err != nil {
			// The live copy stays authoritative; the next change retries the write.
			e.logger.Error("Failed to persist session locally", "session_id", next.ID, "err", err)
			n := domain.Notice{
				Kind:      domain.NoticePersistTransient,
				SessionID: next.ID,
				Message:   err.Error(),
				At:        e.clock.Now(),
			}
			e.emit(ctx, n)
			turn.Notices = append(turn.Notices, n)
		}
	}
	e.observe(ctx, prev, next)

	turn.Snapshot = e.machine.Snapshot(next)
	turn.Snapshot.LocalOnly = e.coord.LocalOnly(next.ID)
	if p := res.Prompt(); p != nil {
		p.Text = e.templates.Render(*p)
		turn.Snapshot.Prompt = p
	}
	return turn, res.Generation()
}

// word replaces the templated prompt text with generated wording when a
// generator is configured. It runs outside the session lock so a newer turn
// can supersede it.
func (e *Engine) word(ctx context.Context, turn *Turn, req *domain.GenerationRequest) {
	p := turn.Snapshot.Prompt
	if e.generator == nil || req == nil || p == nil {
		return
	}

	fallback := p.Text
	if req.Kind == domain.GenerationSuggest {
		fallback = p.Hint
	}
	out, err := e.guard.Generate(ctx, turn.Snapshot.SessionID, *req, fallback)
	if err != nil || !out.Generated {
		return
	}
	if req.Kind == domain.GenerationSuggest {
		p.Hint = out.Text
		return
	}
	p.Text = out.Text
}

// emit delivers a notice to the hooks and the notifier.
func (e *Engine) emit(ctx context.Context, n domain.Notice) {
	if e.hooks.OnNotice != nil {
		e.hooks.OnNotice(ctx, &n)
	}
	if e.notifier != nil {
		e.notifier.Notify(ctx, n)
	}
}

// observe fires commit and stage hooks for what changed between prev and next.
func (e *Engine) observe(ctx context.Context, prev, next *domain.Session) {
	if prev == nil {
		return
	}
	now := e.clock.Now()

	if e.hooks.OnCommit != nil {
		keys := make([]string, 0, len(next.Fields))
		for _, f := range next.Fields {
			if !f.Confirmed {
				continue
			}
			old, ok := prev.Field(f.Key)
			if ok && old.Confirmed && old.Value == f.Value {
				continue
			}
			keys = append(keys, f.Key)
		}
		for _, key := range keys {
			f, _ := next.Field(key)
			e.hooks.OnCommit(ctx, &domain.CommitEvent{
				EventBase: domain.EventBase{Timestamp: now, Type: domain.EventCommit, SessionID: next.ID},
				Field:     f.Key,
				Forced:    f.Forced,
			})
		}
	}

	if e.hooks.OnStageChange != nil && prev.Stage != next.Stage {
		e.hooks.OnStageChange(ctx, &domain.StageEvent{
			EventBase: domain.EventBase{Timestamp: now, Type: domain.EventStageChange, SessionID: next.ID},
			From:      prev.Stage,
			To:        next.Stage,
			Rollback:  next.Stage < prev.Stage && next.Epoch == prev.Epoch,
		})
	}
}

func (e *Engine) snapshot(s *domain.Session) domain.Snapshot {
	snap := e.machine.Snapshot(s)
	snap.LocalOnly = e.coord.LocalOnly(s.ID)
	if snap.Prompt != nil {
		p := *snap.Prompt
		p.Text = e.templates.Render(p)
		snap.Prompt = &p
	}
	return snap
}

// current returns the live session, loading it on first use.
func (e *Engine) current(ctx context.Context, sessionID string) (*domain.Session, error) {
	e.mu.Lock()
	s, ok := e.live[sessionID]
	e.mu.Unlock()
	if ok {
		return s, nil
	}

	r, err := e.restore(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if r.Repaired {
		if err := e.sessions.Save(ctx, r.Session); err != nil {
			e.logger.Warn("Failed to write back repaired session", "session_id", sessionID, "err", err)
		}
	}
	for _, n := range r.Notices {
		e.emit(ctx, n)
	}
	e.mu.Lock()
	e.live[sessionID] = r.Session
	e.mu.Unlock()
	return r.Session, nil
}

// restored is a session read back from storage.
type restored struct {
	*domain.Session
	Repaired bool
	Notices  []domain.Notice
}

func (e *Engine) restore(ctx context.Context, sessionID string) (*restored, error) {
	loaded, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	r := &restored{Session: loaded.Session}
	if len(loaded.Warnings) > 0 || loaded.Source == session.SourceRemote {
		r.Repaired = true
	}
	if len(loaded.Warnings) > 0 {
		r.Notices = append(r.Notices, domain.Notice{
			Kind:      domain.NoticeRecovered,
			SessionID: sessionID,
			Message:   "session record repaired: " + strings.Join(loaded.Warnings, "; "),
			At:        e.clock.Now(),
		})
	}
	e.logger.Debug("Session loaded", "session_id", sessionID, "source", loaded.Source, "warnings", len(loaded.Warnings))
	return r, nil
}

func (e *Engine) forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.live, sessionID)
}

// Live returns the ids of sessions held in memory, sorted.
func (e *Engine) Live() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.live))
	for id := range e.live {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func confirmed(s *domain.Session) map[string]string {
	out := make(map[string]string)
	for _, f := range s.Fields {
		if f.Confirmed {
			out[f.Key] = f.Value
		}
	}
	return out
}
