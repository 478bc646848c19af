package blueprint

import (
	"log/slog"
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/generate"
	"github.com/aretw0/blueprint/pkg/microstep"
	"github.com/aretw0/blueprint/pkg/persistence"
	"github.com/aretw0/blueprint/pkg/ports"
	"github.com/aretw0/blueprint/pkg/quality"
	"github.com/aretw0/blueprint/pkg/stage"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLocalStore sets the local durable store. Defaults to an in-memory store.
func WithLocalStore(store ports.RecordStore) Option {
	return func(e *Engine) {
		e.local = store
	}
}

// WithRemoteStore enables remote persistence and the remote fallback on load.
func WithRemoteStore(store ports.RecordStore) Option {
	return func(e *Engine) {
		e.remote = store
	}
}

// WithSyncQueue sets the durable queue for remote writes that exhausted their retries.
func WithSyncQueue(queue ports.SyncQueue) Option {
	return func(e *Engine) {
		e.queue = queue
	}
}

// WithLocker enables cross-replica locking around each write.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithGenerator plugs in the language-generation collaborator.
func WithGenerator(gen ports.Generator) Option {
	return func(e *Engine) {
		e.generator = gen
	}
}

// WithGenerationTimeout bounds each generation call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.guardOpts = append(e.guardOpts, generate.WithTimeout(d))
	}
}

// WithTemplates overrides the fallback prompt wording.
func WithTemplates(t *generate.Templates) Option {
	return func(e *Engine) {
		e.templates = t
	}
}

// WithNotifier receives every notice: quality, orphan, rollback, persistence and generation.
func WithNotifier(n ports.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithPersistenceHooks observes the persistence coordinator.
func WithPersistenceHooks(hooks persistence.Hooks) Option {
	return func(e *Engine) {
		e.coordOpts = append(e.coordOpts, persistence.WithHooks(hooks))
	}
}

// WithGraph replaces the default stage graph.
func WithGraph(g *stage.Graph) Option {
	return func(e *Engine) {
		e.graph = g
	}
}

// WithQualityConfig replaces the default quality configuration.
func WithQualityConfig(cfg quality.Config) Option {
	return func(e *Engine) {
		e.qualityCfg = cfg
	}
}

// WithSequencerOptions configures the micro-step sequencers (sentinel and back tokens).
func WithSequencerOptions(opts ...microstep.Option) Option {
	return func(e *Engine) {
		e.seqOpts = append(e.seqOpts, opts...)
	}
}

// WithRetryPolicy sets the backoff of transient remote failures.
func WithRetryPolicy(p persistence.Policy) Option {
	return func(e *Engine) {
		e.coordOpts = append(e.coordOpts, persistence.WithPolicy(p))
	}
}

// WithDebounce sets the inactivity window before a remote write.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		e.coordOpts = append(e.coordOpts, persistence.WithDebounce(d))
	}
}

// WithDrainRate limits how fast queued writes are replayed on reconnect.
func WithDrainRate(r rate.Limit, burst int) Option {
	return func(e *Engine) {
		e.coordOpts = append(e.coordOpts, persistence.WithDrainRate(r, burst))
	}
}

// WithClock injects the clock used for turn times, debounce and backoff.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}
