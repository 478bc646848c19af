package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/blueprint"
	"github.com/aretw0/blueprint/internal/config"
	"github.com/aretw0/blueprint/pkg/adapters/file"
	"github.com/aretw0/blueprint/pkg/adapters/langchain"
	"github.com/aretw0/blueprint/pkg/adapters/redis"
	"github.com/aretw0/blueprint/pkg/adapters/sqlite"
	"github.com/aretw0/blueprint/pkg/microstep"
	"github.com/aretw0/blueprint/pkg/observability"
	"github.com/aretw0/blueprint/pkg/persistence/middleware"
	"github.com/aretw0/blueprint/pkg/ports"
	"github.com/aretw0/blueprint/pkg/stage"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// app is the engine wired to the configured stores.
type app struct {
	engine  *blueprint.Engine
	metrics *observability.Metrics
	local   ports.RecordStore
	closers []func() error
}

func newApp(ctx context.Context, c *config.Config) (*app, error) {
	a := &app{metrics: observability.NewMetrics(prometheus.NewRegistry())}
	a.local = file.New(c.Storage.LocalDir)

	opts := []blueprint.Option{
		blueprint.WithLogger(logger),
		blueprint.WithLocalStore(a.local),
		blueprint.WithGraph(stage.Default(stage.WithMinLength(c.Stage.MinLength))),
		blueprint.WithQualityConfig(c.Quality.Config),
		blueprint.WithSequencerOptions(
			microstep.WithSentinel(c.Microstep.Sentinel),
			microstep.WithBackToken(c.Microstep.Back),
		),
		blueprint.WithRetryPolicy(c.Persistence.Retry),
		blueprint.WithDebounce(c.Persistence.Debounce),
		blueprint.WithDrainRate(rate.Limit(c.Persistence.DrainRate), c.Persistence.DrainBurst),
		blueprint.WithGenerationTimeout(c.Generation.Timeout),
		blueprint.WithLifecycleHooks(a.metrics.LifecycleHooks()),
		blueprint.WithPersistenceHooks(a.metrics.PersistenceHooks()),
	}

	if c.Storage.QueuePath != "" {
		if err := os.MkdirAll(filepath.Dir(c.Storage.QueuePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
		queue, err := sqlite.Open(c.Storage.QueuePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, queue.Close)
		opts = append(opts, blueprint.WithSyncQueue(queue))
	}

	if r := c.Storage.Redis; r.Addr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB})
		a.closers = append(a.closers, client.Close)

		var remote ports.RecordStore = redis.NewFromClient(client,
			redis.WithPrefix(r.Prefix+":session:"),
			redis.WithTTL(r.TTL),
		)
		if c.Storage.EncryptionKey != "" {
			key, err := middleware.ParseKey(c.Storage.EncryptionKey)
			if err != nil {
				a.close()
				return nil, err
			}
			remote = middleware.Chain(remote, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
		}
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Remote store unreachable, saves are queued until it returns", "addr", r.Addr, "err", err)
		}
		opts = append(opts,
			blueprint.WithRemoteStore(remote),
			blueprint.WithLocker(redis.NewLocker(client, r.Prefix+":")),
		)
	}

	if c.Generation.Enabled() {
		gen, err := langchain.NewOpenAI(langchain.Config{
			BaseURL: c.Generation.BaseURL,
			Model:   c.Generation.Model,
			APIKey:  c.Generation.APIKey,
		})
		if err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, blueprint.WithGenerator(gen))
	}

	engine, err := blueprint.New(opts...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	a.engine = engine
	return a, nil
}

// Shutdown flushes pending saves and releases the stores.
func (a *app) Shutdown(ctx context.Context) error {
	err := a.engine.Close(ctx)
	return errors.Join(err, a.close())
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
