package observability

import (
	"context"
	"net/http"
	"strconv"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/persistence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one engine.
//
// Metrics:
//   - blueprint_commits_total{stage,forced}
//   - blueprint_stage_changes_total{to,rollback}
//   - blueprint_notices_total{kind}
//   - blueprint_store_writes_total{target,result}
//   - blueprint_sync_queue_enqueued_total
//   - blueprint_sync_queue_drained_total{outcome}
//   - blueprint_sync_queue_remaining
type Metrics struct {
	Commits      *prometheus.CounterVec
	StageChanges *prometheus.CounterVec
	Notices      *prometheus.CounterVec
	StoreWrites  *prometheus.CounterVec
	Enqueued     prometheus.Counter
	Drained      *prometheus.CounterVec
	Remaining    prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg.
// Pass a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blueprint_commits_total",
			Help: "Confirmed field commits",
		}, []string{"stage", "forced"}),
		StageChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blueprint_stage_changes_total",
			Help: "Stage pointer moves",
		}, []string{"to", "rollback"}),
		Notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blueprint_notices_total",
			Help: "Notices emitted to the notification channel",
		}, []string{"kind"}),
		StoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blueprint_store_writes_total",
			Help: "Session record writes by store and result",
		}, []string{"target", "result"}),
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blueprint_sync_queue_enqueued_total",
			Help: "Remote writes queued after retry exhaustion",
		}),
		Drained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blueprint_sync_queue_drained_total",
			Help: "Queued writes processed by drain passes",
		}, []string{"outcome"}),
		Remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blueprint_sync_queue_remaining",
			Help: "Queued writes left after the last drain pass",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.Commits, m.StageChanges, m.Notices, m.StoreWrites, m.Enqueued, m.Drained, m.Remaining)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// LifecycleHooks returns engine hooks that update the collectors.
func (m *Metrics) LifecycleHooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnCommit: func(_ context.Context, e *domain.CommitEvent) {
			m.Commits.WithLabelValues(stageOf(e.Field), strconv.FormatBool(e.Forced)).Inc()
		},
		OnStageChange: func(_ context.Context, e *domain.StageEvent) {
			m.StageChanges.WithLabelValues(e.To.String(), strconv.FormatBool(e.Rollback)).Inc()
		},
		OnNotice: func(_ context.Context, n *domain.Notice) {
			m.Notices.WithLabelValues(string(n.Kind)).Inc()
		},
	}
}

// PersistenceHooks returns coordinator hooks that update the collectors.
func (m *Metrics) PersistenceHooks() persistence.Hooks {
	return persistence.Hooks{
		OnWrite: func(target persistence.Target, err error) {
			result := "ok"
			if err != nil {
				result = string(persistence.Classify(err))
			}
			m.StoreWrites.WithLabelValues(string(target), result).Inc()
		},
		OnEnqueue: func(string) {
			m.Enqueued.Inc()
		},
		OnDrain: func(r persistence.DrainReport) {
			m.Drained.WithLabelValues("applied").Add(float64(r.Applied))
			m.Drained.WithLabelValues("superseded").Add(float64(r.Superseded))
			m.Drained.WithLabelValues("failed").Add(float64(r.Failed))
			m.Remaining.Set(float64(r.Remaining))
		},
	}
}

// stageOf returns the section part of a dotted field key.
func stageOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i]
		}
	}
	return key
}
