package observability_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/observability"
	"github.com/aretw0/blueprint/pkg/persistence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_LifecycleHooks(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	hooks := m.LifecycleHooks()
	ctx := context.Background()

	hooks.OnCommit(ctx, &domain.CommitEvent{Field: "topic1.value"})
	hooks.OnCommit(ctx, &domain.CommitEvent{Field: "topic1.value", Forced: true})
	hooks.OnStageChange(ctx, &domain.StageEvent{From: domain.StageTopic1, To: domain.StageTopic2})
	hooks.OnNotice(ctx, &domain.Notice{Kind: domain.NoticeQualityRejected})
	hooks.OnNotice(ctx, &domain.Notice{Kind: domain.NoticeQualityRejected})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commits.WithLabelValues("topic1", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commits.WithLabelValues("topic1", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageChanges.WithLabelValues("topic2", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Notices.WithLabelValues("quality_rejected")))
}

func TestMetrics_PersistenceHooks(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	hooks := m.PersistenceHooks()

	hooks.OnWrite(persistence.TargetLocal, nil)
	hooks.OnWrite(persistence.TargetRemote, fmt.Errorf("dial: %w", domain.ErrUnavailable))
	hooks.OnWrite(persistence.TargetRemote, domain.ErrPermissionDenied)
	hooks.OnEnqueue("p1")
	hooks.OnDrain(persistence.DrainReport{Applied: 2, Failed: 1, Remaining: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreWrites.WithLabelValues("local", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreWrites.WithLabelValues("remote", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreWrites.WithLabelValues("remote", "permanent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Enqueued))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Drained.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Remaining))
}

func TestMetrics_Handler(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	m.Enqueued.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blueprint_sync_queue_enqueued_total 1")
}
