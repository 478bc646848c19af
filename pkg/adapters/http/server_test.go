package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/blueprint"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, opts ...Option) http.Handler {
	t.Helper()
	engine, err := blueprint.New(blueprint.WithClock(clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))))
	require.NoError(t, err)
	return NewHandler(engine, opts...)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTurn(t *testing.T, rec *httptest.ResponseRecorder) blueprint.Turn {
	t.Helper()
	var turn blueprint.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	return turn
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeTurn(t, rec).Snapshot.SessionID
}

func TestHealthAndInfo(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/info", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), strings.TrimSpace(blueprint.Version))
}

func TestSessionFlow(t *testing.T) {
	h := newTestHandler(t)
	id := createSession(t, h)

	rec := do(t, h, http.MethodPost, "/sessions/"+id+"/input", InputRequest{Text: "ok"})
	require.Equal(t, http.StatusOK, rec.Code)
	turn := decodeTurn(t, rec)
	assert.Equal(t, domain.PromptRefine, turn.Snapshot.Prompt.Kind)

	rec = do(t, h, http.MethodPost, "/sessions/"+id+"/input", InputRequest{Text: "Students design a renewable-energy proposal for their neighborhood"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, decodeTurn(t, rec).Snapshot.Pending)

	rec = do(t, h, http.MethodPost, "/sessions/"+id+"/resolve", ResolveRequest{Accept: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StageTopic2, decodeTurn(t, rec).Snapshot.Stage)

	rec = do(t, h, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, domain.StageTopic2, snap.Stage)

	rec = do(t, h, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":["`+id+`"]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/sessions/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StageTopic1, decodeTurn(t, rec).Snapshot.Stage)

	rec = do(t, h, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJump(t *testing.T) {
	h := newTestHandler(t)
	id := createSession(t, h)

	rec := do(t, h, http.MethodPost, "/sessions/"+id+"/jump", JumpRequest{Stage: "DELIVERABLES"})
	require.Equal(t, http.StatusConflict, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "topic3.value")
	require.NotNil(t, resp.Turn)
	assert.Equal(t, domain.StageTopic1, resp.Turn.Snapshot.Stage)

	rec = do(t, h, http.MethodPost, "/sessions/"+id+"/jump", JumpRequest{Stage: "nowhere"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrors(t *testing.T) {
	h := newTestHandler(t)
	id := createSession(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown session", http.MethodPost, "/sessions/missing/input", InputRequest{Text: "hi"}, http.StatusNotFound},
		{"nothing pending", http.MethodPost, "/sessions/" + id + "/resolve", ResolveRequest{Accept: true}, http.StatusConflict},
		{"control characters", http.MethodPost, "/sessions/" + id + "/input", InputRequest{Text: "a\x00b"}, http.StatusBadRequest},
		{"oversized input", http.MethodPost, "/sessions/" + id + "/input", InputRequest{Text: strings.Repeat("a", MaxInputLength+1)}, http.StatusBadRequest},
		{"no generator", http.MethodPost, "/sessions/" + id + "/suggest", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/input", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	metrics.Enqueued.Inc()
	h := newTestHandler(t, WithMetrics(metrics.Handler()))

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blueprint_sync_queue_enqueued_total")

	rec = do(t, newTestHandler(t), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents_StreamsDiffs(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()
	id := createSession(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/"+id+"/events?watch=pending", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
		return ""
	}
	require.Equal(t, "connected", next())

	// Filtered out: a rejection changes no pending state.
	do(t, h, http.MethodPost, "/sessions/"+id+"/input", InputRequest{Text: "ok"})
	do(t, h, http.MethodPost, "/sessions/"+id+"/input", InputRequest{Text: "Students design a renewable-energy proposal for their neighborhood"})

	msg := next()
	var diff domain.SessionDiff
	require.NoError(t, json.Unmarshal([]byte(msg), &diff))
	assert.Equal(t, id, diff.SessionID)
	assert.True(t, diff.PendingChanged)
	require.NotNil(t, diff.Pending)
}

func TestWatched(t *testing.T) {
	stage := domain.StageTopic2
	data, err := json.Marshal(domain.SessionDiff{SessionID: "p1", Stage: &stage})
	require.NoError(t, err)

	assert.True(t, watched(string(data), []string{"stage"}))
	assert.False(t, watched(string(data), []string{"pending", "fields"}))
	assert.True(t, watched("not json", []string{"stage"}))
}

func TestSanitizeInput(t *testing.T) {
	got, err := sanitizeInput("  line one\nline two\t ")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", got)

	_, err = sanitizeInput("bell\a")
	assert.Error(t, err)
}
