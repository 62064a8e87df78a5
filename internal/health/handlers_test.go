package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/resto-order-engine/internal/health"
)

func dep(name string, err error) health.Dependency {
	return health.Dependency{Name: name, Timeout: 50 * time.Millisecond, Check: func(context.Context) error { return err }}
}

func ready(t *testing.T, h health.Handler) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	return rr.Code, status
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadyReportsEachDependency(t *testing.T) {
	code, status := ready(t, health.Handler{Deps: []health.Dependency{dep("postgres", nil), dep("redis", nil)}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, status)

	code, status = ready(t, health.Handler{Deps: []health.Dependency{dep("postgres", errors.New("db down")), dep("redis", nil)}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "db down", status["postgres"])
}

func TestReadyCheckTimeout(t *testing.T) {
	slow := health.Dependency{Name: "kafka", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	code, status := ready(t, health.Handler{Deps: []health.Dependency{slow}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, context.DeadlineExceeded.Error(), status["kafka"])
}

func TestReadinessAfterShutdown(t *testing.T) {
	h := health.Handler{Deps: []health.Dependency{dep("redis", nil)}}
	health.SetReady(false)
	t.Cleanup(func() { health.SetReady(true) })

	code, status := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "shutting down", status["process"])
}
