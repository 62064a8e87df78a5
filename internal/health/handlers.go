package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the process readiness flag; it is cleared when shutdown begins.
func SetReady(v bool) { ready.Store(v) }

// Dependency checks one backing service.
type Dependency struct {
	Name    string
	Timeout time.Duration
	Check   func(ctx context.Context) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Deps []Dependency
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every dependency check concurrently and reports 503 when any fails or the process is draining.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]string, len(h.Deps)+1)
	healthy := ready.Load()
	if !healthy {
		status["process"] = "shutting down"
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range h.Deps {
		wg.Add(1)
		go func(p Dependency) {
			defer wg.Done()
			result := "ok"
			if err := run(r.Context(), p); err != nil {
				result = err.Error()
			}
			mu.Lock()
			status[p.Name] = result
			if result != "ok" {
				healthy = false
			}
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func run(ctx context.Context, p Dependency) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Check(ctx)
}
