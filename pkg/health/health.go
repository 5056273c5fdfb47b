// Package health serves liveness and readiness probes.
//
// Every check runs in its own goroutine at a fixed interval. A check flips
// to failing only after FailureThreshold consecutive errors and back to
// passing after SuccessThreshold consecutive successes, so a single slow
// ping does not pull the pod out of rotation.
//
// Optional checks never fail a probe; while they are failing the probe
// reports "degraded" with status 200.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Check describes a single probe check.
type Check struct {
	Name    string
	Func    CheckFunc
	Timeout time.Duration
	// Optional checks degrade the probe instead of failing it.
	Optional bool
	// FailureThreshold defaults to 3, SuccessThreshold to 1.
	FailureThreshold int
	SuccessThreshold int
}

// Probe statuses.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type check struct {
	Check
	lg *zap.Logger

	passing atomic.Bool
	lastErr atomic.Pointer[error]

	// Only touched by the goroutine running the check.
	fails int
	oks   int
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	err := c.Func(ctx)
	c.lastErr.Store(&err)

	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.FailureThreshold && c.passing.Swap(false) {
			c.lg.Warn("Health check failing",
				zap.String("check", c.Name),
				zap.Bool("optional", c.Optional),
				zap.Error(err),
			)
		}
		return
	}
	c.fails = 0
	c.oks++
	if c.oks >= c.SuccessThreshold && !c.passing.Swap(true) {
		c.lg.Info("Health check recovered", zap.String("check", c.Name))
	}
}

func (c *check) failure() string {
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error()
	}
	return "check is failing"
}

// Health holds the registered checks and the manual readiness flag.
type Health struct {
	lg     *zap.Logger
	marked atomic.Bool

	mu    sync.RWMutex
	live  []*check
	ready []*check
}

// New creates a Health that starts not ready.
func New(lg *zap.Logger) *Health {
	return &Health{lg: lg}
}

// Live registers a liveness check.
func (h *Health) Live(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, h.newCheck(c))
}

// Ready registers a readiness check.
func (h *Health) Ready(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = append(h.ready, h.newCheck(c))
}

func (h *Health) newCheck(c Check) *check {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	ch := &check{Check: c, lg: h.lg}
	ch.passing.Store(true)
	return ch
}

// Run executes every registered check until ctx is done. Checks registered
// after Run starts are not executed.
func (h *Health) Run(ctx context.Context, interval time.Duration) error {
	h.mu.RLock()
	checks := make([]*check, 0, len(h.live)+len(h.ready))
	checks = append(checks, h.live...)
	checks = append(checks, h.ready...)
	h.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range checks {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

// SetReady sets the manual readiness flag. The server sets it once it is
// listening and clears it at the start of graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.marked.Store(ready)
}

// IsReady reports whether the service is marked ready and no required
// readiness check is failing.
func (h *Health) IsReady() bool {
	if !h.marked.Load() {
		return false
	}
	status, _ := evaluate(h.snapshot(false))
	return status != StatusUnhealthy
}

func (h *Health) snapshot(live bool) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if live {
		return append([]*check(nil), h.live...)
	}
	return append([]*check(nil), h.ready...)
}

// evaluate reports the probe status and the failing checks by name.
func evaluate(checks []*check) (string, map[string]string) {
	status := StatusOK
	failures := make(map[string]string)
	for _, c := range checks {
		if c.passing.Load() {
			continue
		}
		failures[c.Name] = c.failure()
		if !c.Optional {
			status = StatusUnhealthy
		} else if status == StatusOK {
			status = StatusDegraded
		}
	}
	return status, failures
}

// LiveHandler serves /livez.
func (h *Health) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	status, failures := evaluate(h.snapshot(true))
	writeStatus(w, status, failures)
}

// ReadyHandler serves /readyz.
func (h *Health) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	status, failures := evaluate(h.snapshot(false))
	if !h.marked.Load() {
		status = StatusUnhealthy
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, status, failures)
}

func writeStatus(w http.ResponseWriter, status string, failures map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("status")
	e.Str(status)
	if len(failures) > 0 {
		e.FieldStart("checks")
		e.ObjStart()
		for name, msg := range failures {
			e.FieldStart(name)
			e.Str(msg)
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
