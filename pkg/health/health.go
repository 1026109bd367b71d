// Package health serves liveness and readiness checks for the engine.
//
// Every check is polled by its own goroutine. A check turns unhealthy only
// after failureThreshold consecutive failures and healthy again after
// successThreshold consecutive successes, so a single slow ping does not pull
// the engine out of rotation. Handlers only read the last observed
// state and never run checks themselves.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// CheckFunc reports whether a component is healthy.
type CheckFunc func(ctx context.Context) error

type kind uint8

const (
	liveness kind = iota
	readiness
)

func (k kind) String() string {
	if k == liveness {
		return "liveness"
	}
	return "readiness"
}

// state is an immutable snapshot published by the polling goroutine.
type state struct {
	healthy bool
	err     error
	since   time.Time
}

type watch struct {
	name             string
	kind             kind
	timeout          time.Duration
	check            CheckFunc
	failureThreshold int
	successThreshold int

	current atomic.Pointer[state]

	// Owned by the polling goroutine.
	fails  int
	passes int
}

func (p *watch) load() state { return *p.current.Load() }

// observe runs the check once and returns true when the health flipped.
func (p *watch) observe(ctx context.Context, now time.Time) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.check(ctx)
	cancel()

	prev := p.load()
	healthy := prev.healthy
	if err != nil {
		p.passes = 0
		p.fails++
		if p.fails >= p.failureThreshold {
			healthy = false
		}
	} else {
		p.fails = 0
		p.passes++
		if p.passes >= p.successThreshold {
			healthy = true
		}
	}

	next := state{healthy: healthy, err: err, since: prev.since}
	if healthy != prev.healthy {
		next.since = now
	}
	p.current.Store(&next)
	return healthy != prev.healthy
}

// CheckOption tunes a single check.
type CheckOption func(*watch)

// WithFailureThreshold sets how many consecutive failures mark the check
// unhealthy. Defaults to 3.
func WithFailureThreshold(n int) CheckOption {
	return func(p *watch) {
		if n > 0 {
			p.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive successes mark the check
// healthy again. Defaults to 1.
func WithSuccessThreshold(n int) CheckOption {
	return func(p *watch) {
		if n > 0 {
			p.successThreshold = n
		}
	}
}

// Health tracks the liveness and readiness of the engine.
type Health struct {
	ready atomic.Bool
	now   func() time.Time

	mu      sync.RWMutex
	watches []*watch
	cancel  context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{now: time.Now}
}

// AddLivenessCheck registers a check that the process is not wedged.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc, opts ...CheckOption) {
	h.add(liveness, name, timeout, check, opts)
}

// AddReadinessCheck registers a check on a dependency needed to process
// orders, such as PostgreSQL or RabbitMQ.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc, opts ...CheckOption) {
	h.add(readiness, name, timeout, check, opts)
}

func (h *Health) add(k kind, name string, timeout time.Duration, check CheckFunc, opts []CheckOption) {
	p := &watch{
		name:             name,
		kind:             k,
		timeout:          timeout,
		check:            check,
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	p.current.Store(&state{healthy: true, since: h.now()})

	h.mu.Lock()
	h.watches = append(h.watches, p)
	h.mu.Unlock()
}

// Start polls every registered check at interval until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	watches := append([]*watch(nil), h.watches...)
	h.mu.Unlock()

	for _, p := range watches {
		go h.poll(ctx, p, interval)
	}
}

func (h *Health) poll(ctx context.Context, p *watch, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if p.observe(ctx, h.now()) {
			h.logTransition(ctx, p)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Health) logTransition(ctx context.Context, p *watch) {
	st := p.load()
	lg := zctx.From(ctx).With(
		zap.String("check", p.name),
		zap.Stringer("kind", p.kind),
	)
	if st.healthy {
		lg.Info("Check recovered")
		return
	}
	lg.Warn("Check failing", zap.Error(st.err))
}

// Stop cancels polling. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the engine ready after startup or unready while draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the engine is marked ready and every readiness
// check is healthy.
func (h *Health) IsReady() bool {
	return h.report(readiness).Status == StatusOK
}

// Check statuses.
const (
	StatusOK        = "ok"
	StatusUnhealthy = "unhealthy"
)

// Report is the body of a watch response.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckReport `json:"checks,omitempty"`
}

// CheckReport describes one check.
type CheckReport struct {
	Healthy bool      `json:"healthy"`
	Error   string    `json:"error,omitempty"`
	Since   time.Time `json:"since"`
}

func (h *Health) report(k kind) Report {
	h.mu.RLock()
	watches := append([]*watch(nil), h.watches...)
	h.mu.RUnlock()

	r := Report{Status: StatusOK, Checks: make(map[string]CheckReport)}
	for _, p := range watches {
		if p.kind != k {
			continue
		}
		st := p.load()
		cr := CheckReport{Healthy: st.healthy, Since: st.since}
		if st.err != nil {
			cr.Error = st.err.Error()
		}
		if !st.healthy {
			r.Status = StatusUnhealthy
			if cr.Error == "" {
				cr.Error = "check is unhealthy"
			}
		}
		r.Checks[p.name] = cr
	}
	if k == readiness && !h.ready.Load() {
		r.Status = StatusUnhealthy
		r.Checks["_readiness"] = CheckReport{Error: "service is not ready"}
	}
	if len(r.Checks) == 0 {
		r.Checks = nil
	}
	return r
}

// Handler serves /livez and /readyz.
func (h *Health) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", h.LiveEndpoint)
	mux.HandleFunc("GET /readyz", h.ReadyEndpoint)
	return mux
}

// LiveEndpoint responds 200 while all liveness checks pass and 503 otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, h.report(liveness))
}

// ReadyEndpoint responds 200 while the engine is ready and all readiness
// checks pass and 503 otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, h.report(readiness))
}

func writeReport(w http.ResponseWriter, r Report) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if r.Status == StatusOK {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(r)
}
