// Package health exposes liveness and readiness probes over HTTP.
//
// Probes are polled on a fixed interval by background goroutines. State
// transitions are debounced: a probe flips to failing only after three
// consecutive errors, and back to passing on the first success, so a
// single slow dependency poll does not pull the service out of rotation.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc reports on one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

type probeKind int

const (
	liveness probeKind = iota
	readiness
)

const failuresBeforeUnhealthy = 3

// probe tracks the debounced state of a single check.
type probe struct {
	kind    probeKind
	name    string
	timeout time.Duration
	check   CheckFunc

	mu      sync.Mutex
	passing bool
	lastErr error
	streak  int
}

// observe runs the check once and advances the debounce state.
func (p *probe) observe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.check(ctx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err == nil {
		p.passing = true
		p.streak = 0
		return
	}
	p.streak++
	if p.streak >= failuresBeforeUnhealthy {
		p.passing = false
	}
}

// status returns the debounced state and the most recent error.
func (p *probe) status() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passing, p.lastErr
}

// Health is a registry of probes plus a manual ready switch. Register
// probes before Start; the ready switch is flipped on after startup
// completes and off again when shutdown begins.
type Health struct {
	mu     sync.Mutex
	probes []*probe
	ready  bool
	cancel context.CancelFunc
}

func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe for /livez. Failing liveness means
// the process itself is broken and should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(liveness, name, timeout, check)
}

// AddReadinessCheck registers a probe for /readyz. Failing readiness
// means a dependency is down and traffic should be routed elsewhere.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(readiness, name, timeout, check)
}

func (h *Health) add(kind probeKind, name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, &probe{
		kind:    kind,
		name:    name,
		timeout: timeout,
		check:   check,
		passing: true,
	})
}

// Start launches one polling goroutine per registered probe. Each probe
// is observed immediately, then on every interval tick until the context
// is cancelled or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			p.observe(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.observe(ctx)
				}
			}
		}(p)
	}
}

// Stop cancels the polling goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual ready switch. /readyz reports ok only when
// the switch is on and every readiness probe passes.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

// IsReady reports whether the service should receive traffic.
func (h *Health) IsReady() bool {
	ready, probes := h.snapshot(readiness)
	if !ready {
		return false
	}
	for _, p := range probes {
		if ok, _ := p.status(); !ok {
			return false
		}
	}
	return true
}

// snapshot copies the probes of one kind together with the ready switch.
func (h *Health) snapshot(kind probeKind) (bool, []*probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*probe
	for _, p := range h.probes {
		if p.kind == kind {
			out = append(out, p)
		}
	}
	return h.ready, out
}

// LiveEndpoint serves /livez: 200 while all liveness probes pass, 503
// with per-probe errors otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	_, probes := h.snapshot(liveness)
	writeProbeResponse(w, failingProbes(probes))
}

// ReadyEndpoint serves /readyz: 200 while the service is marked ready
// and all readiness probes pass, 503 with details otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	ready, probes := h.snapshot(readiness)
	failures := failingProbes(probes)
	if !ready {
		failures["_readiness"] = "service is not ready"
	}
	writeProbeResponse(w, failures)
}

func failingProbes(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		ok, err := p.status()
		if ok {
			continue
		}
		if err != nil {
			failures[p.name] = err.Error()
		} else {
			failures[p.name] = "check is unhealthy"
		}
	}
	return failures
}

func writeProbeResponse(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	status := http.StatusOK
	if len(failures) > 0 {
		status = http.StatusServiceUnavailable
	}
	w.WriteHeader(status)

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) {
			if len(failures) == 0 {
				e.Str("ok")
			} else {
				e.Str("unhealthy")
			}
		})
		if len(failures) > 0 {
			e.Field("checks", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for name, msg := range failures {
						e.Field(name, func(e *jx.Encoder) { e.Str(msg) })
					}
				})
			})
		}
	})
	_, _ = w.Write(e.Bytes())
}
