package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probeFor(h *Health, name string) *probe {
	for _, p := range h.probes {
		if p.name == name {
			return p
		}
	}
	return nil
}

func TestProbe_DebouncesFailures(t *testing.T) {
	h := New()
	calls := 0
	h.AddReadinessCheck("db", time.Second, func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	p := probeFor(h, "db")
	require.NotNil(t, p)

	ctx := context.Background()
	p.observe(ctx)
	p.observe(ctx)
	ok, _ := p.status()
	assert.True(t, ok, "two failures should not flip the probe yet")

	p.observe(ctx)
	ok, err := p.status()
	assert.False(t, ok)
	assert.EqualError(t, err, "connection refused")
	assert.Equal(t, 3, calls)
}

func TestProbe_RecoversOnFirstSuccess(t *testing.T) {
	h := New()
	fail := true
	h.AddReadinessCheck("db", time.Second, func(context.Context) error {
		if fail {
			return errors.New("down")
		}
		return nil
	})
	p := probeFor(h, "db")

	ctx := context.Background()
	for range 3 {
		p.observe(ctx)
	}
	ok, _ := p.status()
	require.False(t, ok)

	fail = false
	p.observe(ctx)
	ok, err := p.status()
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestProbe_TimeoutAppliesToCheck(t *testing.T) {
	h := New()
	h.AddLivenessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p := probeFor(h, "slow")

	done := make(chan struct{})
	go func() {
		p.observe(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observe did not respect the probe timeout")
	}
}

func TestIsReady_RequiresSwitchAndProbes(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, func(context.Context) error { return nil })
	p := probeFor(h, "db")
	p.observe(context.Background())

	assert.False(t, h.IsReady(), "not ready before SetReady")

	h.SetReady(true)
	assert.True(t, h.IsReady())

	p.mu.Lock()
	p.passing = false
	p.mu.Unlock()
	assert.False(t, h.IsReady(), "failing readiness probe blocks traffic")
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyEndpoint_ReportsFailures(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.AddReadinessCheck("db", time.Second, func(context.Context) error {
		return errors.New("no route to host")
	})
	p := probeFor(h, "db")
	for range 3 {
		p.observe(context.Background())
	}

	rec := httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"db":"no route to host"}}`, rec.Body.String())
}

func TestReadyEndpoint_NotReadyBeforeStartup(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "service is not ready")
}

func TestStartStop_PollsUntilCancelled(t *testing.T) {
	h := New()
	polled := make(chan struct{}, 8)
	h.AddLivenessCheck("tick", time.Second, func(context.Context) error {
		select {
		case polled <- struct{}{}:
		default:
		}
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	defer h.Stop()

	select {
	case <-polled:
	case <-time.After(time.Second):
		t.Fatal("probe was never polled")
	}

	h.Stop()
	h.Stop() // idempotent
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
