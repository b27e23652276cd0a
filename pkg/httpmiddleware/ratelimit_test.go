package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limited(t *testing.T, cfg RateLimitConfig) http.Handler {
	t.Helper()
	return RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, remoteAddr string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_BudgetAndHeaders(t *testing.T) {
	h := limited(t, RateLimitConfig{Max: 3, Window: time.Minute})

	for i := range 3 {
		rec := hit(h, "192.0.2.1:1000")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	}

	rec := hit(h, "192.0.2.1:1001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, rec.Body.String())
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	h := limited(t, RateLimitConfig{Max: 1, Window: time.Minute})

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1").Code)
	// Port changes do not reset the budget.
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:2").Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	h := limited(t, RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("X-API-Key")
		},
	})

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", "X-API-Key", "key-a").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.2:1", "X-API-Key", "key-a").Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:2", "X-API-Key", "key-b").Code)
}

func TestRateLimit_ForwardedForWins(t *testing.T) {
	h := limited(t, RateLimitConfig{Max: 1, Window: time.Minute})

	assert.Equal(t, http.StatusOK,
		hit(h, "192.0.2.1:1", "X-Forwarded-For", "203.0.113.50, 70.41.3.18").Code)
	// Same forwarded client through a different proxy address.
	assert.Equal(t, http.StatusTooManyRequests,
		hit(h, "192.0.2.2:1", "X-Forwarded-For", "203.0.113.50, 70.41.3.18").Code)
}

func TestRateLimiter_SlidingWindowCarriesOver(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 10, Window: time.Minute})
	base := time.Unix(1_700_000_000, 0).Truncate(time.Minute)

	// Fill the first window completely.
	for range 10 {
		_, _, ok := rl.allow("k", base)
		require.True(t, ok)
	}
	_, _, ok := rl.allow("k", base.Add(time.Second))
	assert.False(t, ok, "budget exhausted within the window")

	// Halfway into the next window half the old budget still counts.
	_, _, ok = rl.allow("k", base.Add(90*time.Second))
	assert.True(t, ok)

	// Two full windows later the old counts are gone.
	remaining, _, ok := rl.allow("k", base.Add(3*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 9, remaining)
}

func TestRateLimiter_PruneDropsIdleClients(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()
	rl.allow("idle", now)
	rl.allow("active", now.Add(90*time.Second))

	rl.prune(now.Add(2 * time.Minute))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.windows, "idle")
	assert.Contains(t, rl.windows, "active")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.9:1234"
	assert.Equal(t, "192.0.2.9", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
	assert.Equal(t, "203.0.113.50", clientIP(req))
}
