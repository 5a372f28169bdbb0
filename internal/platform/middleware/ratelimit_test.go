package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/clinic/internal/platform/auth"
)

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func doRequest(t *testing.T, e *echo.Echo, h echo.HandlerFunc, ip string, ctx context.Context) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.RemoteAddr = ip + ":1234"
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_WithinBurst(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		rec, err := doRequest(t, e, h, "10.0.0.1", nil)
		require.NoError(t, err, "request %d", i+1)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		_, err := doRequest(t, e, h, "10.0.0.2", nil)
		require.NoError(t, err)
	}

	rec, err := doRequest(t, e, h, "10.0.0.2", nil)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected echo.HTTPError, got %T", err)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_SeparateClients(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.1, BurstSize: 1})(okHandler)

	_, err := doRequest(t, e, h, "10.0.0.3", nil)
	require.NoError(t, err)
	_, err = doRequest(t, e, h, "10.0.0.4", nil)
	require.NoError(t, err, "a different IP has its own bucket")

	_, err = doRequest(t, e, h, "10.0.0.3", nil)
	require.Error(t, err)
}

func TestRateLimit_KeysByUser(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.1, BurstSize: 1})(okHandler)

	var devCtx context.Context
	capture := auth.DevAuthMiddleware()(func(c echo.Context) error {
		devCtx = c.Request().Context()
		return nil
	})
	require.NoError(t, capture(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())))

	_, err := doRequest(t, e, h, "10.0.0.5", devCtx)
	require.NoError(t, err)
	_, err = doRequest(t, e, h, "10.0.0.6", devCtx)
	assert.Error(t, err, "same user from another IP shares the bucket")
}

func TestLimiterStore_EvictsIdleClients(t *testing.T) {
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.get("a")
	store.get("b")
	assert.Len(t, store.clients, 2)

	now = now.Add(2 * time.Minute)
	store.get("c")
	assert.Len(t, store.clients, 1)
	assert.Contains(t, store.clients, "c")
}
