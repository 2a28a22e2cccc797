package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("delta seconds", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "7")
		d, ok := httpx.ParseRetryAfter(h, now)
		require.True(t, ok)
		require.Equal(t, 7*time.Second, d)
	})

	t.Run("http date", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", now.Add(30*time.Second).Format(http.TimeFormat))
		d, ok := httpx.ParseRetryAfter(h, now)
		require.True(t, ok)
		require.Equal(t, 30*time.Second, d)
	})

	t.Run("ratelimit reset", func(t *testing.T) {
		h := http.Header{}
		h.Set("RateLimit-Reset", strconv.FormatInt(now.Add(time.Minute).Unix(), 10))
		d, ok := httpx.ParseRetryAfter(h, now)
		require.True(t, ok)
		require.Equal(t, time.Minute, d)
	})

	t.Run("reset in the past", func(t *testing.T) {
		h := http.Header{}
		h.Set("RateLimit-Reset", strconv.FormatInt(now.Add(-time.Minute).Unix(), 10))
		d, ok := httpx.ParseRetryAfter(h, now)
		require.True(t, ok)
		require.Zero(t, d)
	})

	t.Run("absent", func(t *testing.T) {
		_, ok := httpx.ParseRetryAfter(http.Header{}, now)
		require.False(t, ok)
	})
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := httpx.BearerToken(req)
	require.False(t, ok)

	req.Header.Set("Authorization", "Bearer abc.def")
	token, ok := httpx.BearerToken(req)
	require.True(t, ok)
	require.Equal(t, "abc.def", token)
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	config := httpx.RateLimitConfig{
		RequestsPerWindow: 2,
		Window:            time.Minute,
		Burst:             2,
	}

	handler := httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), httpx.RateLimitMiddleware(config, httpx.IPKeyExtractor))

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))
	require.Contains(t, rec.Body.String(), "RateLimitExceeded")

	// A different client is tracked separately.
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "192.168.1.2:12345"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestTokenOrIPKeyExtractor(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	require.Equal(t, "ip:10.0.0.1", httpx.TokenOrIPKeyExtractor(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "ip:203.0.113.7", httpx.TokenOrIPKeyExtractor(req))

	req.Header.Set("Authorization", "Bearer abc")
	require.Equal(t, "tok:abc", httpx.TokenOrIPKeyExtractor(req))
}
