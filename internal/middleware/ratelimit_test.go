package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/pneumoscan/pneumoscan/internal/auth"
	"github.com/pneumoscan/pneumoscan/internal/cache"
	"github.com/pneumoscan/pneumoscan/internal/metrics"
	"github.com/pneumoscan/pneumoscan/internal/model"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewFromClient(client)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func uploadRequest(username string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	ctx := auth.ContextWithIdentity(req.Context(), &model.Identity{Username: username})
	return req.WithContext(ctx)
}

func TestRateLimitUploads_BurstThenReject(t *testing.T) {
	recorder := metrics.NewInMemory()
	handler := RateLimitUploads(RateLimitConfig{
		Cache:           newTestCache(t),
		Recorder:        recorder,
		UploadEnabled:   true,
		UploadPerMinute: 1,
		UploadBurst:     2,
	})(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, uploadRequest("alice"))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest("alice"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), `"code":"RATE_LIMITED"`)
	require.Equal(t, uint64(1), recorder.Snapshot().UploadsRateLimited)

	// Buckets are per user.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest("bob"))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitUploads_PassThrough(t *testing.T) {
	tests := []struct {
		name string
		cfg  RateLimitConfig
		req  *http.Request
	}{
		{"disabled", RateLimitConfig{Cache: newTestCache(t), UploadPerMinute: 1}, uploadRequest("alice")},
		{"no cache", RateLimitConfig{UploadEnabled: true, UploadPerMinute: 1}, uploadRequest("alice")},
		{"anonymous", RateLimitConfig{Cache: newTestCache(t), UploadEnabled: true, UploadPerMinute: 1}, httptest.NewRequest(http.MethodPost, "/api/upload", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RateLimitUploads(tt.cfg)(okHandler())
			for i := 0; i < 5; i++ {
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, tt.req)
				require.Equal(t, http.StatusOK, rec.Code)
			}
		})
	}
}

func TestRateLimitUploads_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewFromClient(client)
	mr.Close()

	handler := RateLimitUploads(RateLimitConfig{
		Cache:           c,
		UploadEnabled:   true,
		UploadPerMinute: 1,
		UploadBurst:     1,
	})(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, uploadRequest("alice"))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitIP(t *testing.T) {
	handler := RateLimitIP(RateLimitConfig{
		Cache:         newTestCache(t),
		AuthEnabled:   true,
		AuthPerMinute: 1,
		AuthBurst:     1,
	})(okHandler())

	send := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send("203.0.113.7:5000"))
	// Same host, different source port shares the bucket.
	require.Equal(t, http.StatusTooManyRequests, send("203.0.113.7:5001"))
	require.Equal(t, http.StatusOK, send("198.51.100.2:5000"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.7:5000", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.7", "203.0.113.7"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		require.Equal(t, tt.want, clientIP(req))
	}
}
