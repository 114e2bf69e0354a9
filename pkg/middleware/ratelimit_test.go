package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterAllow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewMemoryLimiter(RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute, BurstSize: 1})
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 2, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := rl.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)

	// Other clients have their own bucket.
	d, _ = rl.Allow(ctx, "b")
	assert.True(t, d.Allowed)

	// Half a window refills one token.
	now = now.Add(30 * time.Second)
	d, _ = rl.Allow(ctx, "a")
	assert.True(t, d.Allowed)
	d, _ = rl.Allow(ctx, "a")
	assert.False(t, d.Allowed)
}

func TestMemoryLimiterCleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewMemoryLimiter(DefaultRateLimitConfig())
	rl.now = func() time.Time { return now }

	_, _ = rl.Allow(context.Background(), "a")
	rl.Cleanup()
	assert.Len(t, rl.buckets, 1)

	now = now.Add(3 * time.Minute)
	rl.Cleanup()
	assert.Empty(t, rl.buckets)
}

func TestRedisLimiterAllow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewRedisLimiter(client, RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "test")
	ctx := context.Background()

	d, err := rl.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.True(t, mr.Exists("test:ip:1"))
	assert.Equal(t, time.Minute, mr.TTL("test:ip:1"))

	d, _ = rl.Allow(ctx, "ip:1")
	assert.True(t, d.Allowed)
	d, _ = rl.Allow(ctx, "ip:1")
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)

	mr.FastForward(time.Minute + time.Second)
	d, _ = rl.Allow(ctx, "ip:1")
	assert.True(t, d.Allowed)

	require.NoError(t, rl.Reset(ctx, "ip:1"))
	assert.False(t, mr.Exists("test:ip:1"))
}

func TestRedisLimiterError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	d, err := NewRedisLimiter(client, DefaultRateLimitConfig(), "").Allow(context.Background(), "ip:1")
	assert.Error(t, err)
	assert.True(t, d.Allowed)
}

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return Decision{}, errors.New("unavailable")
}

func TestRateLimitMiddleware(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	handler := RateLimit(NewMemoryLimiter(RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}), logger)(ok)

	req := httptest.NewRequest(http.MethodGet, "/v1/collections/users/count", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")

	other := httptest.NewRequest(http.MethodGet, "/v1/collections/users/count", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	RateLimit(failingLimiter{}, logger)(ok).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "10.0.0.1:1234", "10.0.0.1"},
		{"remote without port", nil, "10.0.0.1", "10.0.0.1"},
		{"forwarded", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.9"}, "10.0.0.1:1", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "10.0.0.1:1", "5.6.7.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
