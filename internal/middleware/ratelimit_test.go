package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limit int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, limit, nil, nil), mr
}

func TestRateLimiter_Allow(t *testing.T) {
	l, mr := newTestLimiter(t, 2)
	now := time.Date(2026, 5, 1, 12, 0, 15, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "10.0.0.1")
	assert.True(t, ok)
	ok, retry := l.Allow(ctx, "10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 45*time.Second, retry)

	ok, _ = l.Allow(ctx, "10.0.0.2")
	assert.True(t, ok, "other clients have their own window")

	key := "gendoc:ratelimit:10.0.0.1:" + "1777636800"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 61*time.Second, mr.TTL(key))

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "10.0.0.1")
	assert.True(t, ok, "a new window starts")
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	l, mr := newTestLimiter(t, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(context.Background(), "10.0.0.1")
		assert.True(t, ok)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	l, _ := newTestLimiter(t, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/x/chat", nil)
	req.RemoteAddr = "192.0.2.7:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRateLimiter_IgnoresSpoofedForwardingHeaders(t *testing.T) {
	l, _ := newTestLimiter(t, 2)
	h := PeerAddr(chimw.RealIP(l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))))

	allowed := 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/sessions/x/chat", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusNoContent {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestRateLimiter_TrustedProxy(t *testing.T) {
	trusted, err := ParsePrefixes([]string{"10.0.0.0/8", " 192.0.2.1 ", ""})
	require.NoError(t, err)
	l, _ := newTestLimiter(t, 1)
	l.trusted = trusted

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"untrusted peer", "203.0.113.5:1000", "198.51.100.1", "203.0.113.5"},
		{"trusted peer", "10.1.2.3:1000", "198.51.100.1", "198.51.100.1"},
		{"chain of proxies", "10.1.2.3:1000", "6.6.6.6, 198.51.100.1, 192.0.2.1", "198.51.100.1"},
		{"trusted peer without header", "192.0.2.1:1000", "", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, l.clientIP(req))
		})
	}

	_, err = ParsePrefixes([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	client.Close()

	_, err = NewRedisClient(context.Background(), "http://localhost:6379")
	assert.Error(t, err)
}
