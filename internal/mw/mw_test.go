package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 2, time.Minute)
	r := newEngine(rl.Middleware())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 200 429]", codes)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", w.Code)
	}
}

func TestRateLimiter_EvictKeepsRecentlySeenKeys(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := t0
	rl := NewRateLimiter(rate.Inf, 1, time.Minute)
	rl.now = func() time.Time { return clock }

	rl.allow("stale")
	clock = t0.Add(90 * time.Second)
	rl.allow("fresh")

	rl.evict(t0.Add(2 * time.Minute))
	if _, ok := rl.buckets["stale"]; ok {
		t.Error("stale bucket survived evict")
	}
	if _, ok := rl.buckets["fresh"]; !ok {
		t.Error("fresh bucket was evicted")
	}
}

func TestRemoteHost(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"10.0.0.1:5555", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"[::ffff:10.0.0.1]:8080", "10.0.0.1"},
		{"not-an-addr", "not-an-addr"},
	}
	for _, tt := range tests {
		if got := remoteHost(tt.remote); got != tt.want {
			t.Errorf("remoteHost(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		origins []string
		origin  string
		allowed bool
	}{
		{"dev allows any", "dev", nil, "http://anything.test", true},
		{"prod allows listed", "prod", []string{"https://board.example"}, "https://board.example", true},
		{"prod rejects unlisted", "prod", []string{"https://board.example"}, "https://evil.example", false},
		{"prod without list rejects", "prod", nil, "https://board.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(CORS(tt.env, tt.origins))
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			got := w.Header().Get("Access-Control-Allow-Origin") != ""
			if got != tt.allowed {
				t.Errorf("allowed = %v, want %v (status %d)", got, tt.allowed, w.Code)
			}
		})
	}
}
