package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

var noContent = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", RealIP(r))

	r.Header.Set("X-Real-IP", "172.16.0.9")
	assert.Equal(t, "172.16.0.9", RealIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", RealIP(r))
}

func TestRateLimiterWhitelist(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), []string{"10.0.0.1", "192.168.0.0/16", "not-a-cidr/99"})

	assert.True(t, rl.isWhitelisted("10.0.0.1"))
	assert.True(t, rl.isWhitelisted("192.168.44.2"))
	assert.False(t, rl.isWhitelisted("10.0.0.2"))
	assert.False(t, rl.isWhitelisted("garbage"))
}

func TestRateLimiterWithoutRedisPassesThrough(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), nil)
	h := rl.Middleware(noContent)

	for i := 0; i < 100; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/message", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(noContent)

	tests := []struct {
		name        string
		method      string
		target      string
		contentType string
		body        string
		want        int
	}{
		{"json post", http.MethodPost, "/api/message", "application/json", `{}`, http.StatusNoContent},
		{"form post", http.MethodPost, "/api/message", "text/plain", `hi`, http.StatusUnsupportedMediaType},
		{"traversal", http.MethodGet, "/api/../etc", "", "", http.StatusBadRequest},
		{"script in query", http.MethodGet, "/api/messages?room=<script>", "", "", http.StatusBadRequest},
		{"plain get", http.MethodGet, "/api/messages?room=lobby", "", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(noContent)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(`{"message":"too long"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(noContent).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/messages", normalizePath("/api/messages"))
	assert.Equal(t, "other", normalizePath("/api/messages/123"))
}

func TestLoggerLevels(t *testing.T) {
	var buf strings.Builder
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	h := Logger(logger)(noContent)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String(), "health checks log at debug")

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/messages?room=lobby", nil))
	assert.Contains(t, buf.String(), `"room":"lobby"`)
	assert.Contains(t, buf.String(), `"status":204`)
}
