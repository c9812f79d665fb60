package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(2, 2) // 2 requests per second, burst of 2

	router := gin.New()
	router.Use(RateLimit(rl))
	router.POST("/exports", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	// First two requests should succeed
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/exports", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	}

	// Third request should be rate limited
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/exports", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Another client has its own bucket
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/exports", nil)
	req.RemoteAddr = "10.0.0.9:4321"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRateLimiterPrune(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.getLimiter("ip:a")
	now = now.Add(5 * time.Minute)
	rl.getLimiter("ip:b")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, rl.prune(limiterIdleTTL))
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "ip:b")
}
