package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/contactbook-hq/contactbook-backend/internal/logger"
)

func rateLimitedRouter(perMinute, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewRateLimitMiddleware(logger.NewNop(), perMinute, burst).Limit())
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	return router
}

func doPing(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitBurstThenReject(t *testing.T) {
	router := rateLimitedRouter(10, 3)

	for i := 0; i < 3; i++ {
		if w := doPing(router, ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: want 200, got %d", i+1, w.Code)
		}
	}
	w := doPing(router, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429 after burst, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestRateLimitKeysClientsSeparately(t *testing.T) {
	router := rateLimitedRouter(10, 1)

	if w := doPing(router, "Bearer token-a"); w.Code != http.StatusOK {
		t.Fatalf("client a: want 200, got %d", w.Code)
	}
	if w := doPing(router, "Bearer token-a"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("client a second hit: want 429, got %d", w.Code)
	}
	// A different bearer token has its own bucket.
	if w := doPing(router, "Bearer token-b"); w.Code != http.StatusOK {
		t.Fatalf("client b: want 200, got %d", w.Code)
	}
}
