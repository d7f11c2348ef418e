package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterPerCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(4) // burst of 2
	r := gin.New()
	r.GET("/", func(ctx *gin.Context) {
		if u := ctx.GetHeader("X-User"); u != "" {
			ctx.Set(ContextUserIDKey, u)
		}
	}, rl.Middleware(), func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	hit := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if user != "" {
			req.Header.Set("X-User", user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := hit("alice"); code != http.StatusOK {
			t.Fatalf("request %d: %d", i, code)
		}
	}
	if code := hit("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := hit("bob"); code != http.StatusOK {
		t.Fatalf("bob limited by alice's bucket: %d", code)
	}
}
