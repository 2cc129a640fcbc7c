package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/common/http/middleware"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.TraceContextMiddleware())
	var ctxTrace, ctxUser interface{}
	router.GET("/trace", func(c *gin.Context) {
		ctxTrace = c.Request.Context().Value(contextkey.TraceID)
		ctxUser = c.Request.Context().Value(contextkey.UserID)
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trace", nil))
	if rec.Header().Get("X-Trace-Id") == "" || rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated trace and request ids")
	}
	if ctxTrace != rec.Header().Get("X-Trace-Id") {
		t.Fatalf("context trace id %v does not match header", ctxTrace)
	}
	if ctxUser != nil || rec.Header().Get("X-User-Id") != "" {
		t.Fatalf("user id must not be generated")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set("X-Trace-Id", "trace-123")
	req.Header.Set("X-User-Id", "42")
	router.ServeHTTP(rec, req)
	if rec.Header().Get("X-Trace-Id") != "trace-123" || ctxTrace != "trace-123" {
		t.Fatalf("expected trace id preserved")
	}
	if ctxUser != "42" || rec.Header().Get("X-User-Id") != "42" {
		t.Fatalf("expected user id propagated")
	}
}

func TestTimeoutMiddlewareSetsDeadline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.TimeoutMiddleware(time.Minute))
	var hasDeadline bool
	router.GET("/slow", func(c *gin.Context) {
		_, hasDeadline = c.Request.Context().Deadline()
		c.Status(http.StatusOK)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))
	if !hasDeadline {
		t.Fatalf("expected request deadline")
	}
}

func TestTimeoutMiddlewareRouteOverride(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.TimeoutMiddleware(time.Second,
		middleware.WithRouteTimeout("/builds/:id", time.Hour),
		middleware.WithRouteTimeout("/uploads", 0),
	))
	remaining := map[string]time.Duration{}
	bounded := map[string]bool{}
	record := func(c *gin.Context) {
		deadline, ok := c.Request.Context().Deadline()
		bounded[c.FullPath()] = ok
		if ok {
			remaining[c.FullPath()] = time.Until(deadline)
		}
		c.Status(http.StatusOK)
	}
	router.GET("/quick", record)
	router.GET("/builds/:id", record)
	router.GET("/uploads", record)

	for _, path := range []string{"/quick", "/builds/7", "/uploads"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if !bounded["/quick"] || remaining["/quick"] > time.Second {
		t.Fatalf("expected default timeout on unlisted route, got %v", remaining["/quick"])
	}
	if !bounded["/builds/:id"] || remaining["/builds/:id"] <= time.Second {
		t.Fatalf("expected route timeout to replace default, got %v", remaining["/builds/:id"])
	}
	if bounded["/uploads"] {
		t.Fatalf("expected zero route timeout to leave request unbounded")
	}
}
