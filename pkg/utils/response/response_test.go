package response_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/x", func(c *gin.Context) {
		c.Set("trace_id", "trace-1")
		handler(c)
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	var body response.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return rec, body
}

func TestSuccess(t *testing.T) {
	t.Parallel()
	rec, body := serve(t, func(c *gin.Context) { response.Success(c, map[string]int{"port": 31337}) })
	if rec.Code != http.StatusOK || body.Code != appErr.Success || body.TraceID != "trace-1" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
}

func TestCreated(t *testing.T) {
	t.Parallel()
	rec, body := serve(t, func(c *gin.Context) { response.Created(c, "ok") })
	if rec.Code != http.StatusCreated || body.Code != appErr.Success {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
}

func TestErrorUsesCodeStatusAndHidesCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("dial unix /var/run/docker.sock: connect: permission denied")
	rec, body := serve(t, func(c *gin.Context) {
		response.Error(c, appErr.Wrapf(cause, appErr.EngineUnavailable, "container engine is unavailable"))
	})
	if rec.Code != http.StatusServiceUnavailable || body.Code != appErr.EngineUnavailable || !body.Retryable {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
	if body.Message != "container engine is unavailable" {
		t.Fatalf("cause leaked or message lost: %q", body.Message)
	}
}

func TestErrorWrapsForeignErrors(t *testing.T) {
	t.Parallel()
	rec, body := serve(t, func(c *gin.Context) { response.Error(c, errors.New("boom")) })
	if rec.Code != http.StatusInternalServerError || body.Code != appErr.InternalServerError {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
}

func TestBadRequestAndNotFound(t *testing.T) {
	t.Parallel()
	rec, body := serve(t, func(c *gin.Context) { response.BadRequest(c, "Invalid problem id") })
	if rec.Code != http.StatusBadRequest || body.Message != "Invalid problem id" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
	rec, body = serve(t, func(c *gin.Context) { response.NotFound(c, "") })
	if rec.Code != http.StatusNotFound || body.Message != appErr.NotFound.Message() {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
}
