package middleware

import (
	"context"
	"strings"

	"github.com/ExxiDauS/CyberCTF/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// propagatedID is one correlation header copied into the gin and request contexts.
type propagatedID struct {
	header   string
	ginKey   string
	ctxKey   interface{}
	generate bool
}

var propagatedIDs = []propagatedID{
	{header: "X-Trace-Id", ginKey: "trace_id", ctxKey: contextkey.TraceID, generate: true},
	{header: "X-Request-Id", ginKey: "request_id", ctxKey: contextkey.RequestID, generate: true},
	// set by the calling backend; the sandbox service does no authentication itself
	{header: "X-User-Id", ginKey: "user_id", ctxKey: contextkey.UserID},
}

// TraceContextMiddleware puts trace, request and caller ids into the request context
// and echoes them back as response headers. Missing trace and request ids are generated.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		for _, id := range propagatedIDs {
			value := strings.TrimSpace(c.GetHeader(id.header))
			if value == "" && id.generate {
				value = uuid.NewString()
			}
			if value == "" {
				continue
			}
			c.Set(id.ginKey, value)
			ctx = context.WithValue(ctx, id.ctxKey, value)
			c.Writer.Header().Set(id.header, value)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
