package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cppla/feedsync/utils"
)

// RequestIDHeader correlates client log lines with server log lines.
const RequestIDHeader = "X-Request-ID"

// RequestLogger writes one zap line per request and echoes the request id.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		rid := ctx.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx.Header(RequestIDHeader, rid)

		ctx.Next()

		fields := []zap.Field{
			zap.Int("status", ctx.Writer.Status()),
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.String("query", ctx.Request.URL.RawQuery),
			zap.String("ip", ctx.ClientIP()),
			zap.String("request_id", rid),
			zap.Duration("latency", time.Since(start)),
		}
		if uid := ctx.GetString(ContextUserIDKey); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		if len(ctx.Errors) > 0 {
			for _, e := range ctx.Errors.Errors() {
				log.Error(e, fields...)
			}
			return
		}
		switch {
		case ctx.Writer.Status() >= http.StatusInternalServerError:
			log.Error(ctx.Request.URL.Path, fields...)
		default:
			log.Info(ctx.Request.URL.Path, fields...)
		}
	}
}

// Recovery turns a panic into a 500 envelope and logs it with the stack.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", ctx.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				utils.Error(ctx, http.StatusInternalServerError, 50000, "internal server error")
				ctx.Abort()
			}
		}()
		ctx.Next()
	}
}
