package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/loyalty/internal/observability/context"
	"github.com/smallbiznis/loyalty/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware tags each request with a request id and a correlation id and
// writes one access log line once the handler chain finishes. The account
// the handler acted on is read from the "account_id" gin key.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = correlation.WithID(ctx, c.GetHeader(correlation.Header))
		ctx, correlationID := correlation.Ensure(ctx, start)

		c.Request = c.Request.WithContext(ctx)
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)
		c.Header(correlation.Header, correlationID)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		entry := accessEntry{
			route:    route,
			status:   c.Writer.Status(),
			duration: time.Since(start),
		}
		if lastErr := c.Errors.Last(); lastErr != nil && cfg.ErrorClassifier != nil {
			entry.errorType, entry.errorCode = cfg.ErrorClassifier(lastErr.Err)
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", entry.status),
			zap.Int64("duration_ms", entry.duration.Milliseconds()),
		}
		if cfg.Debug {
			fields = append(fields,
				zap.String("path", c.Request.URL.Path),
				zap.Int("bytes_out", max(c.Writer.Size(), 0)),
			)
		}
		if accountID := c.GetString("account_id"); accountID != "" {
			fields = append(fields, zap.String("account_id", accountID))
		}
		if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" {
			fields = append(fields, zap.String("idempotency_key", key))
		}
		if entry.errorType != "" {
			fields = append(fields,
				zap.String("error_type", entry.errorType),
				zap.String("error_code", entry.errorCode),
			)
		}

		entry.write(FromContext(c.Request.Context()), fields)
	}
}

type accessEntry struct {
	route     string
	status    int
	duration  time.Duration
	errorType string
	errorCode string
}

func (e accessEntry) level() zapcore.Level {
	switch {
	case e.route == "/health" || e.route == "/metrics":
		return zapcore.DebugLevel
	case e.status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case isBusinessRejection(e.errorType):
		// a customer short of points is normal traffic
		return zapcore.InfoLevel
	case e.errorType == "validation_error":
		return zapcore.DebugLevel
	case e.status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

func (e accessEntry) write(log *zap.Logger, fields []zap.Field) {
	if log == nil {
		return
	}
	if ce := log.Check(e.level(), "http_request"); ce != nil {
		ce.Write(fields...)
	}
}

func isBusinessRejection(errorType string) bool {
	switch errorType {
	case "insufficient_balance", "already_claimed", "self_referral", "invalid_code", "rate_limited":
		return true
	}
	return false
}
