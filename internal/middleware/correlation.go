package middleware

import (
	"encoding/hex"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HeaderCorrelationID is the HTTP header name for correlation IDs.
	HeaderCorrelationID = "X-Correlation-Id"

	// HeaderTraceID is the HTTP header name for trace IDs.
	HeaderTraceID = "X-Trace-Id"

	// CorrelationIDKey is the gin context key for the correlation ID.
	CorrelationIDKey = "correlation_id"

	// TraceIDKey is the gin context key for the trace ID.
	TraceIDKey = "trace_id"

	maxInboundIDLen = 128
)

// CorrelationMiddleware propagates or generates X-Correlation-Id and X-Trace-Id.
// Inbound values longer than 128 bytes or containing anything other than
// printable ASCII are replaced.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderCorrelationID)
		if !validInboundID(correlationID) {
			correlationID = uuid.NewString()
		}

		traceID := c.GetHeader(HeaderTraceID)
		if !validInboundID(traceID) {
			traceID = generateTraceID()
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Set(TraceIDKey, traceID)
		c.Header(HeaderCorrelationID, correlationID)
		c.Header(HeaderTraceID, traceID)

		c.Next()
	}
}

// OTelTraceIDMiddleware replaces the trace ID with the one of the active
// OpenTelemetry span, when there is one. It must run after otelgin and
// CorrelationMiddleware.
func OTelTraceIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		spanCtx := trace.SpanContextFromContext(c.Request.Context())
		if spanCtx.HasTraceID() {
			traceID := spanCtx.TraceID().String()
			c.Set(TraceIDKey, traceID)
			c.Header(HeaderTraceID, traceID)
		}
		c.Next()
	}
}

// RequestLogger returns base annotated with the request's correlation and
// trace IDs.
func RequestLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	logger := base
	if cid := c.GetString(CorrelationIDKey); cid != "" {
		logger = logger.With(slog.String("correlation_id", cid))
	}
	if tid := c.GetString(TraceIDKey); tid != "" {
		logger = logger.With(slog.String("trace_id", tid))
	}
	return logger
}

// generateTraceID produces a 32-character lowercase hex trace ID.
func generateTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func validInboundID(s string) bool {
	if s == "" || len(s) > maxInboundIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
