package obs

import (
	"context"

	"go.uber.org/zap"
)

// Reporter is the side channel for unexpected failures that must not reach API callers.
type Reporter interface {
	Report(ctx context.Context, err error, fields ...zap.Field)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, err error, fields ...zap.Field)

// Report implements Reporter.
func (f ReporterFunc) Report(ctx context.Context, err error, fields ...zap.Field) {
	if f == nil || err == nil {
		return
	}
	f(ctx, err, fields...)
}

// LogReporter writes reported errors at error level and counts them.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter returns a Reporter backed by logger.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

// Report implements Reporter.
func (r *LogReporter) Report(ctx context.Context, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	reportedErrors.Inc()
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	r.logger.Error("reported error", append(fields, zap.Error(err))...)
}

type requestIDKey struct{}

// ContextWithRequestID attaches the request identifier used to correlate logs.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request identifier if one was attached.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}
