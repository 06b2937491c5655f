// Package audit records authentication events for users and admins.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/obs"
)

const adminActionPrefix = "admin_"

// ActionName returns the stored action for kind. Admin actions carry the admin_ prefix.
func ActionName(kind auth.Kind, action string) string {
	if kind == auth.KindAdmin && !strings.HasPrefix(action, adminActionPrefix) {
		return adminActionPrefix + action
	}
	return action
}

// Log appends auth events and mirrors them to the structured log and metrics.
type Log struct {
	store    auth.AuthEventStore
	reporter obs.Reporter
	logger   *zap.Logger
	now      func() time.Time
}

// NewLog builds a Log. Nil reporter or logger fall back to no-ops.
func NewLog(store auth.AuthEventStore, reporter obs.Reporter, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = obs.ReporterFunc(func(context.Context, error, ...zap.Field) {})
	}
	return &Log{store: store, reporter: reporter, logger: logger, now: time.Now}
}

// Append writes ev outside any transaction. Failures are reported, never returned.
func (l *Log) Append(ctx context.Context, kind auth.Kind, ev *auth.AuthEvent) {
	if err := l.AppendTx(ctx, l.store, kind, ev); err != nil {
		l.reporter.Report(ctx, fmt.Errorf("append auth event: %w", err),
			zap.String("kind", kind.String()), zap.String("action", ev.Action))
		return
	}
	l.Emit(ctx, kind, ev)
}

// AppendTx writes ev through store, normally a transaction-scoped store.
// Callers emit the event with Emit once the transaction commits.
func (l *Log) AppendTx(ctx context.Context, store auth.AuthEventStore, kind auth.Kind, ev *auth.AuthEvent) error {
	if ev == nil {
		return errors.New("audit: nil event")
	}
	if store == nil {
		return errors.New("audit: no event store")
	}
	ev.Action = ActionName(kind, strings.TrimSpace(ev.Action))
	if ev.Action == "" || ev.Outcome == "" {
		return errors.New("audit: action and outcome are required")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now().UTC()
	}
	return store.Append(ctx, kind, ev)
}

// Emit writes the auth_event log line and bumps auth_events_total.
func (l *Log) Emit(ctx context.Context, kind auth.Kind, ev *auth.AuthEvent) {
	fields := []zap.Field{
		zap.String("kind", kind.String()),
		zap.String("action", ev.Action),
		zap.String("outcome", ev.Outcome),
		zap.String("ip", ev.IPAddress),
	}
	if ev.PrincipalID != nil {
		fields = append(fields, zap.String("principal_id", *ev.PrincipalID))
	}
	if ev.Email != "" {
		fields = append(fields, zap.String("email", ev.Email))
	}
	if ev.Message != "" {
		fields = append(fields, zap.String("message", ev.Message))
	}
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	l.logger.Info("auth_event", fields...)
	obs.AuthEvent(kind.String(), ev.Action, ev.Outcome)
}
