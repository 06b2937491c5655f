package pg

import (
	"context"
	"fmt"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/ids"
)

type authEvents struct{ s *Store }

func (a authEvents) Append(ctx context.Context, kind auth.Kind, ev *auth.AuthEvent) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}
	device, err := encodeJSON(ev.DeviceInfo)
	if err != nil {
		return err
	}
	loc, err := encodeJSON(ev.Location)
	if err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = a.s.now().UTC()
	}
	q := fmt.Sprintf(`
		insert into %s (id, %s, email, action, status, ip_address, user_agent, device_info, location, message, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.authLogs, t.owner)
	_, err = a.s.ext.ExecContext(ctx, q,
		ev.ID, ev.PrincipalID, nullIfEmpty(ev.Email), ev.Action, ev.Outcome,
		nullIfEmpty(ev.IPAddress), nullIfEmpty(ev.UserAgent), device, loc, nullIfEmpty(ev.Message), ev.CreatedAt,
	)
	return err
}

type notifications struct{ s *Store }

func (n notifications) Append(ctx context.Context, kind auth.Kind, rec *auth.NotificationRecord) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = n.s.now().UTC()
	}
	q := fmt.Sprintf(`
		insert into %s (id, %s, channel, recipient, subject, message, status, provider_response, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.notifications, t.owner)
	_, err = n.s.ext.ExecContext(ctx, q,
		rec.ID, rec.PrincipalID, rec.Channel, nullIfEmpty(rec.To), nullIfEmpty(rec.Subject),
		rec.Message, rec.Status, nullIfEmpty(rec.ProviderResponse), rec.CreatedAt,
	)
	return err
}
