package pg

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nimbusid/authapi/internal/auth"
)

var _ auth.Denylist = (*RevokedTokens)(nil)

// RevokedTokens persists invalidated token ids in revoked_tokens.
type RevokedTokens struct {
	s *Store
}

// Revoke inserts the id; only the first caller for a given id gets true.
func (r *RevokedTokens) Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	res, err := r.s.ext.ExecContext(ctx, `
		insert into revoked_tokens (jti, expires_at, created_at)
		values ($1, $2, $3)
		on conflict (jti) do nothing
	`, tokenID, until.UTC(), r.s.now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RevokedTokens) Revoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := sqlx.GetContext(ctx, r.s.ext, &revoked,
		`select exists(select 1 from revoked_tokens where jti = $1 and expires_at > $2)`,
		tokenID, r.s.now().UTC())
	return revoked, err
}

// Purge deletes entries whose tokens have expired.
func (r *RevokedTokens) Purge(ctx context.Context) (int64, error) {
	res, err := r.s.ext.ExecContext(ctx, `delete from revoked_tokens where expires_at <= $1`, r.s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
