package pg

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/ids"
)

type permissions struct{ s *Store }

// Ensure inserts missing permissions by key. Existing rows keep their enabled flag.
func (p permissions) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, perm := range perms {
		id := perm.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := p.s.ext.ExecContext(ctx, `
			insert into permissions (id, key, description, enabled, created_at)
			values ($1, $2, $3, $4, $5)
			on conflict (key) do update set description = excluded.description
		`, id, perm.Key, perm.Description, perm.Enabled, p.s.now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

func (p permissions) Grant(ctx context.Context, userID, key string, enabled bool) error {
	res, err := p.s.ext.ExecContext(ctx, `
		insert into permission_user (permission_id, user_id, enabled)
		select id, $2, $3 from permissions where key = $1
		on conflict (permission_id, user_id) do update set enabled = excluded.enabled
	`, key, userID, enabled)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (p permissions) Has(ctx context.Context, userID, key string) (bool, error) {
	var ok bool
	err := sqlx.GetContext(ctx, p.s.ext, &ok, `
		select exists(
			select 1
			from permission_user pu
			join permissions p on p.id = pu.permission_id
			where pu.user_id = $1 and p.key = $2 and pu.enabled and p.enabled
		)
	`, userID, key)
	return ok, err
}

func (p permissions) EnabledKeys(ctx context.Context, userID string) ([]string, error) {
	var keys []string
	err := sqlx.SelectContext(ctx, p.s.ext, &keys, `
		select p.key
		from permission_user pu
		join permissions p on p.id = pu.permission_id
		where pu.user_id = $1 and pu.enabled and p.enabled
		order by p.key
	`, userID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}
