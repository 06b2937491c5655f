package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/ids"
)

type principals struct{ s *Store }

type principalRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Email        string         `db:"email"`
	PasswordHash string         `db:"password_hash"`
	Status       string         `db:"status"`
	Role         string         `db:"role"`
	LastLoginAt  sql.NullTime   `db:"last_login_at"`
	LastLoginIP  sql.NullString `db:"last_login_ip"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r principalRow) toPrincipal(kind auth.Kind) *auth.Principal {
	p := &auth.Principal{
		ID:           r.ID,
		Kind:         kind,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Status:       r.Status,
		Role:         r.Role,
		LastLoginIP:  r.LastLoginIP.String,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastLoginAt.Valid {
		t := r.LastLoginAt.Time
		p.LastLoginAt = &t
	}
	return p
}

func selectPrincipal(t kindTables) string {
	role := "''"
	if t.roleColumn {
		role = "coalesce(role, '')"
	}
	return fmt.Sprintf(`
		select id, name, email, password_hash, status, %s as role,
		       last_login_at, last_login_ip, created_at, updated_at
		from %s`, role, t.principals)
}

func (p principals) Find(ctx context.Context, kind auth.Kind, id string) (*auth.Principal, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	var row principalRow
	err = sqlx.GetContext(ctx, p.s.ext, &row, selectPrincipal(t)+` where id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toPrincipal(kind), nil
}

func (p principals) FindByEmail(ctx context.Context, kind auth.Kind, email string) (*auth.Principal, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	var row principalRow
	err = sqlx.GetContext(ctx, p.s.ext, &row, selectPrincipal(t)+` where email = $1`, normalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toPrincipal(kind), nil
}

func (p principals) EmailTaken(ctx context.Context, kind auth.Kind, email string) (bool, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return false, err
	}
	var taken bool
	q := fmt.Sprintf(`select exists(select 1 from %s where email = $1)`, t.principals)
	if err := sqlx.GetContext(ctx, p.s.ext, &taken, q, normalizeEmail(email)); err != nil {
		return false, err
	}
	return taken, nil
}

func (p principals) Create(ctx context.Context, pr *auth.Principal) error {
	t, err := tablesFor(pr.Kind)
	if err != nil {
		return err
	}
	if pr.ID == "" {
		pr.ID = ids.New()
	}
	now := p.s.now().UTC()
	pr.Email = normalizeEmail(pr.Email)
	pr.CreatedAt, pr.UpdatedAt = now, now

	var q string
	args := []any{pr.ID, pr.Name, pr.Email, pr.PasswordHash, pr.Status, now}
	if t.roleColumn {
		q = `insert into admins (id, name, email, password_hash, status, created_at, updated_at, role)
			values ($1, $2, $3, $4, $5, $6, $6, $7)`
		args = append(args, nullIfEmpty(pr.Role))
	} else {
		q = fmt.Sprintf(`insert into %s (id, name, email, password_hash, status, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $6)`, t.principals)
	}
	if _, err := p.s.ext.ExecContext(ctx, q, args...); err != nil {
		if isUniqueViolation(err) {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (p principals) Upsert(ctx context.Context, pr *auth.Principal) error {
	t, err := tablesFor(pr.Kind)
	if err != nil {
		return err
	}
	if pr.ID == "" {
		pr.ID = ids.New()
	}
	now := p.s.now().UTC()
	pr.Email = normalizeEmail(pr.Email)

	cols := "id, name, email, password_hash, status, created_at, updated_at"
	vals := "$1, $2, $3, $4, $5, $6, $6"
	set := "name = excluded.name, password_hash = excluded.password_hash, status = excluded.status, updated_at = excluded.updated_at"
	args := []any{pr.ID, pr.Name, pr.Email, pr.PasswordHash, pr.Status, now}
	if t.roleColumn {
		cols += ", role"
		vals += ", $7"
		set += ", role = excluded.role"
		args = append(args, nullIfEmpty(pr.Role))
	}
	q := fmt.Sprintf(`insert into %s (%s) values (%s)
		on conflict (email) do update set %s
		returning id, created_at, updated_at`, t.principals, cols, vals, set)
	row := p.s.ext.QueryRowxContext(ctx, q, args...)
	return row.Scan(&pr.ID, &pr.CreatedAt, &pr.UpdatedAt)
}

func (p principals) Update(ctx context.Context, kind auth.Kind, id string, fields auth.PrincipalUpdate) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}
	sets := []string{"updated_at = $1"}
	args := []any{p.s.now().UTC()}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if fields.Name != nil {
		add("name", strings.TrimSpace(*fields.Name))
	}
	if fields.Status != nil {
		add("status", *fields.Status)
	}
	if fields.LastLoginAt != nil {
		add("last_login_at", fields.LastLoginAt.UTC())
	}
	if fields.LastLoginIP != nil {
		add("last_login_ip", nullIfEmpty(*fields.LastLoginIP))
	}
	args = append(args, id)
	q := fmt.Sprintf(`update %s set %s where id = $%d`, t.principals, strings.Join(sets, ", "), len(args))
	res, err := p.s.ext.ExecContext(ctx, q, args...)
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

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
