// Package pg implements the credential store on PostgreSQL through sqlx and the pgx driver.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/nimbusid/authapi/internal/auth"
)

const pgErrUniqueViolation = "23505"

var _ auth.Store = (*Store)(nil)

// Pool tunes the underlying connection pool.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the Postgres-backed auth.Store. A Store returned to a RunInTx
// callback routes every query through the transaction.
type Store struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
	now func() time.Time
}

// Open connects with the pgx stdlib driver and applies pool settings.
func Open(dsn string, pool Pool) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, ext: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sqlx.DB { return s.db }

// Ping verifies connectivity; used by readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// RunInTx implements auth.Store. Nested calls reuse the open transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx auth.Store) error) error {
	if _, ok := s.ext.(*sqlx.Tx); ok {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &Store{db: s.db, ext: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Principals() auth.PrincipalStore       { return principals{s} }
func (s *Store) Profiles() auth.ProfileStore           { return profiles{s} }
func (s *Store) Permissions() auth.PermissionStore     { return permissions{s} }
func (s *Store) AuthEvents() auth.AuthEventStore       { return authEvents{s} }
func (s *Store) Notifications() auth.NotificationStore { return notifications{s} }

// RevokedTokens returns the persistent token denylist.
func (s *Store) RevokedTokens() *RevokedTokens { return &RevokedTokens{s: s} }

// kindTables names the tables backing one principal kind.
type kindTables struct {
	principals    string
	authLogs      string
	notifications string
	owner         string
	roleColumn    bool
}

func tablesFor(kind auth.Kind) (kindTables, error) {
	switch kind {
	case auth.KindUser:
		return kindTables{
			principals:    "users",
			authLogs:      "auth_logs",
			notifications: "notification_logs",
			owner:         "user_id",
		}, nil
	case auth.KindAdmin:
		return kindTables{
			principals:    "admins",
			authLogs:      "auth_log_admins",
			notifications: "notification_log_admins",
			owner:         "admin_id",
			roleColumn:    true,
		}, nil
	default:
		return kindTables{}, fmt.Errorf("pg: unknown principal kind %q", kind)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func encodeJSON(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return b, nil
}

func decodeJSON(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return out, nil
}
