package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	// RunInTx runs fn against a transaction-scoped Store. A nil return commits,
	// any error rolls back every write made through tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Principals() PrincipalStore
	Profiles() ProfileStore
	Permissions() PermissionStore
	AuthEvents() AuthEventStore
	Notifications() NotificationStore
}

// PrincipalStore manages users and admins. Emails are compared lower-cased.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	Find(ctx context.Context, kind Kind, id string) (*Principal, error)
	FindByEmail(ctx context.Context, kind Kind, email string) (*Principal, error)
	EmailTaken(ctx context.Context, kind Kind, email string) (bool, error)
	Update(ctx context.Context, kind Kind, id string, fields PrincipalUpdate) error
	// Upsert creates or refreshes a principal keyed by email; used for provisioning.
	Upsert(ctx context.Context, p *Principal) error
}

// ProfileStore manages user profiles.
type ProfileStore interface {
	Create(ctx context.Context, p *Profile) error
	FindByUser(ctx context.Context, userID string) (*Profile, error)
}

// PermissionStore manages the permission catalog and user grants.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	Grant(ctx context.Context, userID, key string, enabled bool) error
	// Has reports whether both the grant and the permission itself are enabled.
	Has(ctx context.Context, userID, key string) (bool, error)
	EnabledKeys(ctx context.Context, userID string) ([]string, error)
}

// AuthEventStore appends immutable authentication events.
type AuthEventStore interface {
	Append(ctx context.Context, kind Kind, event *AuthEvent) error
}

// NotificationStore appends notification delivery records.
type NotificationStore interface {
	Append(ctx context.Context, kind Kind, rec *NotificationRecord) error
}

// Denylist remembers invalidated token ids until the token would have expired anyway.
type Denylist interface {
	// Revoke returns false when the id was already revoked.
	Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error)
	Revoked(ctx context.Context, tokenID string) (bool, error)
}
