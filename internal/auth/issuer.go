package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuerName = "authapi"
	defaultTTL        = 60 * time.Minute
)

// Claims represents JWT claims minted for users and admins.
type Claims struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// Identity is the result of a successful token validation.
type Identity struct {
	Kind      Kind
	Subject   string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Token is a freshly signed bearer token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer signs and validates HS256 bearer tokens.
type Issuer struct {
	secret   []byte
	name     string
	ttl      time.Duration
	grace    time.Duration
	now      func() time.Time
	denylist Denylist
}

// IssuerOption customises Issuer behaviour.
type IssuerOption func(*Issuer) error

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("issuer name is empty")
		}
		i.name = name
		return nil
	}
}

// WithTTL sets the access token lifetime.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl <= 0 {
			return errors.New("token ttl must be positive")
		}
		i.ttl = ttl
		return nil
	}
}

// WithRefreshGrace lets recently expired tokens be exchanged on refresh.
func WithRefreshGrace(grace time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if grace < 0 {
			return errors.New("refresh grace must not be negative")
		}
		i.grace = grace
		return nil
	}
}

// WithIssuerClock overrides the time source; primarily for tests.
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) error {
		if fn == nil {
			return errors.New("clock is nil")
		}
		i.now = fn
		return nil
	}
}

// WithDenylist replaces the in-memory denylist.
func WithDenylist(d Denylist) IssuerOption {
	return func(i *Issuer) error {
		if d == nil {
			return errors.New("denylist is nil")
		}
		i.denylist = d
		return nil
	}
}

// NewIssuer constructs an Issuer signing with secret.
func NewIssuer(secret string, opts ...IssuerOption) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token secret is not configured")
	}
	i := &Issuer{
		secret: []byte(secret),
		name:   defaultIssuerName,
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	if i.denylist == nil {
		i.denylist = NewMemoryDenylist(i.now)
	}
	return i, nil
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a new token for the given principal.
func (i *Issuer) Issue(kind Kind, subject string) (Token, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return Token{}, err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Token{}, errors.New("subject is required")
	}
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.ttl)
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Validate verifies signature, expiry and revocation of raw.
func (i *Issuer) Validate(ctx context.Context, raw string) (Identity, error) {
	id, err := i.parse(raw, 0)
	if err != nil {
		return Identity{}, err
	}
	if err := i.checkRevoked(ctx, id.TokenID); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Refresh exchanges raw for a new token of the same kind and subject.
// The presented token is invalidated; a second refresh of it fails.
// A non-empty want rejects tokens of another kind before anything is revoked.
func (i *Issuer) Refresh(ctx context.Context, want Kind, raw string) (Token, Identity, error) {
	id, err := i.parse(raw, i.grace)
	if err != nil {
		return Token{}, Identity{}, err
	}
	if want != "" && id.Kind != want {
		return Token{}, Identity{}, ErrTokenInvalid
	}
	fresh, err := i.Issue(id.Kind, id.Subject)
	if err != nil {
		return Token{}, Identity{}, err
	}
	if err := i.revoke(ctx, id, i.grace); err != nil {
		return Token{}, Identity{}, err
	}
	return fresh, id, nil
}

// Invalidate revokes raw so later validations reject it.
func (i *Issuer) Invalidate(ctx context.Context, raw string) (Identity, error) {
	id, err := i.parse(raw, 0)
	if err != nil {
		return Identity{}, err
	}
	// Held past exp for the refresh grace so a logged-out token cannot be refreshed.
	if err := i.revoke(ctx, id, i.grace); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (i *Issuer) revoke(ctx context.Context, id Identity, grace time.Duration) error {
	ok, err := i.denylist.Revoke(ctx, id.TokenID, id.ExpiresAt.Add(grace))
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if !ok {
		return ErrTokenInvalid
	}
	return nil
}

func (i *Issuer) checkRevoked(ctx context.Context, jti string) error {
	revoked, err := i.denylist.Revoked(ctx, jti)
	if err != nil {
		return fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return ErrTokenInvalid
	}
	return nil
}

func (i *Issuer) parse(raw string, leeway time.Duration) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrTokenMissing
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.name),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(i.now),
	)
	var claims Claims
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}
	kind, err := ParseKind(string(claims.Kind))
	if err != nil || strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return Identity{}, ErrTokenInvalid
	}
	id := Identity{
		Kind:      kind,
		Subject:   claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	return id, nil
}
