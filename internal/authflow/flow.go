// Package authflow implements registration, login, profile, logout and refresh
// for one principal kind. Users and admins share this code and differ only in
// their kind profile.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusid/authapi/internal/audit"
	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/notify"
	"github.com/nimbusid/authapi/internal/obs"
)

// TokenIssuer is the subset of *auth.Issuer the workflow needs.
type TokenIssuer interface {
	Issue(kind auth.Kind, subject string) (auth.Token, error)
	Refresh(ctx context.Context, want auth.Kind, raw string) (auth.Token, auth.Identity, error)
	Invalidate(ctx context.Context, raw string) (auth.Identity, error)
	TTL() time.Duration
}

// Notifier is the subset of *notify.Dispatcher the workflow needs.
type Notifier interface {
	EmailEnabled() bool
	Email(ctx context.Context, r notify.Recipient, subject, message string) auth.NotificationRecord
	SMS(ctx context.Context, r notify.Recipient, message string) auth.NotificationRecord
}

// Deps are the collaborators of a Flow. Audit, Notifier, Reporter and Logger are optional.
type Deps struct {
	Store    auth.Store
	Issuer   TokenIssuer
	Hasher   auth.Hasher
	Audit    *audit.Log
	Notifier Notifier
	Reporter obs.Reporter
	Logger   *zap.Logger
}

// Option customises a Flow.
type Option func(*Flow)

// WithClock overrides the time source used for last-login stamps.
func WithClock(fn func() time.Time) Option {
	return func(f *Flow) {
		if fn != nil {
			f.now = fn
		}
	}
}

// RequestMeta describes the client of one request.
type RequestMeta struct {
	IP        string
	UserAgent string
	Device    map[string]any
}

// TokenResult is returned by operations that mint a token.
type TokenResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Message     string `json:"-"`
}

// Account is the authenticated principal with its user-only extensions.
type Account struct {
	*auth.Principal
	Profile     *auth.Profile `json:"profile,omitempty"`
	Permissions []string      `json:"permissions,omitempty"`
}

// Flow runs the authentication workflow for one principal kind.
type Flow struct {
	kind     auth.Kind
	profile  kindProfile
	store    auth.Store
	issuer   TokenIssuer
	hasher   auth.Hasher
	audit    *audit.Log
	notifier Notifier
	reporter obs.Reporter
	logger   *zap.Logger
	now      func() time.Time

	decoyOnce sync.Once
	decoy     string
}

// New builds the workflow for kind.
func New(kind auth.Kind, deps Deps, opts ...Option) (*Flow, error) {
	profile, err := profileFor(kind)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("authflow: store is required")
	}
	if deps.Issuer == nil {
		return nil, errors.New("authflow: token issuer is required")
	}
	if deps.Hasher == nil {
		return nil, errors.New("authflow: hasher is required")
	}
	f := &Flow{
		kind:     kind,
		profile:  profile,
		store:    deps.Store,
		issuer:   deps.Issuer,
		hasher:   deps.Hasher,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		reporter: deps.Reporter,
		logger:   deps.Logger,
		now:      time.Now,
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	if f.reporter == nil {
		f.reporter = obs.NewLogReporter(f.logger)
	}
	if f.audit == nil {
		f.audit = audit.NewLog(deps.Store.AuthEvents(), f.reporter, f.logger)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Kind returns the principal kind served by f.
func (f *Flow) Kind() auth.Kind { return f.kind }

// Messages returns the response messages for f's kind.
func (f *Flow) Messages() Messages { return f.profile.messages }

// CanRegister reports whether self-registration exists for f's kind.
func (f *Flow) CanRegister() bool { return f.profile.register }

func (f *Flow) tokenResult(tok auth.Token, message string) TokenResult {
	return TokenResult{
		AccessToken: tok.Value,
		TokenType:   "bearer",
		ExpiresIn:   int64(f.issuer.TTL() / time.Second),
		Message:     message,
	}
}

// issue mints a token after a committed success. The commit is not undone on failure.
func (f *Flow) issue(ctx context.Context, op string, p *auth.Principal, message string) (TokenResult, error) {
	tok, err := f.issuer.Issue(f.kind, p.ID)
	if err != nil {
		return TokenResult{}, f.internal(ctx, op, fmt.Errorf("issue token: %w", err))
	}
	obs.TokenIssued(f.kind.String())
	return f.tokenResult(tok, message), nil
}

// internal reports err and returns it wrapped in ErrInternal.
func (f *Flow) internal(ctx context.Context, op string, err error) error {
	f.reporter.Report(ctx, err, zap.String("op", op), zap.String("kind", f.kind.String()))
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

// notify sends the post-commit notifications. Email depends on its switch;
// SMS is always attempted so a disabled channel is recorded as failed.
func (f *Flow) notify(ctx context.Context, p *auth.Principal, prof *auth.Profile, n notice) {
	if f.notifier == nil {
		return
	}
	r := notify.Recipient{Kind: f.kind, PrincipalID: p.ID, Email: p.Email}
	if prof != nil {
		r.Phone, r.CountryCode = prof.Phone, prof.CountryCode
	}
	if f.notifier.EmailEnabled() {
		f.notifier.Email(ctx, r, n.subject, n.body)
	}
	f.notifier.SMS(ctx, r, n.sms)
}

// verifyDecoy spends one password verification on a throwaway hash so an
// unknown email costs the same as a wrong password.
func (f *Flow) verifyDecoy(password string) {
	f.decoyOnce.Do(func() {
		hash, err := f.hasher.Hash("authflow-decoy-password")
		if err != nil {
			f.logger.Warn("decoy hash unavailable", zap.Error(err))
			return
		}
		f.decoy = hash
	})
	if f.decoy != "" {
		f.hasher.Verify(f.decoy, password)
	}
}

// loadProfile returns the user's profile or nil. Lookup failures are reported.
func (f *Flow) loadProfile(ctx context.Context, userID string) *auth.Profile {
	if !f.profile.profiles {
		return nil
	}
	prof, err := f.store.Profiles().FindByUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			f.reporter.Report(ctx, fmt.Errorf("load profile: %w", err), zap.String("principal_id", userID))
		}
		return nil
	}
	return prof
}
