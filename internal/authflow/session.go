package authflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/obs"
)

// Me returns the account behind a validated identity.
func (f *Flow) Me(ctx context.Context, id auth.Identity) (Account, error) {
	if id.Kind != f.kind {
		return Account{}, auth.ErrTokenInvalid
	}
	p, err := f.store.Principals().Find(ctx, f.kind, id.Subject)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return Account{}, auth.ErrTokenInvalid
		}
		return Account{}, f.internal(ctx, "me", err)
	}
	acct := Account{Principal: p}
	if !f.profile.profiles {
		return acct, nil
	}
	acct.Profile = f.loadProfile(ctx, p.ID)
	keys, err := f.store.Permissions().EnabledKeys(ctx, p.ID)
	if err != nil {
		return Account{}, f.internal(ctx, "me", fmt.Errorf("load permissions: %w", err))
	}
	acct.Permissions = keys
	return acct, nil
}

// Logout records the logout and revokes raw. The audit write is best effort.
func (f *Flow) Logout(ctx context.Context, id auth.Identity, raw string, meta RequestMeta) error {
	subject := id.Subject
	f.audit.Append(ctx, f.kind, &auth.AuthEvent{
		PrincipalID: &subject,
		Action:      auth.ActionLogout,
		Outcome:     auth.OutcomeSuccess,
		IPAddress:   meta.IP,
		UserAgent:   meta.UserAgent,
	})
	if _, err := f.issuer.Invalidate(ctx, raw); err != nil {
		f.logger.Info("logout rejected", zap.String("kind", f.kind.String()), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrLogoutFailed, err)
	}
	return nil
}

// Refresh exchanges raw for a new token of f's kind. The old token stops validating.
func (f *Flow) Refresh(ctx context.Context, raw string) (TokenResult, error) {
	tok, id, err := f.issuer.Refresh(ctx, f.kind, raw)
	if err != nil {
		f.logger.Info("refresh rejected", zap.String("kind", f.kind.String()), zap.Error(err))
		return TokenResult{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	obs.TokenIssued(f.kind.String())
	f.logger.Debug("token refreshed", zap.String("kind", f.kind.String()), zap.String("principal_id", id.Subject))
	return f.tokenResult(tok, f.profile.messages.Refresh), nil
}

// HasPermission reports whether the user holds key with both flags enabled.
// Admins have no permission grants.
func (f *Flow) HasPermission(ctx context.Context, userID, key string) (bool, error) {
	if !f.profile.profiles {
		return false, nil
	}
	ok, err := f.store.Permissions().Has(ctx, userID, key)
	if err != nil {
		return false, fmt.Errorf("check permission %s: %w", key, err)
	}
	return ok, nil
}
