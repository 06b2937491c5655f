package authflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/validate"
)

const failedLoginMessage = "Invalid credentials"

// LoginInput is the credential pair presented on login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in *LoginInput) validate() (validate.Fields, error) {
	in.Email = strings.TrimSpace(in.Email)
	return validate.Struct(in,
		validation.Field(&in.Email, validate.Required("email"), validate.Email("email")),
		validation.Field(&in.Password, validate.Required("password"), validate.Min("password", 8)),
	)
}

type loginOutcome int

const (
	loginOK loginOutcome = iota
	loginBadCredentials
	loginInactive
)

// Login verifies credentials, stamps the last login and returns a token.
// Failed attempts are recorded and committed; inactive accounts are not.
func (f *Flow) Login(ctx context.Context, in LoginInput, meta RequestMeta) (TokenResult, error) {
	fields, err := in.validate()
	if err != nil {
		return TokenResult{}, f.internal(ctx, "login", fmt.Errorf("validate: %w", err))
	}
	if len(fields) > 0 {
		return TokenResult{}, &ValidationError{Fields: fields}
	}

	var (
		outcome   loginOutcome
		principal *auth.Principal
		event     *auth.AuthEvent
	)
	err = f.store.RunInTx(ctx, func(ctx context.Context, tx auth.Store) error {
		p, err := tx.Principals().FindByEmail(ctx, f.kind, in.Email)
		if err != nil && !errors.Is(err, auth.ErrNotFound) {
			return fmt.Errorf("find principal: %w", err)
		}
		var ok bool
		if p == nil {
			f.verifyDecoy(in.Password)
		} else {
			ok = f.hasher.Verify(p.PasswordHash, in.Password)
		}
		if !ok {
			outcome = loginBadCredentials
			event = &auth.AuthEvent{
				Email:     in.Email,
				Action:    auth.ActionLogin,
				Outcome:   auth.OutcomeFailed,
				IPAddress: meta.IP,
				UserAgent: meta.UserAgent,
				Message:   failedLoginMessage,
			}
			if err := f.audit.AppendTx(ctx, tx.AuthEvents(), f.kind, event); err != nil {
				return fmt.Errorf("append auth event: %w", err)
			}
			return nil
		}
		if !p.Active() {
			outcome = loginInactive
			return nil
		}

		now := f.now().UTC()
		ip := meta.IP
		if err := tx.Principals().Update(ctx, f.kind, p.ID, auth.PrincipalUpdate{LastLoginAt: &now, LastLoginIP: &ip}); err != nil {
			return fmt.Errorf("update last login: %w", err)
		}
		p.LastLoginAt, p.LastLoginIP = &now, ip
		principal = p
		event = &auth.AuthEvent{
			PrincipalID: &p.ID,
			Email:       p.Email,
			Action:      auth.ActionLogin,
			Outcome:     auth.OutcomeSuccess,
			IPAddress:   meta.IP,
			UserAgent:   meta.UserAgent,
			DeviceInfo:  meta.Device,
		}
		if err := f.audit.AppendTx(ctx, tx.AuthEvents(), f.kind, event); err != nil {
			return fmt.Errorf("append auth event: %w", err)
		}
		outcome = loginOK
		return nil
	})
	if err != nil {
		return TokenResult{}, f.internal(ctx, "login", err)
	}

	switch outcome {
	case loginBadCredentials:
		f.audit.Emit(ctx, f.kind, event)
		return TokenResult{}, ErrInvalidCredentials
	case loginInactive:
		return TokenResult{}, ErrAccountInactive
	}
	f.audit.Emit(ctx, f.kind, event)

	res, err := f.issue(ctx, "login", principal, f.profile.messages.Login)
	if err != nil {
		return TokenResult{}, err
	}
	f.notify(ctx, principal, f.loadProfile(ctx, principal.ID), f.profile.login)
	return res, nil
}
