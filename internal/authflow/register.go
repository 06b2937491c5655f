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

// ProfileInput holds the optional profile fields accepted on registration.
type ProfileInput struct {
	FirstName   string         `json:"first_name"`
	LastName    string         `json:"last_name"`
	Phone       string         `json:"phone"`
	CountryCode string         `json:"country_code"`
	Timezone    string         `json:"timezone"`
	Language    string         `json:"language"`
	Metadata    map[string]any `json:"metadata"`
}

// RegisterInput is the self-registration request.
type RegisterInput struct {
	Name                 string       `json:"name"`
	Email                string       `json:"email"`
	Password             string       `json:"password"`
	PasswordConfirmation string       `json:"password_confirmation"`
	Profile              ProfileInput `json:"profile"`
}

func (in *RegisterInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Profile.Phone = strings.TrimSpace(in.Profile.Phone)
	in.Profile.CountryCode = strings.TrimSpace(in.Profile.CountryCode)
	in.Profile.Language = strings.TrimSpace(in.Profile.Language)
}

// Validate implements validation.Validatable so profile errors nest under "profile".
func (p ProfileInput) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Phone, validate.Max("phone", 32)),
		validation.Field(&p.CountryCode, validate.Max("country_code", 8)),
		validation.Field(&p.Timezone, validate.Max("timezone", 64)),
		validation.Field(&p.Language, validate.Max("language", 8)),
	)
}

func (in *RegisterInput) validate() (validate.Fields, error) {
	return validate.Struct(in,
		validation.Field(&in.Name, validate.Required("name"), validate.Max("name", 255)),
		validation.Field(&in.Email, validate.Required("email"), validate.Email("email"), validate.Max("email", 255)),
		validation.Field(&in.Password,
			validate.Required("password"),
			validate.Min("password", 8),
			validate.Confirmed("password", in.PasswordConfirmation),
		),
		validation.Field(&in.Profile),
	)
}

// Register creates a principal with its profile, records the event and returns a token.
func (f *Flow) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (TokenResult, error) {
	if !f.profile.register {
		return TokenResult{}, ErrRegistrationUnsupported
	}
	in.normalize()
	fields, err := in.validate()
	if err != nil {
		return TokenResult{}, f.internal(ctx, "register", fmt.Errorf("validate: %w", err))
	}
	if len(fields) > 0 {
		// A taken email is reported together with the other field errors.
		if _, bad := fields["email"]; !bad {
			taken, err := f.store.Principals().EmailTaken(ctx, f.kind, strings.ToLower(in.Email))
			if err != nil {
				return TokenResult{}, f.internal(ctx, "register", fmt.Errorf("check email: %w", err))
			}
			if taken {
				fields.Add("email", emailTakenMessage)
			}
		}
		return TokenResult{}, &ValidationError{Fields: fields}
	}
	hash, err := f.hasher.Hash(in.Password)
	if err != nil {
		return TokenResult{}, f.internal(ctx, "register", err)
	}

	principal := &auth.Principal{
		Kind:         f.kind,
		Name:         in.Name,
		Email:        strings.ToLower(in.Email),
		PasswordHash: hash,
		Status:       auth.StatusActive,
	}
	profile := &auth.Profile{
		FirstName:   strings.TrimSpace(in.Profile.FirstName),
		LastName:    strings.TrimSpace(in.Profile.LastName),
		Phone:       in.Profile.Phone,
		CountryCode: in.Profile.CountryCode,
		Timezone:    strings.TrimSpace(in.Profile.Timezone),
		Language:    in.Profile.Language,
		Metadata:    in.Profile.Metadata,
		DeviceInfo:  meta.Device,
	}
	if profile.Language == "" {
		profile.Language = "en"
	}
	var event *auth.AuthEvent

	err = f.store.RunInTx(ctx, func(ctx context.Context, tx auth.Store) error {
		taken, err := tx.Principals().EmailTaken(ctx, f.kind, principal.Email)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if taken {
			return emailTaken()
		}
		if err := tx.Principals().Create(ctx, principal); err != nil {
			if errors.Is(err, auth.ErrAlreadyExists) {
				return emailTaken()
			}
			return fmt.Errorf("create principal: %w", err)
		}
		if f.profile.profiles {
			profile.UserID = principal.ID
			if err := tx.Profiles().Create(ctx, profile); err != nil {
				return fmt.Errorf("create profile: %w", err)
			}
		}
		event = &auth.AuthEvent{
			PrincipalID: &principal.ID,
			Email:       principal.Email,
			Action:      auth.ActionRegister,
			Outcome:     auth.OutcomeSuccess,
			IPAddress:   meta.IP,
			UserAgent:   meta.UserAgent,
			DeviceInfo:  meta.Device,
		}
		if err := f.audit.AppendTx(ctx, tx.AuthEvents(), f.kind, event); err != nil {
			return fmt.Errorf("append auth event: %w", err)
		}
		return nil
	})
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return TokenResult{}, verr
		}
		return TokenResult{}, f.internal(ctx, "register", err)
	}
	f.audit.Emit(ctx, f.kind, event)

	res, err := f.issue(ctx, "register", principal, f.profile.messages.Register)
	if err != nil {
		return TokenResult{}, err
	}
	f.notify(ctx, principal, profile, f.profile.welcome)
	return res, nil
}
