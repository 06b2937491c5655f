package authflow

import (
	"errors"
	"strings"

	"github.com/nimbusid/authapi/internal/validate"
)

var (
	ErrInvalidCredentials      = errors.New("authflow: invalid credentials")
	ErrAccountInactive         = errors.New("authflow: account is not active")
	ErrRegistrationUnsupported = errors.New("authflow: registration is not supported for this principal kind")
	ErrLogoutFailed            = errors.New("authflow: logout failed")
	ErrRefreshFailed           = errors.New("authflow: token refresh failed")
	ErrInternal                = errors.New("authflow: internal failure")
)

const emailTakenMessage = "The email has already been taken."

// ValidationError carries per-field messages for a rejected request.
type ValidationError struct {
	Fields validate.Fields
}

func (e *ValidationError) Error() string {
	return "authflow: validation failed: " + strings.Join(e.Fields.Keys(), ", ")
}

func emailTaken() *ValidationError {
	return &ValidationError{Fields: validate.Fields{"email": {emailTakenMessage}}}
}
