package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/authflow"
)

type deviceRequest struct {
	Device map[string]any `json:"device"`
}

type registerRequest struct {
	authflow.RegisterInput
	deviceRequest
}

type loginRequest struct {
	authflow.LoginInput
	deviceRequest
}

// flowHandlers serves one principal kind.
type flowHandlers struct {
	api  *API
	flow *authflow.Flow
}

func (h *flowHandlers) meta(r *http.Request, device map[string]any) authflow.RequestMeta {
	return authflow.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Device:    device,
	}
}

func (h *flowHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	res, err := h.flow.Register(r.Context(), req.RegisterInput, h.meta(r, req.Device))
	if err != nil {
		h.fail(w, r, err, h.flow.Messages().RegisterFailed)
		return
	}
	respondSuccess(w, res.Message, res)
}

func (h *flowHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	res, err := h.flow.Login(r.Context(), req.LoginInput, h.meta(r, req.Device))
	if err != nil {
		h.fail(w, r, err, h.flow.Messages().LoginFailed)
		return
	}
	respondSuccess(w, res.Message, res)
}

func (h *flowHandlers) me(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	acct, err := h.flow.Me(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			h.api.unauthorized(w, r, err)
			return
		}
		h.fail(w, r, err, msgInternal)
		return
	}
	respondSuccess(w, h.flow.Messages().Me, acct)
}

func (h *flowHandlers) logout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	token, _ := auth.TokenFromContext(r.Context())
	if err := h.flow.Logout(r.Context(), id, token, h.meta(r, nil)); err != nil {
		h.fail(w, r, err, h.flow.Messages().LogoutFailed)
		return
	}
	respondSuccess(w, h.flow.Messages().Logout, nil)
}

// refresh reads the bearer token itself. Token faults get the same 401
// reasons as the bearer middleware; anything else is "Token refresh failed".
func (h *flowHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		h.api.unauthorized(w, r, err)
		return
	}
	res, err := h.flow.Refresh(r.Context(), token)
	if err != nil {
		if isTokenError(err) {
			h.api.unauthorized(w, r, err)
			return
		}
		h.api.reporter.Report(r.Context(), err, zap.String("kind", h.flow.Kind().String()), zap.String("op", "refresh"))
		writeError(w, r, http.StatusUnauthorized, h.flow.Messages().RefreshFailed)
		return
	}
	respondSuccess(w, res.Message, res)
}

func isTokenError(err error) bool {
	return errors.Is(err, auth.ErrTokenMissing) || errors.Is(err, auth.ErrTokenExpired) || errors.Is(err, auth.ErrTokenInvalid)
}

// fail maps workflow errors to responses. fallback is the 500 message.
func (h *flowHandlers) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	msgs := h.flow.Messages()
	var verr *authflow.ValidationError
	switch {
	case errors.As(err, &verr):
		writeFieldErrors(w, r, http.StatusUnprocessableEntity, msgValidation, verr.Fields)
	case errors.Is(err, authflow.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, msgs.InvalidCredentials)
	case errors.Is(err, authflow.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, msgs.AccountInactive)
	case errors.Is(err, authflow.ErrLogoutFailed):
		writeError(w, r, http.StatusUnauthorized, msgs.LogoutFailed)
	case errors.Is(err, authflow.ErrRefreshFailed):
		writeError(w, r, http.StatusUnauthorized, msgs.RefreshFailed)
	case errors.Is(err, authflow.ErrRegistrationUnsupported):
		notFound(w, r)
	default:
		// Internal causes are already reported by the workflow.
		writeError(w, r, http.StatusInternalServerError, fallback)
	}
}
