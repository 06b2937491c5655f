package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nimbusid/authapi/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	msgTokenMissing = "Authentication token not found"
	msgTokenExpired = "Authentication token has expired"
	msgTokenInvalid = "Authentication token is invalid"
)

// requireBearer validates the bearer token and checks it belongs to kind.
// The identity and raw token are stored in the request context.
func (a *API) requireBearer(kind auth.Kind, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.unauthorized(w, r, err)
			return
		}
		id, err := a.tokens.Validate(r.Context(), token)
		if err == nil && id.Kind != kind {
			err = auth.ErrTokenInvalid
		}
		if err != nil {
			a.unauthorized(w, r, err)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next(w, r.WithContext(ctx))
	}
}

func (a *API) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="authapi"`)
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		writeError(w, r, http.StatusUnauthorized, msgTokenMissing)
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, msgTokenExpired)
	case errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, r, http.StatusUnauthorized, msgTokenInvalid)
	default:
		a.reporter.Report(r.Context(), err, zap.String("path", r.URL.Path))
		writeError(w, r, http.StatusInternalServerError, msgInternal)
	}
}

// extractBearerToken returns auth.ErrTokenMissing for an absent header and
// auth.ErrTokenInvalid for a header that is not a bearer credential.
func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" || strings.EqualFold(header, strings.TrimSpace(bearer)) {
		return "", auth.ErrTokenMissing
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", auth.ErrTokenInvalid
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", auth.ErrTokenMissing
	}
	return token, nil
}
