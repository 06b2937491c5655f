package httpapi

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/authflow"
	"github.com/nimbusid/authapi/internal/obs"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe is a readiness check, typically the database.
type ReadyProbe struct {
	DB      Pinger
	Timeout time.Duration
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	if rp.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rp.Timeout)
		defer cancel()
	}
	return rp.DB.Ping(ctx)
}

// TokenValidator resolves a bearer token to an identity.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (auth.Identity, error)
}

// Options configure the HTTP layer. X-Forwarded-For is believed only from
// peers inside TrustedProxies.
type Options struct {
	Version        string
	MaxBodyBytes   int64
	AllowedOrigins []string
	TrustedProxies []netip.Prefix
	Logger         *zap.Logger
	Reporter       obs.Reporter
}

// API is the HTTP surface for user and admin authentication.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	tokens     TokenValidator
	users      *authflow.Flow
	admins     *authflow.Flow
	opts       Options
	logger     *zap.Logger
	reporter   obs.Reporter
}

// New wires the routes. users and admins must serve their respective kinds.
func New(rp ReadyProbe, tokens TokenValidator, users, admins *authflow.Flow, opts Options) *API {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		tokens:     tokens,
		users:      users,
		admins:     admins,
		opts:       opts,
		logger:     opts.Logger,
		reporter:   opts.Reporter,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.reporter == nil {
		a.reporter = obs.NewLogReporter(a.logger)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.routes("/v1", users)
	a.routes("/v1/admin", admins)

	a.mux.HandleFunc("/", a.fallback)
	return a
}

func (a *API) routes(prefix string, flow *authflow.Flow) {
	if flow == nil {
		return
	}
	h := &flowHandlers{api: a, flow: flow}
	if flow.CanRegister() {
		a.mux.HandleFunc(prefix+"/register", post(h.register))
	}
	a.mux.HandleFunc(prefix+"/login", post(h.login))
	a.mux.HandleFunc(prefix+"/refresh", post(h.refresh))
	a.mux.HandleFunc(prefix+"/me", get(a.requireBearer(flow.Kind(), h.me)))
	a.mux.HandleFunc(prefix+"/logout", post(a.requireBearer(flow.Kind(), h.logout)))
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(a.opts.AllowedOrigins)(h)
	h = SecurityHeaders(h)
	h = Recover(a.reporter)(h)
	h = Logging(a.logger)(h)
	h = ClientIP(a.opts.TrustedProxies)(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authapi",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		a.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) fallback(w http.ResponseWriter, r *http.Request) {
	notFound(w, r)
}

func post(fn http.HandlerFunc) http.HandlerFunc {
	return only(http.MethodPost, fn)
}

func get(fn http.HandlerFunc) http.HandlerFunc {
	return only(http.MethodGet, fn)
}

func only(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			methodNotAllowed(w, r, method)
			return
		}
		fn(w, r)
	}
}
