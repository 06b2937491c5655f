package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/authflow"
	"github.com/nimbusid/authapi/internal/authtest"
	"github.com/nimbusid/authapi/internal/notify"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *authtest.Store
	issuer  *auth.Issuer
	clock   *testClock
}

type envelope struct {
	Status    string              `json:"status"`
	Message   string              `json:"message"`
	Data      json.RawMessage     `json:"data"`
	Errors    map[string][]string `json:"errors"`
	RequestID string              `json:"request_id"`
}

type tokenPayload struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestAPI(t *testing.T, probe ReadyProbe) *apiClient {
	t.Helper()
	return newTestAPIWithOptions(t, probe, Options{Version: "test", MaxBodyBytes: 1 << 10})
}

func newTestAPIWithOptions(t *testing.T, probe ReadyProbe, opts Options) *apiClient {
	t.Helper()
	clock := &testClock{t: time.Now().UTC().Truncate(time.Second)}
	store := authtest.NewStore()
	store.SetClock(clock.Now)
	issuer, err := auth.NewIssuer("test-secret", auth.WithTTL(time.Hour), auth.WithIssuerClock(clock.Now))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	deps := authflow.Deps{
		Store:    store,
		Issuer:   issuer,
		Hasher:   auth.BcryptHasher{Cost: bcrypt.MinCost},
		Notifier: notify.NewDispatcher(store.Notifications(), notify.LogMailer{Logger: zap.NewNop()}, nil, notify.Channels{}),
	}
	users, err := authflow.New(auth.KindUser, deps, authflow.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("user flow: %v", err)
	}
	admins, err := authflow.New(auth.KindAdmin, deps, authflow.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("admin flow: %v", err)
	}

	api := New(probe, issuer, users, admins, opts)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t, store: store, issuer: issuer, clock: clock}
}

func (c *apiClient) do(method, path string, body []byte, token string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	req.Header.Set("User-Agent", "httpapi-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	return c.do(http.MethodPost, path, payload, token)
}

func (c *apiClient) get(path, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, token)
}

func (c *apiClient) addPrincipal(kind auth.Kind, email, password, status string) auth.Principal {
	c.t.Helper()
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	if err != nil {
		c.t.Fatalf("hash: %v", err)
	}
	return c.store.AddPrincipal(auth.Principal{Kind: kind, Name: "Test", Email: email, PasswordHash: hash, Status: status})
}

func (c *apiClient) login(path, email, password string) string {
	c.t.Helper()
	resp := c.post(path, map[string]any{"email": email, "password": password}, "")
	env := decode[envelope](c.t, resp)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login status %d: %+v", resp.StatusCode, env)
	}
	var tok tokenPayload
	if err := json.Unmarshal(env.Data, &tok); err != nil {
		c.t.Fatalf("decode token: %v", err)
	}
	return tok.AccessToken
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectError(t *testing.T, resp *http.Response, code int, message string) envelope {
	t.Helper()
	env := decode[envelope](t, resp)
	if resp.StatusCode != code {
		t.Fatalf("expected %d, got %d (%+v)", code, resp.StatusCode, env)
	}
	if env.Status != "error" || env.Message != message {
		t.Fatalf("expected error %q, got %+v", message, env)
	}
	return env
}

func TestRegisterLoginMeFlow(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})

	resp := api.post("/v1/register", map[string]any{
		"name":                  "Jane",
		"email":                 "jane@example.com",
		"password":              "secret123",
		"password_confirmation": "secret123",
		"device":                map[string]any{"platform": "ios"},
		"profile":               map[string]any{"timezone": "Asia/Dhaka"},
		"unknown_field":         true,
	}, "")
	env := decode[envelope](t, resp)
	if resp.StatusCode != http.StatusOK || env.Status != "success" || env.Message != "Registration successful" {
		t.Fatalf("unexpected register response %d %+v", resp.StatusCode, env)
	}
	var tok tokenPayload
	if err := json.Unmarshal(env.Data, &tok); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if tok.TokenType != "bearer" || tok.ExpiresIn != 3600 || tok.AccessToken == "" {
		t.Fatalf("unexpected token payload %+v", tok)
	}
	events := api.store.Events(auth.KindUser)
	if len(events) != 1 || events[0].UserAgent != "httpapi-test" {
		t.Fatalf("unexpected register event %+v", events)
	}
	// The test client sends X-Forwarded-For from an untrusted peer.
	if addr, err := netip.ParseAddr(events[0].IPAddress); err != nil || !addr.IsLoopback() {
		t.Fatalf("expected the loopback peer address, got %q", events[0].IPAddress)
	}

	resp = api.get("/v1/me", tok.AccessToken)
	env = decode[envelope](t, resp)
	if resp.StatusCode != http.StatusOK || env.Message != "User profile retrieved" {
		t.Fatalf("unexpected me response %d %+v", resp.StatusCode, env)
	}
	var me map[string]any
	if err := json.Unmarshal(env.Data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me["email"] != "jane@example.com" {
		t.Fatalf("unexpected me payload %v", me)
	}
	if _, leaked := me["password_hash"]; leaked {
		t.Fatalf("password hash must not be serialised")
	}
	profile, _ := me["profile"].(map[string]any)
	if profile["timezone"] != "Asia/Dhaka" || profile["language"] != "en" {
		t.Fatalf("unexpected profile %v", profile)
	}

	token := api.login("/v1/login", "jane@example.com", "secret123")
	if token == "" {
		t.Fatalf("expected login token")
	}
}

func TestRegisterValidationErrors(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	api.addPrincipal(auth.KindUser, "taken@example.com", "secret123", auth.StatusActive)

	resp := api.post("/v1/register", map[string]any{
		"name":                  "Taken",
		"email":                 "taken@example.com",
		"password":              "secret123",
		"password_confirmation": "secret123",
	}, "")
	env := expectError(t, resp, http.StatusUnprocessableEntity, "Validation error")
	if got := env.Errors["email"]; len(got) != 1 || got[0] != "The email has already been taken." {
		t.Fatalf("unexpected errors %v", env.Errors)
	}

	resp = api.post("/v1/register", map[string]any{"email": "nope"}, "")
	env = expectError(t, resp, http.StatusUnprocessableEntity, "Validation error")
	for _, field := range []string{"name", "email", "password"} {
		if len(env.Errors[field]) == 0 {
			t.Fatalf("expected %s error, got %v", field, env.Errors)
		}
	}
}

func TestMalformedBodies(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})

	resp := api.do(http.MethodPost, "/v1/login", []byte(`{"email":`), "")
	env := expectError(t, resp, http.StatusUnprocessableEntity, "Validation error")
	if len(env.Errors["body"]) == 0 {
		t.Fatalf("expected body error, got %v", env.Errors)
	}

	big := []byte(`{"email":"` + strings.Repeat("a", 2048) + `"}`)
	resp = api.do(http.MethodPost, "/v1/login", big, "")
	env = expectError(t, resp, http.StatusUnprocessableEntity, "Validation error")
	if env.Errors["body"][0] != "request body is too large" {
		t.Fatalf("unexpected body error %v", env.Errors)
	}
}

func TestLoginFailures(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	api.addPrincipal(auth.KindUser, "user@example.com", "password", auth.StatusActive)
	api.addPrincipal(auth.KindUser, "idle@example.com", "password", "inactive")

	resp := api.post("/v1/login", map[string]any{"email": "user@example.com", "password": "badpassword"}, "")
	expectError(t, resp, http.StatusUnauthorized, "Invalid email or password")

	resp = api.post("/v1/login", map[string]any{"email": "idle@example.com", "password": "password"}, "")
	expectError(t, resp, http.StatusForbidden, "Account is not active")

	events := api.store.Events(auth.KindUser)
	if len(events) != 1 || events[0].Outcome != auth.OutcomeFailed || events[0].PrincipalID != nil {
		t.Fatalf("expected exactly one failed event, got %+v", events)
	}
}

func TestLoginInternalFailure(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	api.addPrincipal(auth.KindAdmin, "admin@example.com", "password123", auth.StatusActive)
	api.store.FailOn(authtest.OpAuthEventAppend, errors.New("db gone"))

	resp := api.post("/v1/admin/login", map[string]any{"email": "admin@example.com", "password": "password123"}, "")
	expectError(t, resp, http.StatusInternalServerError, "Admin login failed")
}

func TestBearerFailures(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	api.addPrincipal(auth.KindUser, "user@example.com", "password", auth.StatusActive)
	api.addPrincipal(auth.KindAdmin, "admin@example.com", "password123", auth.StatusActive)
	userToken := api.login("/v1/login", "user@example.com", "password")
	adminToken := api.login("/v1/admin/login", "admin@example.com", "password123")

	resp := api.get("/v1/me", "")
	expectError(t, resp, http.StatusUnauthorized, "Authentication token not found")

	resp = api.get("/v1/me", "garbage.token.value")
	expectError(t, resp, http.StatusUnauthorized, "Authentication token is invalid")

	resp = api.get("/v1/me", adminToken)
	expectError(t, resp, http.StatusUnauthorized, "Authentication token is invalid")

	resp = api.get("/v1/admin/me", userToken)
	expectError(t, resp, http.StatusUnauthorized, "Authentication token is invalid")

	resp = api.get("/v1/admin/me", adminToken)
	env := decode[envelope](t, resp)
	if resp.StatusCode != http.StatusOK || env.Message != "Admin profile retrieved" {
		t.Fatalf("unexpected admin me %d %+v", resp.StatusCode, env)
	}

	api.clock.Advance(2 * time.Hour)
	resp = api.get("/v1/me", userToken)
	expectError(t, resp, http.StatusUnauthorized, "Authentication token has expired")
}

func TestRefreshAndLogout(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	api.addPrincipal(auth.KindUser, "user@example.com", "password", auth.StatusActive)
	token := api.login("/v1/login", "user@example.com", "password")

	resp := api.post("/v1/refresh", nil, token)
	env := decode[envelope](t, resp)
	if resp.StatusCode != http.StatusOK || env.Message != "Token refreshed successfully" {
		t.Fatalf("unexpected refresh %d %+v", resp.StatusCode, env)
	}
	var fresh tokenPayload
	if err := json.Unmarshal(env.Data, &fresh); err != nil {
		t.Fatalf("decode token: %v", err)
	}

	resp = api.post("/v1/refresh", nil, token)
	expectError(t, resp, http.StatusUnauthorized, "Authentication token is invalid")

	resp = api.get("/v1/me", token)
	expectError(t, resp, http.StatusUnauthorized, "Authentication token is invalid")

	resp = api.post("/v1/logout", nil, fresh.AccessToken)
	env = decode[envelope](t, resp)
	if resp.StatusCode != http.StatusOK || env.Message != "Successfully logged out" {
		t.Fatalf("unexpected logout %d %+v", resp.StatusCode, env)
	}
	resp = api.get("/v1/me", fresh.AccessToken)
	expectError(t, resp, http.StatusUnauthorized, "Authentication token is invalid")
}

func TestRefreshTokenFailures(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	api.addPrincipal(auth.KindUser, "user@example.com", "password", auth.StatusActive)
	api.addPrincipal(auth.KindAdmin, "admin@example.com", "password123", auth.StatusActive)
	userToken := api.login("/v1/login", "user@example.com", "password")
	adminToken := api.login("/v1/admin/login", "admin@example.com", "password123")

	resp := api.post("/v1/refresh", nil, "")
	expectError(t, resp, http.StatusUnauthorized, "Authentication token not found")

	resp = api.post("/v1/refresh", nil, "garbage.token.value")
	expectError(t, resp, http.StatusUnauthorized, "Authentication token is invalid")

	resp = api.post("/v1/refresh", nil, adminToken)
	expectError(t, resp, http.StatusUnauthorized, "Authentication token is invalid")

	api.clock.Advance(2 * time.Hour)
	resp = api.post("/v1/refresh", nil, userToken)
	env := expectError(t, resp, http.StatusUnauthorized, "Authentication token has expired")
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected a bearer challenge, got %+v", env)
	}
}

func TestRefreshDenylistFailure(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	api.addPrincipal(auth.KindUser, "user@example.com", "password", auth.StatusActive)
	token := api.login("/v1/login", "user@example.com", "password")

	failing, err := auth.NewIssuer("test-secret", auth.WithTTL(time.Hour), auth.WithIssuerClock(api.clock.Now),
		auth.WithDenylist(brokenDenylist{}))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	users, err := authflow.New(auth.KindUser, authflow.Deps{Store: api.store, Issuer: failing, Hasher: auth.BcryptHasher{Cost: bcrypt.MinCost}})
	if err != nil {
		t.Fatalf("user flow: %v", err)
	}
	srv := httptest.NewServer(New(ReadyProbe{}, failing, users, nil, Options{}).Handler())
	t.Cleanup(srv.Close)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	expectError(t, resp, http.StatusUnauthorized, "Token refresh failed")
}

func TestForwardedForFromTrustedProxy(t *testing.T) {
	api := newTestAPIWithOptions(t, ReadyProbe{}, Options{
		TrustedProxies: []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8"), netip.MustParsePrefix("::1/128"), netip.MustParsePrefix("10.0.0.0/8")},
	})
	api.addPrincipal(auth.KindUser, "user@example.com", "password", auth.StatusActive)
	api.login("/v1/login", "user@example.com", "password")

	principals := api.store.PrincipalList(auth.KindUser)
	if len(principals) != 1 || principals[0].LastLoginIP != "198.51.100.4" {
		t.Fatalf("expected forwarded client address, got %+v", principals)
	}
}

func TestForwardedForFromUntrustedPeerIgnored(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	api.addPrincipal(auth.KindUser, "user@example.com", "password", auth.StatusActive)
	api.login("/v1/login", "user@example.com", "password")

	principals := api.store.PrincipalList(auth.KindUser)
	if len(principals) != 1 || principals[0].LastLoginIP == "198.51.100.4" {
		t.Fatalf("forwarded address from an untrusted peer must be ignored, got %+v", principals)
	}
	if addr, err := netip.ParseAddr(principals[0].LastLoginIP); err != nil || !addr.IsLoopback() {
		t.Fatalf("expected the peer address, got %q", principals[0].LastLoginIP)
	}
}

type brokenDenylist struct{}

func (brokenDenylist) Revoke(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("denylist unavailable")
}

func (brokenDenylist) Revoked(context.Context, string) (bool, error) { return false, nil }

func TestRoutingFallbacks(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})

	resp := api.get("/v1/nowhere", "")
	expectError(t, resp, http.StatusNotFound, "Resource not found")

	resp = api.post("/v1/admin/register", map[string]any{}, "")
	expectError(t, resp, http.StatusNotFound, "Resource not found")

	resp = api.get("/v1/login", "")
	if allow := resp.Header.Get("Allow"); allow != http.MethodPost {
		t.Fatalf("unexpected Allow header %q", allow)
	}
	expectError(t, resp, http.StatusMethodNotAllowed, "Method not allowed")

	resp = api.post("/v1/me", nil, "")
	expectError(t, resp, http.StatusMethodNotAllowed, "Method not allowed")
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t, ReadyProbe{})
	resp := api.get("/healthz", "")
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected healthz %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}

	down := newTestAPI(t, ReadyProbe{DB: pingFunc(func(context.Context) error { return errors.New("db down") })})
	resp = down.get("/readyz", "")
	body = decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable || body["status"] != "not_ready" {
		t.Fatalf("unexpected readyz %d %v", resp.StatusCode, body)
	}
}
