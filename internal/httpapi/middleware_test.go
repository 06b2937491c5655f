package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/obs"
)

func TestLoggingEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestID(Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set(requestIDHeader, "req-123")
	req.RemoteAddr = "127.0.0.1:1234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-123" || fields["path"] != "/log-test" || fields["ip"] != "127.0.0.1" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["status"] != int64(http.StatusTeapot) || fields["size"] != int64(2) {
		t.Fatalf("unexpected status/size %v", fields)
	}
	if rr.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("request id not echoed")
	}
}

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = obs.RequestIDFromContext(r.Context())
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rr.Header().Get(requestIDHeader) != seen {
		t.Fatalf("expected generated request id, got %q / %q", seen, rr.Header().Get(requestIDHeader))
	}
}

func TestRecoverReportsPanic(t *testing.T) {
	var reported error
	reporter := obs.ReporterFunc(func(_ context.Context, err error, _ ...zap.Field) { reported = err })
	handler := RequestID(Recover(reporter)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "error" || body["message"] != "Internal server error" || body["request_id"] == "" {
		t.Fatalf("unexpected body %v", body)
	}
	if reported == nil {
		t.Fatalf("expected panic to be reported")
	}
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	handler := CORS([]string{"https://app.example.com"})(ok)
	req := httptest.NewRequest(http.MethodOptions, "/v1/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("unexpected preflight %d %v", rr.Code, rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unlisted origin must not be allowed")
	}

	local := CORS(nil)(ok)
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr = httptest.NewRecorder()
	local.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("localhost must be allowed without a list")
	}
}

func TestClientIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	cases := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"no header", "192.0.2.10:5555", "", "192.0.2.10"},
		{"untrusted peer", "192.0.2.10:5555", "198.51.100.4", "192.0.2.10"},
		{"trusted peer", "10.0.0.2:5555", "198.51.100.4", "198.51.100.4"},
		{"trusted chain", "10.0.0.2:5555", "198.51.100.4, 203.0.113.9, 10.0.0.7", "203.0.113.9"},
		{"trusted peer without header", "10.0.0.2:5555", "", "10.0.0.2"},
		{"garbage hop", "10.0.0.2:5555", "not-an-ip", "10.0.0.2"},
	}
	for _, tc := range cases {
		var got string
		handler := ClientIP(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = clientIP(r)
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.xff != "" {
			req.Header.Set("X-Forwarded-For", tc.xff)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if got != tc.want {
			t.Fatalf("%s: clientIP = %q, want %q", tc.name, got, tc.want)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.4")
	if got := clientIP(req); got != "192.0.2.10" {
		t.Fatalf("without the middleware the peer must be used, got %q", got)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		err    error
	}{
		{"", "", auth.ErrTokenMissing},
		{"Bearer   ", "", auth.ErrTokenMissing},
		{"Basic abc", "", auth.ErrTokenInvalid},
		{"bearer abc.def", "abc.def", nil},
		{"Bearer xyz", "xyz", nil},
	}
	for _, tc := range cases {
		token, err := extractBearerToken(tc.header)
		if !errors.Is(err, tc.err) || token != tc.token {
			t.Fatalf("extractBearerToken(%q) = %q, %v", tc.header, token, err)
		}
	}
}
