package obs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                      "/",
		"/metrics":              "/metrics",
		"/v1/login":             "/v1/login",
		"/v1/login/":            "/v1/login",
		"/v1/admin/me?x=1":      "/v1/admin/me",
		"/v1/users/01HXYZ":      "unmatched",
		"/wp-admin/install.php": "unmatched",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/v1/login", "401"))

	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/login", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/v1/login", "401"))
	if after != before+1 {
		t.Fatalf("expected counter to grow by 1, got %v -> %v", before, after)
	}
}

func TestLogReporterWritesRequestID(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := NewLogReporter(zap.New(core))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	r.Report(ctx, errors.New("boom"), zap.String("op", "register"))
	r.Report(ctx, nil)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["op"] != "register" || fields["error"] != "boom" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestLevelFromString(t *testing.T) {
	if levelFromString("WARN").String() != "warn" {
		t.Fatalf("expected warn level")
	}
	if levelFromString("bogus").String() != "info" {
		t.Fatalf("expected info fallback")
	}
}
