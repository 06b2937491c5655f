package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "  s3cret ")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTP.Addr)
	}
	if cfg.Token.TTL != time.Hour {
		t.Fatalf("unexpected ttl %s", cfg.Token.TTL)
	}
	if cfg.Token.Secret != "s3cret" {
		t.Fatalf("secret not trimmed: %q", cfg.Token.Secret)
	}
	if cfg.Services.EmailEnabled || cfg.Services.SMSEnabled {
		t.Fatalf("notification channels should default to disabled")
	}
	if cfg.Services.SMSRegion != "BD" || cfg.Token.PurgeInterval != 10*time.Minute {
		t.Fatalf("unexpected defaults: region %q purge %s", cfg.Services.SMSRegion, cfg.Token.PurgeInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "JWT_SECRET=from-file\nSERVICES_SMS_ENABLED=true\nJWT_TTL=15m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("SERVICES_SMS_ENABLED")
		os.Unsetenv("JWT_TTL")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Token.Secret != "from-file" || !cfg.Services.SMSEnabled || cfg.Token.TTL != 15*time.Minute {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestValidateRequiresSecret(t *testing.T) {
	cfg := Config{Token: Token{TTL: time.Minute}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing secret error")
	}
	cfg.Token.Secret = "x"
	cfg.Token.TTL = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected ttl error")
	}
}

func TestListSettingsSplitOnComma(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("HTTP_TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.0/24")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %q", cfg.HTTP.AllowedOrigins)
	}
	if len(cfg.HTTP.TrustedProxies) != 2 || !cfg.HTTP.TrustedProxies[0].Contains(netip.MustParseAddr("10.1.2.3")) {
		t.Fatalf("unexpected trusted proxies %v", cfg.HTTP.TrustedProxies)
	}
}

func TestTrustedProxiesRejectsBadCIDR(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("HTTP_TRUSTED_PROXIES", "10.0.0.0/99")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected parse error for an invalid CIDR")
	}
}
