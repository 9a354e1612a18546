package config

import (
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "MCP_TRANSPORT", "DEFAULT_MINIMUM_TOKENS", "DOCFORK_TRUST_PROXY", "TRUST_PROXY", "DOCFORK_JWT_JWKS_URL", "DOCFORK_HTTP_TIMEOUT", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load(discard())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 3000 {
		t.Fatalf("want port 3000, got %d", cfg.Port)
	}
	if cfg.DefaultTokens != 10000 {
		t.Fatalf("want 10000 tokens, got %d", cfg.DefaultTokens)
	}
	if cfg.Transport != TransportStdio || cfg.IsHTTP() {
		t.Fatalf("want stdio, got %q", cfg.Transport)
	}
	if !cfg.TrustProxy {
		t.Fatal("trust proxy should default to true")
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Fatalf("want 10s, got %s", cfg.HTTPTimeout)
	}
	if cfg.JWT.JWKSURL == "" || cfg.JWT.Issuer == "" {
		t.Fatalf("expected default jwks and issuer, got %+v", cfg.JWT)
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("PORT", "abc")
	t.Setenv("DEFAULT_MINIMUM_TOKENS", "-5")

	cfg, err := Load(discard())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 3000 || cfg.DefaultTokens != 10000 {
		t.Fatalf("want defaults, got port=%d tokens=%d", cfg.Port, cfg.DefaultTokens)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("MCP_TRANSPORT", "streamable-http")
	t.Setenv("DOCFORK_TRUST_PROXY", "")
	t.Setenv("TRUST_PROXY", "off")
	t.Setenv("DOCFORK_JWT_JWKS_URL", "none")
	t.Setenv("DOCFORK_JWT_AUDIENCE", "a, b")
	t.Setenv("DOCFORK_JWT_REQUIRE_SIGNATURE", "yes")
	t.Setenv("DOCFORK_PUBLIC_URL", "https://mcp.example.com/")

	cfg, err := Load(discard())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 || !cfg.IsHTTP() {
		t.Fatalf("unexpected %+v", cfg)
	}
	if cfg.TrustProxy {
		t.Fatal("TRUST_PROXY=off should disable trust")
	}
	if cfg.JWT.JWKSURL != "" {
		t.Fatalf("jwks should be disabled, got %q", cfg.JWT.JWKSURL)
	}
	if !slices.Equal(cfg.JWT.Audiences, []string{"a", "b"}) {
		t.Fatalf("audiences %v", cfg.JWT.Audiences)
	}
	if !cfg.JWT.RequireSignature {
		t.Fatal("require signature should be set")
	}
	if cfg.PublicURL != "https://mcp.example.com" {
		t.Fatalf("public url %q", cfg.PublicURL)
	}
}

func TestLoad_UnknownTransport(t *testing.T) {
	t.Setenv("MCP_TRANSPORT", "carrier-pigeon")
	if _, err := Load(discard()); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"1", "TRUE", "yes", "Y", "on"} {
		if !ParseBool(s, false) {
			t.Fatalf("%q should be true", s)
		}
	}
	for _, s := range []string{"0", "False", "no", "n", "OFF"} {
		if ParseBool(s, true) {
			t.Fatalf("%q should be false", s)
		}
	}
	if !ParseBool("maybe", true) || ParseBool("", false) {
		t.Fatal("unrecognised values should yield the default")
	}
}
