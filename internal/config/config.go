// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Transport names accepted by MCP_TRANSPORT and --transport.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
)

// env is the raw view of the environment. Numeric and boolean settings are
// decoded as strings so malformed values fall back to defaults instead of
// failing startup.
type env struct {
	Port          string `env:"PORT"`
	Transport     string `env:"MCP_TRANSPORT,default=stdio"`
	DefaultTokens string `env:"DEFAULT_MINIMUM_TOKENS"`

	APIKey  string `env:"DOCFORK_API_KEY"`
	Cabinet string `env:"DOCFORK_CABINET"`
	APIURL  string `env:"DOCFORK_API_URL,default=https://api.docfork.com/v2/mcp"`

	TrustProxy       string `env:"DOCFORK_TRUST_PROXY"`
	TrustProxyLegacy string `env:"TRUST_PROXY"`
	ClientIPKey      string `env:"CLIENT_IP_ENCRYPTION_KEY"`

	JWKSURL          string `env:"DOCFORK_JWT_JWKS_URL,default=https://login.docfork.com/oauth2/jwks"`
	PublicKey        string `env:"DOCFORK_JWT_PUBLIC_KEY"`
	PublicKeyFile    string `env:"DOCFORK_JWT_PUBLIC_KEY_FILE"`
	Issuer           string `env:"DOCFORK_JWT_ISSUER,default=https://login.docfork.com"`
	Audience         string `env:"DOCFORK_JWT_AUDIENCE"`
	Algorithms       string `env:"DOCFORK_JWT_ALGORITHMS"`
	RequireSignature string `env:"DOCFORK_JWT_REQUIRE_SIGNATURE"`
	PublicURL        string `env:"DOCFORK_PUBLIC_URL"`
	OAuthScopes      string `env:"DOCFORK_OAUTH_SCOPES"`
	HTTPTimeout      string `env:"DOCFORK_HTTP_TIMEOUT,default=10s"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
}

// JWT configures bearer token verification on the protected endpoint.
type JWT struct {
	// JWKSURL is empty when remote key sets are disabled.
	JWKSURL          string
	PublicKey        string
	PublicKeyFile    string
	Issuer           string
	Audiences        []string
	Algorithms       []string
	RequireSignature bool
}

// Config is the resolved process configuration.
type Config struct {
	Port          int
	Transport     string
	DefaultTokens int

	APIKey  string
	Cabinet string
	APIURL  string

	TrustProxy  bool
	ClientIPKey string

	JWT         JWT
	PublicURL   string
	OAuthScopes []string
	HTTPTimeout time.Duration
	LogLevel    slog.Level
}

// IsHTTP reports whether the configured transport serves HTTP.
func (c *Config) IsHTTP() bool {
	return c.Transport == TransportStreamableHTTP || c.Transport == TransportSSE
}

// Load reads the environment. Invalid numeric or boolean values are logged
// on log and replaced by their defaults. Only an unknown transport fails.
func Load(log *slog.Logger) (*Config, error) {
	if log == nil {
		log = slog.Default()
	}

	var e env
	if err := envdecode.Decode(&e); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg := &Config{
		Port:          positiveInt(log, "PORT", e.Port, 3000),
		DefaultTokens: positiveInt(log, "DEFAULT_MINIMUM_TOKENS", e.DefaultTokens, 10000),
		APIKey:        strings.TrimSpace(e.APIKey),
		Cabinet:       strings.TrimSpace(e.Cabinet),
		APIURL:        strings.TrimSpace(e.APIURL),
		ClientIPKey:   strings.TrimSpace(e.ClientIPKey),
		PublicURL:     strings.TrimRight(strings.TrimSpace(e.PublicURL), "/"),
		OAuthScopes:   splitList(e.OAuthScopes),
		JWT: JWT{
			PublicKey:        e.PublicKey,
			PublicKeyFile:    strings.TrimSpace(e.PublicKeyFile),
			Issuer:           strings.TrimSpace(e.Issuer),
			Audiences:        splitList(e.Audience),
			Algorithms:       splitList(e.Algorithms),
			RequireSignature: ParseBool(e.RequireSignature, false),
		},
	}

	trust := e.TrustProxy
	if strings.TrimSpace(trust) == "" {
		trust = e.TrustProxyLegacy
	}
	cfg.TrustProxy = ParseBool(trust, true)

	if u := strings.TrimSpace(e.JWKSURL); u != "" && !strings.EqualFold(u, "none") {
		cfg.JWT.JWKSURL = u
	}

	cfg.HTTPTimeout = 10 * time.Second
	if d, err := time.ParseDuration(strings.TrimSpace(e.HTTPTimeout)); err == nil && d > 0 {
		cfg.HTTPTimeout = d
	} else {
		log.Warn("config.invalid", slog.String("key", "DOCFORK_HTTP_TIMEOUT"), slog.String("value", e.HTTPTimeout))
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(e.LogLevel))); err != nil {
		cfg.LogLevel = slog.LevelInfo
		log.Warn("config.invalid", slog.String("key", "LOG_LEVEL"), slog.String("value", e.LogLevel))
	}

	if err := cfg.SetTransport(e.Transport); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetTransport validates and stores name.
func (c *Config) SetTransport(name string) error {
	switch t := strings.ToLower(strings.TrimSpace(name)); t {
	case "", TransportStdio:
		c.Transport = TransportStdio
	case TransportStreamableHTTP, "http":
		c.Transport = TransportStreamableHTTP
	case TransportSSE:
		c.Transport = TransportSSE
	default:
		return fmt.Errorf("unsupported transport %q (want stdio, streamable-http or sse)", name)
	}
	return nil
}

func positiveInt(log *slog.Logger, key, raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Warn("config.invalid", slog.String("key", key), slog.String("value", raw), slog.Int("default", def))
		return def
	}
	return n
}

// ParseBool accepts 1/true/yes/y/on and 0/false/no/n/off in any case.
// Anything else, including the empty string, yields def.
func ParseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

// splitList splits a comma or whitespace separated list.
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
