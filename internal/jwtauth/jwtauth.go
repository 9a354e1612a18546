// Package jwtauth validates bearer access tokens issued for the OAuth
// endpoint. Tokens are verified against a remote JWKS, a static PEM public
// key, or, when neither is configured, decoded without verification.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification modes reported on Result and to observers.
const (
	ModeJWKS       = "jwks"
	ModePublicKey  = "public_key"
	ModeUnverified = "unverified"
)

// ErrInvalidToken wraps every token rejection.
var ErrInvalidToken = errors.New("jwtauth: invalid token")

// ErrVerificationNotConfigured is returned when a signature is required but no
// key source is configured.
var ErrVerificationNotConfigured = errors.New("jwt verification not configured")

// Config controls how tokens are verified.
type Config struct {
	// JWKSURL is the remote key set. Empty disables JWKS verification.
	JWKSURL string
	// PublicKeyPEM is an inline PEM public key. Literal "\n" sequences are
	// treated as newlines.
	PublicKeyPEM string
	// PublicKeyFile is a PEM file that is watched and reloaded on change.
	PublicKeyFile string

	Issuer      string
	Audiences   []string
	AllowedAlgs []string
	Leeway      time.Duration

	JWKSTimeout  time.Duration
	JWKSCooldown time.Duration
}

// DefaultConfig returns a Config with the fetch timeout and refetch cooldown
// used for remote key sets.
func DefaultConfig() *Config {
	return &Config{
		JWKSTimeout:  5 * time.Second,
		JWKSCooldown: 60 * time.Second,
	}
}

// Options are per-call validation switches.
type Options struct {
	// RequireSignature rejects tokens when no key source is configured
	// instead of falling back to unverified decoding.
	RequireSignature bool
}

// Result is a validated token.
type Result struct {
	Claims     jwt.MapClaims
	Mode       string
	Unverified bool
}

// Subject returns the sub claim, if any.
func (r *Result) Subject() string {
	if r == nil {
		return ""
	}
	sub, _ := r.Claims["sub"].(string)
	return sub
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger used for warnings and key reloads.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.log = l }
}

// WithHTTPClient sets the client used to fetch the JWKS.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) { v.client = c }
}

// WithObserver registers a callback invoked once per validation with the
// mode and outcome ("ok" or "error").
func WithObserver(fn func(mode, outcome string)) Option {
	return func(v *Validator) { v.observe = fn }
}

// Validator validates bearer tokens. It is safe for concurrent use.
type Validator struct {
	cfg     Config
	log     *slog.Logger
	client  *http.Client
	observe func(mode, outcome string)
	now     func() time.Time

	jwks   *remoteKeySet
	static *keyHolder
}

// unverifiedWarning latches the unverified-mode warning for the process.
var unverifiedWarning sync.Once

// New constructs a Validator. When cfg.PublicKeyFile is set the file is
// loaded immediately and watched until ctx is done.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Validator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	v := &Validator{
		cfg:    *cfg,
		log:    slog.Default(),
		client: http.DefaultClient,
		now:    time.Now,
		static: &keyHolder{},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.cfg.JWKSTimeout <= 0 {
		v.cfg.JWKSTimeout = 5 * time.Second
	}
	if v.cfg.JWKSCooldown <= 0 {
		v.cfg.JWKSCooldown = 60 * time.Second
	}

	if v.cfg.JWKSURL != "" {
		v.jwks = newRemoteKeySet(v.cfg.JWKSURL, v.client, v.cfg.JWKSTimeout, v.cfg.JWKSCooldown)
	}

	if v.cfg.PublicKeyPEM != "" {
		key, err := ParsePublicKeyPEM(v.cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("invalid public key: %w", err)
		}
		v.static.set(key)
	}

	if v.cfg.PublicKeyFile != "" {
		if err := watchKeyFile(ctx, v.cfg.PublicKeyFile, v.static, v.log); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// IsJWT reports whether tok has the three-segment shape of a compact JWS.
func IsJWT(tok string) bool {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// Validate verifies tok with the first configured key source: the JWKS, then
// the static public key. Without either it decodes the token unverified and
// checks exp and nbf only, unless opts.RequireSignature is set.
func (v *Validator) Validate(ctx context.Context, tok string, opts Options) (*Result, error) {
	var (
		res  *Result
		err  error
		mode string
	)

	switch {
	case !IsJWT(tok):
		mode = "malformed"
		err = fmt.Errorf("%w: not a jwt", ErrInvalidToken)
	case v.jwks != nil:
		mode = ModeJWKS
		res, err = v.verify(tok, v.jwks.keyfunc(ctx))
	case v.static.get() != nil:
		mode = ModePublicKey
		key := v.static.get()
		res, err = v.verify(tok, func(*jwt.Token) (any, error) { return key, nil })
	case opts.RequireSignature:
		mode = ModeUnverified
		err = ErrVerificationNotConfigured
	default:
		mode = ModeUnverified
		res, err = v.decodeUnverified(tok)
	}

	if res != nil {
		res.Mode = mode
	}
	if v.observe != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		v.observe(mode, outcome)
	}
	return res, err
}

func (v *Validator) verify(tok string, kf jwt.Keyfunc) (*Result, error) {
	popts := []jwt.ParserOption{
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.now),
	}
	if len(v.cfg.AllowedAlgs) > 0 {
		popts = append(popts, jwt.WithValidMethods(v.cfg.AllowedAlgs))
	}
	if v.cfg.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if len(v.cfg.Audiences) == 1 {
		popts = append(popts, jwt.WithAudience(v.cfg.Audiences[0]))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.NewParser(popts...).ParseWithClaims(tok, claims, kf)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token invalid", ErrInvalidToken)
	}
	if len(v.cfg.Audiences) > 1 {
		aud, _ := claims.GetAudience()
		if !audIntersects(aud, v.cfg.Audiences) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
		}
	}
	return &Result{Claims: claims}, nil
}

func (v *Validator) decodeUnverified(tok string) (*Result, error) {
	unverifiedWarning.Do(func() {
		v.log.Warn("jwtauth.unverified",
			slog.String("msg", "no JWKS URL or public key configured; bearer tokens are decoded without signature verification"))
	})

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return nil, fmt.Errorf("%w: token decode failed: %v", ErrInvalidToken, err)
	}

	now := v.now()
	if exp, err := claims.GetExpirationTime(); err != nil {
		return nil, fmt.Errorf("%w: invalid exp: %v", ErrInvalidToken, err)
	} else if exp != nil && !exp.After(now) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}
	if nbf, err := claims.GetNotBefore(); err != nil {
		return nil, fmt.Errorf("%w: invalid nbf: %v", ErrInvalidToken, err)
	} else if nbf != nil && nbf.After(now) {
		return nil, fmt.Errorf("%w: token not active yet", ErrInvalidToken)
	}

	return &Result{Claims: claims, Unverified: true}, nil
}

func audIntersects(got jwt.ClaimStrings, want []string) bool {
	for _, g := range got {
		for _, w := range want {
			if g == w {
				return true
			}
		}
	}
	return false
}
