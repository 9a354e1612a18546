package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

type jwksServer struct {
	srv     *httptest.Server
	fetches atomic.Int32
	fail    atomic.Bool

	mu   sync.Mutex
	keys []jose.JSONWebKey
}

func newJWKSServer(t *testing.T, keys ...jose.JSONWebKey) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: keys}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		if s.fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		s.mu.Lock()
		set := struct {
			Keys []jose.JSONWebKey `json:"keys"`
		}{Keys: append([]jose.JSONWebKey(nil), s.keys...)}
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *jwksServer) add(k jose.JSONWebKey) {
	s.mu.Lock()
	s.keys = append(s.keys, k)
	s.mu.Unlock()
}

func genRSA(t *testing.T, kid string) (*rsa.PrivateKey, jose.JSONWebKey) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	return pk, jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
}

func publicPEM(t *testing.T, pk *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&pk.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func hmacToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("irrelevant"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func newValidator(t *testing.T, cfg *Config) *Validator {
	t.Helper()
	v, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func TestIsJWT(t *testing.T) {
	cases := map[string]bool{
		"a.b.c":          true,
		"a.b.":           false,
		".b.c":           false,
		"a..c":           false,
		"abc":            false,
		"a.b.c.d":        false,
		"dfk_live_12345": false,
	}
	for in, want := range cases {
		if got := IsJWT(in); got != want {
			t.Errorf("IsJWT(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestValidate_UnverifiedValid(t *testing.T) {
	v := newValidator(t, DefaultConfig())
	tok := hmacToken(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()})

	res, err := v.Validate(context.Background(), tok, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Unverified || res.Mode != ModeUnverified {
		t.Fatalf("expected unverified result, got %+v", res)
	}
	if res.Subject() != "user-1" {
		t.Fatalf("subject = %q", res.Subject())
	}
}

func TestValidate_UnverifiedExpired(t *testing.T) {
	v := newValidator(t, DefaultConfig())
	tok := hmacToken(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Minute).Unix()})

	_, err := v.Validate(context.Background(), tok, Options{})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if !strings.Contains(err.Error(), "token expired") {
		t.Fatalf("expected expiry message, got %v", err)
	}
}

func TestValidate_UnverifiedNotYetActive(t *testing.T) {
	v := newValidator(t, DefaultConfig())
	tok := hmacToken(t, jwt.MapClaims{"nbf": time.Now().Add(time.Hour).Unix()})

	_, err := v.Validate(context.Background(), tok, Options{})
	if err == nil || !strings.Contains(err.Error(), "token not active yet") {
		t.Fatalf("expected not-active error, got %v", err)
	}
}

func TestValidate_RequireSignatureWithoutKeys(t *testing.T) {
	v := newValidator(t, DefaultConfig())
	tok := hmacToken(t, jwt.MapClaims{"sub": "user-1"})

	_, err := v.Validate(context.Background(), tok, Options{RequireSignature: true})
	if !errors.Is(err, ErrVerificationNotConfigured) {
		t.Fatalf("expected ErrVerificationNotConfigured, got %v", err)
	}
}

func TestValidate_NotAJWT(t *testing.T) {
	v := newValidator(t, DefaultConfig())
	if _, err := v.Validate(context.Background(), "opaque-key", Options{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidate_JWKS(t *testing.T) {
	pk, jwk := genRSA(t, "k1")
	srv := newJWKSServer(t, jwk)

	cfg := DefaultConfig()
	cfg.JWKSURL = srv.srv.URL
	cfg.Issuer = "https://login.example.com"
	v := newValidator(t, cfg)

	var observed []string
	v.observe = func(mode, outcome string) { observed = append(observed, mode+":"+outcome) }

	tok := signToken(t, pk, "k1", jwt.MapClaims{
		"sub": "user-1",
		"iss": "https://login.example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	res, err := v.Validate(context.Background(), tok, Options{RequireSignature: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Unverified || res.Mode != ModeJWKS {
		t.Fatalf("expected verified jwks result, got %+v", res)
	}

	// Second validation is served from cache.
	if _, err := v.Validate(context.Background(), tok, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := srv.fetches.Load(); n != 1 {
		t.Fatalf("expected 1 jwks fetch, got %d", n)
	}
	if len(observed) != 2 || observed[0] != "jwks:ok" {
		t.Fatalf("unexpected observations: %v", observed)
	}
}

func TestValidate_JWKSIssuerMismatch(t *testing.T) {
	pk, jwk := genRSA(t, "k1")
	srv := newJWKSServer(t, jwk)

	cfg := DefaultConfig()
	cfg.JWKSURL = srv.srv.URL
	cfg.Issuer = "https://login.example.com"
	v := newValidator(t, cfg)

	tok := signToken(t, pk, "k1", jwt.MapClaims{"iss": "https://evil.example.com"})
	if _, err := v.Validate(context.Background(), tok, Options{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidate_JWKSWrongSigner(t *testing.T) {
	_, jwk := genRSA(t, "k1")
	other, _ := genRSA(t, "k1")
	srv := newJWKSServer(t, jwk)

	cfg := DefaultConfig()
	cfg.JWKSURL = srv.srv.URL
	v := newValidator(t, cfg)

	tok := signToken(t, other, "k1", jwt.MapClaims{"sub": "x"})
	if _, err := v.Validate(context.Background(), tok, Options{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidate_JWKSUnknownKidRespectsCooldown(t *testing.T) {
	pk1, jwk1 := genRSA(t, "k1")
	pk2, jwk2 := genRSA(t, "k2")
	srv := newJWKSServer(t, jwk1)

	cfg := DefaultConfig()
	cfg.JWKSURL = srv.srv.URL
	v := newValidator(t, cfg)

	if _, err := v.Validate(context.Background(), signToken(t, pk1, "k1", jwt.MapClaims{}), Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Key rotated upstream, but the refetch is suppressed inside the cooldown.
	srv.add(jwk2)
	tok2 := signToken(t, pk2, "k2", jwt.MapClaims{})
	if _, err := v.Validate(context.Background(), tok2, Options{}); err == nil {
		t.Fatal("expected failure while in cooldown")
	}
	if n := srv.fetches.Load(); n != 1 {
		t.Fatalf("expected 1 jwks fetch during cooldown, got %d", n)
	}

	later := time.Now().Add(2 * time.Minute)
	v.jwks.now = func() time.Time { return later }
	if _, err := v.Validate(context.Background(), tok2, Options{}); err != nil {
		t.Fatalf("expected rotated key to validate after cooldown: %v", err)
	}
	if n := srv.fetches.Load(); n != 2 {
		t.Fatalf("expected 2 jwks fetches, got %d", n)
	}
}

func TestValidate_JWKSRecoversAfterFailedFetch(t *testing.T) {
	pk, jwk := genRSA(t, "k1")
	srv := newJWKSServer(t, jwk)
	srv.fail.Store(true)

	cfg := DefaultConfig()
	cfg.JWKSURL = srv.srv.URL
	v := newValidator(t, cfg)

	tok := signToken(t, pk, "k1", jwt.MapClaims{"sub": "user-1"})
	if _, err := v.Validate(context.Background(), tok, Options{}); err == nil {
		t.Fatal("expected failure while the jwks endpoint is down")
	}

	// A failed fetch must not start the cooldown.
	srv.fail.Store(false)
	if _, err := v.Validate(context.Background(), tok, Options{}); err != nil {
		t.Fatalf("expected validation once the endpoint recovers: %v", err)
	}
	if n := srv.fetches.Load(); n != 2 {
		t.Fatalf("expected 2 jwks fetches, got %d", n)
	}
}

func TestValidate_StrippedSignatureRejected(t *testing.T) {
	pk, _ := genRSA(t, "")
	cfg := DefaultConfig()
	cfg.PublicKeyPEM = publicPEM(t, pk)
	v := newValidator(t, cfg)

	signed := signToken(t, pk, "", jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()})
	stripped := signed[:strings.LastIndex(signed, ".")+1]

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := strings.Split(signed, ".")[1]
	algNone := header + "." + payload + "."

	for name, tok := range map[string]string{"stripped": stripped, "alg none": algNone} {
		_, err := v.Validate(context.Background(), tok, Options{RequireSignature: true})
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}

	// Without keys the empty signature segment is still not a JWT.
	unverified := newValidator(t, DefaultConfig())
	_, err := unverified.Validate(context.Background(), stripped, Options{})
	if !errors.Is(err, ErrInvalidToken) || !strings.Contains(err.Error(), "not a jwt") {
		t.Fatalf("expected not a jwt error, got %v", err)
	}
}

func TestValidate_PublicKeyPEM(t *testing.T) {
	pk, _ := genRSA(t, "")
	escaped := strings.ReplaceAll(publicPEM(t, pk), "\n", `\n`)

	cfg := DefaultConfig()
	cfg.PublicKeyPEM = escaped
	cfg.Audiences = []string{"docfork-mcp", "other"}
	v := newValidator(t, cfg)

	tok := signToken(t, pk, "", jwt.MapClaims{"sub": "user-1", "aud": []string{"docfork-mcp"}})
	res, err := v.Validate(context.Background(), tok, Options{RequireSignature: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Mode != ModePublicKey || res.Unverified {
		t.Fatalf("unexpected result: %+v", res)
	}

	bad := signToken(t, pk, "", jwt.MapClaims{"aud": "someone-else"})
	if _, err := v.Validate(context.Background(), bad, Options{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience mismatch, got %v", err)
	}
}

func TestNew_RejectsMalformedPEM(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PublicKeyPEM = "-----BEGIN PUBLIC KEY-----\nnope\n-----END PUBLIC KEY-----"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error for malformed PEM")
	}
}

func TestValidate_PublicKeyFileReload(t *testing.T) {
	pk1, _ := genRSA(t, "")
	pk2, _ := genRSA(t, "")

	dir := t.TempDir()
	path := filepath.Join(dir, "jwt.pem")
	if err := os.WriteFile(path, []byte(publicPEM(t, pk1)), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := DefaultConfig()
	cfg.PublicKeyFile = path
	v, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	tok2 := signToken(t, pk2, "", jwt.MapClaims{"sub": "user-2"})
	if _, err := v.Validate(ctx, tok2, Options{}); err == nil {
		t.Fatal("expected failure before key rotation")
	}

	if err := os.WriteFile(path, []byte(publicPEM(t, pk2)), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := v.Validate(ctx, tok2, Options{}); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("key file was not reloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
