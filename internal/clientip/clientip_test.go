package clientip

import (
	"errors"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	cases := []struct {
		name   string
		xff    string
		remote string
		trust  bool
		want   string
	}{
		{"first public", "10.0.0.1, 203.0.113.7, 198.51.100.1", "10.0.0.2:1234", true, "203.0.113.7"},
		{"skips 172 private", "172.20.1.1, 172.32.0.1", "10.0.0.2:1234", true, "172.32.0.1"},
		{"all private uses first", "192.168.1.1, 10.1.1.1", "10.0.0.2:1234", true, "192.168.1.1"},
		{"mapped ipv6", "::ffff:10.0.0.1, ::ffff:8.8.8.8", "10.0.0.2:1234", true, "8.8.8.8"},
		{"untrusted ignores header", "203.0.113.7", "198.51.100.9:5555", false, "198.51.100.9"},
		{"no header", "", "[::ffff:127.0.0.1]:80", true, "127.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/mcp", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := Extract(r, tc.trust); got != tc.want {
				t.Fatalf("want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestEncrypterRoundTrip(t *testing.T) {
	key := strings.Repeat("ab", 32)
	e, err := NewEncrypter(key)
	if err != nil {
		t.Fatalf("new encrypter: %v", err)
	}

	enc, err := e.Encrypt("203.0.113.7")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}:[0-9a-f]{32}$`).MatchString(enc) {
		t.Fatalf("unexpected format %q", enc)
	}
	dec, err := e.Decrypt(enc)
	if err != nil || dec != "203.0.113.7" {
		t.Fatalf("round trip: got %q err=%v", dec, err)
	}

	again, _ := e.Encrypt("203.0.113.7")
	if again == enc {
		t.Fatal("expected a fresh iv per call")
	}
}

func TestNewEncrypter_InvalidKey(t *testing.T) {
	for _, k := range []string{"", "abc", strings.Repeat("zz", 32)} {
		if _, err := NewEncrypter(k); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: want ErrInvalidKey, got %v", k, err)
		}
	}
}

func TestNilEncrypterPassesThrough(t *testing.T) {
	var e *Encrypter
	if got, err := e.Encrypt("1.2.3.4"); err != nil || got != "1.2.3.4" {
		t.Fatalf("got %q err=%v", got, err)
	}
}
