package jwtauth

import (
	"errors"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// ParsePublicKeyPEM parses an RSA, EC or Ed25519 public key. Escaped "\n"
// sequences, as found in single-line environment values, are expanded first.
func ParsePublicKeyPEM(s string) (any, error) {
	pem := []byte(strings.ReplaceAll(strings.TrimSpace(s), `\n`, "\n"))

	if k, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseECPublicKeyFromPEM(pem); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseEdPublicKeyFromPEM(pem); err == nil {
		return k, nil
	}
	return nil, errors.New("unsupported or malformed PEM public key")
}

type keyHolder struct {
	mu  sync.RWMutex
	key any
}

func (h *keyHolder) get() any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.key
}

func (h *keyHolder) set(k any) {
	h.mu.Lock()
	h.key = k
	h.mu.Unlock()
}
