package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const maxJWKSBytes = 1 << 20

var errJWKSCooldown = errors.New("jwks fetch suppressed during cooldown")

// remoteKeySet caches a JWKS document. A token whose key is not in the cache
// triggers a refetch at most once per cooldown after the last successful
// fetch; failed fetches do not start the cooldown. Concurrent fetches share a
// single request.
type remoteKeySet struct {
	url      string
	client   *http.Client
	timeout  time.Duration
	cooldown time.Duration
	now      func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	keys      keyfunc.Keyfunc
	lastFetch time.Time
}

func newRemoteKeySet(url string, client *http.Client, timeout, cooldown time.Duration) *remoteKeySet {
	return &remoteKeySet{
		url:      url,
		client:   client,
		timeout:  timeout,
		cooldown: cooldown,
		now:      time.Now,
	}
}

func (s *remoteKeySet) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		s.mu.RLock()
		cached := s.keys
		s.mu.RUnlock()

		if cached != nil {
			key, err := cached.Keyfunc(t)
			if err == nil {
				return key, nil
			}
			fresh, ferr := s.refresh(ctx)
			if ferr != nil {
				return nil, err
			}
			return fresh.Keyfunc(t)
		}

		fresh, err := s.refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("jwks unavailable: %w", err)
		}
		return fresh.Keyfunc(t)
	}
}

func (s *remoteKeySet) refresh(ctx context.Context) (keyfunc.Keyfunc, error) {
	v, err, _ := s.group.Do("jwks", func() (any, error) {
		s.mu.Lock()
		if !s.lastFetch.IsZero() && s.now().Sub(s.lastFetch) < s.cooldown {
			s.mu.Unlock()
			return nil, errJWKSCooldown
		}
		s.mu.Unlock()

		kf, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.keys = kf
		s.lastFetch = s.now()
		s.mu.Unlock()
		return kf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(keyfunc.Keyfunc), nil
}

func (s *remoteKeySet) fetch(ctx context.Context) (keyfunc.Keyfunc, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks fetch failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("jwks read failed: %w", err)
	}

	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(body))
	if err != nil {
		return nil, fmt.Errorf("jwks parse failed: %w", err)
	}
	return kf, nil
}
