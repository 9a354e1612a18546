package streaminghttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/docfork/docfork-mcp/internal/wellknown"
	"golang.org/x/sync/singleflight"
)

// baseURL is the externally visible scheme and host for r.
func (h *Router) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if h.trustProxy {
		if v := firstListValue(r.Header.Get("X-Forwarded-Proto")); v != "" {
			scheme = v
		}
		if v := firstListValue(r.Header.Get("X-Forwarded-Host")); v != "" {
			host = v
		}
	}
	return scheme + "://" + host
}

// resourceMetadataURL is the protected resource metadata URL for the
// endpoint r was addressed to.
func (h *Router) resourceMetadataURL(r *http.Request) string {
	return h.baseURL(r) + wellknown.ProtectedResourcePath + normalizePath(r.URL.Path)
}

func (h *Router) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	resource := strings.TrimPrefix(normalizePath(r.URL.Path), wellknown.ProtectedResourcePath)
	if resource == "" {
		resource = routeMCPOAuth
	}

	doc := wellknown.ProtectedResourceMetadata{
		Resource:               h.baseURL(r) + resource,
		JwksURI:                h.jwksURL,
		ScopesSupported:        h.scopes,
		BearerMethodsSupported: []string{"header"},
		ResourceName:           "Docfork",
		ResourceDocumentation:  "https://docfork.com",
	}
	if h.issuer != "" {
		doc.AuthorizationServers = []string{h.issuer}
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Router) handleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.asMeta == nil {
		writeNotFound(w)
		return
	}
	doc, err := h.asMeta.get(ctx)
	if err != nil {
		h.log.WarnContext(ctx, "wellknown.authorization_server.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "bad_gateway",
			"message": "Authorization server metadata is unavailable.",
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// authServerMetadata caches the issuer's discovery document. Concurrent
// refreshes share one upstream fetch; a stale copy is served when a refresh
// fails.
type authServerMetadata struct {
	issuer string
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	doc       []byte
	fetchedAt time.Time
}

func newAuthServerMetadata(issuer string, client *http.Client, ttl time.Duration) *authServerMetadata {
	return &authServerMetadata{issuer: issuer, client: client, ttl: ttl, now: time.Now}
}

func (m *authServerMetadata) get(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	doc, at := m.doc, m.fetchedAt
	m.mu.RUnlock()
	if doc != nil && m.now().Sub(at) < m.ttl {
		return doc, nil
	}

	v, err, _ := m.group.Do("metadata", func() (any, error) { return m.fetch(ctx) })
	if err != nil {
		if doc != nil {
			return doc, nil
		}
		return nil, err
	}
	return v.([]byte), nil
}

func (m *authServerMetadata) fetch(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if m.client != nil {
		ctx = oidc.ClientContext(ctx, m.client)
	}

	p, err := oidc.NewProvider(ctx, m.issuer)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", m.issuer, err)
	}
	var claims map[string]any
	if err := p.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode discovery document: %w", err)
	}
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.doc = b
	m.fetchedAt = m.now()
	m.mu.Unlock()
	return b, nil
}

func firstListValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}
