package auth

import (
	"fmt"
	"net/http"
	"strings"
)

var (
	apiKeyHeaders  = []string{"Docfork-Api-Key", "DOCFORK_API_KEY", "docfork_api_key"}
	cabinetHeaders = []string{"X-Docfork-Cabinet", "Docfork-Cabinet", "DOCFORK_CABINET", "docfork_cabinet"}
)

// Source is one layer of credentials.
type Source struct {
	APIKey  string
	Cabinet string
}

// Resolver merges credentials with the precedence CLI, then environment,
// then request headers. CLI values apply to stdio launches only.
type Resolver struct {
	CLI Source
	Env Source
}

// Resolve builds a Config. A nil header set means a stdio launch: CLI values
// are consulted and headers are not. A non-nil header set means an HTTP
// request: CLI values are ignored and headers are the lowest-precedence
// source.
func (r Resolver) Resolve(h http.Header) (Config, error) {
	cfg := Config{Transport: TransportStdio}

	var hdr Source
	if h != nil {
		cfg.Transport = TransportHTTP
		hdr = Source{APIKey: headerAPIKey(h), Cabinet: lookupHeader(h, cabinetHeaders)}
	} else {
		cfg.APIKey = strings.TrimSpace(r.CLI.APIKey)
		cfg.Cabinet = strings.TrimSpace(r.CLI.Cabinet)
	}

	cfg.APIKey = firstNonEmpty(cfg.APIKey, r.Env.APIKey, hdr.APIKey)
	cfg.Cabinet = firstNonEmpty(cfg.Cabinet, r.Env.Cabinet, hdr.Cabinet)

	if cfg.Cabinet != "" && cfg.APIKey == "" {
		return Config{}, fmt.Errorf("%w: cabinet %q requires an API key", ErrConfig, cfg.Cabinet)
	}
	return cfg, nil
}

// BearerToken returns the Authorization header value without an optional
// "Bearer " prefix. The prefix match is case-insensitive.
func BearerToken(h http.Header) string {
	v := strings.TrimSpace(h.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		v = strings.TrimSpace(v[7:])
	}
	return v
}

func headerAPIKey(h http.Header) string {
	if tok := BearerToken(h); tok != "" {
		return tok
	}
	return lookupHeader(h, apiKeyHeaders)
}

// lookupHeader finds the first matching header regardless of case. Underscored
// names are not canonicalized by net/http, so a direct map lookup is not
// enough.
func lookupHeader(h http.Header, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
		for k, vs := range h {
			if strings.EqualFold(k, name) && len(vs) > 0 {
				if v := strings.TrimSpace(vs[0]); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
