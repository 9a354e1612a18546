package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestResolve_StdioPrefersCLI(t *testing.T) {
	r := Resolver{
		CLI: Source{APIKey: "X"},
		Env: Source{APIKey: "Y"},
	}
	cfg, err := r.Resolve(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "X" {
		t.Fatalf("want X, got %q", cfg.APIKey)
	}
	if cfg.Transport != TransportStdio {
		t.Fatalf("want stdio transport, got %q", cfg.Transport)
	}
}

func TestResolve_HTTPPrefersEnvOverHeader(t *testing.T) {
	r := Resolver{
		CLI: Source{APIKey: "X"},
		Env: Source{APIKey: "Y"},
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer Z")

	cfg, err := r.Resolve(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "Y" {
		t.Fatalf("want Y, got %q", cfg.APIKey)
	}
	if cfg.Transport != TransportHTTP {
		t.Fatalf("want http transport, got %q", cfg.Transport)
	}
}

func TestResolve_HeaderFallback(t *testing.T) {
	cases := []struct {
		name   string
		header http.Header
		want   string
	}{
		{"bearer", http.Header{"Authorization": {"Bearer Z"}}, "Z"},
		{"bearer lowercase", http.Header{"Authorization": {"bearer Z"}}, "Z"},
		{"raw authorization", http.Header{"Authorization": {"Z"}}, "Z"},
		{"hyphenated", http.Header{"Docfork-Api-Key": {"Z"}}, "Z"},
		{"underscored upper", http.Header{"DOCFORK_API_KEY": {"Z"}}, "Z"},
		{"underscored lower", http.Header{"docfork_api_key": {"Z"}}, "Z"},
		{"mixed case", http.Header{"Docfork_Api_Key": {"Z"}}, "Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Resolver{}.Resolve(tc.header)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.APIKey != tc.want {
				t.Fatalf("want %q, got %q", tc.want, cfg.APIKey)
			}
		})
	}
}

func TestResolve_StdioIgnoresHeaders(t *testing.T) {
	cfg, err := Resolver{}.Resolve(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "" || cfg.Cabinet != "" {
		t.Fatalf("want empty config, got %+v", cfg)
	}
}

func TestResolve_CabinetWithoutKey(t *testing.T) {
	r := Resolver{Env: Source{Cabinet: "acme"}}
	if _, err := r.Resolve(nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("want ErrConfig, got %v", err)
	}

	h := http.Header{"Docfork-Cabinet": {"acme"}}
	if _, err := (Resolver{}).Resolve(h); !errors.Is(err, ErrConfig) {
		t.Fatalf("want ErrConfig for header cabinet, got %v", err)
	}
}

func TestResolve_CabinetWithAnyKey(t *testing.T) {
	h := http.Header{"X-Docfork-Cabinet": {"acme"}, "Authorization": {"Bearer k"}}
	cfg, err := Resolver{}.Resolve(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cabinet != "acme" || cfg.APIKey != "k" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	r := Resolver{CLI: Source{Cabinet: "acme"}, Env: Source{APIKey: "env-key"}}
	cfg, err = r.Resolve(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cabinet != "acme" || cfg.APIKey != "env-key" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestConfigContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no config on empty context")
	}
	ctx := WithConfig(context.Background(), Config{APIKey: "k", Transport: TransportHTTP})
	cfg, ok := FromContext(ctx)
	if !ok || cfg.APIKey != "k" {
		t.Fatalf("unexpected config: %+v ok=%v", cfg, ok)
	}
}
