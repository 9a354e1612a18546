package auth

import "context"

// Transport identifies where a Config was resolved.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// Config is the credential set forwarded to the Docfork backend. It is
// resolved once per stdio process or once per HTTP request and is read-only
// afterwards.
type Config struct {
	APIKey     string
	Cabinet    string
	ClientIP   string
	ClientInfo string
	Transport  Transport
}

type configKey struct{}

// WithConfig returns a copy of ctx carrying cfg.
func WithConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the Config carried by ctx. The zero Config is returned
// when none is present.
func FromContext(ctx context.Context) (Config, bool) {
	cfg, ok := ctx.Value(configKey{}).(Config)
	return cfg, ok
}
