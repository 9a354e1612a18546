package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/docfork/docfork-mcp/auth"
	"github.com/docfork/docfork-mcp/internal/clientip"
	"github.com/docfork/docfork-mcp/internal/config"
	"github.com/docfork/docfork-mcp/internal/jwtauth"
	"github.com/docfork/docfork-mcp/internal/metrics"
	"github.com/docfork/docfork-mcp/internal/portbind"
	"github.com/docfork/docfork-mcp/sessions"
	"github.com/docfork/docfork-mcp/streaminghttp"
)

const (
	evictEvery   = time.Minute
	maxIdle      = 30 * time.Minute
	closeTimeout = 2 * time.Second
)

func serveHTTP(ctx context.Context, cfg *config.Config, factory streaminghttp.EngineFactory, m *metrics.Metrics, hc *http.Client, log *slog.Logger) error {
	h, err := newRouter(ctx, cfg, factory, m, hc, log)
	if err != nil {
		return err
	}
	reg := h.Registry()

	ln, port, err := portbind.Bind(ctx, cfg.Port, portbind.DefaultAttempts)
	if err != nil {
		return err
	}
	if port != cfg.Port {
		log.Warn("server.port.fallback", slog.Int("preferred", cfg.Port), slog.Int("port", port))
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: cfg.HTTPTimeout,
		ReadTimeout:       cfg.HTTPTimeout,
		WriteTimeout:      cfg.HTTPTimeout,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	go func() {
		t := time.NewTicker(evictEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				reg.EvictIdle(maxIdle)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		reg.CloseAll()
		if err := srv.Shutdown(cctx); err != nil {
			_ = srv.Close()
		}
	}()

	log.Info("server.start",
		slog.String("transport", cfg.Transport),
		slog.Int("port", port),
		slog.String("mcp", "/mcp"),
		slog.String("sse", "/sse"),
	)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newRouter(ctx context.Context, cfg *config.Config, factory streaminghttp.EngineFactory, m *metrics.Metrics, hc *http.Client, log *slog.Logger) (*streaminghttp.Router, error) {
	reg := sessions.NewRegistry(
		sessions.WithLogger(log),
		sessions.WithObserver(func(kind sessions.Kind, delta int) { m.SessionDelta(string(kind), delta) }),
	)

	opts := []streaminghttp.Option{
		streaminghttp.WithLogger(log),
		streaminghttp.WithRegistry(reg),
		streaminghttp.WithMetrics(m),
		streaminghttp.WithResolver(auth.Resolver{Env: auth.Source{APIKey: cfg.APIKey, Cabinet: cfg.Cabinet}}),
		streaminghttp.WithTrustProxy(cfg.TrustProxy),
		streaminghttp.WithPublicURL(cfg.PublicURL),
		streaminghttp.WithHTTPClient(hc),
		streaminghttp.WithAuthorizationServer(cfg.JWT.Issuer, cfg.JWT.JWKSURL, cfg.OAuthScopes),
	}

	if cfg.ClientIPKey != "" {
		enc, err := clientip.NewEncrypter(cfg.ClientIPKey)
		if err != nil {
			log.Error("clientip.key.invalid", slog.String("err", err.Error()))
		} else {
			opts = append(opts, streaminghttp.WithClientIPEncrypter(enc))
		}
	}

	v, err := jwtauth.New(ctx, &jwtauth.Config{
		JWKSURL:       cfg.JWT.JWKSURL,
		PublicKeyPEM:  cfg.JWT.PublicKey,
		PublicKeyFile: cfg.JWT.PublicKeyFile,
		Issuer:        cfg.JWT.Issuer,
		Audiences:     cfg.JWT.Audiences,
		AllowedAlgs:   cfg.JWT.Algorithms,
	},
		jwtauth.WithLogger(log),
		jwtauth.WithHTTPClient(hc),
		jwtauth.WithObserver(m.JWTValidation),
	)
	if err != nil {
		return nil, err
	}
	opts = append(opts, streaminghttp.WithAuthenticator(auth.NewJWTAuthenticator(v, cfg.JWT.RequireSignature)))

	return streaminghttp.New(factory, opts...)
}
