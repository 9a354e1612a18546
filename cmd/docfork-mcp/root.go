package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docfork/docfork-mcp/auth"
	"github.com/docfork/docfork-mcp/docfork"
	"github.com/docfork/docfork-mcp/internal/config"
	"github.com/docfork/docfork-mcp/internal/metrics"
	"github.com/docfork/docfork-mcp/mcpservice"
	"github.com/docfork/docfork-mcp/sessions"
	"github.com/docfork/docfork-mcp/stdio"
	"github.com/docfork/docfork-mcp/streaminghttp"
	"github.com/spf13/cobra"
)

type flags struct {
	apiKey    string
	cabinet   string
	transport string
	port      int
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "docfork-mcp",
		Short: "Docfork documentation search for MCP clients",
		Long: `docfork-mcp exposes Docfork documentation search to MCP clients.

By default it speaks JSON-RPC over stdin/stdout. Set MCP_TRANSPORT or
--transport to streamable-http (or sse) to serve the HTTP endpoints instead.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "Docfork API key (stdio only; overrides DOCFORK_API_KEY)")
	cmd.Flags().StringVar(&f.cabinet, "cabinet", "", "Docfork cabinet (stdio only; overrides DOCFORK_CABINET)")
	cmd.Flags().StringVar(&f.transport, "transport", "", "stdio, streamable-http or sse (overrides MCP_TRANSPORT)")
	cmd.Flags().IntVar(&f.port, "port", 0, "preferred HTTP port (overrides PORT)")
	return cmd
}

func run(ctx context.Context, f flags) error {
	boot := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(boot)
	if err != nil {
		return err
	}
	if f.transport != "" {
		if err := cfg.SetTransport(f.transport); err != nil {
			return err
		}
	}
	if f.port != 0 {
		if f.port < 0 || f.port > 65535 {
			return fmt.Errorf("invalid port %d", f.port)
		}
		cfg.Port = f.port
	}

	// Stdout belongs to the protocol in stdio mode, so logs always go to
	// stderr.
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client := docfork.NewClient(cfg.APIURL,
		docfork.WithHTTPClient(httpClient),
		docfork.WithLogger(log),
		docfork.WithObserver(m.BackendCall),
	)
	factory := newEngineFactory(client, cfg.DefaultTokens, log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.IsHTTP() {
		err = serveHTTP(ctx, cfg, factory, m, httpClient, log)
	} else {
		err = serveStdio(ctx, cfg, f, factory, log)
	}
	if ctx.Err() != nil {
		log.Info("shutdown.signal")
		return nil
	}
	return err
}

// newEngineFactory picks the tool set per session: OpenAI connectors get
// search and fetch, everyone else the standard tools.
func newEngineFactory(c *docfork.Client, defaultTokens int, log *slog.Logger) streaminghttp.EngineFactory {
	standard := docfork.NewStandardServer(c, docfork.ToolsConfig{DefaultTokens: defaultTokens}, mcpservice.WithLogger(log))
	openai := docfork.NewOpenAIServer(c, mcpservice.WithLogger(log))
	return func(clientName, userAgent string) sessions.Engine {
		if docfork.IsOpenAIClient(clientName, userAgent) {
			return openai.NewEngine()
		}
		return standard.NewEngine()
	}
}

func serveStdio(ctx context.Context, cfg *config.Config, f flags, factory streaminghttp.EngineFactory, log *slog.Logger) error {
	resolver := auth.Resolver{
		CLI: auth.Source{APIKey: f.apiKey, Cabinet: f.cabinet},
		Env: auth.Source{APIKey: cfg.APIKey, Cabinet: cfg.Cabinet},
	}
	creds, err := resolver.Resolve(nil)
	if err != nil {
		return err
	}
	log.Info("server.start", slog.String("transport", cfg.Transport), slog.Bool("api_key", creds.APIKey != ""))

	h := stdio.NewHandler(factory("", ""), stdio.WithAuth(creds), stdio.WithLogger(log))
	return h.Serve(ctx)
}
