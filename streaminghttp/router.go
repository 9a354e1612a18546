package streaminghttp

import (
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/docfork/docfork-mcp/auth"
	"github.com/docfork/docfork-mcp/internal/clientip"
	"github.com/docfork/docfork-mcp/internal/logctx"
	"github.com/docfork/docfork-mcp/internal/metrics"
	"github.com/docfork/docfork-mcp/internal/wellknown"
	"github.com/docfork/docfork-mcp/sessions"
	"github.com/google/uuid"
)

var _ http.Handler = (*Router)(nil)

const (
	// maxBodyBytes caps POST bodies on /mcp and /messages.
	maxBodyBytes = 1_000_000

	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	lastEventIDHeader        = "Last-Event-ID"
	wwwAuthenticateHeader    = "WWW-Authenticate"
)

var corsAllowHeaders = strings.Join([]string{
	"Content-Type",
	"Accept",
	"Accept-Encoding",
	"MCP-Protocol-Version",
	"Mcp-Session-Id",
	"Authorization",
	"X-Docfork-Cabinet",
	"DOCFORK_API_KEY",
	"DOCFORK_CABINET",
	"Docfork-Api-Key",
	"Docfork-Cabinet",
	"docfork_api_key",
	"docfork_cabinet",
	"Last-Event-ID",
	"x-custom-auth-headers",
	"X-Custom-Auth-Headers",
}, ", ")

// Route labels. They double as metric label values.
const (
	routeMCP         = "/mcp"
	routeMCPOAuth    = "/mcp/oauth"
	routeSSE         = "/sse"
	routeMessages    = "/messages"
	routePing        = "/ping"
	routeSessions    = "/sessions"
	routeMetrics     = "/metrics"
	routeMCPConfig   = wellknown.MCPConfigPath
	routePRM         = wellknown.ProtectedResourcePath
	routeAuthzServer = wellknown.AuthorizationServerPath
	routeNotFound    = "not_found"
)

// EngineFactory builds the protocol engine for a new session. clientName is
// the name declared in initialize and is empty when not yet known.
type EngineFactory func(clientName, userAgent string) sessions.Engine

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger. Records are enriched with request and session
// data from the context.
func WithLogger(l *slog.Logger) Option {
	return func(h *Router) { h.log = l }
}

// WithRegistry supplies the session registry. By default the router creates
// its own.
func WithRegistry(reg *sessions.Registry) Option {
	return func(h *Router) { h.reg = reg }
}

// WithResolver sets how credentials are resolved from request headers.
func WithResolver(r auth.Resolver) Option {
	return func(h *Router) { h.resolver = r }
}

// WithAuthenticator sets the bearer token check for /mcp/oauth. Without one
// every request to the protected endpoint is rejected.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(h *Router) { h.authn = a }
}

// WithMetrics enables request accounting and the /metrics route.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Router) { h.metrics = m }
}

// WithTrustProxy controls whether X-Forwarded-* headers are honoured.
func WithTrustProxy(trust bool) Option {
	return func(h *Router) { h.trustProxy = trust }
}

// WithClientIPEncrypter encrypts client addresses before they are forwarded.
func WithClientIPEncrypter(e *clientip.Encrypter) Option {
	return func(h *Router) { h.ipEnc = e }
}

// WithPublicURL fixes the externally visible base URL used in discovery
// documents. By default it is derived from each request.
func WithPublicURL(u string) Option {
	return func(h *Router) { h.publicURL = strings.TrimRight(u, "/") }
}

// WithAuthorizationServer describes the OAuth issuer advertised for
// /mcp/oauth and proxied at /.well-known/oauth-authorization-server.
func WithAuthorizationServer(issuer, jwksURL string, scopes []string) Option {
	return func(h *Router) {
		h.issuer = strings.TrimRight(issuer, "/")
		h.jwksURL = jwksURL
		h.scopes = scopes
	}
}

// WithHTTPClient sets the client used to fetch authorization server metadata.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Router) { h.httpClient = c }
}

// Router is the HTTP entry point.
type Router struct {
	log       *slog.Logger
	reg       *sessions.Registry
	resolver  auth.Resolver
	authn     auth.Authenticator
	metrics   *metrics.Metrics
	newEngine EngineFactory

	trustProxy bool
	ipEnc      *clientip.Encrypter

	publicURL  string
	issuer     string
	jwksURL    string
	scopes     []string
	httpClient *http.Client
	asMeta     *authServerMetadata

	// sseAuth holds the credentials presented on GET /sse, keyed by session
	// id, for /messages posts that carry none.
	sseAuth sync.Map
}

// New returns a Router creating engines with factory.
func New(factory EngineFactory, opts ...Option) (*Router, error) {
	if factory == nil {
		return nil, fmt.Errorf("engine factory is required")
	}

	h := &Router{
		log:        slog.Default(),
		newEngine:  factory,
		trustProxy: true,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.New(h.log)

	if h.reg == nil {
		h.reg = sessions.NewRegistry(sessions.WithLogger(h.log))
	}
	if h.issuer != "" {
		h.asMeta = newAuthServerMetadata(h.issuer, h.httpClient, time.Hour)
	}
	return h, nil
}

// Registry returns the session registry.
func (h *Router) Registry() *sessions.Registry { return h.reg }

func (h *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	path := normalizePath(r.URL.Path)
	route := routeOf(path)

	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       path,
	})
	r = r.WithContext(ctx)

	sw := &statusWriter{ResponseWriter: w}
	setCORSHeaders(sw.Header())

	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			h.log.ErrorContext(ctx, "http.panic", slog.Any("panic", v), slog.String("stack", string(debug.Stack())))
			if !sw.wrote {
				writeRPCError(sw, nil, fmt.Errorf("panic: %v", v))
			}
		}
		h.metrics.ObserveRequest(route, r.Method, sw.Status())
		h.log.DebugContext(ctx, "http.request.done", slog.Int("status", sw.Status()), slog.Duration("dur", time.Since(start)))
	}()

	if r.Method == http.MethodOptions {
		sw.WriteHeader(http.StatusOK)
		return
	}

	switch route {
	case routeMCP:
		h.serveMCP(sw, r, false)
	case routeMCPOAuth:
		h.serveMCP(sw, r, true)
	case routePing:
		sw.Header().Set("Content-Type", "text/plain")
		sw.WriteHeader(http.StatusOK)
		_, _ = sw.Write([]byte("pong"))
	case routeSSE:
		if !allowMethod(sw, r, http.MethodGet) {
			return
		}
		h.handleSSE(sw, r)
	case routeMessages:
		if !allowMethod(sw, r, http.MethodPost) {
			return
		}
		h.handleMessages(sw, r)
	case routeSessions:
		if !allowMethod(sw, r, http.MethodGet) {
			return
		}
		h.handleSessions(sw, r)
	case routeMetrics:
		if h.metrics == nil {
			writeNotFound(sw)
			return
		}
		if !allowMethod(sw, r, http.MethodGet) {
			return
		}
		h.metrics.Handler().ServeHTTP(sw, r)
	case routeMCPConfig:
		if !allowMethod(sw, r, http.MethodGet) {
			return
		}
		writeJSON(sw, http.StatusOK, wellknown.NoConfig)
	case routePRM:
		if !allowMethod(sw, r, http.MethodGet) {
			return
		}
		h.handleProtectedResourceMetadata(sw, r)
	case routeAuthzServer:
		if !allowMethod(sw, r, http.MethodGet) {
			return
		}
		h.handleAuthorizationServerMetadata(sw, r)
	default:
		writeNotFound(sw)
	}
}

func (h *Router) handleSessions(w http.ResponseWriter, _ *http.Request) {
	list := h.reg.Snapshot()
	writeJSON(w, http.StatusOK, struct {
		Count    int             `json:"count"`
		Sessions []sessions.Info `json:"sessions"`
	}{Count: len(list), Sessions: list})
}

var repeatedSlashes = regexp.MustCompile(`/{2,}`)

// normalizePath collapses repeated slashes and drops a trailing slash except
// on the root path.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	p = repeatedSlashes.ReplaceAllString(p, "/")
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

func routeOf(path string) string {
	switch {
	case path == routePing:
		return routePing
	case path == routeSessions:
		return routeSessions
	case path == routeMetrics:
		return routeMetrics
	case path == routeSSE:
		return routeSSE
	case path == routeMessages:
		return routeMessages
	case path == routeMCPConfig || strings.HasSuffix(path, routeMCPConfig):
		return routeMCPConfig
	case path == routePRM || strings.HasPrefix(path, routePRM+"/"):
		return routePRM
	case path == routeAuthzServer || strings.HasPrefix(path, routeAuthzServer+"/"):
		return routeAuthzServer
	case strings.HasSuffix(path, routeMCPOAuth):
		return routeMCPOAuth
	case strings.HasSuffix(path, routeMCP):
		return routeMCP
	}
	return routeNotFound
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE")
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id, WWW-Authenticate")
	h.Set("Access-Control-Max-Age", "86400")
}

// allowMethod writes a 405 and reports false unless r uses method.
func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method+", OPTIONS")
	writeRPCError(w, nil, errMethodNotAllowed)
	return false
}

// statusWriter records the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		if !w.wrote {
			w.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Status() int {
	if !w.wrote {
		return http.StatusOK
	}
	return w.status
}
