package streaminghttp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docfork/docfork-mcp/auth"
	"github.com/docfork/docfork-mcp/internal/jsonrpc"
	"github.com/docfork/docfork-mcp/mcp"
	"github.com/docfork/docfork-mcp/mcpservice"
	"github.com/docfork/docfork-mcp/sessions"
)

type echoArgs struct {
	Message string `json:"message"`
}

// whoamiTool echoes the message together with the credentials the call was
// made with.
func whoamiTool() mcpservice.StaticTool {
	return mcpservice.NewTool[echoArgs]("echo", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
		cfg, _ := auth.FromContext(ctx)
		return w.AppendText(r.Args().Message + "|key=" + cfg.APIKey + "|ip=" + cfg.ClientIP)
	}, mcpservice.WithToolDescription("Echo a message"))
}

func testFactory() EngineFactory {
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "router-test", Version: "0.0.1"}),
		mcpservice.WithTools(whoamiTool()),
		mcpservice.WithLogger(discardLogger()),
	)
	return func(clientName, userAgent string) sessions.Engine { return srv.NewEngine() }
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestRouter(t *testing.T, opts ...Option) *Router {
	t.Helper()
	base := []Option{WithLogger(discardLogger())}
	rt, err := New(testFactory(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return rt
}

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"router-test-client","version":"1.0"}}}`

func do(t *testing.T, h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, body io.Reader) jsonrpc.Response {
	t.Helper()
	var res jsonrpc.Response
	if err := json.NewDecoder(body).Decode(&res); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return res
}

func wantRPCError(t *testing.T, rec *httptest.ResponseRecorder, status int, code jsonrpc.ErrorCode) jsonrpc.Response {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("want status %d, got %d (body %s)", status, rec.Code, rec.Body.String())
	}
	res := decodeEnvelope(t, rec.Body)
	if res.Error == nil || res.Error.Code != code {
		t.Fatalf("want error code %d, got %+v", code, res.Error)
	}
	return res
}

// initialize opens a streamable session and returns its id.
func initialize(t *testing.T, h http.Handler, target string, hdr map[string]string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, target, initializeBody, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	id := rec.Header().Get(mcpSessionIDHeader)
	if id == "" {
		t.Fatal("initialize: missing Mcp-Session-Id")
	}
	return id
}

type sseEvent struct {
	Event string
	ID    string
	Data  string
}

// readEvent reads one SSE frame.
func readEvent(t *testing.T, br *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	var data []string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v (partial %+v)", err, ev)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if ev.Event == "" && ev.ID == "" && len(data) == 0 {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev
		case strings.HasPrefix(line, "event: "):
			ev.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			ev.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
