package streaminghttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// TestStreamable_SDKClient drives the router with the reference MCP client.
func TestStreamable_SDKClient(t *testing.T) {
	ctx := t.Context()
	rt := newTestRouter(t)
	srv := httptest.NewServer(rt)
	defer srv.Close()

	client := sdk.NewClient(&sdk.Implementation{Name: "e2e", Version: "0.0.0"}, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{
		Endpoint:   srv.URL + "/mcp",
		HTTPClient: &http.Client{},
	}
	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer cs.Close()

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(lt.Tools) != 1 || lt.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", lt.Tools)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"message": "hello"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError || len(res.Content) != 1 {
		t.Fatalf("unexpected call result: %+v", res)
	}
	tc, ok := res.Content[0].(*sdk.TextContent)
	if !ok || tc.Text != "hello|key=|ip=127.0.0.1" {
		t.Fatalf("unexpected content: %#v", res.Content[0])
	}

	if rt.Registry().Len() != 1 {
		t.Fatalf("want 1 session, got %d", rt.Registry().Len())
	}
}
