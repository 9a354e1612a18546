package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	b, _ := io.ReadAll(rec.Body)
	return string(b)
}

func TestMetrics_Exposition(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	m.ObserveRequest("/mcp", "POST", 200)
	m.SessionDelta("sse", 1)
	m.SessionDelta("sse", 1)
	m.SessionDelta("sse", -1)
	m.JWTValidation("jwks", "ok")
	m.BodyTooLarge()
	m.BackendCall("search", 200, 150*time.Millisecond)

	body := scrape(t, m)
	for _, want := range []string{
		`docfork_mcp_http_requests_total{method="POST",route="/mcp",status="200"} 1`,
		`docfork_mcp_sessions_active{transport="sse"} 1`,
		`docfork_mcp_sessions_created_total{transport="sse"} 2`,
		`docfork_mcp_jwt_validations_total{mode="jwks",outcome="ok"} 1`,
		`docfork_mcp_body_too_large_total 1`,
		`docfork_mcp_backend_request_duration_seconds_count{op="search",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, body)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("/ping", "GET", 200)
	m.SessionDelta("sse", 1)
	m.JWTValidation("jwks", "ok")
	m.BodyTooLarge()
	m.BackendCall("read", 0, time.Second)
}
