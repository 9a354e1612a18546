package streaminghttp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/docfork/docfork-mcp/sessions"
)

// startEventStream lifts the server deadlines for a long-lived response and
// commits the SSE headers.
func startEventStream(w http.ResponseWriter) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	_ = rc.SetReadDeadline(time.Time{})

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()
}

// pumpEvents copies events from stream to w until the context ends or the
// transport closes. Each delivered event refreshes the session's activity.
func pumpEvents(ctx context.Context, w http.ResponseWriter, stream *sessions.Stream, sess *sessions.Session) error {
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if err := writeSSEEvent(w, "message", ev.ID, ev.Data); err != nil {
			return err
		}
		sess.Touch(time.Now())
	}
}

// writeSSEEvent writes one event frame and flushes it. Multi-line payloads
// are split across data lines.
func writeSSEEvent(w http.ResponseWriter, event, id string, payload []byte) error {
	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	for _, line := range strings.Split(string(payload), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if _, err := w.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// buildBearerChallenge builds a Bearer challenge pointing at the protected
// resource metadata. Parameter order is fixed: error, error_description,
// scope.
func buildBearerChallenge(resourceMetadata string, params map[string]string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	pieces := make([]string, 0, 4)
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	for _, k := range []string{"error", "error_description", "scope"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
