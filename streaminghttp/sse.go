package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docfork/docfork-mcp/auth"
	"github.com/docfork/docfork-mcp/internal/logctx"
	"github.com/docfork/docfork-mcp/mcp"
	"github.com/docfork/docfork-mcp/sessions"
)

// handleSSE opens a legacy SSE session. The first event names the endpoint
// for client messages; responses follow as message events. The session ends
// with the connection.
func (h *Router) handleSSE(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	cfg, err := h.requestAuth(r)
	if err != nil {
		h.log.InfoContext(ctx, "auth.config.invalid", slog.String("err", err.Error()))
		writeRPCError(w, nil, err)
		return
	}

	ua := r.UserAgent()
	sess := h.reg.Create(sessions.NewSession{
		Kind:      sessions.KindSSE,
		UserAgent: ua,
		Engine:    func() sessions.Engine { return h.newEngine("", ua) },
	})
	id := sess.ID()
	ctx = withSession(ctx, sess)

	h.sseAuth.Store(id, cfg)
	sess.Transport().OnClose(func() { h.sseAuth.Delete(id) })
	defer sess.Transport().Close()

	stream, err := sess.Transport().Subscribe("")
	if err != nil {
		writeRPCError(w, nil, err)
		return
	}
	defer stream.Close()

	startEventStream(w)
	endpoint := routeMessages + "?sessionId=" + url.QueryEscape(id)
	if err := writeSSEEvent(w, "endpoint", "", []byte(endpoint)); err != nil {
		h.log.InfoContext(ctx, "sse.endpoint.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "sse.legacy.start")

	err = pumpEvents(ctx, w, stream, sess)
	h.log.InfoContext(ctx, "sse.legacy.end", slog.String("reason", streamEndReason(err)), slog.Duration("dur", time.Since(start)))
}

// handleMessages accepts one client message for a legacy SSE session. The
// response, if any, is delivered on the session's event stream.
func (h *Router) handleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	id := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if id == "" {
		writeRPCError(w, nil, sessions.ErrNoValidSessionID)
		return
	}
	sess, ok := h.reg.Get(id)
	if !ok || sess.Kind() != sessions.KindSSE {
		writeRPCError(w, nil, sessions.ErrSessionNotFound)
		return
	}
	ctx = withSession(ctx, sess)

	cfg, err := h.requestAuth(r)
	if err != nil {
		h.log.InfoContext(ctx, "auth.config.invalid", slog.String("err", err.Error()))
		writeRPCError(w, nil, err)
		return
	}
	if cfg.APIKey == "" {
		if v, ok := h.sseAuth.Load(id); ok {
			stored := v.(auth.Config)
			cfg.APIKey, cfg.Cabinet = stored.APIKey, stored.Cabinet
		}
	}

	msg, raw, err := readMessage(w, r)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			h.metrics.BodyTooLarge()
		}
		h.log.InfoContext(ctx, "http.post.reject", slog.String("err", err.Error()))
		writeRPCError(w, probeID(raw), err)
		return
	}

	if msg.Method == string(mcp.InitializeMethod) {
		sess.SetClientName(initializeClientName(msg.Params))
	}
	sess.Touch(start)

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})
	hctx, cancel := detach(auth.WithConfig(ctx, cfg), sess.Transport().Done())
	go func() {
		defer cancel()
		res := sess.Engine().Handle(hctx, msg)
		if res == nil {
			return
		}
		b, err := json.Marshal(res)
		if err != nil {
			h.log.ErrorContext(hctx, "sse.message.marshal.fail", slog.String("err", err.Error()))
			return
		}
		if _, err := sess.Transport().Send(b); err != nil {
			h.log.InfoContext(hctx, "sse.message.drop", slog.String("err", err.Error()))
			return
		}
		h.log.DebugContext(hctx, "sse.message.queued", slog.Duration("dur", time.Since(start)))
	}()

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

// detach returns a context that survives the request but is cancelled when
// done closes.
func detach(ctx context.Context, done <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
