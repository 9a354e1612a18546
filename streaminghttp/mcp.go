package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docfork/docfork-mcp/auth"
	"github.com/docfork/docfork-mcp/internal/clientip"
	"github.com/docfork/docfork-mcp/internal/jsonrpc"
	"github.com/docfork/docfork-mcp/internal/logctx"
	"github.com/docfork/docfork-mcp/mcp"
	"github.com/docfork/docfork-mcp/sessions"
	"github.com/elnormous/contenttype"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	jsonMediaTypes       = []contenttype.MediaType{jsonMediaType}
)

// serveMCP handles the streamable HTTP endpoint. When protected is set a
// valid bearer token is required and every response carries a challenge
// pointing at the protected resource metadata.
func (h *Router) serveMCP(w http.ResponseWriter, r *http.Request, protected bool) {
	ctx := r.Context()
	if protected {
		w.Header().Set(wwwAuthenticateHeader, buildBearerChallenge(h.resourceMetadataURL(r), nil))
	}

	switch r.Method {
	case http.MethodPost, http.MethodGet, http.MethodDelete:
	default:
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		writeRPCError(w, nil, errMethodNotAllowed)
		return
	}

	cfg, err := h.requestAuth(r)
	if err != nil {
		h.log.InfoContext(ctx, "auth.config.invalid", slog.String("err", err.Error()))
		writeRPCError(w, nil, err)
		return
	}

	if !strings.Contains(r.Header.Get("Accept"), eventStreamMediaType.String()) {
		r.Header.Set("Accept", "application/json, text/event-stream")
	}

	var msg *jsonrpc.AnyMessage
	if r.Method == http.MethodPost {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			if mt, err := contenttype.GetMediaType(r); err != nil || !mt.Matches(jsonMediaType) {
				h.log.InfoContext(ctx, "http.post.content_type.unexpected", slog.String("content_type", ct))
			}
		}
		m, raw, err := readMessage(w, r)
		if err != nil {
			if errors.Is(err, errBodyTooLarge) {
				h.metrics.BodyTooLarge()
			}
			h.log.InfoContext(ctx, "http.post.reject", slog.String("err", err.Error()))
			writeRPCError(w, probeID(raw), err)
			return
		}
		msg = m
	}

	if protected {
		if err := h.authenticate(ctx, r); err != nil {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			w.Header().Set(wwwAuthenticateHeader, buildBearerChallenge(h.resourceMetadataURL(r), map[string]string{
				"error": "invalid_token",
			}))
			writeRPCError(w, nil, err)
			return
		}
	}

	r = r.WithContext(auth.WithConfig(ctx, cfg))
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r, msg)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	}
}

// requestAuth resolves the backend credentials for r and stamps the client
// address and user agent.
func (h *Router) requestAuth(r *http.Request) (auth.Config, error) {
	cfg, err := h.resolver.Resolve(r.Header)
	if err != nil {
		return auth.Config{}, err
	}

	ip := clientip.Extract(r, h.trustProxy)
	if enc, err := h.ipEnc.Encrypt(ip); err != nil {
		h.log.WarnContext(r.Context(), "clientip.encrypt.fail", slog.String("err", err.Error()))
	} else {
		ip = enc
	}
	cfg.ClientIP = ip
	cfg.ClientInfo = r.UserAgent()
	return cfg, nil
}

// authenticate checks the bearer token on r. Every failure wraps
// auth.ErrUnauthorized.
func (h *Router) authenticate(ctx context.Context, r *http.Request) error {
	if h.authn == nil {
		return fmt.Errorf("%w: no authenticator configured", auth.ErrUnauthorized)
	}
	tok := auth.BearerToken(r.Header)
	if tok == "" {
		return fmt.Errorf("%w: missing bearer token", auth.ErrUnauthorized)
	}
	ui, err := h.authn.CheckAuthentication(ctx, tok)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthorized) {
			err = fmt.Errorf("%w: %v", auth.ErrUnauthorized, err)
		}
		return err
	}
	h.log.DebugContext(ctx, "auth.ok", slog.String("user_id", ui.UserID()))
	return nil
}

func (h *Router) handlePost(w http.ResponseWriter, r *http.Request, msg *jsonrpc.AnyMessage) {
	start := time.Now()
	ctx := logctx.WithRPCMessage(r.Context(), &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	sessID := strings.TrimSpace(r.Header.Get(mcpSessionIDHeader))
	isInit := msg.Method == string(mcp.InitializeMethod) && !msg.ID.IsNil()

	var clientName string
	if isInit {
		clientName = initializeClientName(msg.Params)
	}
	ua := r.UserAgent()

	sess, err := h.reg.CreateOrReuse(sessID, isInit, sessions.NewSession{
		Kind:       sessions.KindStreamableHTTP,
		ClientName: clientName,
		UserAgent:  ua,
		Engine:     func() sessions.Engine { return h.newEngine(clientName, ua) },
	})
	if err != nil {
		h.log.InfoContext(ctx, "session.lookup.fail", slog.String("err", err.Error()))
		writeRPCError(w, msg.ID, err)
		return
	}
	created := sessID == ""
	sess.Touch(start)
	ctx = withSession(ctx, sess)

	res := sess.Engine().Handle(ctx, msg)
	if res == nil {
		w.WriteHeader(http.StatusAccepted)
		h.log.DebugContext(ctx, "http.post.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	if isInit {
		if res.Error != nil && created {
			h.reg.Terminate(sess.ID())
		} else {
			sess.SetClientName(clientName)
			w.Header().Set(mcpSessionIDHeader, sess.ID())
		}
	}
	if pv, ok := sess.Engine().(interface{ ProtocolVersion() string }); ok && pv.ProtocolVersion() != "" {
		w.Header().Set(mcpProtocolVersionHeader, pv.ProtocolVersion())
	}

	if err := writeResponse(w, r, res); err != nil {
		h.log.ErrorContext(ctx, "http.post.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
}

// writeResponse answers with JSON unless the client accepts only event
// streams, in which case the response is sent as a single SSE event.
func writeResponse(w http.ResponseWriter, r *http.Request, res *jsonrpc.Response) error {
	b, err := json.Marshal(res)
	if err != nil {
		writeRPCError(w, res.ID, err)
		return err
	}

	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err == nil {
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		_, err := w.Write(b)
		return err
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	return writeSSEEvent(w, "message", "", b)
}

func (h *Router) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	id := strings.TrimSpace(r.Header.Get(mcpSessionIDHeader))
	if id == "" {
		writeRPCError(w, nil, sessions.ErrNoValidSessionID)
		return
	}
	sess, ok := h.reg.Get(id)
	if !ok {
		writeRPCError(w, nil, sessions.ErrSessionNotFound)
		return
	}
	ctx = withSession(ctx, sess)

	stream, err := sess.Transport().Subscribe(r.Header.Get(lastEventIDHeader))
	if err != nil {
		if errors.Is(err, sessions.ErrTransportClosed) {
			err = sessions.ErrSessionNotFound
		}
		h.log.InfoContext(ctx, "sse.stream.reject", slog.String("err", err.Error()))
		writeRPCError(w, nil, err)
		return
	}
	defer stream.Close()

	startEventStream(w)
	h.log.InfoContext(ctx, "sse.stream.start")

	err = pumpEvents(ctx, w, stream, sess)
	h.log.InfoContext(ctx, "sse.stream.end", slog.String("reason", streamEndReason(err)), slog.Duration("dur", time.Since(start)))
}

func (h *Router) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimSpace(r.Header.Get(mcpSessionIDHeader))
	if id == "" {
		writeRPCError(w, nil, sessions.ErrNoValidSessionID)
		return
	}
	if !h.reg.Terminate(id) {
		h.log.InfoContext(ctx, "session.delete.miss")
		writeRPCError(w, nil, sessions.ErrSessionNotFound)
		return
	}
	h.log.InfoContext(ctx, "session.delete.ok", slog.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func withSession(ctx context.Context, s *sessions.Session) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:  s.ID(),
		Transport:  string(s.Kind()),
		ClientName: s.ClientName(),
	})
}

// initializeClientName returns clientInfo.name from initialize params.
func initializeClientName(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var p mcp.InitializeRequest
	if err := json.Unmarshal(params, &p); err != nil {
		return ""
	}
	return p.ClientInfo.Name
}

func streamEndReason(err error) string {
	switch {
	case err == nil:
		return "eof"
	case errors.Is(err, sessions.ErrTransportClosed):
		return "closed"
	case errors.Is(err, context.Canceled):
		return "client_gone"
	}
	return err.Error()
}
