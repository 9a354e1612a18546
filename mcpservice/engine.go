package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/docfork/docfork-mcp/internal/jsonrpc"
	"github.com/docfork/docfork-mcp/internal/logctx"
	"github.com/docfork/docfork-mcp/mcp"
)

// errCancelledByClient is the cancellation cause recorded when the client
// sends notifications/cancelled for an in-flight request.
var errCancelledByClient = errors.New("cancelled by client")

// Engine dispatches JSON-RPC messages for one session. It is safe for
// concurrent use; requests are not serialized.
type Engine struct {
	srv *Server
	log *slog.Logger

	mu              sync.Mutex
	protocolVersion string
	clientInfo      mcp.ImplementationInfo
	inflight        map[string]func(error)
}

// ClientInfo returns the identity declared by the client in initialize.
func (e *Engine) ClientInfo() mcp.ImplementationInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientInfo
}

// ProtocolVersion returns the negotiated protocol version, or "" before
// initialize.
func (e *Engine) ProtocolVersion() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.protocolVersion
}

// Handle processes msg and returns the response to send, or nil for
// notifications and client responses.
//
// A notifications/cancelled for an in-flight tools/call cancels the context
// passed to the tool handler. Only handlers that watch ctx stop early; the
// docfork tools detach their backend calls, so they run to completion and
// the cancellation has no visible effect for them.
func (e *Engine) Handle(ctx context.Context, msg *jsonrpc.AnyMessage) *jsonrpc.Response {
	req := msg.AsRequest()
	if req == nil {
		// Client responses are accepted and dropped; this server never issues
		// requests to the client.
		return nil
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: msg.Type()})

	if req.ID.IsNil() {
		e.handleNotification(ctx, req)
		return nil
	}

	res, err := e.handleRequest(ctx, req)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	return res
}

func (e *Engine) handleRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return e.handleInitialize(ctx, req)
	case mcp.PingMethod:
		return jsonrpc.NewResultResponse(req.ID, struct{}{})
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		return e.handleToolCall(ctx, req)
	}
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil), nil
}

func (e *Engine) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		e.log.InfoContext(ctx, "engine.initialize.invalid", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	version := mcp.LatestProtocolVersion
	if slices.Contains(mcp.SupportedProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	e.mu.Lock()
	e.protocolVersion = version
	e.clientInfo = params.ClientInfo
	e.mu.Unlock()

	res := &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		},
		ServerInfo:   e.srv.info,
		Instructions: e.srv.instructions,
	}

	e.log.InfoContext(ctx, "engine.initialize.ok",
		slog.String("protocol_version", version),
		slog.String("client", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
	)
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	tools, next := e.srv.tools.Page(params.Cursor)
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListToolsResult{
		Tools:           tools,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	})
}

func (e *Engine) handleToolCall(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	handler, ok := e.srv.tools.Handler(params.Name)
	if !ok {
		e.log.InfoContext(ctx, "engine.tool.unknown")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name), nil), nil
	}

	toolCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)

	reqID := req.ID.String()
	e.mu.Lock()
	e.inflight[reqID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, reqID)
		e.mu.Unlock()
	}()

	res, err := handler(toolCtx, &params)
	if err != nil {
		if errors.Is(context.Cause(toolCtx), errCancelledByClient) {
			e.log.InfoContext(ctx, "engine.tool.cancelled", slog.Duration("dur", time.Since(start)))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil), nil
		}
		e.log.WarnContext(ctx, "engine.tool.fail", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		res = Errorf("%s", err.Error())
	} else {
		e.log.InfoContext(ctx, "engine.tool.ok", slog.Bool("is_error", res.IsError), slog.Duration("dur", time.Since(start)))
	}

	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleNotification(ctx context.Context, note *jsonrpc.Request) {
	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		e.log.DebugContext(ctx, "engine.initialized")
	case mcp.CancelledNotificationMethod:
		var params struct {
			RequestID *jsonrpc.RequestID `json:"requestId"`
			Reason    string             `json:"reason,omitempty"`
		}
		if err := json.Unmarshal(note.Params, &params); err != nil || params.RequestID.IsNil() {
			return
		}
		e.mu.Lock()
		cancel, ok := e.inflight[params.RequestID.String()]
		e.mu.Unlock()
		if ok {
			cancel(errCancelledByClient)
			e.log.InfoContext(ctx, "engine.request.cancelled",
				slog.String("request_id", params.RequestID.String()),
				slog.String("reason", params.Reason))
		}
	default:
		e.log.DebugContext(ctx, "engine.notification.ignored", slog.String("method", note.Method))
	}
}
