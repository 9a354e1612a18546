package streaminghttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/docfork/docfork-mcp/auth"
	"github.com/docfork/docfork-mcp/internal/jsonrpc"
	"github.com/docfork/docfork-mcp/sessions"
)

var (
	errParse            = errors.New("Parse error")
	errBodyTooLarge     = errors.New("Request body too large")
	errInvalidRequest   = errors.New("Invalid Request")
	errMethodNotAllowed = errors.New("Method not allowed.")
)

// classify maps err to the HTTP status, JSON-RPC code and message written
// to the client. Unknown errors are reported as internal without detail.
func classify(err error) (int, jsonrpc.ErrorCode, string) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, jsonrpc.ErrorCodeParseError, errBodyTooLarge.Error()
	case errors.Is(err, errParse):
		return http.StatusBadRequest, jsonrpc.ErrorCodeParseError, errParse.Error()
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, err.Error()
	case errors.Is(err, errMethodNotAllowed):
		return http.StatusMethodNotAllowed, jsonrpc.ErrorCodeSession, errMethodNotAllowed.Error()
	case errors.Is(err, auth.ErrConfig):
		return http.StatusBadRequest, jsonrpc.ErrorCodeInvalidParams, err.Error()
	case errors.Is(err, sessions.ErrNoValidSessionID):
		return http.StatusBadRequest, jsonrpc.ErrorCodeSession, sessions.ErrNoValidSessionID.Error()
	case errors.Is(err, sessions.ErrSessionNotFound):
		return http.StatusBadRequest, jsonrpc.ErrorCodeSession, sessions.ErrSessionNotFound.Error()
	case errors.Is(err, sessions.ErrStreamActive):
		return http.StatusConflict, jsonrpc.ErrorCodeSession, "Conflict: " + sessions.ErrStreamActive.Error()
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, jsonrpc.ErrorCodeUnauthorized, "Unauthorized"
	}
	return http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "Internal server error"
}

// writeRPCError writes err as a JSON-RPC error envelope. id may be nil.
// It must be called before the response status is written.
func writeRPCError(w http.ResponseWriter, id *jsonrpc.RequestID, err error) {
	status, code, msg := classify(err)
	if status == http.StatusRequestEntityTooLarge {
		w.Header().Set("Connection", "close")
	}
	writeJSON(w, status, jsonrpc.NewErrorResponse(id, code, msg, nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error":   "not_found",
		"message": "Endpoint not found. Use /mcp for MCP protocol communication.",
	})
}

// readMessage reads and decodes a single JSON-RPC message from r's body,
// enforcing the body size limit. The raw body is returned when it was read
// so callers can echo the request id in error envelopes.
func readMessage(w http.ResponseWriter, r *http.Request) (*jsonrpc.AnyMessage, []byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, errBodyTooLarge
		}
		return nil, nil, fmt.Errorf("%w: %v", errParse, err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, raw, errParse
	}
	if raw[0] == '[' {
		return nil, raw, fmt.Errorf("%w: batch requests are not supported", errInvalidRequest)
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, raw, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return &msg, raw, nil
}

// probeID extracts the id of a possibly invalid message.
func probeID(raw []byte) *jsonrpc.RequestID {
	var probe struct {
		ID *jsonrpc.RequestID `json:"id"`
	}
	if len(raw) == 0 || raw[0] != '{' || json.Unmarshal(raw, &probe) != nil {
		return nil
	}
	return probe.ID
}
