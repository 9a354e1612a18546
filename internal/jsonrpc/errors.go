package jsonrpc

import "net/http"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters. The HTTP
	// surface also uses it for invalid credential combinations.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
	// ErrorCodeSession indicates a missing or unknown session id.
	ErrorCodeSession ErrorCode = -32000
	// ErrorCodeUnauthorized indicates a missing or invalid credential on a
	// protected route.
	ErrorCodeUnauthorized ErrorCode = -32001
)

// HTTPStatus returns the HTTP status paired with code when an error envelope
// is written directly as an HTTP response.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
