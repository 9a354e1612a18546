// Package sessions owns the in-process table of MCP sessions served over
// HTTP. A session binds a protocol engine to a transport handle; both are
// created together by the Registry and released together when the transport
// closes.
//
// Lifecycle
//
//	initialize without id -> Registry.CreateOrReuse mints a session
//	request with known id  -> the same session (and engine) is returned
//	DELETE / disconnect    -> Transport.Close removes the session
//
// Transport.Close is idempotent and runs the registry's cleanup callback, so a
// peer that drops its connection without a DELETE does not leak its session.
//
// Each Transport carries an outbound event queue with increasing event ids
// and a bounded replay log that SSE streams consume, resuming after a
// Last-Event-ID when one is supplied.
package sessions
