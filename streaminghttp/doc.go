// Package streaminghttp serves MCP over HTTP. A single Router handles the
// streamable HTTP endpoint (/mcp and the bearer-protected /mcp/oauth), the
// legacy Server-Sent Events pair (/sse and /messages), health and session
// introspection routes and the well-known discovery documents.
//
// Every request gets permissive CORS headers and a normalized path before
// dispatch. Transport-level failures are written as JSON-RPC error envelopes
// with an HTTP status derived from the error:
//
//	parse error        -32700  400 (413 when the body exceeds the limit)
//	invalid config     -32602  400
//	session error      -32000  400
//	unauthorized       -32001  401
//	internal error     -32603  500
//
// Sessions live in a sessions.Registry. Each session owns one protocol
// engine, built by the EngineFactory passed to New, and one outbound
// transport that GET /mcp and GET /sse drain as an event stream.
//
// Example:
//
//	rt, err := streaminghttp.New(factory,
//	    streaminghttp.WithResolver(resolver),
//	    streaminghttp.WithAuthenticator(authn),
//	)
//	srv := &http.Server{Handler: rt}
package streaminghttp
