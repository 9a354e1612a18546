// Package stdio serves one MCP session over stdin/stdout. It is how local
// clients launch the server as a subprocess.
//
// Messages are newline-delimited JSON-RPC. Each request is handled on its own
// goroutine and responses are written in completion order, one per line.
// There are no session ids; credentials are resolved once at startup and
// attached to every request.
//
// Example:
//
//	cfg, err := auth.Resolver{CLI: cli, Env: env}.Resolve(nil)
//	if err != nil { ... }
//	h := stdio.NewHandler(engine, stdio.WithAuth(cfg), stdio.WithLogger(logger))
//	if err := h.Serve(ctx); err != nil { ... }
package stdio
