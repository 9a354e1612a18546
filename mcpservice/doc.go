// Package mcpservice implements the MCP protocol engine: the initialize
// handshake, ping, tools/list and tools/call, plus helpers for declaring
// typed tools.
//
// A Server is the immutable description of what is served (implementation
// info, instructions and tools). Each session gets its own Engine from
// Server.NewEngine; the engine records the negotiated protocol version and
// client identity and dispatches JSON-RPC messages.
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"minLength=1"`
//	}
//	echo := mcpservice.NewTool[EchoArgs]("echo",
//	    func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	        return w.AppendText("you said: " + r.Args().Message)
//	    },
//	    mcpservice.WithToolDescription("Echo a message back to the caller"),
//	)
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithTools(echo),
//	)
//	res := srv.NewEngine().Handle(ctx, msg)
package mcpservice
