// Package mcp contains the Model Context Protocol data types and method names
// used by the Docfork server. It mirrors the wire representation with
// exported structs and json tags and carries no transport logic: stdio,
// streamable HTTP and legacy SSE all exchange these types through the
// mcpservice engine.
//
// Only the surface the server speaks is modelled: the initialize handshake,
// ping, and the tools capability.
package mcp
