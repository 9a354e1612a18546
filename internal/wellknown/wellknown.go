// Package wellknown holds the discovery documents served under /.well-known.
package wellknown

// Well-known paths.
const (
	ProtectedResourcePath   = "/.well-known/oauth-protected-resource"
	AuthorizationServerPath = "/.well-known/oauth-authorization-server"
	MCPConfigPath           = "/.well-known/mcp-config"
)

// ProtectedResourceMetadata is the RFC 9728 document describing the OAuth
// protected MCP endpoint.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	JwksURI                string   `json:"jwks_uri,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// MCPConfig advertises the session configuration a client may supply.
type MCPConfig struct {
	ConfigSchema ConfigSchema `json:"configSchema"`
}

type ConfigSchema struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties"`
}

// NoConfig is served when the server takes no per-session configuration.
var NoConfig = MCPConfig{
	ConfigSchema: ConfigSchema{
		Type:        "object",
		Description: "No configuration required",
		Properties:  map[string]any{},
	},
}
