package mcp

import "github.com/invopop/jsonschema"

// Capabilities
// ClientCapabilities advertises client features.
type ClientCapabilities struct {
	Roots *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"roots,omitempty"`
	Sampling    *struct{} `json:"sampling,omitempty"`
	Elicitation *struct{} `json:"elicitation,omitempty"`
}

// ServerCapabilities advertises server features.
type ServerCapabilities struct {
	Logging *struct{} `json:"logging,omitempty"`
	Tools   *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools,omitempty"`
}

// Icon is a display icon for an implementation.
type Icon struct {
	Src      string `json:"src"`
	MimeType string `json:"mimeType,omitzero"`
}

// ImplementationInfo describes the implementation name and version.
type ImplementationInfo struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Title      string `json:"title,omitzero"`
	WebsiteURL string `json:"websiteUrl,omitzero"`
	Icons      []Icon `json:"icons,omitempty"`
}

// ContentTypeText is the type tag of a text content block.
const ContentTypeText = "text"

// ContentBlock is a typed content part of a message.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitzero"`
}

// Tool describes a callable tool and its input schema.
type Tool struct {
	Name        string             `json:"name"`
	Title       string             `json:"title,omitzero"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
	Annotations *ToolAnnotations   `json:"annotations,omitempty"`
}

// ToolAnnotations are behavioural hints for clients.
type ToolAnnotations struct {
	ReadOnlyHint bool `json:"readOnlyHint,omitzero"`
}

// LatestProtocolVersion is the latest version of the protocol.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the versions the server accepts verbatim
// during initialization, newest first.
var SupportedProtocolVersions = []string{
	LatestProtocolVersion,
	"2025-03-26",
	"2024-11-05",
}
