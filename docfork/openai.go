package docfork

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/docfork/docfork-mcp/mcpservice"
)

// OpenAIServerVersion is reported in serverInfo for the OpenAI tool set.
const OpenAIServerVersion = "1.3.4"

const snippetLength = 200

// IsOpenAIClient reports whether a client name or user agent identifies an
// OpenAI connector.
func IsOpenAIClient(clientName, userAgent string) bool {
	return strings.Contains(strings.ToLower(clientName), "openai") ||
		strings.Contains(strings.ToLower(userAgent), "openai")
}

// SearchArgs are the OpenAI search arguments.
type SearchArgs struct {
	Query string `json:"query"`
}

// FetchArgs are the OpenAI fetch arguments.
type FetchArgs struct {
	ID string `json:"id"`
}

type searchResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

type searchPayload struct {
	Error   string         `json:"error,omitempty"`
	Results []searchResult `json:"results"`
}

type fetchMetadata struct {
	Source            string `json:"source"`
	FetchedAt         string `json:"fetched_at"`
	LibraryIdentifier string `json:"library_identifier,omitempty"`
	VersionInfo       string `json:"version_info,omitempty"`
}

type fetchPayload struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Text     string        `json:"text"`
	URL      string        `json:"url"`
	Metadata fetchMetadata `json:"metadata"`
}

// NewOpenAIServer returns the server offering the search and fetch tools in
// the shape expected by OpenAI deep research connectors.
func NewOpenAIServer(c *Client, opts ...mcpservice.ServerOption) *mcpservice.Server {
	base := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(serverInfo(OpenAIServerVersion)),
		mcpservice.WithTools(SearchTool(c), FetchTool(c, time.Now)),
	}
	return mcpservice.NewServer(append(base, opts...)...)
}

// SearchTool returns search results as a JSON document in one text block.
// Failures are reported inside the document, never as tool errors.
func SearchTool(c *Client) mcpservice.StaticTool {
	return mcpservice.NewTool[SearchArgs]("search", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[SearchArgs]) error {
		out := searchPayload{Results: []searchResult{}}
		query := strings.TrimSpace(r.Args().Query)
		if query == "" {
			return appendJSON(w, out)
		}

		res, err := c.Search(ctx, query, "", "")
		if err != nil {
			out.Error = err.Error()
			return appendJSON(w, out)
		}
		for _, s := range res.Sections {
			text := s.Content
			if runes := []rune(text); len(runes) > snippetLength {
				text = string(runes[:snippetLength]) + "..."
			}
			out.Results = append(out.Results, searchResult{ID: s.URL, Title: s.Title, Text: text, URL: s.URL})
		}
		return appendJSON(w, out)
	},
		mcpservice.WithToolTitle("Search Documentation"),
		mcpservice.WithToolDescription("Search for documents using semantic search across web documentation and GitHub. Returns a list of relevant search results."),
		mcpservice.WithArgDescription("query", "Search query string. Natural language queries work best. Include programming language and framework names for better results."),
	)
}

// FetchTool returns one document as a JSON document in one text block.
func FetchTool(c *Client, now func() time.Time) mcpservice.StaticTool {
	return mcpservice.NewTool[FetchArgs]("fetch", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[FetchArgs]) error {
		id := strings.TrimSpace(r.Args().ID)
		if id == "" {
			return appendJSON(w, map[string]string{"error": "Document ID is required"})
		}

		res, err := c.Read(ctx, id)
		if err != nil {
			return appendJSON(w, map[string]string{"error": err.Error()})
		}

		title := "Documentation"
		if res.LibraryIdentifier != "" {
			title += " from " + res.LibraryIdentifier
		}
		if res.VersionInfo != "" {
			title += " " + res.VersionInfo
		}
		return appendJSON(w, fetchPayload{
			ID:    id,
			Title: title,
			Text:  res.Text,
			URL:   id,
			Metadata: fetchMetadata{
				Source:            "docfork",
				FetchedAt:         now().UTC().Format(time.RFC3339Nano),
				LibraryIdentifier: res.LibraryIdentifier,
				VersionInfo:       res.VersionInfo,
			},
		})
	},
		mcpservice.WithToolTitle("Fetch Document"),
		mcpservice.WithToolDescription("Retrieve complete document content by ID for detailed analysis and citation."),
		mcpservice.WithArgDescription("id", "URL or unique identifier for the document to fetch."),
	)
}

func appendJSON(w mcpservice.ToolResponseWriter, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.AppendText(string(b))
}
