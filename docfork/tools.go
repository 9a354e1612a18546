package docfork

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docfork/docfork-mcp/mcp"
	"github.com/docfork/docfork-mcp/mcpservice"
)

// ServerVersion is reported in serverInfo for the standard tool set.
const ServerVersion = "2.0.0"

const instructions = "Use query_docs to search library documentation and fetch_url to read full pages from the results."

const queryDocsDescription = `Searches documentation for a library and returns content chunks with titles, URLs, and summaries. The library parameter is required.

The library parameter accepts two formats:
- A short name or keyword when unsure of the exact repository
- An exact owner/repo identifier once known

Always prefer the exact owner/repo form for follow-up queries. If the user supplies a GitHub URL, extract the owner/repo from it.

Selection guidance when multiple candidates appear:
- prefer exact name matches and official orgs over forks
- prefer canonical docs domains and upstream repositories

For ambiguous inputs, pick the best match and state the assumption.

Do not call this tool more than 3 times per question. If you cannot find what you need after 3 calls, use the best result you have.`

const fetchURLDescription = `Fetches a URL and returns its content as markdown. Only accepts URLs from query_docs results or derived from them.

- Pass a URL from query_docs results to retrieve the full content of that chunk.
- Navigate to a broader path (drop anchors or trim to a parent directory) to get a table of contents with chunk previews.

Do not use with arbitrary URLs. Prefer fewer, highly relevant fetches over many broad ones.`

var resultHeader = strings.Join([]string{
	"Results below. Each result includes:",
	"- title: Section heading",
	"- description: Brief summary",
	"- url: Chunk URL. Use with fetch_url for full content, or navigate to a parent path for a table of contents.",
	"",
	"Select the most relevant result for the user's question. Use fetch_url if you need more context.",
	"------",
}, "\n")

// QueryDocsArgs are the query_docs arguments.
type QueryDocsArgs struct {
	Query   string       `json:"query"`
	Library string       `json:"library"`
	Tokens  *TokenBudget `json:"tokens,omitempty"`
}

// FetchURLArgs are the fetch_url arguments.
type FetchURLArgs struct {
	URL string `json:"url"`
}

// ToolsConfig tunes the standard tools.
type ToolsConfig struct {
	// DefaultTokens is sent when query_docs is called without a budget.
	// Zero leaves the choice to the API.
	DefaultTokens int
}

func serverInfo(version string) mcp.ImplementationInfo {
	return mcp.ImplementationInfo{
		Name:       "Docfork",
		Version:    version,
		WebsiteURL: "https://docfork.com",
		Icons:      []mcp.Icon{{Src: "https://docfork.com/icon.svg", MimeType: "image/svg+xml"}},
	}
}

// NewStandardServer returns the server offering query_docs and fetch_url.
func NewStandardServer(c *Client, cfg ToolsConfig, opts ...mcpservice.ServerOption) *mcpservice.Server {
	base := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(serverInfo(ServerVersion)),
		mcpservice.WithInstructions(instructions),
		mcpservice.WithTools(QueryDocsTool(c, cfg), FetchURLTool(c)),
	}
	return mcpservice.NewServer(append(base, opts...)...)
}

// QueryDocsTool searches a library's documentation.
func QueryDocsTool(c *Client, cfg ToolsConfig) mcpservice.StaticTool {
	return mcpservice.NewTool[QueryDocsArgs]("query_docs", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[QueryDocsArgs]) error {
		args := r.Args()
		query := strings.TrimSpace(args.Query)
		library := strings.TrimPrefix(strings.TrimSpace(args.Library), "/")
		if query == "" {
			return paramError(w, "query_docs", "query")
		}
		if library == "" {
			return paramError(w, "query_docs", "library")
		}

		tokens := ""
		if args.Tokens != nil {
			tokens = args.Tokens.String()
		} else if cfg.DefaultTokens > 0 {
			tokens = strconv.Itoa(cfg.DefaultTokens)
		}

		res, err := c.Search(ctx, query, library, tokens)
		if err != nil {
			return err
		}

		if err := w.AppendText(resultHeader); err != nil {
			return err
		}
		for _, s := range res.Sections {
			desc := s.Description
			if desc == "" {
				desc = s.Content
			}
			if err := w.AppendText(fmt.Sprintf("title: %s\ndescription: %s\nurl: %s", s.Title, desc, s.URL)); err != nil {
				return err
			}
		}
		return nil
	},
		mcpservice.WithToolTitle("Query Documentation"),
		mcpservice.WithToolDescription(queryDocsDescription),
		mcpservice.WithToolReadOnly(),
		mcpservice.WithArgDescription("query", "The question or task. Be specific and include relevant details. Good: 'How to set up server-side rendering in Next.js' or 'Zod schema validation for nested objects'. Bad: 'rendering' or 'validation'."),
		mcpservice.WithArgDescription("library", "Required. Exact owner/repo when known (e.g., facebook/react, vercel/next.js, supabase/supabase, TanStack/query). Otherwise a short library name or keyword (e.g., react, nextjs)."),
		mcpservice.WithArgDescription("tokens", "Token budget: dynamic or a number (100-10000)."),
	)
}

// FetchURLTool reads a page returned by query_docs.
func FetchURLTool(c *Client) mcpservice.StaticTool {
	return mcpservice.NewTool[FetchURLArgs]("fetch_url", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[FetchURLArgs]) error {
		target := strings.TrimSpace(r.Args().URL)
		if target == "" {
			return paramError(w, "fetch_url", "url")
		}
		res, err := c.Read(ctx, target)
		if err != nil {
			return err
		}
		return w.AppendText(res.Text)
	},
		mcpservice.WithToolTitle("Fetch URL"),
		mcpservice.WithToolDescription(fetchURLDescription),
		mcpservice.WithToolReadOnly(),
		mcpservice.WithArgDescription("url", "Full URL from query_docs results. Anchors and deep links are supported."),
	)
}

func paramError(w mcpservice.ToolResponseWriter, tool, param string) error {
	w.SetError(true)
	return w.AppendText(fmt.Sprintf("[%s tool] Error: '%s' is required.", tool, param))
}
