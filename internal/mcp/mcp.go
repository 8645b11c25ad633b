// Package mcp exposes the catalogue to MCP clients: search, batch record
// fetch, facet option listings, and metadata updates as tools, plus the facet
// hierarchy as a resource.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/facets"
)

// Catalogue abstracts the catalogue client for the MCP layer.
type Catalogue interface {
	Search(ctx context.Context, req catalogue.SearchRequest) (*catalogue.SearchPage, error)
	FacetOptions(ctx context.Context, facetType string, filters map[string]string) ([]catalogue.FacetOption, error)
	FetchByIDs(ctx context.Context, ids []int64) ([]catalogue.Record, error)
	UpdateMetadata(ctx context.Context, id int64, metadata map[string]any) (*catalogue.Record, error)
}

// Deps holds dependencies for the MCP server.
type Deps struct {
	Catalogue Catalogue
	Hierarchy []facets.Type
	Version   string
}

// NewServer creates an MCP server with all catalogue tools registered.
func NewServer(deps Deps) *server.MCPServer {
	if len(deps.Hierarchy) == 0 {
		deps.Hierarchy = facets.DefaultHierarchy()
	}
	if deps.Version == "" {
		deps.Version = "0.0.0"
	}

	s := server.NewMCPServer(
		"fccsearch",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("Query the FCC physics events catalogue: search datasets, inspect facets, and update record metadata."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_catalogue",
			mcp.WithDescription("Search the dataset catalogue. The query combines facet clauses (stage=sim) joined by AND with free-text terms; use * to match everything."),
			mcp.WithString("query", mcp.Description("Query string, e.g. \"stage=sim AND higgs\" or \"*\""), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20, max 100)")),
			mcp.WithNumber("offset", mcp.Description("Number of results to skip (default 0)")),
			mcp.WithString("sort", mcp.Description("Sort field: created_at, name, last_edited, or id")),
			mcp.WithString("order", mcp.Description("Sort order: asc or desc")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("get_records",
			mcp.WithDescription("Fetch full catalogue records, metadata included, by their numeric ids."),
			mcp.WithArray("ids", mcp.Description("Record ids"), mcp.Required()),
		),
		mcpGetRecords(deps),
	)

	s.AddTool(
		mcp.NewTool("list_facet_options",
			mcp.WithDescription("List the selectable values of a facet type, narrowed by any ancestor selections."),
			mcp.WithString("facet", mcp.Description("Facet type: stage, campaign, or detector"), mcp.Required()),
			mcp.WithString("stage", mcp.Description("Ancestor filter: selected stage value")),
			mcp.WithString("campaign", mcp.Description("Ancestor filter: selected campaign value")),
		),
		mcpFacetOptions(deps),
	)

	s.AddTool(
		mcp.NewTool("update_metadata",
			mcp.WithDescription("Replace a record's metadata document. Requires catalogue write credentials."),
			mcp.WithNumber("id", mcp.Description("Record id"), mcp.Required()),
			mcp.WithString("metadata", mcp.Description("New metadata as a JSON object"), mcp.Required()),
		),
		mcpUpdateMetadata(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"catalogue://facets",
			"Facet Hierarchy",
			mcp.WithResourceDescription("Ordered facet hierarchy with display labels"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceFacets(deps),
	)

	return s
}

func mcpSearch(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}
		offset := req.GetInt("offset", 0)
		if offset < 0 {
			offset = 0
		}

		page, err := deps.Catalogue.Search(ctx, catalogue.SearchRequest{
			Query:     q,
			Limit:     limit,
			Offset:    offset,
			SortField: req.GetString("sort", ""),
			SortOrder: req.GetString("order", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		b, err := json.Marshal(page)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetRecords(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw := req.GetArguments()["ids"]
		ids, err := toInt64Slice(raw)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid ids: %v", err)), nil
		}
		if len(ids) == 0 {
			return mcpError("ids is required"), nil
		}

		records, err := deps.Catalogue.FetchByIDs(ctx, ids)
		if err != nil {
			return mcpError(fmt.Sprintf("fetch failed: %v", err)), nil
		}
		if records == nil {
			records = []catalogue.Record{}
		}

		b, err := json.Marshal(records)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal records: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpFacetOptions(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		facet, err := req.RequireString("facet")
		if err != nil {
			return mcpError("facet is required"), nil
		}

		filters := make(map[string]string)
		if stage := req.GetString("stage", ""); stage != "" {
			filters["stage"] = stage
		}
		if campaign := req.GetString("campaign", ""); campaign != "" {
			filters["campaign"] = campaign
		}

		options, err := deps.Catalogue.FacetOptions(ctx, facet, filters)
		if err != nil {
			return mcpError(fmt.Sprintf("listing facet options failed: %v", err)), nil
		}
		if options == nil {
			options = []catalogue.FacetOption{}
		}

		b, err := json.Marshal(options)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal options: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpUpdateMetadata(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetInt("id", 0)
		if id <= 0 {
			return mcpError("id is required"), nil
		}

		metadataJSON, err := req.RequireString("metadata")
		if err != nil {
			return mcpError("metadata is required"), nil
		}
		var metadata map[string]any
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return mcpError(fmt.Sprintf("invalid metadata JSON: %v", err)), nil
		}

		rec, err := deps.Catalogue.UpdateMetadata(ctx, int64(id), metadata)
		if err != nil {
			return mcpError(fmt.Sprintf("update failed: %v", err)), nil
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceFacets(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type facetInfo struct {
			Name       string `json:"name"`
			Label      string `json:"label"`
			ClearLabel string `json:"clear_label"`
		}
		infos := make([]facetInfo, len(deps.Hierarchy))
		for i, ft := range deps.Hierarchy {
			infos[i] = facetInfo{Name: ft.Name, Label: ft.Label, ClearLabel: ft.ClearLabel}
		}

		b, err := json.Marshal(infos)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal hierarchy: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// toInt64Slice copes with the id list arriving as JSON numbers or strings.
func toInt64Slice(raw any) ([]int64, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array, got %T", raw)
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case float64:
			ids = append(ids, int64(v))
		case string:
			var id int64
			if _, err := fmt.Sscanf(v, "%d", &id); err != nil {
				return nil, fmt.Errorf("parsing id %q: %w", v, err)
			}
			ids = append(ids, id)
		default:
			return nil, fmt.Errorf("unsupported id type %T", item)
		}
	}
	return ids, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
