// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes tape tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tape/internal/collection"
	"github.com/starford/tape/internal/hotlist"
	"github.com/starford/tape/internal/models"
	"github.com/starford/tape/internal/tags"
)

// FormatURI identifies the collection format resource.
const FormatURI = "tape://format"

// Server wraps the MCP server with tape tools.
type Server struct {
	mcp *server.MCPServer
	svc *collection.Service
}

// New creates a new MCP server with all tape tools registered.
func New(svc *collection.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Tape",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through note bodies and titles, optionally restricted to tags matching a glob."),
		mcp.WithString("query", mcp.Description("Search query string")),
		mcp.WithString("tag", mcp.Description("Tag glob pattern such as travel/*")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note with its tags, timestamps and position in the tree."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Note id")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note, optionally as the last child of another note. "+
			"Read the format contract first via the get_format_contract tool or the "+FormatURI+" resource."),
		mcp.WithString("body", mcp.Required(), mcp.Description("Note text; the first non-blank line is its title")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithNumber("parent_id", mcp.Description("Id of the parent note (omit for top level)")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List the collection as an indented outline of ids, titles and tags."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("import_hotlist",
		mcp.WithDescription("Import an Opera hotlist (notes.adr). Folders become parent notes."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full text of the hotlist file")),
		mcp.WithNumber("parent_id", mcp.Description("Id of the note to import under (omit for top level)")),
		mcp.WithBoolean("skip_trash", mcp.Description("Drop the trash folder (default true)")),
		mcp.WithBoolean("folder_tags", mcp.Description("Tag notes with the path of their folders")),
	), s.importHotlist)

	s.mcp.AddTool(mcp.NewTool("get_format_contract",
		mcp.WithDescription("Returns the tape collection format contract. "+
			"Call this before creating notes to ensure correct structure."),
	), s.getFormatContract)

	// Resource: collection format contract.
	s.mcp.AddResource(
		mcp.NewResource(FormatURI, "Collection Format Contract",
			mcp.WithResourceDescription("The JSON format of a tape collection file."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// optionalID reads a numeric note id argument, nil when absent.
func optionalID(req mcp.CallToolRequest, name string) *int64 {
	v, ok := req.GetArguments()[name].(float64)
	if !ok {
		return nil
	}
	id := int64(v)
	return &id
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	results, err := s.svc.Search(ctx, req.GetString("query", ""), req.GetString("tag", ""), 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireFloat("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.GetNote(ctx, int64(id))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %d", int64(id))), nil
	}
	return jsonResult(n), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.CreateNote(ctx, models.NewNote{
		Body:     body,
		Tags:     tags.Split(req.GetString("tags", "")),
		ParentID: optionalID(req, "parent_id"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %d", n.ID)), nil
}

func (s *Server) listNotes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodes, err := s.svc.Tree(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(nodes) == 0 {
		return mcp.NewToolResultText("no notes"), nil
	}
	var b strings.Builder
	outline(&b, nodes, 0)
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func outline(b *strings.Builder, nodes []*models.TreeNode, depth int) {
	for _, n := range nodes {
		fmt.Fprintf(b, "%s- [%d] %s", strings.Repeat("  ", depth), n.ID, n.Title)
		for _, tag := range n.Tags {
			fmt.Fprintf(b, " #%s", tag)
		}
		b.WriteByte('\n')
		outline(b, n.Children, depth+1)
	}
}

func (s *Server) importHotlist(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Import(ctx, strings.NewReader(content), optionalID(req, "parent_id"),
		hotlist.WithSkipTrash(req.GetBool("skip_trash", true)),
		hotlist.WithFolderTags(req.GetBool("folder_tags", false)),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) getFormatContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(FormatContract), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatURI,
			MIMEType: "text/markdown",
			Text:     FormatContract,
		},
	}, nil
}
