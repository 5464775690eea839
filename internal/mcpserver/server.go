// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Marginalia documents and threads to LLM clients via stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/marginalia/internal/thread"
	"github.com/starford/marginalia/internal/workspace"
)

const contractURI = "marginalia://annotation-contract"

// Server wraps the MCP server with Marginalia tools.
type Server struct {
	mcp *server.MCPServer
	svc *workspace.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *workspace.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Marginalia",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List documents, most recently updated first."),
		mcp.WithString("tag", mcp.Description("Optional tag filter")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("import_note",
		mcp.WithDescription("Import a Markdown note from the vault as a document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault path of the note (e.g. folder/note.md)")),
	), s.importNote)

	s.mcp.AddTool(mcp.NewTool("list_blocks",
		mcp.WithDescription("List the headings and paragraphs of a document with their annotation threads."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Document name")),
	), s.listBlocks)

	s.mcp.AddTool(mcp.NewTool("edit_block",
		mcp.WithDescription("Replace the text of a block. Annotators see the change after the debounce window."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Document name")),
		mcp.WithString("block_id", mcp.Required(), mcp.Description("Block id from list_blocks")),
		mcp.WithString("text", mcp.Required(), mcp.Description("New block text")),
	), s.editBlock)

	s.mcp.AddTool(mcp.NewTool("get_thread",
		mcp.WithDescription("Read one annotation thread."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Document name")),
		mcp.WithString("block_id", mcp.Required(), mcp.Description("Block id")),
		mcp.WithString("annotator", mcp.Required(), mcp.Description("Annotator name")),
	), s.getThread)

	s.mcp.AddTool(mcp.NewTool("submit_message",
		mcp.WithDescription("Add a user turn to a thread. The annotator replies asynchronously. "+
			"Read the contract first via get_annotation_contract or the "+contractURI+" resource."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Document name")),
		mcp.WithString("block_id", mcp.Required(), mcp.Description("Block id")),
		mcp.WithString("annotator", mcp.Required(), mcp.Description("Annotator name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
	), s.submitMessage)

	s.mcp.AddTool(mcp.NewTool("save_document",
		mcp.WithDescription("Persist an open document, threads included."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Document name")),
	), s.saveDocument)

	s.mcp.AddTool(mcp.NewTool("search_blocks",
		mcp.WithDescription("Full-text search through saved block text."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchBlocks)

	s.mcp.AddTool(mcp.NewTool("get_annotation_contract",
		mcp.WithDescription("Returns how documents, blocks and annotation threads behave."),
	), s.getContract)

	// Resource: annotation contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Annotation Contract",
			mcp.WithResourceDescription("How blocks, annotators and threads behave."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
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

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func threadKey(req mcp.CallToolRequest) (string, thread.Key, error) {
	doc, err := req.RequireString("document")
	if err != nil {
		return "", thread.Key{}, err
	}
	block, err := req.RequireString("block_id")
	if err != nil {
		return "", thread.Key{}, err
	}
	ann, err := req.RequireString("annotator")
	if err != nil {
		return "", thread.Key{}, err
	}
	return doc, thread.Key{BlockID: block, Annotator: ann}, nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag := ""
	if t, err := req.RequireString("tag"); err == nil {
		tag = t
	}
	items, _, err := s.svc.List(ctx, 200, 0, tag)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no documents"), nil
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = it.Name
		if it.Title != "" {
			lines[i] += "\t" + it.Title
		}
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) importNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.Import(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("imported: %s (%d blocks)", doc.Name, len(doc.Blocks))), nil
}

func (s *Server) listBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	eng, err := s.svc.Open(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
	}
	return jsonResult(eng.Blocks()), nil
}

func (s *Server) editBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	block, err := req.RequireString("block_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.EditBlock(ctx, name, block, text); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("edited: %s", block)), nil
}

func (s *Server) getThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, key, err := threadKey(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	eng, err := s.svc.Open(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
	}
	if !eng.HasBlock(key.BlockID) {
		return mcp.NewToolResultError(fmt.Sprintf("block not found: %s", key.BlockID)), nil
	}
	return jsonResult(eng.Thread(key)), nil
}

func (s *Server) submitMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, key, err := threadKey(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	eng, err := s.svc.Open(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
	}
	msg, err := eng.SubmitUserMessage(key, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("submitted: %s", msg.ID)), nil
}

func (s *Server) saveDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.Open(ctx, name); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
	}
	doc, err := s.svc.Save(ctx, name, "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s %s", doc.Name, doc.Checksum)), nil
}

func (s *Server) searchBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) getContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(AnnotationContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     AnnotationContract,
		},
	}, nil
}
