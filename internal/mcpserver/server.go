// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes mixport export tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mixport/internal/apperr"
	"github.com/starford/mixport/internal/exportservice"
)

const layoutURI = "mixport://archive-layout"

// Server wraps the MCP server with mixport tools.
type Server struct {
	mcp *server.MCPServer
	svc *exportservice.Service
	// waitLimit bounds how long start_export blocks when wait is requested.
	waitLimit time.Duration
}

// New creates a new MCP server with all mixport tools registered.
func New(svc *exportservice.Service) *Server {
	s := &Server{svc: svc, waitLimit: 30 * time.Minute}

	s.mcp = server.NewMCPServer(
		"mixport",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("start_export",
		mcp.WithDescription("Start exporting every note and image from the remote note service into a zip "+
			"archive of Markdown files. Only one export runs at a time. The archive layout is "+
			"described by the get_archive_layout tool or the "+layoutURI+" resource."),
		mcp.WithBoolean("wait", mcp.Description("Block until the run finishes and return its final status")),
	), s.startExport)

	s.mcp.AddTool(mcp.NewTool("export_status",
		mcp.WithDescription("Status of the current or most recent export: state, progress, stats, archive location and error."),
	), s.exportStatus)

	s.mcp.AddTool(mcp.NewTool("cancel_export",
		mcp.WithDescription("Cancel the running export. No archive is delivered for a cancelled run."),
	), s.cancelExport)

	s.mcp.AddTool(mcp.NewTool("list_exports",
		mcp.WithDescription("List past export runs, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 50)")),
	), s.listExports)

	s.mcp.AddTool(mcp.NewTool("get_archive_layout",
		mcp.WithDescription("Returns the structure of an export archive: folders, file naming and image references."),
	), s.getArchiveLayout)

	s.mcp.AddResource(
		mcp.NewResource(layoutURI, "Archive Layout",
			mcp.WithResourceDescription("Structure of the zip archive produced by an export run."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readArchiveLayoutResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) startExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := s.svc.Start()
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyRunning) {
			return mcp.NewToolResultError("an export is already running; use export_status to follow it"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	if !req.GetBool("wait", false) {
		return mcp.NewToolResultText(fmt.Sprintf("started: %s", id)), nil
	}

	wctx, cancel := context.WithTimeout(ctx, s.waitLimit)
	defer cancel()
	st, err := s.svc.Wait(wctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export %s still running: %v", id, err)), nil
	}
	if st.Error != "" {
		return mcp.NewToolResultError(fmt.Sprintf("export %s failed: %s", id, st.Error)), nil
	}
	return jsonResult(st)
}

func (s *Server) exportStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Status())
}

func (s *Server) cancelExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.Cancel(); err != nil {
		if errors.Is(err, apperr.ErrNotRunning) {
			return mcp.NewToolResultError("no export is running"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("cancelling"), nil
}

func (s *Server) listExports(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.svc.Runs(req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("no exports recorded"), nil
	}
	return jsonResult(runs)
}

func (s *Server) getArchiveLayout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ArchiveLayout), nil
}

func (s *Server) readArchiveLayoutResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      layoutURI,
			MIMEType: "text/markdown",
			Text:     ArchiveLayout,
		},
	}, nil
}
