// Package mcp serves clipboard history to AI agents over the Model Context
// Protocol. The server is read-only, and the policy decides how much item
// content an agent may see. By default text is masked.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/clipvault/internal/app"
	"github.com/forest6511/clipvault/pkg/query"
)

// ServerName is reported to clients during initialization.
const ServerName = "clipvault"

// History is the read side of the application service.
type History interface {
	Status(ctx context.Context) app.Status
	ListClipboard(ctx context.Context, limit int, after *int64) (query.Page, error)
	SearchClipboard(ctx context.Context, q string, limit int, after *int64) (query.Page, error)
	Latest(ctx context.Context) (query.Result, error)
	Get(ctx context.Context, ref string) (query.Result, error)
}

var _ History = (*app.Service)(nil)

// Server represents the MCP server for clipvault.
type Server struct {
	server  *mcp.Server
	history History
	policy  *Policy
	logger  *slog.Logger
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	History History

	// Policy defaults to DefaultPolicy.
	Policy *Policy

	Version string
	Logger  *slog.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.History == nil {
		return nil, errors.New("mcp: history is required")
	}
	policy := opts.Policy
	if policy == nil {
		policy = DefaultPolicy()
	}
	if err := policy.ValidatePolicy(); err != nil {
		return nil, fmt.Errorf("mcp: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		server:  mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil),
		history: opts.History,
		policy:  policy,
		logger:  logger.With("component", "mcp"),
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "clipboard_status",
		Description: "Report whether the clipboard vault exists and is unlocked, and whether clipboard capture is running.",
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "clipboard_latest",
		Description: "Return the most recently copied clipboard item. Content is masked or withheld according to the server policy.",
	}, s.handleLatest)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "clipboard_list",
		Description: "List clipboard history, newest first. Pass next_cursor from a previous page as after to continue.",
	}, s.handleList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "clipboard_search",
		Description: "Search clipboard history for text, case-insensitively. Results are newest first with a short excerpt around the match.",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "clipboard_get",
		Description: "Return one clipboard item by content hash, or by its exact text.",
	}, s.handleGet)
}

// Run serves a single client over stdin and stdout until ctx is done or
// the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server started", "content", s.policy.Content, "max_results", s.policy.Limit(0))
	err := s.server.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Connect serves one client over t and returns once the session is
// established.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}
