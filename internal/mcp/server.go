// Package mcp exposes the governance engine to an agent as MCP stdio tools.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Mutual-Roots/Ford-Perfect/internal/service"
)

// Config holds MCP server configuration.
type Config struct {
	// SessionID is stamped on proposals that do not carry their own.
	SessionID string
	Version   string
}

// Server wraps the MCP SDK server around an in-process Service.
type Server struct {
	mcpServer *mcpsdk.Server
	svc       *service.Service
	session   string
	logger    *zap.Logger
}

// New creates an MCP server with every warden tool registered.
func New(svc *service.Service, cfg Config, logger *zap.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("mcp: service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		svc:     svc,
		session: cfg.SessionID,
		logger:  logger,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "warden",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect serves the MCP protocol over t. Used by tests with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

// registerTools adds all warden tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name: "warden_propose",
		Description: "Propose an action before doing it. LOW and MEDIUM proceed at once; HIGH waits for the supervisor's veto window; " +
			"CRITICAL waits for explicit approval. Only act when outcome is PROCEED.",
	}, s.handlePropose)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warden_outcome",
		Description: "Report what happened after an approved action ran or was aborted.",
	}, s.handleOutcome)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warden_query",
		Description: "Search the audit log by window, tier, category, decision, session or text.",
	}, s.handleQuery)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warden_state",
		Description: "Show the operational state and the approvals awaiting the supervisor.",
	}, s.handleState)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warden_self_pause",
		Description: "Pause yourself when unsure. Only the supervisor can resume.",
	}, s.handleSelfPause)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warden_self_stop",
		Description: "Stop yourself with a reason, e.g. after an unrecoverable error. Only the supervisor can resume.",
	}, s.handleSelfStop)
}
