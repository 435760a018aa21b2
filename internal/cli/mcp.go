package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	wardenmcp "github.com/Mutual-Roots/Ford-Perfect/internal/mcp"
	"github.com/Mutual-Roots/Ford-Perfect/internal/service"
)

var (
	mcpSession string
	mcpNoInbox bool
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpSession, "session", "", "session id stamped on proposals (default: a new UUID)")
	mcpCmd.Flags().BoolVar(&mcpNoInbox, "no-inbox", false, "do not watch the emergency inbox directory")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs the governance engine in-process as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes warden_propose, warden_outcome, warden_query, warden_state, warden_self_pause and warden_self_stop.\n" +
		"Supervisor commands arrive through the emergency inbox (warden <command> --inbox).",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.Open(ctx, appConfig, service.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to open governance engine: %w", err)
	}
	defer svc.Close()

	session := mcpSession
	if session == "" {
		session = uuid.NewString()
	}
	srv, err := wardenmcp.New(svc, wardenmcp.Config{SessionID: session, Version: version}, logger.Named("mcp"))
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if !mcpNoInbox {
		inbox := svc.Inbox(appConfig.Inbox.Dir)
		g.Go(func() error { return inbox.Run(gctx) })
	}
	g.Go(func() error {
		defer stop()
		return srv.Run(gctx)
	})

	logger.Info("MCP server running on stdio",
		zap.String("session", session),
		zap.String("state", svc.State.Snapshot().String()))
	return g.Wait()
}
