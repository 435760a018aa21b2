package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Mutual-Roots/Ford-Perfect/internal/notify"
	"github.com/Mutual-Roots/Ford-Perfect/internal/server"
	"github.com/Mutual-Roots/Ford-Perfect/internal/service"
	"github.com/Mutual-Roots/Ford-Perfect/internal/telemetry"
)

const shutdownGrace = 10 * time.Second

var (
	servePort    int
	serveNoInbox bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "gRPC listen port (default: server.port from config)")
	serveCmd.Flags().BoolVar(&serveNoInbox, "no-inbox", false, "do not watch the emergency inbox directory")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governance server",
	Long: "Runs the governance engine behind a gRPC server. Agents propose actions,\n" +
		"supervisors send commands, and the emergency inbox is watched for command files.\n" +
		"The config file is hot-reloaded.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, shutdownMetrics, err := telemetry.Setup(ctx, appConfig.Telemetry.OTLPEndpoint, version)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	svc, err := service.Open(ctx, appConfig, service.Options{Logger: logger, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("failed to open governance engine: %w", err)
	}
	defer svc.Close()

	port := appConfig.Server.Port
	if servePort != 0 {
		port = servePort
	}
	srv := server.New(svc, server.Config{Port: port, ConfigPath: configPath, ConfigHash: configHash}, logger.Named("server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			// Callers still waiting on CRITICAL approvals.
			srv.Stop()
		}
		return nil
	})

	if reloader, err := server.NewReloader(srv); err != nil {
		logger.Warn("hot-reload disabled", zap.Error(err))
	} else {
		g.Go(func() error { return reloader.Run(gctx) })
	}

	if !serveNoInbox {
		inbox := svc.Inbox(appConfig.Inbox.Dir)
		g.Go(func() error { return inbox.Run(gctx) })
	}

	events, unsubscribe := svc.Channel.Events(64)
	defer unsubscribe()
	g.Go(func() error { return announce(gctx, events, cmd.ErrOrStderr()) })

	fmt.Fprintf(cmd.ErrOrStderr(), "warden listening on :%d (state %s, %d records)\n",
		port, svc.State.Snapshot(), svc.Store.Len())
	if !serveNoInbox {
		fmt.Fprintf(cmd.ErrOrStderr(), "Emergency inbox: %s\n", appConfig.Inbox.Dir)
	}
	fmt.Fprintln(cmd.ErrOrStderr())

	return g.Wait()
}

// announce prints what the supervisor must act on.
func announce(ctx context.Context, events <-chan notify.Event, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case notify.ApprovalRequested:
				deadline := "no deadline"
				if ev.Deadline != nil {
					deadline = "proceeds at " + ev.Deadline.Local().Format("15:04:05")
				}
				fmt.Fprintf(w, "APPROVAL REQUIRED [%s] %s (%s)\n  warden approve %s | warden deny %s <reason>\n",
					ev.Tier, ev.What, deadline, ev.PendingID, ev.PendingID)
			case notify.StateChanged:
				fmt.Fprintf(w, "STATE %s %s\n", ev.State, ev.Reason)
			case notify.StorageFault:
				fmt.Fprintf(w, "STORAGE FAULT %s\n", ev.Reason)
			}
		}
	}
}
