package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Mutual-Roots/Ford-Perfect/internal/config"
	"github.com/Mutual-Roots/Ford-Perfect/internal/logging"
)

var (
	configPath string
	serverAddr string
	logLevel   string
	verbose    bool

	appConfig  *config.Config
	configHash string
	logger     = zap.NewNop()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default: $WARDEN_HOME/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "", "warden server address (default: localhost:<server.port>)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Governance engine for autonomous agents",
	Long: "Every action an agent takes is proposed to warden first. Low-risk actions proceed,\n" +
		"high-risk ones wait for the supervisor, and everything lands in a tamper-evident audit log.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func setup() error {
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	l, err := logging.New(level, verbose)
	if err != nil {
		return err
	}
	appConfig, configHash, logger = cfg, hash, l
	return nil
}

func addr() string {
	if serverAddr != "" {
		return serverAddr
	}
	return fmt.Sprintf("localhost:%d", appConfig.Server.Port)
}

// exitError carries a process exit code. A nil err means the command already
// reported the outcome.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return exitCode(rootCmd.Execute())
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
