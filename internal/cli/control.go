package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Mutual-Roots/Ford-Perfect/internal/client"
	"github.com/Mutual-Roots/Ford-Perfect/internal/emergency"
)

var (
	controlBy    string
	controlInbox bool
)

func init() {
	for _, c := range []*cobra.Command{
		stateCommand(emergency.Pause, "Pause the agent; proposals are blocked until RESUME"),
		stateCommand(emergency.Resume, "Resume a paused or stopped agent"),
		stateCommand(emergency.Stop, "Stop the agent with a reason"),
		stateCommand(emergency.Freeze, "Freeze the agent; only an admin reset leaves FROZEN"),
		approveCmd,
		denyCmd,
	} {
		c.Flags().StringVar(&controlBy, "by", "", "supervisor name recorded in the audit log (default: $USER)")
		c.Flags().BoolVar(&controlInbox, "inbox", false, "drop the command into the emergency inbox instead of calling the server")
		rootCmd.AddCommand(c)
	}
}

func stateCommand(kind emergency.Kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   strings.ToLower(string(kind)) + " [reason...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, emergency.Command{Kind: kind, Reason: strings.Join(args, " ")})
		},
	}
}

var approveCmd = &cobra.Command{
	Use:   "approve <pending-id>",
	Short: "Approve a pending HIGH or CRITICAL action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, emergency.Command{Kind: emergency.Approve, PendingID: args[0]})
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <pending-id> [reason...]",
	Short: "Veto a pending HIGH action or deny a CRITICAL one",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, emergency.Command{Kind: emergency.Deny, PendingID: args[0], Reason: strings.Join(args[1:], " ")})
	},
}

func submit(cmd *cobra.Command, c emergency.Command) error {
	c.By = supervisor()
	if err := c.Validate(); err != nil {
		return err
	}
	if controlInbox {
		path, err := dropCommand(appConfig.Inbox.Dir, c)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued %s in %s\n", c, path)
		return nil
	}

	return withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
		rcpt, err := cl.Submit(ctx, c)
		if err != nil {
			return err
		}
		printReceipt(cmd.OutOrStdout(), rcpt)
		return nil
	})
}

func printReceipt(w io.Writer, rcpt emergency.Receipt) {
	fmt.Fprintf(w, "%s accepted, state %s\n", rcpt.Command, rcpt.State)
}

func supervisor() string {
	if controlBy != "" {
		return controlBy
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "supervisor"
}

// dropCommand writes c into the inbox directory. The file appears by rename
// so the watcher never reads it half-written.
func dropCommand(dir string, c emergency.Command) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create inbox: %w", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, id.String()+".json")
	tmp := filepath.Join(dir, "."+id.String()+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write command: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write command: %w", err)
	}
	return path, nil
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Privileged operations",
}

var (
	resetOperator string
	resetNote     string
)

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminResetCmd)
	adminResetCmd.Flags().StringVar(&resetOperator, "operator", "", "operator performing the reset (default: $USER)")
	adminResetCmd.Flags().StringVar(&resetNote, "note", "", "why the freeze is lifted")
	_ = adminResetCmd.MarkFlagRequired("note")
}

var adminResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Leave FROZEN and return to RUNNING",
	Long:  "The only way out of FROZEN. The operator and note are recorded in the audit log.",
	RunE:  runAdminReset,
}

func runAdminReset(cmd *cobra.Command, args []string) error {
	operator := resetOperator
	if operator == "" {
		operator = os.Getenv("USER")
	}
	return withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
		snap, err := cl.ManualReset(ctx, operator, resetNote)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset by %s, state %s\n", operator, snap)
		return nil
	})
}

// withClient opens a client for the duration of fn.
func withClient(ctx context.Context, fn func(context.Context, *client.Client) error) error {
	cl, err := client.New(addr())
	if err != nil {
		return err
	}
	defer cl.Close()
	return fn(ctx, cl)
}
