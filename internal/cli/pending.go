package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mutual-Roots/Ford-Perfect/internal/client"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(stateCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List actions awaiting the supervisor",
	Long:  "Shows every HIGH or CRITICAL proposal still waiting, with its deadline when it has one.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	return withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
		list, err := cl.ListPending(ctx)
		if err != nil {
			return fmt.Errorf("failed to list pending approvals: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No pending approvals.")
			return nil
		}
		fmt.Fprintf(out, "%-38s %-9s %-40s %-9s %s\n", "ID", "TIER", "WHAT", "OPENED", "DEADLINE")
		for _, p := range list {
			deadline := "-"
			if p.Deadline != nil {
				deadline = fmt.Sprintf("%s (%s)", p.Deadline.Local().Format("15:04:05"),
					time.Until(*p.Deadline).Round(time.Second))
			}
			fmt.Fprintf(out, "%-38s %-9s %-40s %-9s %s\n",
				p.ID,
				p.Draft.Tier,
				truncate(p.Draft.What, 40),
				p.OpenedAt.Local().Format("15:04:05"),
				deadline,
			)
		}
		return nil
	})
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the operational state",
	RunE:  runState,
}

func runState(cmd *cobra.Command, args []string) error {
	return withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
		st, err := cl.State(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "State:       %s\n", st.Display)
		if st.State.ChangedBy != "" {
			fmt.Fprintf(out, "Changed by:  %s at %s\n", st.State.ChangedBy, st.State.ChangedAt.Local().Format(time.RFC3339))
		}
		fmt.Fprintf(out, "Pending:     %d\n", st.Pending)
		fmt.Fprintf(out, "Records:     %d\n", st.Records)
		fmt.Fprintf(out, "HIGH window: %s\n", st.HighWindow)
		if st.ConfigHash != "" {
			fmt.Fprintf(out, "Config:      %s\n", st.ConfigHash)
		}
		return nil
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
