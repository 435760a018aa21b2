package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mutual-Roots/Ford-Perfect/internal/client"
	"github.com/Mutual-Roots/Ford-Perfect/internal/gate"
	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

var (
	proposeWhat     string
	proposeWhy      string
	proposeTier     string
	proposeCategory string
	proposeCost     string
	proposeCurrency string
	proposeRollback string
	proposeSession  string
	proposeJSON     bool
)

func init() {
	rootCmd.AddCommand(proposeCmd)
	proposeCmd.Flags().StringVar(&proposeWhat, "what", "", "what the agent is about to do")
	proposeCmd.Flags().StringVar(&proposeWhy, "why", "", "why it is doing it")
	proposeCmd.Flags().StringVar(&proposeTier, "tier", "", "risk tier: LOW, MEDIUM, HIGH or CRITICAL")
	proposeCmd.Flags().StringVar(&proposeCategory, "category", "", "action category (e.g. email, purchase)")
	proposeCmd.Flags().StringVar(&proposeCost, "cost", "", "decimal cost of the action")
	proposeCmd.Flags().StringVar(&proposeCurrency, "currency", "", "cost currency (default USD)")
	proposeCmd.Flags().StringVar(&proposeRollback, "rollback", "", "rollback plan, required for HIGH and CRITICAL")
	proposeCmd.Flags().StringVar(&proposeSession, "session", "", "session identifier")
	proposeCmd.Flags().BoolVar(&proposeJSON, "json", false, "print the result as JSON")
	_ = proposeCmd.MarkFlagRequired("what")
	_ = proposeCmd.MarkFlagRequired("tier")
}

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Propose an action and wait for the decision",
	Long: "Submits an action to the warden server. HIGH actions wait out the veto window,\n" +
		"CRITICAL actions wait for the supervisor; interrupting a CRITICAL wait denies it.\n" +
		"Exit status: 0 proceed, 1 blocked, 2 malformed, 3 storage or server fault.",
	RunE: runPropose,
}

func runPropose(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	draft := model.ActionDraft{
		What:         proposeWhat,
		Why:          proposeWhy,
		Category:     proposeCategory,
		Cost:         model.Cost{Amount: proposeCost, Currency: proposeCurrency},
		RollbackPlan: proposeRollback,
		SessionID:    proposeSession,
	}
	tier, err := model.ParseTier(proposeTier)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	draft.Tier = tier

	c, err := client.New(addr())
	if err != nil {
		return &exitError{code: 3, err: err}
	}
	defer c.Close()

	res, err := c.Propose(ctx, draft)
	code := gate.ExitCode(res, err)
	if err != nil {
		return &exitError{code: code, err: err}
	}

	out := cmd.OutOrStdout()
	if proposeJSON {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(out, string(data))
	} else {
		fmt.Fprintf(out, "%s (%s) record=%s\n", res.Outcome, res.Decision, res.RecordID)
		if res.Reason != "" {
			fmt.Fprintf(out, "  %s\n", res.Reason)
		}
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}
