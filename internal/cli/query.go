package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
	"github.com/Mutual-Roots/Ford-Perfect/internal/client"
	"github.com/Mutual-Roots/Ford-Perfect/internal/query"
	"github.com/Mutual-Roots/Ford-Perfect/internal/report"
	"github.com/Mutual-Roots/Ford-Perfect/internal/server"
)

var (
	queryParams  query.Params
	queryCount   bool
	queryCost    bool
	queryJSON    bool
	queryOffline bool
)

func init() {
	rootCmd.AddCommand(queryCmd)
	f := queryCmd.Flags()
	f.StringVar(&queryParams.From, "from", "", "inclusive lower bound (RFC3339 or YYYY-MM-DD)")
	f.StringVar(&queryParams.To, "to", "", "exclusive upper bound (RFC3339 or YYYY-MM-DD)")
	f.StringVar(&queryParams.Tier, "tier", "", "risk tier")
	f.StringVar(&queryParams.Category, "category", "", "category")
	f.StringVar(&queryParams.Decision, "decision", "", "decision")
	f.StringVar(&queryParams.Session, "session", "", "session identifier")
	f.StringVar(&queryParams.Text, "text", "", "case-insensitive text in what, why or outcome")
	f.BoolVar(&queryParams.Flagged, "flagged", false, "only flagged MEDIUM actions")
	f.IntVar(&queryParams.Limit, "limit", 0, "maximum records")
	f.BoolVar(&queryParams.Reverse, "reverse", false, "newest first")
	f.BoolVar(&queryCount, "count", false, "print only the number of matches")
	f.BoolVar(&queryCost, "cost", false, "print only cost totals per currency")
	f.BoolVar(&queryJSON, "json", false, "print records as JSON")
	f.BoolVar(&queryOffline, "offline", false, "read the audit directory directly instead of asking the server")

	rootCmd.AddCommand(summaryCmd)
	summaryCmd.Flags().StringVar(&summaryReq.Day, "day", "", "UTC day as YYYY-MM-DD (default: today)")
	summaryCmd.Flags().StringVar(&summaryReq.From, "from", "", "window start")
	summaryCmd.Flags().StringVar(&summaryReq.To, "to", "", "window end")
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "print the summary as JSON")
	summaryCmd.Flags().BoolVar(&summaryOffline, "offline", false, "read the audit directory directly instead of asking the server")
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search the audit log",
	RunE:  runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	var resp server.QueryResponse
	countOnly := queryCount || queryCost
	if queryOffline {
		err := withOfflineStore(cmd.Context(), func(store *audit.Store) error {
			f, err := queryParams.Filter()
			if err != nil {
				return err
			}
			engine := query.New(store)
			agg := engine.Aggregate(f)
			resp = server.QueryResponse{Count: agg.Count, Cost: agg.Cost.Strings()}
			if !countOnly {
				resp.Records = query.Collect(engine.Query(f))
			}
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		err := withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
			var err error
			resp, err = cl.Query(ctx, queryParams, countOnly)
			return err
		})
		if err != nil {
			return err
		}
	}
	return printQuery(cmd.OutOrStdout(), resp)
}

func printQuery(out io.Writer, resp server.QueryResponse) error {
	switch {
	case queryCount:
		fmt.Fprintln(out, resp.Count)
	case queryCost:
		if len(resp.Cost) == 0 {
			fmt.Fprintln(out, "0")
		}
		for _, cur := range slices.Sorted(maps.Keys(resp.Cost)) {
			fmt.Fprintf(out, "%s %s\n", resp.Cost[cur], cur)
		}
	case queryJSON:
		s, err := audit.FormatJSON(resp.Records)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
	default:
		fmt.Fprint(out, audit.FormatTimeline(resp.Records))
	}
	return nil
}

var (
	summaryReq     server.SummaryRequest
	summaryJSON    bool
	summaryOffline bool
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize a day or window: counts per tier and decision, cost, budget",
	RunE:  runSummary,
}

func runSummary(cmd *cobra.Command, args []string) error {
	var sum report.SummaryWindow
	if summaryOffline {
		err := withOfflineStore(cmd.Context(), func(store *audit.Store) error {
			w, err := summaryReq.Window(time.Now())
			if err != nil {
				return err
			}
			r := report.New(query.New(store), report.WithBudget(appConfig.Report), report.WithLogger(logger))
			sum, err = r.GenerateSummary(cmd.Context(), w)
			return err
		})
		if err != nil {
			return err
		}
	} else {
		err := withClient(cmd.Context(), func(ctx context.Context, cl *client.Client) error {
			var err error
			sum, err = cl.Summary(ctx, summaryReq)
			return err
		})
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if summaryJSON {
		data, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	fmt.Fprint(out, report.FormatSummary(sum))
	return nil
}

// withOfflineStore opens the configured audit directory for reading.
func withOfflineStore(ctx context.Context, fn func(*audit.Store) error) error {
	store, err := audit.Open(ctx, appConfig.Audit.Dir, appConfig.Audit.Backend, audit.WithLogger(logger.Named("audit")))
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer store.Close()
	return fn(store)
}
