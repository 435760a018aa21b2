package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
)

var tailLines int

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditCrossCheckCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent records to show")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of the audit ledger",
	Long: "Walks the ledger (JSONL file or SQLite database) and validates that every record's\n" +
		"prev_hash matches the SHA-256 of the previous one. Exits 0 if valid, 1 if tampered.\n" +
		"Without a path the configured ledger is verified.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit records",
	RunE:  runAuditTail,
}

var auditCrossCheckCmd = &cobra.Command{
	Use:   "crosscheck",
	Short: "Compare the ledger with the Markdown journal",
	Long:  "Reports every record whose decision history differs between the ledger and the journal.",
	RunE:  runAuditCrossCheck,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path := audit.LedgerPath(appConfig.Audit.Dir, appConfig.Audit.Backend)
	if len(args) == 1 {
		path = args[0]
	}

	var result audit.VerifyResult
	if filepath.Ext(path) == ".db" {
		ledger, err := audit.OpenSQLite(cmd.Context(), path)
		if err != nil {
			return err
		}
		result = ledger.Verify(cmd.Context())
		_ = ledger.Close()
	} else {
		result = audit.Verify(path)
	}

	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d records verified\n", result.Lines)
		return nil
	}
	return &exitError{code: 1, err: fmt.Errorf("FAILED at record %d: %s", result.ErrorLine, result.Error)}
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	return withOfflineStore(cmd.Context(), func(store *audit.Store) error {
		records := store.Snapshot()
		if start := len(records) - tailLines; start > 0 {
			records = records[start:]
		}
		fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(records))
		return nil
	})
}

func runAuditCrossCheck(cmd *cobra.Command, args []string) error {
	return withOfflineStore(cmd.Context(), func(store *audit.Store) error {
		entries, err := audit.ParseJournal(audit.JournalDir(appConfig.Audit.Dir))
		if err != nil {
			return err
		}
		problems := audit.CrossCheck(store.Snapshot(), entries)
		out := cmd.OutOrStdout()
		if len(problems) == 0 {
			fmt.Fprintf(out, "OK: ledger and journal agree on %d records\n", len(entries))
			return nil
		}
		for _, p := range problems {
			fmt.Fprintln(out, p)
		}
		return &exitError{code: 1, err: fmt.Errorf("%d divergences between ledger and journal", len(problems))}
	})
}
