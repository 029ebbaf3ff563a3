package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/applytrack/internal/models"
	"github.com/raphaelgruber/applytrack/internal/service"
)

var (
	importHandleConflicts bool
	importBackup          bool
	importDryRun          bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Find importable jobs in a folder",
	Long: `Walk a folder and list the jobs that could be imported, with the
folder each would be imported into and any conflicts.

Examples:
  applytrack scan ~/Documents/applications`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import jobs from a folder into the jobs folder",
	Long: `Scan a folder and import every job found into the jobs folder.

Jobs whose target folder already exists are skipped unless
--handle-conflicts is set, which imports them into a timestamped
alternate folder instead. The whole run can be undone with 'applytrack undo'.

Examples:
  applytrack import ~/Documents/applications --dry-run
  applytrack import ~/Documents/applications --backup
  applytrack import ~/Documents/applications --handle-conflicts`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importHandleConflicts, "handle-conflicts", false, "import conflicting jobs into a suggested alternate folder")
	importCmd.Flags().BoolVar(&importBackup, "backup", false, "back up source files and overwritten files first")
	importCmd.Flags().BoolVarP(&importDryRun, "dry-run", "n", false, "only show what would be imported")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jobs, err := svc.migration.ScanForImportableJobs(ctx, args[0])
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	printCandidates(cmd.OutOrStdout(), svc.migration.CheckForConflicts(ctx, jobs))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()
	p := newPainter(w)

	jobs, err := svc.migration.ScanForImportableJobs(ctx, args[0])
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if importDryRun {
		printCandidates(w, svc.migration.CheckForConflicts(ctx, jobs))
		return nil
	}
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No importable jobs found.")
		return nil
	}

	result, err := svc.migration.ExecuteImport(ctx, jobs, service.ImportOptions{
		HandleConflicts: importHandleConflicts,
		CreateBackup:    importBackup,
	})
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Fprintln(w, p.ok("✓ Import finished"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Run:        %s\n", result.RunID)
	fmt.Fprintf(w, "  Total:      %d\n", result.Total)
	fmt.Fprintf(w, "  Imported:   %d\n", result.Successful)
	fmt.Fprintf(w, "  Skipped:    %d\n", result.Skipped)
	fmt.Fprintf(w, "  Failed:     %d\n", result.Failed)
	if result.BackupFolder != "" {
		fmt.Fprintf(w, "  Backup:     %s\n", result.BackupFolder)
	}

	var problems []models.MigrationLogEntry
	for _, e := range result.Log {
		if e.Action == models.ActionError || e.Action == models.ActionSkip {
			problems = append(problems, e)
		}
	}
	if len(problems) > 0 {
		fmt.Fprintln(w, p.warn(fmt.Sprintf("\nNot imported (%d):", len(problems))))
		for _, e := range problems {
			fmt.Fprintf(w, "  • %s: %s\n", e.SourcePath, e.Error)
		}
		if !importHandleConflicts && result.Skipped > 0 {
			fmt.Fprintln(w, p.hint("\nRe-run with --handle-conflicts to import conflicting jobs under a new name."))
		}
	}
	return nil
}

func printCandidates(w io.Writer, jobs []models.ImportableJob) {
	p := newPainter(w)
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No importable jobs found.")
		return
	}

	fmt.Fprintf(w, "%-10s %-20s %-20s %-10s %s\n", "STATUS", "COMPANY", "ROLE", "DATE", "TARGET")
	fmt.Fprintln(w, "------------------------------------------------------------------------")
	for _, j := range jobs {
		status := fmt.Sprintf("%-10s", j.Status)
		if j.Status == models.ImportConflict {
			status = p.warn(status)
		}
		fmt.Fprintf(w, "%s %-20s %-20s %-10s %s\n", status, truncate(j.Detected.Company, 20), truncate(j.Detected.Role, 20), j.Detected.Date, filepath.Base(j.ProposedFolder))
		if verbose {
			fmt.Fprintf(w, "  from %s\n", j.OriginalPath)
		}
		for _, c := range j.Conflicts {
			line := fmt.Sprintf("  %s: %s", c.Type, c.Path)
			if c.SuggestedName != "" {
				line += " (suggest " + c.SuggestedName + ")"
			}
			fmt.Fprintln(w, p.hint(line))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
