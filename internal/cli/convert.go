package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/applytrack/internal/models"
)

var (
	convertAll    bool
	convertBackup bool
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Switch jobs between copied and referenced attachments",
	Long: `Switch jobs between copy mode (attachments live inside the job folder)
and reference mode (the job folder only records where they live).

Examples:
  applytrack convert to-reference --all --backup
  applytrack convert to-copy 5d1e... 77ab...`,
}

var convertToReferenceCmd = &cobra.Command{
	Use:   "to-reference [job-id...]",
	Short: "Replace copied attachments with references",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd, args, models.BulkCopyToReference)
	},
}

var convertToCopyCmd = &cobra.Command{
	Use:   "to-copy [job-id...]",
	Short: "Copy referenced attachments into their job folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd, args, models.BulkReferenceToCopy)
	},
}

func init() {
	convertCmd.PersistentFlags().BoolVarP(&convertAll, "all", "a", false, "convert every job")
	convertCmd.PersistentFlags().BoolVar(&convertBackup, "backup", false, "back up each job folder first")

	convertCmd.AddCommand(convertToReferenceCmd)
	convertCmd.AddCommand(convertToCopyCmd)
}

func runConvert(cmd *cobra.Command, args []string, kind models.BulkOperationType) error {
	ctx := cmd.Context()
	ids := args
	if convertAll {
		jobs, err := svc.jobs.List(ctx)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		ids = make([]string, 0, len(jobs))
		for _, j := range jobs {
			ids = append(ids, j.Record.ID)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("no jobs given (pass job ids or --all)")
	}

	var (
		bulk *models.BulkOperation
		err  error
	)
	if kind == models.BulkCopyToReference {
		bulk, err = svc.attachments.CopyToReference(ctx, ids, convertBackup)
	} else {
		bulk, err = svc.attachments.ReferenceToCopy(ctx, ids, convertBackup)
	}
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	printBulk(cmd.OutOrStdout(), bulk)
	if bulk.Status == models.BulkFailed {
		return fmt.Errorf("conversion failed for all %d job(s)", bulk.Failed)
	}
	return nil
}

func printBulk(w io.Writer, bulk *models.BulkOperation) {
	p := newPainter(w)
	header := p.ok("✓ " + string(bulk.Type))
	if bulk.Status == models.BulkFailed {
		header = p.fail("✗ " + string(bulk.Type))
	}
	fmt.Fprintln(w, header)
	fmt.Fprintf(w, "  Operation:  %s\n", bulk.ID)
	fmt.Fprintf(w, "  Converted:  %d\n", bulk.Successful)
	fmt.Fprintf(w, "  Skipped:    %d\n", bulk.Skipped)
	fmt.Fprintf(w, "  Failed:     %d\n", bulk.Failed)
	if bulk.BackupFolder != "" {
		fmt.Fprintf(w, "  Backup:     %s\n", bulk.BackupFolder)
	}
	for _, e := range bulk.Log {
		if e.Error == "" {
			continue
		}
		fmt.Fprintf(w, "  • %s [%s]: %s\n", e.JobID, e.Action, e.Error)
	}
}
