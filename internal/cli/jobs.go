package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect imported jobs",
	Long: `List all jobs in the jobs folder or inspect a specific job by ID.

Examples:
  applytrack jobs           # List all jobs
  applytrack jobs abc123    # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	// If job ID provided, show that specific job
	if len(args) == 1 {
		return showJob(ctx, w, args[0])
	}

	// List all jobs
	return listJobs(ctx, w)
}

func listJobs(ctx context.Context, w io.Writer) error {
	jobs, err := svc.jobs.List(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	fmt.Fprintf(w, "%-36s %-20s %-20s %-10s %s\n", "ID", "COMPANY", "ROLE", "MODE", "IMPORTED")
	fmt.Fprintln(w, "------------------------------------------------------------------------")

	for _, job := range jobs {
		rec := job.Record
		imported := rec.ImportedAt.Local().Format("2006-01-02")
		fmt.Fprintf(w, "%-36s %-20s %-20s %-10s %s\n", rec.ID, truncate(rec.Company, 20), truncate(rec.Role, 20), rec.AttachmentMode, imported)
	}

	return nil
}

func showJob(ctx context.Context, w io.Writer, id string) error {
	job, err := svc.jobs.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	rec := job.Record

	fmt.Fprintf(w, "Job: %s\n", rec.ID)
	fmt.Fprintf(w, "  Company: %s\n", rec.Company)
	fmt.Fprintf(w, "  Role: %s\n", rec.Role)
	if rec.Date != "" {
		fmt.Fprintf(w, "  Date: %s\n", rec.Date)
	}
	if rec.URL != "" {
		fmt.Fprintf(w, "  URL: %s\n", rec.URL)
	}
	fmt.Fprintf(w, "  Folder: %s\n", job.Folder)
	fmt.Fprintf(w, "  Attachments: %s mode\n", rec.AttachmentMode)
	fmt.Fprintf(w, "  Imported: %s\n", rec.ImportedAt.Format(time.RFC3339))
	if rec.SourcePath != "" {
		fmt.Fprintf(w, "  Source: %s\n", rec.SourcePath)
	}

	if len(rec.AttachmentPaths) > 0 {
		fmt.Fprintf(w, "\nReferenced attachments (%d):\n", len(rec.AttachmentPaths))
		for _, name := range slices.Sorted(maps.Keys(rec.AttachmentPaths)) {
			fmt.Fprintf(w, "  - %s -> %s\n", name, rec.AttachmentPaths[name])
		}
	}

	entries, err := svc.versions.ListEntries(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	if len(entries) > 0 {
		fmt.Fprintf(w, "\nResume entries (%d):\n", len(entries))
		for _, e := range entries {
			fmt.Fprintf(w, "  - %s (%d versions)\n", e.BaseFilename, len(e.Versions))
		}
	}

	return nil
}
