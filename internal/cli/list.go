package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	listJobID string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List resume entries or versions",
	Long: `List resume entries in the manifest with optional filtering.

Subcommands:
  entries   List entries (default)
  versions  List every version of one entry

Examples:
  applytrack list
  applytrack list --job J1
  applytrack list versions 3f2c...`,
	RunE: runListEntries,
}

var listEntriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List entries",
	RunE:  runListEntries,
}

var listVersionsCmd = &cobra.Command{
	Use:   "versions <entry-id>",
	Short: "List every version of an entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runListVersions,
}

func init() {
	listCmd.Flags().StringVarP(&listJobID, "job", "j", "", "filter by job id")
	listEntriesCmd.Flags().StringVarP(&listJobID, "job", "j", "", "filter by job id")

	listCmd.AddCommand(listEntriesCmd)
	listCmd.AddCommand(listVersionsCmd)
}

func runListEntries(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	entries, err := svc.versions.ListEntries(cmd.Context(), listJobID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries found.")
		return nil
	}

	fmt.Fprintf(w, "Entries (%d):\n\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "- %s [job %s] %d version(s)\n", e.BaseFilename, e.JobID, len(e.Versions))
		fmt.Fprintf(w, "  id: %s\n", e.ID)
		if verbose {
			if active := e.ActiveVersion(); active != nil {
				fmt.Fprintf(w, "  active: %s\n", active.ManagedPath)
			}
			fmt.Fprintf(w, "  updated: %s\n", e.LastUpdated.Local().Format("2006-01-02 15:04"))
		}
	}

	return nil
}

func runListVersions(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	p := newPainter(w)
	versions, err := svc.versions.ListVersions(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}

	fmt.Fprintf(w, "%-36s %-6s %-16s %s\n", "VERSION", "SUFFIX", "UPLOADED", "PATH")
	fmt.Fprintln(w, "------------------------------------------------------------------------")
	for _, v := range versions {
		suffix := v.VersionSuffix
		if suffix == "" {
			suffix = "-"
		}
		line := fmt.Sprintf("%-36s %-6s %-16s %s", v.VersionID, suffix, v.UploadTimestamp.Local().Format("2006-01-02 15:04"), v.ManagedPath)
		if v.IsActive {
			line = p.ok(line + " *")
		}
		fmt.Fprintln(w, line)
	}

	return nil
}
