package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	deleteForce bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <entry-id>",
	Short: "Delete a resume entry and all of its version files",
	Long: `Delete a resume entry and all of its version files.

Deletion takes no backup and cannot be undone.
Requires confirmation unless --force is used.

Examples:
  applytrack delete 3f2c...
  applytrack delete 3f2c... --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	entry, err := svc.versions.GetEntry(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get entry: %w", err)
	}

	// Confirm deletion
	if !deleteForce {
		fmt.Fprintf(w, "About to delete: %s (%d version files)\n", entry.BaseFilename, len(entry.Versions))
		fmt.Fprint(w, "\nThis cannot be undone. Continue? [y/N]: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))

		if response != "y" && response != "yes" {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	deleted, err := svc.versions.DeleteEntry(ctx, entry.ID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	fmt.Fprintf(w, "Deleted: %s\n", deleted.BaseFilename)
	return nil
}
