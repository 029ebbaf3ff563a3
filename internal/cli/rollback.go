package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <entry-id> <version-id>",
	Short: "Make an old version active again",
	Long: `Make an old version active again by copying it into a new version.

No version is modified or removed: rolling back to the first of two
versions adds a third one (_v2) with the first one's bytes.

Examples:
  applytrack rollback 3f2c... 9a1b...`,
	Args: cobra.ExactArgs(2),
	RunE: runRollback,
}

func runRollback(cmd *cobra.Command, args []string) error {
	entry, err := svc.versions.RollbackToVersion(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	printStored(cmd.OutOrStdout(), entry)
	return nil
}
