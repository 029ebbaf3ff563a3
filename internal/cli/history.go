package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/applytrack/internal/models"
	"github.com/raphaelgruber/applytrack/internal/service"
)

var (
	historyLimit    int
	historyUndoable bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the operations log",
	Long: `Show recent operations, newest first.

Examples:
  applytrack history
  applytrack history --undoable
  applytrack history -n 100`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var undoCmd = &cobra.Command{
	Use:   "undo [operation-id]",
	Short: "Undo an operation from this session",
	Long: `Undo an operation recorded by this shell session. Without an id the most
recent undoable operation is undone.

Deletions cannot be undone.

Examples:
  applytrack undo
  applytrack undo 0c4d...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUndo,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "max results")
	historyCmd.Flags().BoolVarP(&historyUndoable, "undoable", "u", false, "only operations this session can undo")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	var (
		ops []models.OperationLogEntry
		err error
	)
	if historyUndoable {
		ops, err = svc.ops.GetUndoableOperations(ctx)
		if historyLimit > 0 && len(ops) > historyLimit {
			ops = ops[:historyLimit]
		}
	} else {
		ops, err = svc.ops.ListOperations(ctx, historyLimit)
	}
	if err != nil {
		return fmt.Errorf("read operations log: %w", err)
	}

	if len(ops) == 0 {
		fmt.Fprintln(w, "No operations found.")
		return nil
	}
	printOperations(w, ops, svc.ops.SessionID())
	return nil
}

func printOperations(w io.Writer, ops []models.OperationLogEntry, session string) {
	p := newPainter(w)
	fmt.Fprintf(w, "%-36s %-12s %-16s %-5s %s\n", "ID", "TYPE", "WHEN", "UNDO", "DESCRIPTION")
	fmt.Fprintln(w, "------------------------------------------------------------------------")
	for _, op := range ops {
		undo := "-"
		if op.CanUndo {
			undo = "yes"
			if op.SessionID != session {
				undo = "other"
			}
		}
		line := fmt.Sprintf("%-36s %-12s %-16s %-5s %s", op.ID, op.Type, op.Timestamp.Local().Format("2006-01-02 15:04"), undo, op.Details.Description)
		if !op.CanUndo {
			line = p.hint(line)
		}
		fmt.Fprintln(w, line)
	}
}

func runUndo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()
	p := newPainter(w)

	var id string
	if len(args) == 1 {
		id = args[0]
	} else {
		ops, err := svc.ops.GetUndoableOperations(ctx)
		if err != nil {
			return fmt.Errorf("read operations log: %w", err)
		}
		if len(ops) == 0 {
			fmt.Fprintln(w, "Nothing to undo in this session.")
			return nil
		}
		id = ops[0].ID
	}

	res, err := svc.undoer.Undo(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionMismatch):
			fmt.Fprintln(w, p.hint("Set APPLYTRACK_SESSION to the recording session to undo it from here."))
		case errors.Is(err, service.ErrAlreadyUndone):
			fmt.Fprintln(w, p.hint("Nothing changed."))
		}
		return fmt.Errorf("undo: %w", err)
	}

	fmt.Fprintln(w, p.ok(fmt.Sprintf("✓ Undid %s %s", res.Type, res.OperationID)))
	fmt.Fprintf(w, "  Removed:  %d\n", len(res.Removed))
	fmt.Fprintf(w, "  Restored: %d\n", len(res.Restored))
	if verbose {
		for _, r := range res.Removed {
			fmt.Fprintf(w, "    - %s\n", r)
		}
		for _, r := range res.Restored {
			fmt.Fprintf(w, "    + %s\n", r)
		}
	}
	if len(res.Failed) > 0 {
		fmt.Fprintln(w, p.warn(fmt.Sprintf("\nWarnings (%d):", len(res.Failed))))
		for _, f := range res.Failed {
			fmt.Fprintf(w, "  • %s\n", f)
		}
	}
	return nil
}
