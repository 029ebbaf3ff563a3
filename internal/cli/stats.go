package cli

import (
	"fmt"
	"io"

	"github.com/raphaelgruber/applytrack/internal/metrics"
)

// printStats displays runtime statistics collected during the command.
func printStats(w io.Writer, snap metrics.Snapshot) {
	fmt.Fprintf(w, "\nRuntime Statistics (this command)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", snap.UptimeSeconds)

	if len(snap.Operations) == 0 {
		fmt.Fprintln(w, "\nNo operations recorded.")
		return
	}
	for i := range snap.Operations {
		op := &snap.Operations[i]
		fmt.Fprintf(w, "\n%s:\n", op.Name)
		printOpStats(w, op)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Errors: %d, Total: %dms\n", op.Count, op.Errors, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	if op.TotalBytes != nil && op.MaxBytes != nil {
		fmt.Fprintf(w, "  Bytes: %d total, max %d\n", *op.TotalBytes, *op.MaxBytes)
	}
}
