package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/applytrack/internal/models"
	"github.com/raphaelgruber/applytrack/internal/service"
)

var (
	watchJobID   string
	watchCompany string
	watchRole    string
	watchDate    string
	watchPerson  string
	watchMove    bool
	watchSettle  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Upload every resume dropped into a folder",
	Long: `Watch a folder and upload every supported file that appears in it as a
new version for one job. Runs until interrupted.

Examples:
  applytrack watch ~/Downloads/resumes --job J1 --company Acme --role Engineer
  applytrack watch ./inbox --job J1 --company Acme --role Engineer --move`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchJobID, "job", "j", "", "job id (required)")
	watchCmd.Flags().StringVarP(&watchCompany, "company", "c", "", "company name")
	watchCmd.Flags().StringVarP(&watchRole, "role", "r", "", "role title")
	watchCmd.Flags().StringVarP(&watchDate, "date", "d", "", "application date YYYY-MM-DD (default today)")
	watchCmd.Flags().StringVar(&watchPerson, "person", "", "person name for the file name")
	watchCmd.Flags().BoolVar(&watchMove, "move", false, "remove files from the folder after upload")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", service.DefaultSettleTime, "how long a file must be unchanged before upload")
	_ = watchCmd.MarkFlagRequired("job")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := cmd.OutOrStdout()
	p := newPainter(w)

	target := service.WatchTarget{
		JobID:        watchJobID,
		Company:      watchCompany,
		Role:         watchRole,
		Date:         watchDate,
		PersonName:   watchPerson,
		KeepOriginal: keepOriginalFlag(watchMove, false),
	}
	watcher := service.NewInboxWatcher(args[0], target, svc.versions.UploadResume, dbClient.ServiceConfig().Supports, watchSettle)
	watcher.OnUpload = func(path string, entry *models.ManifestEntry, err error) {
		if err != nil {
			fmt.Fprintln(w, p.fail(fmt.Sprintf("✗ %s: %v", path, err)))
			return
		}
		printStored(w, entry)
	}

	fmt.Fprintln(w, p.hint(fmt.Sprintf("Watching %s (Ctrl+C to stop)", args[0])))
	if err := watcher.Run(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
