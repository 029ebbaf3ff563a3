package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/applytrack/internal/models"
	"github.com/raphaelgruber/applytrack/internal/service"
)

var (
	uploadJobID   string
	uploadCompany string
	uploadRole    string
	uploadDate    string
	uploadPerson  string
	uploadMove    bool
	uploadKeep    bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Store a resume file as the newest version for a job",
	Long: `Store a resume file as the newest active version for a job.

Files for the same job, company, role and date share one entry. The first
file becomes <Company>_<Role>_<Date>.pdf, later ones get _v1, _v2, ...
Existing versions are never overwritten.

Examples:
  applytrack upload resume.pdf --job J1 --company Acme --role Engineer
  applytrack upload cv.docx --job J1 --company Acme --role Engineer --date 2024-01-01 --move`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var addVersionCmd = &cobra.Command{
	Use:   "add-version <entry-id> <file>",
	Short: "Add a file as a new version of an existing entry",
	Args:  cobra.ExactArgs(2),
	RunE:  runAddVersion,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadJobID, "job", "j", "", "job id (required)")
	uploadCmd.Flags().StringVarP(&uploadCompany, "company", "c", "", "company name")
	uploadCmd.Flags().StringVarP(&uploadRole, "role", "r", "", "role title")
	uploadCmd.Flags().StringVarP(&uploadDate, "date", "d", "", "application date YYYY-MM-DD (default today)")
	uploadCmd.Flags().StringVar(&uploadPerson, "person", "", "person name for the file name")
	uploadCmd.Flags().BoolVar(&uploadMove, "move", false, "remove the original after copying")
	uploadCmd.Flags().BoolVar(&uploadKeep, "keep", false, "keep the original even if the config default is to move")
	uploadCmd.MarkFlagsMutuallyExclusive("move", "keep")
	_ = uploadCmd.MarkFlagRequired("job")
}

func runUpload(cmd *cobra.Command, args []string) error {
	req := service.UploadRequest{
		FilePath:   args[0],
		JobID:      uploadJobID,
		Company:    uploadCompany,
		Role:       uploadRole,
		Date:       uploadDate,
		PersonName: uploadPerson,
	}
	req.KeepOriginal = keepOriginalFlag(uploadMove, uploadKeep)

	entry, err := svc.versions.UploadResume(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	printStored(cmd.OutOrStdout(), entry)
	return nil
}

func runAddVersion(cmd *cobra.Command, args []string) error {
	entry, err := svc.versions.AddVersionToEntry(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("add version: %w", err)
	}
	printStored(cmd.OutOrStdout(), entry)
	return nil
}

// keepOriginalFlag maps --move/--keep onto the request; nil uses the config default.
func keepOriginalFlag(move, keep bool) *bool {
	switch {
	case move:
		v := false
		return &v
	case keep:
		v := true
		return &v
	default:
		return nil
	}
}

func printStored(w io.Writer, entry *models.ManifestEntry) {
	p := newPainter(w)
	active := entry.ActiveVersion()
	if active == nil {
		fmt.Fprintf(w, "Stored entry %s (no active version)\n", entry.ID)
		return
	}
	suffix := active.VersionSuffix
	if suffix == "" {
		suffix = "(first)"
	}
	fmt.Fprintf(w, "%s %s\n", p.ok("Stored"), active.ManagedPath)
	fmt.Fprintf(w, "  Entry:   %s\n", entry.ID)
	fmt.Fprintf(w, "  Version: %s %s\n", active.VersionID, suffix)
	if verbose {
		fmt.Fprintf(w, "  Checksum: %s\n", active.Checksum)
		fmt.Fprintf(w, "  MIME:     %s\n", active.MimeType)
		fmt.Fprintf(w, "  Versions: %d\n", len(entry.Versions))
	}
}
