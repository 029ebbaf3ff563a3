package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/applytrack/internal/service"
)

var (
	extractionStatus   string
	extractionTextFile string
	extractionError    string
	extractionMethod   string
)

var extractionCmd = &cobra.Command{
	Use:   "extraction <entry-id> <version-id>",
	Short: "Record text-extraction results for a version",
	Long: `Record the results of an external text extractor on one version.

Examples:
  applytrack extraction 3f2c... 9a1b... --status completed --text-file resume.txt --method pdftotext
  applytrack extraction 3f2c... 9a1b... --status failed --error "encrypted pdf"`,
	Args: cobra.ExactArgs(2),
	RunE: runExtraction,
}

func init() {
	extractionCmd.Flags().StringVar(&extractionStatus, "status", "", "pending, completed or failed")
	extractionCmd.Flags().StringVar(&extractionTextFile, "text-file", "", "file holding the extracted text")
	extractionCmd.Flags().StringVar(&extractionError, "error", "", "extraction error message")
	extractionCmd.Flags().StringVar(&extractionMethod, "method", "", "extraction method name")
}

func runExtraction(cmd *cobra.Command, args []string) error {
	upd := service.ExtractionUpdate{Status: extractionStatus, Method: extractionMethod}
	if extractionTextFile != "" {
		data, err := os.ReadFile(extractionTextFile)
		if err != nil {
			return fmt.Errorf("read text file: %w", err)
		}
		text := string(data)
		upd.Text = &text
	}
	if cmd.Flags().Changed("error") {
		upd.Error = &extractionError
	}

	v, err := svc.versions.SetExtraction(cmd.Context(), args[0], args[1], upd)
	if err != nil {
		return fmt.Errorf("set extraction: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s: extraction %s\n", v.ManagedPath, v.ExtractionStatus)
	return nil
}
