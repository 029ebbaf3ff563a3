package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/applytrack/internal/models"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a service setting",
	Long: `Change a persisted service setting.

Keys:
  managed_folder         folder holding resume versions
  jobs_folder            folder holding imported job folders
  naming_format          job folder template over {company}, {role}, {date}
  supported_extensions   comma-separated list, e.g. .pdf,.docx
  keep_original_default  true or false
  attachment_mode        copy or reference

Examples:
  applytrack config set attachment_mode reference
  applytrack config set supported_extensions .pdf,.docx,.md`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	p := newPainter(w)
	sc := dbClient.ServiceConfig()

	fmt.Fprintln(w, p.title("Service"))
	fmt.Fprintf(w, "  managed_folder:        %s\n", sc.ManagedFolder)
	fmt.Fprintf(w, "  jobs_folder:           %s\n", sc.JobsFolder)
	fmt.Fprintf(w, "  naming_format:         %s\n", sc.NamingFormat)
	fmt.Fprintf(w, "  supported_extensions:  %s\n", strings.Join(sc.SupportedExtensions, ","))
	fmt.Fprintf(w, "  keep_original_default: %t\n", sc.KeepOriginalDefault)
	fmt.Fprintf(w, "  attachment_mode:       %s\n", sc.AttachmentMode)

	fmt.Fprintln(w, p.title("\nEngine"))
	fmt.Fprintf(w, "  home:            %s\n", cfg.HomeDir)
	fmt.Fprintf(w, "  manifest:        %s\n", cfg.ManifestDSN)
	fmt.Fprintf(w, "  operations log:  %s (cap %d)\n", cfg.OperationsLogFile, cfg.OperationsLogCap)
	fmt.Fprintf(w, "  migration logs:  %s\n", cfg.MigrationLogDir)
	fmt.Fprintf(w, "  lock timeout:    %s\n", cfg.LockTimeout)
	fmt.Fprintf(w, "  session:         %s\n", cfg.SessionID)
	fmt.Fprintf(w, "  log file:        %s (%s)\n", cfg.LogFile, cfg.LogLevel)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	var apply func(*models.ServiceConfig)
	switch key {
	case "managed_folder":
		apply = func(c *models.ServiceConfig) { c.ManagedFolder = value }
	case "jobs_folder":
		apply = func(c *models.ServiceConfig) { c.JobsFolder = value }
	case "naming_format":
		apply = func(c *models.ServiceConfig) { c.NamingFormat = value }
	case "supported_extensions":
		var exts []string
		for _, e := range strings.Split(value, ",") {
			if e = strings.TrimSpace(e); e != "" {
				exts = append(exts, models.NormalizeExtension(e))
			}
		}
		apply = func(c *models.ServiceConfig) { c.SupportedExtensions = exts }
	case "keep_original_default":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}
		apply = func(c *models.ServiceConfig) { c.KeepOriginalDefault = b }
	case "attachment_mode":
		apply = func(c *models.ServiceConfig) { c.AttachmentMode = models.AttachmentMode(value) }
	default:
		return fmt.Errorf("unknown setting %q", key)
	}

	if _, err := dbClient.UpdateServiceConfig(cmd.Context(), apply); err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
	return nil
}
