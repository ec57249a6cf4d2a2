package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/SuryaSriramD/CodeAgentTool/internal/report"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

var (
	reportSeverity  string
	reportTool      string
	reportLimit     int
	reportOutputFmt string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Browse stored reports",
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports, newest first",
	Example: `  codeagent report list --severity high
  codeagent report list --tool semgrep --limit 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(reportOutputFmt); err != nil {
			return err
		}
		f := report.Filter{Limit: reportLimit, Tool: reportTool}
		if reportSeverity != "" {
			f.Severity = models.Severity(reportSeverity)
			if !f.Severity.Valid() {
				return fmt.Errorf("invalid severity %q (valid: critical, high, medium, low)", reportSeverity)
			}
		}
		store, err := openReportStore()
		if err != nil {
			return err
		}
		page, err := store.List(f)
		if err != nil {
			return err
		}
		return printReportList(cmd.OutOrStdout(), page, reportOutputFmt)
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print one report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(reportOutputFmt); err != nil {
			return err
		}
		store, err := openReportStore()
		if err != nil {
			return err
		}
		rep, err := store.Load(args[0])
		if err != nil {
			return fmt.Errorf("report %s: %w", args[0], err)
		}
		return printReport(cmd.OutOrStdout(), rep, reportOutputFmt)
	},
}

func openReportStore() (*report.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return report.NewStore(filepath.Join(cfg.Storage.Root, "reports")), nil
}

func init() {
	reportListCmd.Flags().StringVar(&reportSeverity, "severity", "", "Only reports with at least one issue of this severity")
	reportListCmd.Flags().StringVar(&reportTool, "tool", "", "Only reports produced by this analyzer")
	reportListCmd.Flags().IntVar(&reportLimit, "limit", 20, "Maximum number of reports to list")

	reportCmd.PersistentFlags().StringVar(&reportOutputFmt, "output", formatTable, "Output format: table|json|yaml")
	reportCmd.AddCommand(reportListCmd, reportShowCmd)
}
