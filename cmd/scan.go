package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SuryaSriramD/CodeAgentTool/internal/jobs"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

var (
	scanRepoURL   string
	scanArchive   string
	scanRef       string
	scanCommit    string
	scanAnalyzers []string
	scanInclude   []string
	scanExclude   []string
	scanLabels    []string
	scanTimeout   int
	scanOutputFmt string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a repository or zip archive once and print the report",
	Long: `Runs a single job in-process: fetches the source, runs the selected
analyzers, stores the report and prints it.

Examples:
  codeagent scan --repo https://github.com/example/myapp
  codeagent scan --repo https://github.com/example/myapp --ref develop --analyzers bandit,semgrep
  codeagent scan --archive ./src.zip --exclude "tests/**" --output json`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanRepoURL, "repo", "", "Repository URL to scan")
	scanCmd.Flags().StringVar(&scanArchive, "archive", "", "Zip archive to scan")
	scanCmd.Flags().StringVar(&scanRef, "ref", "", "Branch or tag to scan (default: repo default branch)")
	scanCmd.Flags().StringVar(&scanCommit, "commit", "", "Commit to check out after cloning")
	scanCmd.Flags().StringSliceVar(&scanAnalyzers, "analyzers", nil, "Comma-separated list of analyzers to run (default: auto-select)")
	scanCmd.Flags().StringSliceVar(&scanInclude, "include", nil, "Glob patterns of files to keep")
	scanCmd.Flags().StringSliceVar(&scanExclude, "exclude", nil, "Glob patterns of files to drop")
	scanCmd.Flags().StringSliceVar(&scanLabels, "label", nil, "Labels attached to the report")
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 0, "Per-analyzer timeout in seconds")
	scanCmd.Flags().StringVar(&scanOutputFmt, "output", formatTable, "Output format: table|json|yaml")
	scanCmd.MarkFlagsOneRequired("repo", "archive")
	scanCmd.MarkFlagsMutuallyExclusive("repo", "archive")
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := checkFormat(scanOutputFmt); err != nil {
		return err
	}

	req := jobs.Request{
		RepoURL:    scanRepoURL,
		Ref:        scanRef,
		Commit:     scanCommit,
		Analyzers:  scanAnalyzers,
		Include:    scanInclude,
		Exclude:    scanExclude,
		Labels:     scanLabels,
		TimeoutSec: scanTimeout,
	}
	if scanArchive != "" {
		data, err := os.ReadFile(scanArchive)
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		req.Archive = data
		req.ArchiveName = filepath.Base(scanArchive)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	defer svc.manager.Close()

	// Only one job runs in this process, so every event belongs to it.
	finished := make(chan jobs.Event, 1)
	svc.manager.RegisterEventCallback(func(evt jobs.Event) {
		if evt.Type != jobs.EventFinished {
			if evt.Phase != "" {
				fmt.Fprintln(os.Stderr, dimStyle.Render(fmt.Sprintf("  %-9s %3d%%", evt.Phase, evt.Percent)))
			}
			return
		}
		select {
		case finished <- evt:
		default:
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, _, err := svc.manager.Submit(ctx, req)
	if err != nil {
		return err
	}
	target := req.RepoURL
	if target == "" {
		target = req.ArchiveName
	}
	slog.Info("Scan submitted", "job_id", id, "source", target)
	fmt.Fprintf(os.Stderr, "Scanning %s (job %s)\n", target, id)

	var evt jobs.Event
	select {
	case evt = <-finished:
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nCanceling scan...")
		if err := svc.manager.Cancel(id); err != nil {
			slog.Warn("Cancel failed", "job_id", id, "error", err)
		}
		evt = <-finished
	}

	if evt.Status != models.JobCompleted {
		msg := evt.Error
		if msg == "" {
			msg = string(evt.Status)
		}
		return fmt.Errorf("scan %s: %s", evt.Status, strings.TrimSpace(msg))
	}

	rep, err := svc.reports.Load(id)
	if err != nil {
		return fmt.Errorf("loading report: %w", err)
	}
	return printReport(cmd.OutOrStdout(), rep, scanOutputFmt)
}
