package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
	"github.com/SuryaSriramD/CodeAgentTool/internal/gateway"
	"github.com/SuryaSriramD/CodeAgentTool/internal/notify"
)

var (
	serveAddr   string
	serveLogDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job manager and HTTP API",
	Long: `Starts codeagent as a long-running service: the job manager executes
submitted scans in the background and a local HTTP API (default:
http://127.0.0.1:8080) accepts submissions and serves reports.

Quick API reference:
  GET    /health                      liveness check
  GET    /tools                       registered analyzers and versions
  POST   /analyze                     submit a scan (JSON or multipart with file)
  GET    /jobs                        list jobs (?status=running)
  GET    /jobs/{id}                   job status and progress
  DELETE /jobs/{id}                   cancel a job
  POST   /jobs/{id}/rerun             resubmit a finished job
  GET    /reports                     list reports (?severity=high&tool=bandit)
  GET    /reports/{id}                full report
  GET    /reports/{id}/summary        severity counts
  GET    /events/{id}                 SSE stream of job progress
  POST   /webhooks/register           register a webhook
  GET    /metrics                     prometheus metrics

The analyzers section of the config file is reloaded on change.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"listen address (default 127.0.0.1:8080, overrides config)")
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "logs",
		"directory to write service logs for later inspection")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logFilePath, closeLog, err := setupFileLogger(serveLogDir)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer closeLog()

	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}

	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	cfgPath, _ := config.ConfigPath(cfgFile)
	if err := config.Watch(cfgPath, svc.settings); err != nil && !errors.Is(err, config.ErrNoConfigFile) {
		slog.Warn("Config reload disabled", "file", cfgPath, "error", err)
	}

	webhooks := notify.NewRegistry()
	dispatcher := notify.NewDispatcher(cfg.Notify, webhooks, svc.reports, cfg.Server.PublicURL)
	svc.manager.RegisterEventCallback(dispatcher.HandleJobEvent)

	if err := svc.manager.Start(ctx); err != nil {
		return err
	}
	defer func() {
		svc.manager.Close()
		dispatcher.Close()
	}()

	fmt.Printf("codeagent starting\n")
	fmt.Printf("  Storage    : %s\n", cfg.Storage.Root)
	fmt.Printf("  Analyzers  : %v\n", svc.tools.Names())
	fmt.Printf("  API        : http://%s\n", cfg.Server.Addr)
	fmt.Printf("  Metrics    : http://%s/metrics\n", cfg.Server.Addr)
	fmt.Printf("  Logs       : %s\n\n", logFilePath)
	fmt.Println("Press Ctrl+C to stop gracefully.")
	fmt.Println()

	slog.Info("Logger initialised", "file", logFilePath)
	gw := gateway.New(cfg, gateway.Deps{
		Jobs:     svc.manager,
		Reports:  svc.reports,
		Tools:    svc.tools,
		Settings: svc.settings,
		Webhooks: webhooks,
		Metrics:  svc.metrics,
		Version:  Version,
	})
	return gw.Start(ctx, cfg.Server.Addr)
}

func setupFileLogger(logDir string) (string, func(), error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating log dir %s: %w", logDir, err)
	}

	ts := time.Now().UTC().Format("20060102-150405")
	runLogPath := filepath.Join(logDir, fmt.Sprintf("codeagent-%s.log", ts))
	runFile, err := os.OpenFile(runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("opening run log file: %w", err)
	}

	latestPath := filepath.Join(logDir, "codeagent.log")
	latestFile, err := os.OpenFile(latestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = runFile.Close()
		return "", nil, fmt.Errorf("opening latest log file: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, runFile, latestFile), &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	slog.SetDefault(slog.New(handler))
	slog.SetLogLoggerLevel(level)

	cleanup := func() {
		_ = latestFile.Close()
		_ = runFile.Close()
	}
	return runLogPath, cleanup, nil
}
