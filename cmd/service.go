package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/SuryaSriramD/CodeAgentTool/internal/analyzer"
	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
	"github.com/SuryaSriramD/CodeAgentTool/internal/jobs"
	"github.com/SuryaSriramD/CodeAgentTool/internal/metrics"
	"github.com/SuryaSriramD/CodeAgentTool/internal/report"
	"github.com/SuryaSriramD/CodeAgentTool/internal/source"
)

// service bundles the in-process components shared by serve and scan.
type service struct {
	cfg      *config.Config
	settings *config.Settings
	tools    *analyzer.Registry
	reports  *report.Store
	metrics  *metrics.Collector
	manager  *jobs.Manager
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func toolchain(cfg *config.Config) analyzer.Toolchain {
	return analyzer.Toolchain{BinDir: cfg.Tools.BinDir, PreferDocker: cfg.Tools.PreferDocker}
}

// newService wires the job manager over cfg's storage root. The manager is
// not started.
func newService(cfg *config.Config) (*service, error) {
	if err := config.EnsureDirs(cfg); err != nil {
		return nil, err
	}
	root := cfg.Storage.Root

	settings := config.NewSettings(cfg.Analyzers)
	tools := analyzer.NewDefaultRegistry(toolchain(cfg))
	engine := analyzer.NewEngine(tools, cfg.Engine.MaxWorkers, cfg.Engine.OuterTimeout)

	mc := metrics.New()
	engine.SetResultHook(mc.ObserveAnalyzerResult)

	reports := report.NewStore(filepath.Join(root, "reports"))
	manager := jobs.NewManager(jobs.Options{
		StateDir:        filepath.Join(root, "logs"),
		MaxConcurrent:   cfg.Jobs.MaxConcurrent,
		Retention:       cfg.Jobs.Retention,
		SweepSchedule:   cfg.Jobs.SweepSchedule,
		CallbackTimeout: cfg.Jobs.CallbackTimeout,
		AnalyzerTimeout: cfg.Engine.AnalyzerTimeout,
	}, jobs.Deps{
		Source:    source.NewFetcher(filepath.Join(root, "workspace"), cfg, settings.AllowList),
		Sanitizer: source.NewSanitizer(cfg.Sanitize.MaxFileBytes, cfg.Sanitize.MaxFiles),
		Engine:    engine,
		Reports:   reports,
		Settings:  settings,
	})
	manager.RegisterEventCallback(mc.ObserveJobEvent)

	return &service{
		cfg:      cfg,
		settings: settings,
		tools:    tools,
		reports:  reports,
		metrics:  mc,
		manager:  manager,
	}, nil
}
