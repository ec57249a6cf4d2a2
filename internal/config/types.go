package config

import "time"

// Config is the root configuration structure for codeagent.
// Serialised to ~/.codeagent/config.json.
type Config struct {
	Storage   StorageConfig    `mapstructure:"storage"   json:"storage"`
	Analyzers AnalyzerSettings `mapstructure:"analyzers" json:"analyzers"`
	Engine    EngineConfig     `mapstructure:"engine"    json:"engine"`
	Jobs      JobsConfig       `mapstructure:"jobs"      json:"jobs"`
	Fetch     FetchConfig      `mapstructure:"fetch"     json:"fetch"`
	Sanitize  SanitizeConfig   `mapstructure:"sanitize"  json:"sanitize"`
	Git       GitConfig        `mapstructure:"git"       json:"git"`
	Server    ServerConfig     `mapstructure:"server"    json:"server"`
	Notify    NotifyConfig     `mapstructure:"notify"    json:"notify"`
	Tools     ToolsConfig      `mapstructure:"tools"     json:"tools"`
}

// StorageConfig controls where job state, reports and workspaces live.
type StorageConfig struct {
	// Root holds logs/, reports/ and workspace/ (expanded at runtime).
	Root string `mapstructure:"root" json:"root"`
}

// AnalyzerSettings is the administratively mutable analyzer configuration.
// It is read through Settings snapshots and never mutated in place.
type AnalyzerSettings struct {
	// Defaults run when a request names no analyzers.
	Defaults []string `mapstructure:"defaults" json:"defaults"`
	// Rulesets holds per-tool rule selections (e.g. semgrep configs).
	Rulesets map[string][]string `mapstructure:"rulesets" json:"rulesets"`
	// AllowList holds URL prefixes a git source must start with.
	AllowList []string `mapstructure:"allow_list" json:"allow_list"`
	// Allowed restricts which registered analyzers may run. Empty allows all.
	Allowed []string `mapstructure:"allowed_analyzers" json:"allowed_analyzers"`
}

// EngineConfig bounds analyzer execution.
type EngineConfig struct {
	// MaxWorkers caps concurrent analyzer subprocesses across all jobs.
	MaxWorkers int `mapstructure:"max_workers" json:"max_workers"`
	// AnalyzerTimeout is handed to each tool invocation.
	AnalyzerTimeout time.Duration `mapstructure:"analyzer_timeout" json:"analyzer_timeout"`
	// OuterTimeout is enforced by the engine around each invocation.
	OuterTimeout time.Duration `mapstructure:"outer_timeout" json:"outer_timeout"`
}

// JobsConfig controls the job lifecycle manager.
type JobsConfig struct {
	// MaxConcurrent caps jobs executing at once; the rest stay queued.
	MaxConcurrent int `mapstructure:"max_concurrent" json:"max_concurrent"`
	// Retention is how long terminal jobs are kept before the sweep removes them.
	Retention time.Duration `mapstructure:"retention" json:"retention"`
	// SweepSchedule is a cron expression ("@hourly", "@every 30m").
	SweepSchedule string `mapstructure:"sweep_schedule" json:"sweep_schedule"`
	// CallbackTimeout bounds each event callback invocation.
	CallbackTimeout time.Duration `mapstructure:"callback_timeout" json:"callback_timeout"`
}

// FetchConfig controls source materialization.
type FetchConfig struct {
	CloneTimeout time.Duration `mapstructure:"clone_timeout" json:"clone_timeout"`
	// MaxUploadBytes bounds uploaded archives.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" json:"max_upload_bytes"`
	// ResolveRefs looks refs up through the hosting API before cloning.
	ResolveRefs bool `mapstructure:"resolve_refs" json:"resolve_refs"`
}

// SanitizeConfig controls workspace filtering.
type SanitizeConfig struct {
	MaxFileBytes int64 `mapstructure:"max_file_bytes" json:"max_file_bytes"`
	MaxFiles     int   `mapstructure:"max_files"      json:"max_files"`
}

// GitConfig holds credentials for each supported git hosting platform.
type GitConfig struct {
	GitHub []GitHubConfig `mapstructure:"github" json:"github"`
	GitLab []GitLabConfig `mapstructure:"gitlab" json:"gitlab"`
}

// GitHubConfig holds credentials for a single GitHub instance.
type GitHubConfig struct {
	Token string `mapstructure:"token" json:"token"`
	// Host allows enterprise GitHub (e.g. github.mycompany.com).
	Host string `mapstructure:"host"  json:"host"`
}

// GitLabConfig holds credentials for a single GitLab instance.
type GitLabConfig struct {
	Token string `mapstructure:"token" json:"token"`
	Host  string `mapstructure:"host"  json:"host"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	// Addr is the listen address (default: 127.0.0.1:8080).
	Addr string `mapstructure:"addr" json:"addr"`
	// SubmitRate is the sustained submissions per second; 0 disables limiting.
	SubmitRate  float64 `mapstructure:"submit_rate"  json:"submit_rate"`
	SubmitBurst int     `mapstructure:"submit_burst" json:"submit_burst"`
	// PublicURL prefixes report links in webhook payloads.
	PublicURL string `mapstructure:"public_url" json:"public_url"`
}

// NotifyConfig controls outbound notifications for finished jobs.
type NotifyConfig struct {
	Slack   SlackNotifyConfig   `mapstructure:"slack"   json:"slack"`
	Webhook WebhookNotifyConfig `mapstructure:"webhook" json:"webhook"`
}

// SlackNotifyConfig is an incoming-webhook target.
type SlackNotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}

// WebhookNotifyConfig tunes registered webhook delivery.
type WebhookNotifyConfig struct {
	// Timeout applies to each HTTP attempt.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	// MaxElapsed bounds retries for one delivery.
	MaxElapsed time.Duration `mapstructure:"max_elapsed" json:"max_elapsed"`
}

// ToolsConfig controls where analyzer binaries live.
type ToolsConfig struct {
	// BinDir is searched before PATH.
	BinDir string `mapstructure:"bin_dir"       json:"bin_dir"`
	// PreferDocker forces docker execution even when local binaries are present.
	PreferDocker bool `mapstructure:"prefer_docker" json:"prefer_docker"`
}
