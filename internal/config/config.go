package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = ".codeagent"
	DefaultConfigFile = "config.json"
	DefaultStorageDir = ".codeagent/storage"
	DefaultBinDir     = ".codeagent/bin"

	envPrefix = "CODEAGENT"
)

// Load reads the config file (falling back to defaults if absent) and returns
// a populated Config. The configPath flag may override the default location.
func Load(configPath string) (*Config, error) {
	_, cfg, err := load(configPath)
	return cfg, err
}

func load(configPath string) (*viper.Viper, *Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	setDefaults(v, home)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isNotExist(err) {
			return nil, nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg, err := decode(v, home)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

func decode(v *viper.Viper, home string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandPaths(&cfg, home)
	return &cfg, nil
}

// Save writes the config to disk as JSON.
func Save(cfg *Config, configPath string) error {
	p, err := ConfigPath(configPath)
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising config: %w", err)
	}

	return os.WriteFile(p, data, 0o600)
}

// ConfigPath returns the effective config file path.
func ConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// EnsureDirs creates the storage layout under cfg.Storage.Root.
func EnsureDirs(cfg *Config) error {
	for _, d := range []string{
		cfg.Storage.Root,
		filepath.Join(cfg.Storage.Root, "logs"),
		filepath.Join(cfg.Storage.Root, "reports"),
		filepath.Join(cfg.Storage.Root, "workspace"),
	} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}
	return nil
}

// setDefaults populates viper with sensible out-of-the-box values.
func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("storage.root", filepath.Join(home, DefaultStorageDir))

	v.SetDefault("analyzers.defaults", []string{"bandit", "semgrep", "depcheck"})
	v.SetDefault("analyzers.rulesets", map[string][]string{
		"semgrep": {"p/owasp-top-ten", "p/security-audit"},
		"bandit":  {},
	})
	v.SetDefault("analyzers.allow_list", []string{"https://github.com/"})
	v.SetDefault("analyzers.allowed_analyzers", []string{})

	v.SetDefault("engine.max_workers", 4)
	v.SetDefault("engine.analyzer_timeout", 300*time.Second)
	v.SetDefault("engine.outer_timeout", 600*time.Second)

	v.SetDefault("jobs.max_concurrent", 8)
	v.SetDefault("jobs.retention", 7*24*time.Hour)
	v.SetDefault("jobs.sweep_schedule", "@hourly")
	v.SetDefault("jobs.callback_timeout", 5*time.Second)

	v.SetDefault("fetch.clone_timeout", 300*time.Second)
	v.SetDefault("fetch.max_upload_bytes", int64(100<<20))
	v.SetDefault("fetch.resolve_refs", false)

	v.SetDefault("sanitize.max_file_bytes", int64(20<<20))
	v.SetDefault("sanitize.max_files", 10000)

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.submit_rate", 5.0)
	v.SetDefault("server.submit_burst", 10)

	v.SetDefault("notify.webhook.timeout", 30*time.Second)
	v.SetDefault("notify.webhook.max_elapsed", 2*time.Minute)

	v.SetDefault("tools.bin_dir", filepath.Join(home, DefaultBinDir))
	v.SetDefault("tools.prefer_docker", false)
}

// expandPaths resolves ~ in configured paths.
func expandPaths(cfg *Config, home string) {
	cfg.Storage.Root = expandHome(cfg.Storage.Root, home)
	cfg.Tools.BinDir = expandHome(cfg.Tools.BinDir, home)
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file")
}
