package config

import (
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Settings holds the live analyzer settings. Readers take a snapshot; writers
// publish a fresh copy, so a snapshot never changes underneath its holder.
type Settings struct {
	cur atomic.Pointer[AnalyzerSettings]
}

// NewSettings returns Settings seeded with initial.
func NewSettings(initial AnalyzerSettings) *Settings {
	s := &Settings{}
	s.Replace(initial)
	return s
}

// Snapshot returns a private copy of the current settings.
func (s *Settings) Snapshot() AnalyzerSettings {
	return s.cur.Load().clone()
}

// Replace publishes next wholesale.
func (s *Settings) Replace(next AnalyzerSettings) {
	c := next.clone()
	s.cur.Store(&c)
}

// SettingsPatch is a partial update. Nil fields are left as they are;
// rulesets are merged per tool.
type SettingsPatch struct {
	Defaults  *[]string           `json:"defaults,omitempty"`
	Rulesets  map[string][]string `json:"rulesets,omitempty"`
	AllowList *[]string           `json:"allow_list,omitempty"`
	Allowed   *[]string           `json:"allowed_analyzers,omitempty"`
}

// Update applies p and returns the settings now in effect.
func (s *Settings) Update(p SettingsPatch) AnalyzerSettings {
	for {
		old := s.cur.Load()
		next := old.clone()
		if p.Defaults != nil {
			next.Defaults = slices.Clone(*p.Defaults)
		}
		if p.AllowList != nil {
			next.AllowList = slices.Clone(*p.AllowList)
		}
		if p.Allowed != nil {
			next.Allowed = slices.Clone(*p.Allowed)
		}
		for tool, rules := range p.Rulesets {
			next.Rulesets[tool] = slices.Clone(rules)
		}
		if s.cur.CompareAndSwap(old, &next) {
			slog.Info("Analyzer settings updated",
				"defaults", next.Defaults,
				"allowed_analyzers", next.Allowed,
				"allow_list", len(next.AllowList),
			)
			return next.clone()
		}
	}
}

// AllowList returns the current git URL allow list.
func (s *Settings) AllowList() []string {
	return slices.Clone(s.cur.Load().AllowList)
}

func (a *AnalyzerSettings) clone() AnalyzerSettings {
	if a == nil {
		return AnalyzerSettings{Rulesets: map[string][]string{}}
	}
	out := AnalyzerSettings{
		Defaults:  slices.Clone(a.Defaults),
		AllowList: slices.Clone(a.AllowList),
		Allowed:   slices.Clone(a.Allowed),
		Rulesets:  make(map[string][]string, len(a.Rulesets)),
	}
	for tool, rules := range a.Rulesets {
		out.Rulesets[tool] = slices.Clone(rules)
	}
	return out
}

// ErrNoConfigFile is returned by Watch when there is no file to watch.
var ErrNoConfigFile = errors.New("no config file to watch")

// Watch reloads the analyzers section of the config file into s whenever the
// file changes. Edits that fail to parse are logged and ignored.
func Watch(configPath string, s *Settings) error {
	v, _, err := load(configPath)
	if err != nil {
		return err
	}
	file := v.ConfigFileUsed()
	if file == "" {
		return ErrNoConfigFile
	}
	if _, err := os.Stat(file); err != nil {
		return ErrNoConfigFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v, home)
		if err != nil {
			slog.Warn("Ignoring unreadable config change", "file", e.Name, "error", err)
			return
		}
		s.Replace(cfg.Analyzers)
		slog.Info("Reloaded analyzer settings", "file", e.Name)
	})
	v.WatchConfig()
	slog.Debug("Watching config file", "file", file)
	return nil
}
