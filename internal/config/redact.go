package config

import (
	"slices"
	"strings"
)

// Redacted returns a copy of cfg safe to print: tokens and webhook URLs are
// masked, analyzer settings are deep-copied.
func Redacted(cfg *Config) Config {
	out := *cfg
	out.Analyzers = cfg.Analyzers.clone()
	out.Git.GitHub = slices.Clone(cfg.Git.GitHub)
	for i := range out.Git.GitHub {
		out.Git.GitHub[i].Token = redactSecret(out.Git.GitHub[i].Token)
	}
	out.Git.GitLab = slices.Clone(cfg.Git.GitLab)
	for i := range out.Git.GitLab {
		out.Git.GitLab[i].Token = redactSecret(out.Git.GitLab[i].Token)
	}
	out.Notify.Slack.WebhookURL = redactSecret(cfg.Notify.Slack.WebhookURL)
	return out
}

func redactSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 8 {
		return "********"
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}
