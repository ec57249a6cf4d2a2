package analyzer

import (
	"log/slog"

	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
)

// Select decides which analyzers run for a workspace.
//
// An empty request falls back to s.Defaults. Candidates are then narrowed to
// s.Allowed (empty allows every registered analyzer) and to the registry;
// each drop is logged. Finally only analyzers applicable to inv remain.
// Order follows the request and duplicates collapse.
func Select(requested []string, inv *Inventory, reg *Registry, s config.AnalyzerSettings) []string {
	candidates := requested
	if len(candidates) == 0 {
		candidates = s.Defaults
	}

	allowed := make(map[string]struct{}, len(s.Allowed))
	for _, a := range s.Allowed {
		allowed[a] = struct{}{}
	}

	seen := make(map[string]struct{}, len(candidates))
	selected := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if len(allowed) > 0 {
			if _, ok := allowed[name]; !ok {
				slog.Warn("Skipping disallowed analyzer", "analyzer", name)
				continue
			}
		}
		a, ok := reg.Get(name)
		if !ok {
			slog.Warn("Skipping unknown analyzer", "analyzer", name)
			continue
		}
		if !a.IsApplicable(inv) {
			slog.Debug("Analyzer not applicable for workspace", "analyzer", name)
			continue
		}
		selected = append(selected, name)
	}
	return selected
}
