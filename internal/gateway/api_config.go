package gateway

import (
	"fmt"
	"net/http"
	"strings"

	cfgpkg "github.com/SuryaSriramD/CodeAgentTool/internal/config"
)

// --- Config handlers ---

func (gw *Gateway) handleGetAnalyzerConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, gw.deps.Settings.Snapshot())
}

func (gw *Gateway) handlePatchAnalyzerConfig(w http.ResponseWriter, r *http.Request) {
	var patch cfgpkg.SettingsPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if err := gw.validatePatch(patch); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gw.deps.Settings.Update(patch))
}

// validatePatch rejects analyzer names the registry does not know and
// allow-list entries that are not http(s) prefixes.
func (gw *Gateway) validatePatch(p cfgpkg.SettingsPatch) error {
	known := func(name string) bool {
		return gw.deps.Tools == nil || gw.deps.Tools.Has(name)
	}
	if p.Defaults != nil {
		for _, name := range *p.Defaults {
			if !known(name) {
				return fmt.Errorf("defaults: unknown analyzer %q", name)
			}
		}
	}
	if p.Allowed != nil {
		for _, name := range *p.Allowed {
			if !known(name) {
				return fmt.Errorf("allowed_analyzers: unknown analyzer %q", name)
			}
		}
	}
	for name, rules := range p.Rulesets {
		if !known(name) {
			return fmt.Errorf("rulesets: unknown analyzer %q", name)
		}
		for _, rule := range rules {
			if strings.TrimSpace(rule) == "" {
				return fmt.Errorf("rulesets: %s has an empty rule", name)
			}
		}
	}
	if p.AllowList != nil {
		for _, prefix := range *p.AllowList {
			if !strings.HasPrefix(prefix, "https://") && !strings.HasPrefix(prefix, "http://") {
				return fmt.Errorf("allow_list: %q must start with https:// or http://", prefix)
			}
		}
	}
	return nil
}
