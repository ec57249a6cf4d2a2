package gateway

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (gw *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       gw.deps.Version,
		UptimeSeconds: int64(time.Since(gw.startedAt).Seconds()),
	})
}

type toolsResponse struct {
	Available []string          `json:"available"`
	Default   []string          `json:"default"`
	Versions  map[string]string `json:"versions"`
}

func (gw *Gateway) handleTools(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	resp := toolsResponse{
		Available: gw.deps.Tools.Names(),
		Default:   gw.deps.Settings.Snapshot().Defaults,
		Versions:  gw.deps.Tools.Versions(ctx),
	}
	if resp.Default == nil {
		resp.Default = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}
