package gateway

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SuryaSriramD/CodeAgentTool/internal/notify"
)

type registerWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

func (gw *Gateway) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req registerWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wh, err := gw.deps.Webhooks.Register(req.URL, req.Events, req.Secret)
	if err != nil {
		if errors.Is(err, notify.ErrInvalidWebhook) {
			writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": wh.ID})
}

func (gw *Gateway) handleListWebhooks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": gw.deps.Webhooks.List()})
}

func (gw *Gateway) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := gw.deps.Webhooks.Delete(id); err != nil {
		if errors.Is(err, notify.ErrWebhookNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "webhook not found")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}
