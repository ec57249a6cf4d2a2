package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const sseKeepAlive = 15 * time.Second

// handleEvents streams a snapshot of the job followed by its lifecycle events
// and ends after the finished event.
func (gw *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternal, "streaming not supported")
		return
	}
	id := chi.URLParam(r, "id")

	// Subscribe before reading the snapshot so no event falls in between.
	ch := gw.broadcaster.subscribe(id)
	defer gw.broadcaster.unsubscribe(id, ch)

	info, err := gw.deps.Jobs.Get(id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	snapshot, err := encodeFrame("snapshot", info)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if behind a proxy
	w.WriteHeader(http.StatusOK)

	// SSE endpoint streams prebuilt JSON frames (event-stream), not HTML.
	_, _ = w.Write(snapshot)
	flusher.Flush()
	if info.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame.data)
			flusher.Flush()
			if frame.final {
				return
			}
		}
	}
}
