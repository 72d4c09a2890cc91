package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// streamJob handles GET /api/address-search/{jobID}/stream as a Server-Sent
// Events response. The underlying streamer polls the job store; this layer
// only frames its events and flushes after each write.
func (h *Handler) streamJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// r.Context() is canceled on client disconnect, which stops the polling
	// loop promptly; the background job itself keeps running regardless.
	if err := h.streams.Stream(r.Context(), jobID, send); err != nil {
		h.log.Debug("stream ended", zap.String("job_id", jobID), zap.Error(err))
	}
}
