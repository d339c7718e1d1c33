package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleStream pushes one server-sent event per merged source until the
// client disconnects. The bus subscription is pruned automatically when
// the request context ends.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		http.Error(w, "streaming disabled", http.StatusNotImplemented)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	sub := h.Bus.Subscribe(r.Context(), 16)
	for u := range sub {
		payload, err := json.Marshal(u)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: merge\ndata: %s\n\n", payload)
		flusher.Flush()
	}
}
