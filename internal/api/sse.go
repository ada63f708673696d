package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StreamEvents handles GET /api/v1/batches/{id}/events.
// It streams progress events for a running batch as server-sent events until
// the batch reaches a terminal phase or the client disconnects. The id
// "current" resolves to whichever batch is running.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := r.PathValue("id")
	isProcessing, current := h.batches.Status()
	if id == "current" {
		id = current
	}
	// Only a running batch has a stream. Subscribing to a finished or unknown
	// id would wait forever since no events will ever arrive.
	if !isProcessing || id != current {
		writeError(w, http.StatusNotFound, "batch not running")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe(id)
	defer h.broker.Unsubscribe(id, ch)

	// Initial frame so the client knows the stream is live.
	writeSSEEvent(w, flusher, "subscribed", map[string]string{"batchId": id})

	for {
		select {
		case event, open := <-ch:
			if !open {
				return
			}
			writeSSEEvent(w, flusher, "progress", event)
			if event.Terminal() {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent serialises data as JSON and writes a single SSE event frame.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
