package server

import (
	"net/http"
	"strconv"

	"zip-drop/internal/audit"
	"zip-drop/internal/logging"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// historyHandler handles GET /api/history?limit=N, newest first.
func (cfg Config) historyHandler(rec audit.Recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rec.Enabled() {
			writeError(w, http.StatusNotFound, "History not enabled")
			return
		}

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "Invalid limit")
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		events, err := rec.Recent(r.Context(), limit)
		if err != nil {
			logging.Error("read upload history failed", map[string]any{"rid": RequestIDFromContext(r.Context())}, err)
			writeError(w, http.StatusInternalServerError, "Failed to read history")
			return
		}
		if events == nil {
			events = []audit.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	})
}
