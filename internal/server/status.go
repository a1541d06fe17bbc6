package server

import (
	"net/http"

	"zip-drop/internal/artifact"
	"zip-drop/internal/logging"
)

// statusHandler handles GET /api/status with the metadata record verbatim.
func (cfg Config) statusHandler(store artifact.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, err := store.Get(r.Context())
		if err != nil {
			logging.Error("read metadata failed", map[string]any{"rid": RequestIDFromContext(r.Context())}, err)
			writeError(w, http.StatusInternalServerError, "Failed to read status")
			return
		}
		writeJSON(w, http.StatusOK, meta)
	})
}
