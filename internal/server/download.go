package server

import (
	"errors"
	"mime"
	"net/http"
	"time"

	"zip-drop/internal/artifact"
	"zip-drop/internal/logging"
)

// contentDisposition builds an attachment header carrying name, using the
// RFC 2231 form when the name is not plain ASCII.
func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

// downloadHandler handles GET /api/download. Range and conditional
// requests are answered by http.ServeContent.
func (cfg Config) downloadHandler(store artifact.Store, m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := RequestIDFromContext(r.Context())

		meta, blob, err := store.Open(r.Context())
		switch {
		case errors.Is(err, artifact.ErrNotFound):
			writeError(w, http.StatusNotFound, "No file available")
			return
		case errors.Is(err, artifact.ErrBlobMissing):
			m.RecordDownloadError()
			logging.Warn("metadata references a missing archive", map[string]any{
				"rid":       rid,
				"integrity": true,
				"name":      meta.OriginalName,
			})
			writeError(w, http.StatusNotFound, "File not found on server")
			return
		case errors.Is(err, artifact.ErrInconsistent):
			m.RecordDownloadError()
			logging.Warn("archive does not match metadata", map[string]any{
				"rid":       rid,
				"integrity": true,
				"error":     err.Error(),
			})
			writeError(w, http.StatusInternalServerError, "Stored file is inconsistent")
			return
		case err != nil:
			m.RecordDownloadError()
			logging.Error("open archive failed", map[string]any{"rid": rid}, err)
			writeError(w, http.StatusInternalServerError, "Failed to read file")
			return
		}
		defer blob.Close()

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", contentDisposition(meta.OriginalName))
		http.ServeContent(w, r, "", meta.UploadedAt, blob)

		m.RecordDownload(int64(meta.Size), time.Since(start))
	})
}
