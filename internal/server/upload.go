package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"zip-drop/internal/artifact"
	"zip-drop/internal/audit"
	"zip-drop/internal/logging"
)

// uploadField is the multipart form field carrying the archive.
const uploadField = "zipfile"

// multipartOverhead is allowed on top of the size limit for part headers
// and boundaries.
const multipartOverhead = 1 << 20

// uploadResp is the JSON body returned after a successful upload.
type uploadResp struct {
	Success      bool      `json:"success"`
	HasFile      bool      `json:"hasFile"`
	OriginalName string    `json:"originalName"`
	Size         uint64    `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// countingReader tracks how many bytes of the part were consumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// uploadHandler handles POST /api/upload. The archive is streamed from the
// "zipfile" part straight into the store, which stages, verifies and
// promotes it; nothing is buffered in memory or written to a temp file here.
func (cfg Config) uploadHandler(store artifact.Store, rec audit.Recorder, m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ev := audit.Event{
			ClientIP:  getClientIP(r),
			RequestID: RequestIDFromContext(r.Context()),
		}

		fail := func(err error) {
			status, msg, outcome := classifyUploadError(err, cfg.MaxUploadBytes)
			ev.Outcome = outcome
			ev.ErrorMsg = msg

			fields := map[string]any{
				"rid":    ev.RequestID,
				"status": status,
				"name":   ev.OriginalName,
				"bytes":  ev.Size,
			}
			if status >= http.StatusInternalServerError {
				logging.Error("upload failed", fields, err)
			} else {
				fields["reason"] = err.Error()
				logging.Info("upload rejected", fields)
			}

			m.RecordUploadError(string(outcome))
			record(r.Context(), rec, ev)
			writeError(w, status, msg)
		}

		bodyLimit := cfg.MaxUploadBytes + multipartOverhead
		r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)

		part, err := filePart(r)
		if err != nil {
			fail(err)
			return
		}
		defer part.Close()

		name := part.FileName()
		ev.OriginalName = artifact.SanitizeFilename(name)
		if err := artifact.ValidateName(name); err != nil {
			fail(err)
			return
		}

		// The name is checked first; an oversized declared body is refused
		// before any of the archive is staged.
		if r.ContentLength > bodyLimit {
			fail(artifact.ErrSizeLimitExceeded)
			return
		}

		body := &countingReader{r: part}
		meta, err := store.Replace(r.Context(), ev.OriginalName, artifact.LimitReader(body, cfg.MaxUploadBytes))
		ev.Size = body.n
		if err != nil {
			fail(err)
			return
		}

		ev.Outcome = audit.OutcomeStored
		ev.Size = int64(meta.Size)
		record(r.Context(), rec, ev)

		m.RecordUpload(int64(meta.Size), time.Since(start))
		m.SetCurrentArchive(meta)
		logging.Info("archive replaced", map[string]any{
			"rid":   ev.RequestID,
			"name":  meta.OriginalName,
			"size":  humanize.IBytes(meta.Size),
			"bytes": meta.Size,
		})

		writeJSON(w, http.StatusOK, uploadResp{
			Success:      true,
			HasFile:      meta.HasFile,
			OriginalName: meta.OriginalName,
			Size:         meta.Size,
			UploadedAt:   meta.UploadedAt,
		})
	})
}

// filePart advances the multipart stream to the first "zipfile" part that
// carries a filename. Other fields are skipped.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, artifact.ErrNoFileProvided
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, artifact.ErrNoFileProvided
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return nil, artifact.ErrSizeLimitExceeded
			}
			return nil, fmt.Errorf("%w: %w", artifact.ErrUploadInterrupted, err)
		}
		if part.FormName() == uploadField && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

// classifyUploadError maps an upload failure to its HTTP status, client
// message and audit outcome.
func classifyUploadError(err error, limit int64) (int, string, audit.Outcome) {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, artifact.ErrSizeLimitExceeded), errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File exceeds %s limit", humanize.IBytes(uint64(limit))),
			audit.OutcomeRejected
	case errors.Is(err, artifact.ErrInvalidExtension):
		return http.StatusBadRequest, "Only ZIP files are allowed", audit.OutcomeRejected
	case errors.Is(err, artifact.ErrNoFileProvided):
		return http.StatusBadRequest, "No file provided", audit.OutcomeRejected
	case errors.Is(err, artifact.ErrUploadInterrupted):
		return http.StatusBadRequest, "Upload interrupted", audit.OutcomeRejected
	case errors.Is(err, artifact.ErrStagingIncomplete):
		return http.StatusInternalServerError, "Upload was incomplete", audit.OutcomeFailed
	default:
		return http.StatusInternalServerError, "Failed to store file", audit.OutcomeFailed
	}
}

// record writes ev to the history on a context that outlives the request,
// so aborted uploads are still logged.
func record(ctx context.Context, rec audit.Recorder, ev audit.Event) {
	if !rec.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := rec.Record(ctx, ev); err != nil {
		logging.Warn("upload history write failed", map[string]any{
			"rid":   ev.RequestID,
			"error": err.Error(),
		})
	}
}
