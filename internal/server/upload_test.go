package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zip-drop/internal/artifact"
	"zip-drop/internal/audit"
)

func TestUpload_Success(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rr := env.upload(t, "test.zip", zipBytes)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp uploadResp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.HasFile)
	assert.Equal(t, "test.zip", resp.OriginalName)
	assert.Equal(t, uint64(len(zipBytes)), resp.Size)
	assert.False(t, resp.UploadedAt.IsZero())

	var meta artifact.Metadata
	require.NoError(t, json.Unmarshal([]byte(env.status(t)), &meta))
	assert.True(t, meta.HasFile)
	assert.Equal(t, resp.OriginalName, meta.OriginalName)
	assert.Equal(t, resp.Size, meta.Size)
}

func TestUpload_RejectsNonZip(t *testing.T) {
	tests := []struct {
		name  string
		prior bool
	}{
		{name: "empty store"},
		{name: "existing archive", prior: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{}, nil)
			if tt.prior {
				require.Equal(t, http.StatusOK, env.upload(t, "keep.zip", zipBytes).Code)
			}
			before := env.status(t)

			rr := env.upload(t, "test.txt", zipBytes)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, decodeError(t, rr), "ZIP")

			assert.Equal(t, before, env.status(t))
		})
	}
}

func TestUpload_ExtensionCaseInsensitive(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rr := env.upload(t, "ARCHIVE.ZIP", zipBytes)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUpload_NoFile(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	t.Run("only other fields", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("comment", "nothing attached"))
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		rr := env.do(req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "No file provided", decodeError(t, rr))
	})

	t.Run("empty file input", func(t *testing.T) {
		rr := env.upload(t, "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "No file provided", decodeError(t, rr))
	})

	t.Run("wrong field name", func(t *testing.T) {
		body, ct := multipartBody(t, "file", "test.zip", zipBytes)
		req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
		req.Header.Set("Content-Type", ct)

		rr := env.do(req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "No file provided", decodeError(t, rr))
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("raw"))
		req.Header.Set("Content-Type", "application/octet-stream")

		rr := env.do(req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "No file provided", decodeError(t, rr))
	})

	assert.JSONEq(t, `{"hasFile":false}`, env.status(t))
}

func TestUpload_SkipsLeadingFields(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "first"))
	fw, err := mw.CreateFormFile(uploadField, "late.zip")
	require.NoError(t, err)
	_, err = fw.Write(zipBytes)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := env.do(req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, env.status(t), "late.zip")
}

func TestUpload_ReplaceSupersedesPrevious(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	a := bytes.Repeat([]byte("A"), 700)
	b := []byte("BBBB")
	require.Equal(t, http.StatusOK, env.upload(t, "a.zip", a).Code)
	require.Equal(t, http.StatusOK, env.upload(t, "b.zip", b).Code)

	var meta artifact.Metadata
	require.NoError(t, json.Unmarshal([]byte(env.status(t)), &meta))
	assert.Equal(t, "b.zip", meta.OriginalName)
	assert.Equal(t, uint64(len(b)), meta.Size)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/download", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, b, rr.Body.Bytes())
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "b.zip")
	assert.NotContains(t, rr.Header().Get("Content-Disposition"), "a.zip")
}

// abortingReader yields data and then fails like a dropped connection.
type abortingReader struct {
	data []byte
}

func (a *abortingReader) Read(p []byte) (int, error) {
	if len(a.data) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(p, a.data)
	a.data = a.data[n:]
	return n, nil
}

func TestUpload_InterruptedLeavesStateUnchanged(t *testing.T) {
	rec := &memRecorder{}
	env := newTestEnv(t, Config{}, rec)
	require.Equal(t, http.StatusOK, env.upload(t, "keep.zip", zipBytes).Code)
	before := env.status(t)

	// Part headers and some content, then the connection drops.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(uploadField, "cut.zip")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte{'x'}, 300))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &abortingReader{data: buf.Bytes()})
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = -1

	rr := env.do(req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Upload interrupted", decodeError(t, rr))
	assert.Equal(t, before, env.status(t))

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/download", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, zipBytes, rr.Body.Bytes())

	events, _ := rec.Recent(context.Background(), 1)
	require.Len(t, events, 1)
	assert.Equal(t, audit.OutcomeRejected, events[0].Outcome)
	assert.Equal(t, "cut.zip", events[0].OriginalName)
}

func TestUpload_SizeBoundary(t *testing.T) {
	env := newTestEnv(t, Config{MaxUploadBytes: artifactLimit}, nil)

	atLimit := bytes.Repeat([]byte{'z'}, artifactLimit)
	rr := env.upload(t, "edge.zip", atLimit)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	before := env.status(t)
	assert.Contains(t, before, `"size":1024`)

	rr = env.upload(t, "over.zip", append(atLimit, 'z'))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "File exceeds 1.0 KiB limit", decodeError(t, rr))
	assert.Equal(t, before, env.status(t))
}

func TestUpload_DeclaredLengthTooLarge(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		status   int
		msg      string
	}{
		{"zip over limit", "huge.zip", http.StatusRequestEntityTooLarge, "File exceeds 1.0 KiB limit"},
		{"extension checked first", "test.txt", http.StatusBadRequest, "Only ZIP files are allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{MaxUploadBytes: artifactLimit}, nil)

			req := uploadRequest(t, tt.filename, zipBytes)
			req.ContentLength = artifactLimit + multipartOverhead + 1

			rr := env.do(req)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.msg, decodeError(t, rr))
			assert.JSONEq(t, `{"hasFile":false}`, env.status(t))
		})
	}
}

func TestUpload_SanitizesFilename(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rr := env.upload(t, `C:\Users\me\backup.zip`, zipBytes)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp uploadResp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "backup.zip", resp.OriginalName)
}

func TestUpload_RateLimited(t *testing.T) {
	env := newTestEnv(t, Config{UploadRateLimit: 1, UploadRateBurst: 1}, nil)

	require.Equal(t, http.StatusOK, env.upload(t, "one.zip", zipBytes).Code)

	rr := env.upload(t, "two.zip", zipBytes)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Contains(t, env.status(t), "one.zip")

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, env.do(httptest.NewRequest(http.MethodGet, "/api/download", nil)).Code)
}

func TestClassifyUploadError(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		msg     string
		outcome audit.Outcome
	}{
		{artifact.ErrInvalidExtension, http.StatusBadRequest, "Only ZIP files are allowed", audit.OutcomeRejected},
		{artifact.ErrSizeLimitExceeded, http.StatusRequestEntityTooLarge, "File exceeds 1.0 GiB limit", audit.OutcomeRejected},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, "File exceeds 1.0 GiB limit", audit.OutcomeRejected},
		{artifact.ErrNoFileProvided, http.StatusBadRequest, "No file provided", audit.OutcomeRejected},
		{artifact.ErrUploadInterrupted, http.StatusBadRequest, "Upload interrupted", audit.OutcomeRejected},
		{artifact.ErrStagingIncomplete, http.StatusInternalServerError, "Upload was incomplete", audit.OutcomeFailed},
		{artifact.ErrPromotionFailed, http.StatusInternalServerError, "Failed to store file", audit.OutcomeFailed},
		{errors.New("boom"), http.StatusInternalServerError, "Failed to store file", audit.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, msg, outcome := classifyUploadError(tt.err, 1<<30)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.msg, msg)
			assert.Equal(t, tt.outcome, outcome)
		})
	}
}
