package artifact

import "errors"

// Upload failures. Each maps to a distinct HTTP status at the handler boundary.
var (
	ErrNoFileProvided    = errors.New("no file provided")
	ErrInvalidExtension  = errors.New("only zip files are allowed")
	ErrSizeLimitExceeded = errors.New("file exceeds size limit")
	ErrUploadInterrupted = errors.New("upload interrupted")
	ErrStagingIncomplete = errors.New("staged upload incomplete")
	ErrPromotionFailed   = errors.New("promotion failed")
)

// Read-side failures.
var (
	ErrNotFound     = errors.New("no file available")
	ErrBlobMissing  = errors.New("metadata references a missing blob")
	ErrInconsistent = errors.New("blob size does not match metadata")
)
