package artifact

import (
	"context"
	"io"
	"time"
)

// Blob is an open handle on the current archive.
type Blob interface {
	io.ReadSeekCloser
}

// Store holds the single current archive and its metadata record.
type Store interface {
	// Get returns the current metadata, {HasFile:false} when nothing is stored.
	Get(ctx context.Context) (Metadata, error)

	// Replace stages r under a unique name and, once fully received and
	// verified, promotes it over the current archive and rewrites the
	// metadata. On any error the previous pair is left untouched.
	Replace(ctx context.Context, name string, r io.Reader) (Metadata, error)

	// Open returns the current metadata and a handle on the matching blob.
	// The caller must close the blob.
	Open(ctx context.Context) (Metadata, Blob, error)

	// SweepStaging removes staging blobs older than maxAge and returns how
	// many were deleted.
	SweepStaging(ctx context.Context, maxAge time.Duration) (int, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
