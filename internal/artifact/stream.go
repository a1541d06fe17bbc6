package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// sourceReader remembers the first error produced by the client side of a
// copy, so a failed copy can be attributed to the upload or to storage.
type sourceReader struct {
	ctx context.Context
	r   io.Reader
	n   int64
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return 0, err
	}
	n, err := s.r.Read(p)
	s.n += int64(n)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

// classify turns a failed copy into one of the upload sentinel errors.
func (s *sourceReader) classify(err error) error {
	if s.err == nil {
		return fmt.Errorf("%w: write staging: %w", ErrStagingIncomplete, err)
	}
	if errors.Is(s.err, ErrSizeLimitExceeded) {
		return s.err
	}
	return fmt.Errorf("%w: %w", ErrUploadInterrupted, s.err)
}

// stream copies the upload into dst and returns the number of bytes received.
func stream(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	in := &sourceReader{ctx: ctx, r: src}
	if _, err := io.Copy(dst, in); err != nil {
		return in.n, in.classify(err)
	}
	return in.n, nil
}
