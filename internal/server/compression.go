// compression.go - gzip for text responses.
//
// Only the listed content types are compressed, so archive downloads and
// Range responses pass through untouched.
package server

import (
	"compress/gzip"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

var compressibleTypes = []string{
	"application/json",
	"text/html",
	"text/css",
	"text/plain",
	"text/javascript",
	"application/javascript",
}

// compressionMiddleware returns middleware that gzips text responses for
// clients that accept it.
func compressionMiddleware() func(http.Handler) http.Handler {
	return middleware.Compress(gzip.DefaultCompression, compressibleTypes...)
}
