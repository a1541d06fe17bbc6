// Package artifact stores the single current ZIP archive together with the
// metadata record that describes it. Both backends (local filesystem and
// MinIO/S3) stage incoming bytes under a unique name and only promote them
// over the current archive once the stream has been fully received and its
// size verified, so readers always see either the old pair or the new pair.
package artifact
