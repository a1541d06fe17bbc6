package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"zip-drop/internal/logging"
)

// MinioConfig holds the connection settings for the S3-compatible backend.
type MinioConfig struct {
	Endpoint  string // "minio:9000" or "https://s3.example.com"
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string // key prefix, e.g. "zipdrop/"
	Region    string
}

// MinioStore keeps the archive and its metadata as objects in one bucket.
//
// S3 has no rename, so promotion is a server-side copy of the staged object
// onto the current key; a single PUT or COPY is atomic per object, which
// gives readers the same old-or-new guarantee as a filesystem rename.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string

	mu  sync.RWMutex
	now func() time.Time
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	return raw, false, nil
}

// NewMinioStore connects to the endpoint and creates the bucket if missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
	}, nil
}

// stagingPartSize bounds the multipart buffer minio-go allocates for a
// stream of unknown length; 10000 parts of 16 MiB cover 160 GiB.
const stagingPartSize = 16 << 20

func stagingPutOptions() minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType: "application/zip",
		PartSize:    stagingPartSize,
	}
}

func (s *MinioStore) key(name string) string { return s.prefix + name }

func (s *MinioStore) stagingPrefix() string { return s.prefix + "staging/" }

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// Get returns the current metadata record.
func (s *MinioStore) Get(ctx context.Context) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMetadata(ctx)
}

func (s *MinioStore) readMetadata(ctx context.Context) (Metadata, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(metadataName), minio.GetObjectOptions{})
	if err != nil {
		return Metadata{}, fmt.Errorf("get metadata: %w", err)
	}
	defer func() { _ = obj.Close() }()

	raw, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return Metadata{}, nil
		}
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func (s *MinioStore) writeMetadata(ctx context.Context, m Metadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.key(metadataName), bytes.NewReader(raw), int64(len(raw)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

// Replace stages r as staging/<uuid>, verifies it and copies it onto current.zip.
func (s *MinioStore) Replace(ctx context.Context, name string, r io.Reader) (Metadata, error) {
	staged := s.stagingPrefix() + uuid.NewString()
	defer s.remove(staged)

	in := &sourceReader{ctx: ctx, r: r}
	info, err := s.client.PutObject(ctx, s.bucket, staged, in, -1, stagingPutOptions())
	if err != nil {
		return Metadata{}, in.classify(err)
	}
	if in.err != nil {
		return Metadata{}, in.classify(in.err)
	}

	st, err := s.client.StatObject(ctx, s.bucket, staged, minio.StatObjectOptions{})
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: stat staged object: %w", ErrStagingIncomplete, err)
	}
	if st.Size != in.n || info.Size != in.n {
		return Metadata{}, fmt.Errorf("%w: %d bytes stored, %d received", ErrStagingIncomplete, st.Size, in.n)
	}

	meta := Metadata{
		HasFile:      true,
		OriginalName: name,
		Size:         uint64(in.n),
		UploadedAt:   s.now().UTC(),
	}
	if err := s.promote(ctx, staged, meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (s *MinioStore) copy(ctx context.Context, from, to string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: to},
		minio.CopySrcOptions{Bucket: s.bucket, Object: from},
	)
	return err
}

func (s *MinioStore) promote(ctx context.Context, staged string, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.key(currentName)
	backup := s.key(backupName)

	hasBackup := false
	if _, err := s.client.StatObject(ctx, s.bucket, current, minio.StatObjectOptions{}); err == nil {
		if err := s.copy(ctx, current, backup); err != nil {
			logging.Warn("could not snapshot current archive, promotion has no rollback", map[string]any{"error": err.Error()})
		} else {
			hasBackup = true
			defer s.remove(backup)
		}
	}

	if err := s.copy(ctx, staged, current); err != nil {
		return fmt.Errorf("%w: copy staged object: %w", ErrPromotionFailed, err)
	}

	if err := s.writeMetadata(ctx, meta); err != nil {
		var rerr error
		if hasBackup {
			rerr = s.copy(ctx, backup, current)
		} else {
			rerr = s.client.RemoveObject(ctx, s.bucket, current, minio.RemoveObjectOptions{})
		}
		if rerr != nil {
			logging.Error("rollback after failed metadata write did not complete", map[string]any{"integrity": true}, rerr)
		}
		return fmt.Errorf("%w: write metadata: %w", ErrPromotionFailed, err)
	}
	return nil
}

// remove deletes an object on a fresh context so cleanup still runs after
// the request context has been cancelled.
func (s *MinioStore) remove(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		logging.Warn("object cleanup failed", map[string]any{"key": key, "error": err.Error()})
	}
}

// Open returns the metadata and a reader on current.zip.
func (s *MinioStore) Open(ctx context.Context) (Metadata, Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.readMetadata(ctx)
	if err != nil {
		return Metadata{}, nil, err
	}
	if !meta.HasFile {
		return meta, nil, ErrNotFound
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(currentName), minio.GetObjectOptions{})
	if err != nil {
		return meta, nil, fmt.Errorf("get archive: %w", err)
	}

	// Force an early error for a missing object.
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return meta, nil, ErrBlobMissing
		}
		return meta, nil, fmt.Errorf("stat archive: %w", err)
	}
	if uint64(st.Size) != meta.Size {
		_ = obj.Close()
		return meta, nil, fmt.Errorf("%w: %d bytes stored, metadata says %d", ErrInconsistent, st.Size, meta.Size)
	}
	return meta, obj, nil
}

// SweepStaging removes staging objects older than maxAge.
func (s *MinioStore) SweepStaging(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.stagingPrefix(), Recursive: true}) {
		if obj.Err != nil {
			return removed, obj.Err
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("remove %s: %w", obj.Key, err)
		}
		removed++
	}
	return removed, nil
}

// Ping checks the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("bucket does not exist: " + s.bucket)
	}
	return nil
}

var _ Store = (*MinioStore)(nil)
