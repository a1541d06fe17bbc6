package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"zip-drop/internal/logging"
)

const (
	currentName  = "current.zip"
	backupName   = "current.zip.bak"
	metadataName = "metadata.json"
	stagingDir   = ".staging"
	stagingExt   = ".part"
)

// LocalStore keeps the archive and its metadata in a directory on local disk.
//
// Layout:
//
//	<dir>/current.zip
//	<dir>/metadata.json
//	<dir>/.staging/<uuid>.part
//
// Promotion is a rename of the staged file over current.zip followed by a
// write-to-temp-then-rename of metadata.json. A hard link of the previous
// archive is taken first so a failed metadata write can be rolled back.
type LocalStore struct {
	dir string

	// mu serialises promotion against readers; streaming is never locked.
	mu sync.RWMutex

	now       func() time.Time
	writeMeta func(Metadata) error
}

// NewLocalStore creates dir if needed and repairs any promotion that was
// interrupted by a crash.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("storage directory is empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, stagingDir), 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	s := &LocalStore{dir: dir, now: time.Now}
	s.writeMeta = s.writeMetadata

	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the storage root.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) path(name string) string { return filepath.Join(s.dir, name) }

// Get returns the current metadata record.
func (s *LocalStore) Get(_ context.Context) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMetadata()
}

func (s *LocalStore) readMetadata() (Metadata, error) {
	raw, err := os.ReadFile(s.path(metadataName))
	if errors.Is(err, fs.ErrNotExist) {
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

// writeMetadata replaces metadata.json atomically.
func (s *LocalStore) writeMetadata(m Metadata) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, metadataName+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path(metadataName))
}

// Replace stages r, verifies it and promotes it as the current archive.
func (s *LocalStore) Replace(ctx context.Context, name string, r io.Reader) (Metadata, error) {
	stagedPath := filepath.Join(s.dir, stagingDir, uuid.NewString()+stagingExt)
	f, err := os.OpenFile(stagedPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: create staging file: %w", ErrStagingIncomplete, err)
	}

	promoted := false
	defer func() {
		if promoted {
			return
		}
		_ = f.Close()
		if err := os.Remove(stagedPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.Warn("staging cleanup failed", map[string]any{"path": stagedPath, "error": err.Error()})
		}
	}()

	received, err := stream(ctx, f, r)
	if err != nil {
		return Metadata{}, err
	}
	if err := f.Sync(); err != nil {
		return Metadata{}, fmt.Errorf("%w: sync staging file: %w", ErrStagingIncomplete, err)
	}
	if err := f.Close(); err != nil {
		return Metadata{}, fmt.Errorf("%w: close staging file: %w", ErrStagingIncomplete, err)
	}

	st, err := os.Stat(stagedPath)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: stat staging file: %w", ErrStagingIncomplete, err)
	}
	if st.Size() != received {
		return Metadata{}, fmt.Errorf("%w: %d bytes on disk, %d received", ErrStagingIncomplete, st.Size(), received)
	}

	meta := Metadata{
		HasFile:      true,
		OriginalName: name,
		Size:         uint64(received),
		UploadedAt:   s.now().UTC(),
	}
	if err := s.promote(stagedPath, meta); err != nil {
		return Metadata{}, err
	}
	promoted = true
	return meta, nil
}

// promote swaps the staged file in and rewrites metadata as one step.
func (s *LocalStore) promote(stagedPath string, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.path(currentName)
	backup := s.path(backupName)

	_ = os.Remove(backup)
	hasBackup := false
	if err := os.Link(current, backup); err == nil {
		hasBackup = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("could not snapshot current archive, promotion has no rollback", map[string]any{"error": err.Error()})
	}

	if err := os.Rename(stagedPath, current); err != nil {
		if hasBackup {
			_ = os.Remove(backup)
		}
		return fmt.Errorf("%w: rename staged file: %w", ErrPromotionFailed, err)
	}

	if err := s.writeMeta(meta); err != nil {
		s.rollback(hasBackup)
		return fmt.Errorf("%w: write metadata: %w", ErrPromotionFailed, err)
	}

	if hasBackup {
		_ = os.Remove(backup)
	}
	return nil
}

// rollback restores the archive that matches the unchanged metadata.
func (s *LocalStore) rollback(hasBackup bool) {
	current := s.path(currentName)
	var err error
	if hasBackup {
		err = os.Rename(s.path(backupName), current)
	} else {
		err = os.Remove(current)
	}
	if err != nil {
		logging.Error("rollback after failed metadata write did not complete", map[string]any{"integrity": true}, err)
	}
}

// Open returns the metadata and an open handle on current.zip.
func (s *LocalStore) Open(_ context.Context) (Metadata, Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.readMetadata()
	if err != nil {
		return Metadata{}, nil, err
	}
	if !meta.HasFile {
		return meta, nil, ErrNotFound
	}

	f, err := os.Open(s.path(currentName))
	if errors.Is(err, fs.ErrNotExist) {
		return meta, nil, ErrBlobMissing
	}
	if err != nil {
		return meta, nil, fmt.Errorf("open archive: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return meta, nil, fmt.Errorf("stat archive: %w", err)
	}
	if uint64(st.Size()) != meta.Size {
		_ = f.Close()
		return meta, nil, fmt.Errorf("%w: %d bytes on disk, metadata says %d", ErrInconsistent, st.Size(), meta.Size)
	}
	return meta, f, nil
}

// SweepStaging removes staging files older than maxAge.
func (s *LocalStore) SweepStaging(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, stagingDir))
	if err != nil {
		return 0, fmt.Errorf("list staging directory: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), stagingExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, stagingDir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Ping checks the storage directory is still there.
func (s *LocalStore) Ping(_ context.Context) error {
	st, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

// recover settles a backup link left behind by a crash mid-promotion.
//
// The backup only survives a crash, so the three cases are: the rename never
// happened (backup and current are the same file), the metadata was already
// rewritten (metadata matches current), or the crash fell between the rename
// and the metadata write (metadata matches the backup, which is restored).
// When sizes cannot tell the cases apart the promotion is treated as
// committed.
func (s *LocalStore) recover() error {
	backup := s.path(backupName)
	bst, err := os.Stat(backup)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat backup: %w", err)
	}

	current := s.path(currentName)
	cst, cerr := os.Stat(current)
	meta, err := s.readMetadata()
	if err != nil {
		return err
	}

	switch {
	case cerr == nil && os.SameFile(bst, cst):
		return os.Remove(backup)
	case cerr == nil && meta.HasFile && uint64(cst.Size()) == meta.Size:
		return os.Remove(backup)
	case meta.HasFile && uint64(bst.Size()) == meta.Size:
		logging.Warn("restoring archive after interrupted promotion", map[string]any{"integrity": true})
		return os.Rename(backup, current)
	default:
		logging.Warn("backup archive does not match metadata, leaving it in place", map[string]any{
			"integrity": true,
			"backup":    backup,
		})
		return nil
	}
}

var _ Store = (*LocalStore)(nil)
