package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	tasksDir = "tasks"
	tempDir  = "temp"
)

// Store persists uploaded files under {root}/tasks/{taskID}/. It is
// backed by an afero.Fs so tests run against an in-memory filesystem.
type Store struct {
	fs     afero.Fs
	root   string
	logger *zap.Logger
}

// Stats is an aggregate over the whole storage tree.
type Stats struct {
	FileCount  int   `json:"file_count"`
	TotalBytes int64 `json:"total_bytes"`
}

func NewStore(fs afero.Fs, root string, logger *zap.Logger) (*Store, error) {
	if err := fs.MkdirAll(filepath.Join(root, tasksDir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage tree: %w", err)
	}
	// Reserved for staged uploads; the pipeline itself writes final
	// paths directly.
	if err := fs.MkdirAll(filepath.Join(root, tempDir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage tree: %w", err)
	}
	return &Store{fs: fs, root: root, logger: logger}, nil
}

// UniqueName generates a collision-free stored name for a file: a
// random UUID plus the original extension. The original base name is
// never reused.
func (s *Store) UniqueName(originalName string) string {
	return uuid.New().String() + filepath.Ext(originalName)
}

// Write streams content to {root}/tasks/{taskID}/{name}, returning the
// path, the number of bytes written, and the SHA-256 of the content.
// On any failure the partial file is removed before the error is
// returned; a successful return never references a partial write.
func (s *Store) Write(r io.Reader, taskID int64, name string) (string, int64, string, error) {
	dir := filepath.Join(s.root, tasksDir, strconv.FormatInt(taskID, 10))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", 0, "", fmt.Errorf("create task directory: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := s.fs.Create(path)
	if err != nil {
		return "", 0, "", fmt.Errorf("create file: %w", err)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.Delete(path)
		return "", 0, "", fmt.Errorf("write file: %w", err)
	}

	// Re-verify on disk; the stream is the only size authority.
	info, err := s.fs.Stat(path)
	if err != nil {
		s.Delete(path)
		return "", 0, "", fmt.Errorf("stat written file: %w", err)
	}
	if info.Size() != written {
		s.Delete(path)
		return "", 0, "", fmt.Errorf("short write: wrote %d bytes, file has %d", written, info.Size())
	}

	return path, written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Open returns a reader over a stored file.
func (s *Store) Open(path string) (io.ReadCloser, error) {
	return s.fs.Open(path)
}

// Delete removes a stored file. It is idempotent: a missing path
// returns false rather than an error.
func (s *Store) Delete(path string) bool {
	if err := s.fs.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to delete file", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	return true
}

// CleanupOrphans walks the storage tree and deletes every file not in
// the referenced set, returning how many were removed. Files that
// vanish between listing and deleting are not errors; cleanup runs
// concurrently with uploads and deletes.
func (s *Store) CleanupOrphans(referenced map[string]struct{}) int {
	deleted := 0
	s.walkFiles(func(path string, _ os.FileInfo) {
		if _, ok := referenced[path]; ok {
			return
		}
		if s.Delete(path) {
			deleted++
		}
	})
	if deleted > 0 {
		s.logger.Info("cleaned up orphaned files", zap.Int("count", deleted))
	}
	return deleted
}

// Stats walks the whole tree and aggregates file count and byte total.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	s.walkFiles(func(_ string, info os.FileInfo) {
		stats.FileCount++
		stats.TotalBytes += info.Size()
	})
	return stats, nil
}

func (s *Store) walkFiles(fn func(path string, info os.FileInfo)) {
	root := filepath.Join(s.root, tasksDir)
	afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			// Tolerate entries that vanished mid-walk.
			return nil
		}
		fn(path, info)
		return nil
	})
}
