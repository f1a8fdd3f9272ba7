package batch

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes decoded files below a directory with atomic writes.
//
// Content goes to a temporary file in the destination directory and is
// renamed into place, so partially written files are never visible.
type FileSink struct {
	destDir   string
	overwrite bool
	fileMode  os.FileMode
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithFileMode sets the permission bits of written files. Defaults to 0o644.
func WithFileMode(mode os.FileMode) FileSinkOption {
	return func(s *FileSink) {
		s.fileMode = mode
	}
}

// NewFileSink creates a FileSink that writes to destDir.
func NewFileSink(destDir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{
		destDir:  destDir,
		fileMode: 0o644,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the destination of a slash-separated relative path.
func (s *FileSink) Path(rel string) string {
	return filepath.Join(s.destDir, filepath.FromSlash(rel))
}

// ShouldWrite returns false if the file already exists and overwrite is disabled.
func (s *FileSink) ShouldWrite(rel string) bool {
	if s.overwrite {
		return true
	}
	_, err := os.Stat(s.Path(rel))
	return os.IsNotExist(err)
}

// Write stores data at rel. It reports false when the file was skipped.
func (s *FileSink) Write(rel string, data []byte) (bool, error) {
	if !s.ShouldWrite(rel) {
		return false, nil
	}
	destPath := s.Path(rel)
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".js5-*")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()    //nolint:errcheck // we're cleaning up
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return false, fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return false, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, s.fileMode); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return false, fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return false, fmt.Errorf("rename to %s: %w", destPath, err)
	}
	return true, nil
}
