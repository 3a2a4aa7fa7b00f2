package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig bounds the size of pacer.log.
type RotationConfig struct {
	MaxSizeMB  int  // Rotate once the file would exceed this; 0 never rotates
	MaxBackups int  // Rotated files kept as pacer.log.1 (newest) .. pacer.log.N
	Compress   bool // Gzip rotated files
}

// rotatingFile is an append-only log file that rolls over by size. Rotation
// happens inline on the write that crosses the limit, so a failed rotation
// keeps appending to the current file rather than dropping the entry.
type rotatingFile struct {
	mu       sync.Mutex
	path     string
	limit    int64
	backups  int
	compress bool

	file      *os.File
	size      int64
	rotations int
	lastErr   error
}

func openRotatingFile(path string, cfg RotationConfig) (*rotatingFile, error) {
	rf := &rotatingFile{
		path:     path,
		limit:    int64(max(cfg.MaxSizeMB, 0)) << 20,
		backups:  max(cfg.MaxBackups, 0),
		compress: cfg.Compress,
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) open() error {
	if err := os.MkdirAll(filepath.Dir(rf.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rf.file, rf.size = f, info.Size()
	return nil
}

// Write implements io.Writer.
func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, os.ErrClosed
	}
	if rf.limit > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.limit {
		if err := rf.rotate(); err != nil {
			rf.lastErr = err
			if rf.file == nil {
				return 0, err
			}
		}
	}
	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// rotate shifts backups up by one and starts a fresh file. The caller holds mu.
func (rf *rotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rf.file = nil

	if rf.backups == 0 {
		if err := os.Remove(rf.path); err != nil && !os.IsNotExist(err) {
			return reopen(rf, err)
		}
		rf.rotations++
		return rf.open()
	}

	// The oldest backup falls off the end
	rf.removeBackup(rf.backups)
	for i := rf.backups - 1; i >= 1; i-- {
		for _, ext := range []string{"", ".gz"} {
			if _, err := os.Stat(rf.backup(i) + ext); err == nil {
				_ = os.Rename(rf.backup(i)+ext, rf.backup(i+1)+ext)
			}
		}
	}
	if err := os.Rename(rf.path, rf.backup(1)); err != nil {
		return reopen(rf, err)
	}
	rf.rotations++

	var gzErr error
	if rf.compress {
		gzErr = gzipFile(rf.backup(1))
	}
	if err := rf.open(); err != nil {
		return err
	}
	return gzErr
}

// reopen restores the current file after a failed rotation and reports cause.
func reopen(rf *rotatingFile, cause error) error {
	if err := rf.open(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w (reopen: %v)", cause, err)
	}
	return fmt.Errorf("failed to rotate log file: %w", cause)
}

func (rf *rotatingFile) backup(n int) string {
	return fmt.Sprintf("%s.%d", rf.path, n)
}

func (rf *rotatingFile) removeBackup(n int) {
	_ = os.Remove(rf.backup(n))
	_ = os.Remove(rf.backup(n) + ".gz")
}

// gzipFile replaces path with path.gz. The original is kept if compression
// fails.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path + ".gz")
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		_ = os.Remove(path + ".gz")
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// Sync flushes the current file.
func (rf *rotatingFile) Sync() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	return rf.file.Sync()
}

// Close syncs and closes the current file. Closing twice is a no-op.
func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	f := rf.file
	rf.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// stats reports the number of completed rotations and the last rotation
// failure.
func (rf *rotatingFile) stats() (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.rotations, rf.lastErr
}
