package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileLock_CreatesLockFile(t *testing.T) {
	dir := t.TempDir()
	fl := NewFileLock(dir)

	if err := fl.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, lockFileName)); err != nil {
		t.Errorf("lock file missing: %v", err)
	}
	if err := fl.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	// Releasing twice is harmless.
	if err := fl.Unlock(); err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
}

func TestFileLock_TryLockAfterRelease(t *testing.T) {
	dir := t.TempDir()

	first := NewFileLock(dir)
	if err := first.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	second := NewFileLock(dir)
	ok, err := second.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if !ok {
		t.Fatal("TryLock should succeed once the lock was released")
	}
	if err := second.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestFileLock_MissingDir(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "missing", "dir"))

	if err := fl.Lock(); err == nil {
		t.Error("Lock should fail when the directory does not exist")
	}
	if _, err := fl.TryLock(); err == nil {
		t.Error("TryLock should fail when the directory does not exist")
	}
}
