package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/errors"
)

// Backend stores one opaque state blob.
type Backend interface {
	// Name identifies the backend kind ("file", "badger").
	Name() string
	// Location describes where the blob lives.
	Location() string
	// Read returns the stored blob or ErrStateNotFound.
	Read(ctx context.Context) ([]byte, error)
	// Write replaces the stored blob atomically.
	Write(ctx context.Context, data []byte) error
	// Delete removes the stored blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context) error
	Close() error
}

// Open returns the backend selected by cfg.
func Open(cfg config.StateConfig) (Backend, error) {
	dir := cfg.ResolveDir()
	switch cfg.Backend {
	case "", "file":
		return NewFileBackend(dir)
	case "badger":
		return OpenBadger(filepath.Join(dir, "badger"), false)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// -----------------------------------------------------------------------------
// File backend
// -----------------------------------------------------------------------------

const stateFileName = "tuner-state.json"

// FileBackend keeps the blob in a JSON file. Writes go to a temporary file
// that is renamed into place, and every access holds the directory's flock.
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed and returns a backend rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) Name() string     { return "file" }
func (b *FileBackend) Location() string { return filepath.Join(b.dir, stateFileName) }
func (b *FileBackend) Close() error     { return nil }

func (b *FileBackend) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fl := NewFileLock(b.dir)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := os.ReadFile(b.Location())
	if os.IsNotExist(err) {
		return nil, errors.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return data, nil
}

func (b *FileBackend) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fl := NewFileLock(b.dir)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	target := b.Location()
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Delete removes the state file. It does not wait for a lock held by another
// process and returns ErrStateLocked instead.
func (b *FileBackend) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fl := NewFileLock(b.dir)
	ok, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.ErrStateLocked
	}
	defer func() { _ = fl.Unlock() }()

	if err := os.Remove(b.Location()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Badger backend
// -----------------------------------------------------------------------------

var stateKey = []byte("pacer/state")

// BadgerBackend keeps the blob under a single key in a BadgerDB.
type BadgerBackend struct {
	mu       sync.Mutex
	db       *badger.DB
	dir      string
	inMemory bool
}

// OpenBadger opens (or creates) a BadgerDB at dir. inMemory ignores dir and
// keeps everything in RAM, which is what tests use.
func OpenBadger(dir string, inMemory bool) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerBackend{db: db, dir: dir, inMemory: inMemory}, nil
}

func (b *BadgerBackend) Name() string { return "badger" }

func (b *BadgerBackend) Location() string {
	if b.inMemory {
		return "memory"
	}
	return b.dir
}

func (b *BadgerBackend) handle() (*badger.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, errors.ErrStoreClosed
	}
	return b.db, nil
}

func (b *BadgerBackend) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	var data []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey)
		if err == badger.ErrKeyNotFound {
			return errors.ErrStateNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

func (b *BadgerBackend) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := b.handle()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey, data)
	})
}

func (b *BadgerBackend) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := b.handle()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete(stateKey)
	})
}

// Close closes the database. Closing twice is a no-op.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
