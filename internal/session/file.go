package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
)

const (
	// CredentialsFileName is the file used by the file backend.
	CredentialsFileName = "credentials.json"

	// LockTimeout bounds how long an update waits for another egov process
	// holding the credentials lock.
	LockTimeout = 2 * time.Second
)

// ErrLocked is returned when the credentials file lock cannot be acquired
// within LockTimeout.
var ErrLocked = errors.New("credentials file is locked by another process")

// FileBackend stores all namespaces in one JSON file, guarded by an
// exclusive file lock so concurrent egov processes never interleave a
// read-modify-write.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a file backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (b *FileBackend) Name() string { return "file" }

// Path returns the credentials file path.
func (b *FileBackend) Path() string {
	return filepath.Join(b.dir, CredentialsFileName)
}

func (b *FileBackend) lockPath() string {
	return filepath.Join(b.dir, ".credentials.lock")
}

func (b *FileBackend) Load(ctx context.Context, namespace string) (map[string]string, error) {
	unlock, err := b.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	all, err := b.readAll()
	if err != nil {
		return nil, err
	}
	return cloneValues(all[namespace]), nil
}

func (b *FileBackend) Update(ctx context.Context, namespace string, fn func(map[string]string) error) error {
	unlock, err := b.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	all, err := b.readAll()
	if err != nil {
		return err
	}

	values := cloneValues(all[namespace])
	if err := fn(values); err != nil {
		return err
	}
	if len(values) == 0 {
		delete(all, namespace)
	} else {
		all[namespace] = values
	}
	return b.writeAll(all)
}

func (b *FileBackend) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(b.dir, 0700); err != nil {
		return nil, err
	}

	fl := flock.New(b.lockPath())

	lockCtx, cancel := context.WithTimeout(ctx, LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, 10*time.Millisecond)
	if err != nil {
		if errors.Is(lockCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrLocked
		}
		return nil, err
	}
	if !locked {
		return nil, ErrLocked
	}
	return func() { _ = fl.Unlock() }, nil
}

func (b *FileBackend) readAll() (map[string]map[string]string, error) {
	data, err := os.ReadFile(b.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]map[string]string), nil
		}
		return nil, err
	}

	var all map[string]map[string]string
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("invalid credentials file %s: %w", b.Path(), err)
	}
	if all == nil {
		all = make(map[string]map[string]string)
	}
	return all, nil
}

func (b *FileBackend) writeAll(all map[string]map[string]string) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(b.dir, "credentials-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Windows refuses to rename over an existing file.
	destPath := b.Path()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}
