package runfs

import (
	"os"
	"path/filepath"

	"council/internal/fault"
)

// FileLock is an exclusive advisory lock on a path. Used for the ledger
// append, the idempotency store, and every other cross-process JSONL.
type FileLock struct {
	path string
	file *os.File
}

// AcquireLock blocks until the exclusive lock on path+".lock" is held.
func AcquireLock(path string) (*FileLock, error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "runfs.lock", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fault.New(fault.KindRuntimeIO, "runfs.lock", err)
	}
	if err := lockExclusive(f); err != nil {
		f.Close()
		return nil, fault.New(fault.KindRuntimeIO, "runfs.lock", err)
	}
	return &FileLock{path: lockPath, file: f}, nil
}

// Release drops the lock. Safe to call once; the lock file itself stays on
// disk so concurrent acquirers never race its recreation.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fault.New(fault.KindRuntimeIO, "runfs.unlock", err)
	}
	if closeErr != nil {
		return fault.New(fault.KindRuntimeIO, "runfs.unlock", closeErr)
	}
	return nil
}

// AppendLocked appends line (newline-terminated if it is not already) to
// path while holding the file's exclusive lock.
func AppendLocked(path string, line []byte) error {
	lock, err := AcquireLock(path)
	if err != nil {
		return err
	}
	defer lock.Release()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fault.New(fault.KindRuntimeIO, "runfs.append", err)
	}
	defer f.Close()

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	if _, err := f.Write(line); err != nil {
		return fault.New(fault.KindRuntimeIO, "runfs.append", err)
	}
	return f.Sync()
}
