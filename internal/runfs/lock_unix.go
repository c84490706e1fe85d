//go:build !windows

package runfs

import (
	"os"
	"syscall"
)

// lockExclusive takes a blocking exclusive flock on the open file.
func lockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

// unlock drops the flock.
func unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
