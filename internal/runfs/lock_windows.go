//go:build windows

package runfs

import (
	"os"
	"time"
)

// Windows has no flock; approximate with a sidecar file opened exclusively.
// The .held file is created O_EXCL on lock and removed on unlock, with a
// short retry loop standing in for the blocking acquire.

func lockExclusive(f *os.File) error {
	held := f.Name() + ".held"
	for {
		h, err := os.OpenFile(held, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			h.Close()
			return nil
		}
		if !os.IsExist(err) {
			return err
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func unlock(f *os.File) error {
	return os.Remove(f.Name() + ".held")
}
