//go:build unix

package libpthread

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive advisory lock on path. The broker locks a
// file next to its socket so a second instance pointed at the same path
// fails fast instead of stealing it, and so a socket left behind by a
// crash can be swept up safely. The returned function releases the lock
// and removes the file.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}
