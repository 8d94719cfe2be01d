//go:build !unix

package libpthread

// lockFile is a no-op where flock is unavailable. The broker then relies
// on the listener itself failing when the socket path is already bound.
func lockFile(path string) (func(), error) {
	return func() {}, nil
}
