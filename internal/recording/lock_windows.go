//go:build windows

package recording

import "os"

// lockExclusive is a no-op on Windows: explicit advisory locks are a
// POSIX-only concern here, matching the original recording code's own
// __MINGW32__ exclusion of its fcntl lock.
func lockExclusive(f *os.File) error {
	return nil
}
