//go:build !windows

package recording

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive takes a POSIX advisory write lock on the entire file,
// matching guac_common_recording_open's fcntl(F_SETLK) call: another
// process attempting the same lock fails immediately rather than
// blocking, so two guacd-like processes can never silently interleave
// writes into the same recording file.
func lockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}
