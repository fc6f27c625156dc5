//go:build unix

package segment

import (
	stderrors "errors"
	"fmt"
	"os"
	"shm-chat/errors"

	"golang.org/x/sys/unix"
)

// lockExclusive takes a non-blocking flock on the segment file. The kernel
// drops it when the holder exits, crashed or not.
func lockExclusive(file *os.File) error {
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if stderrors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s", errors.ErrServerAlreadyRunning, file.Name())
		}
		return fmt.Errorf("failed to lock segment file: %w", err)
	}
	return nil
}
