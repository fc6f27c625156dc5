//go:build !unix

package segment

import "os"

// lockExclusive is a no-op where flock is unavailable; a second server is
// then only detected through the server-running flag.
func lockExclusive(*os.File) error {
	return nil
}
