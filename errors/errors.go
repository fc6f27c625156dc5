package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	// Size-limit violations are rejected before any lock is taken.
	ErrEmptyName     = fmt.Errorf("name is empty")
	ErrNameTooLong   = fmt.Errorf("name exceeds the slot width")
	ErrAuthorTooLong = fmt.Errorf("author exceeds the slot width")
	ErrEmptyBody     = fmt.Errorf("message body is empty")
	ErrBodyTooLong   = fmt.Errorf("message body exceeds the slot width")

	ErrLockTimeout = fmt.Errorf("spinlock acquisition timed out")

	ErrRegionTooSmall = fmt.Errorf("memory block is smaller than the shared region layout")
	ErrMisaligned     = fmt.Errorf("memory block is not 8-byte aligned")
	ErrBadMagic       = fmt.Errorf("memory block does not hold a shared region")
	ErrLayoutMismatch = fmt.Errorf("shared region layout version or size mismatch")

	ErrSegmentNotFound      = fmt.Errorf("shared memory segment not found")
	ErrServerAlreadyRunning = fmt.Errorf("another server owns the shared memory segment")
	ErrServerUnavailable    = fmt.Errorf("server is not running")
	ErrNotInitialized       = fmt.Errorf("server is not initialized")
	ErrNotConnected         = fmt.Errorf("client is not connected")
	ErrAlreadyConnected     = fmt.Errorf("client is already connected")
)
