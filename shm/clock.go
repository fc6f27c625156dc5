package shm

import "time"

// SystemClock reads the host wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
