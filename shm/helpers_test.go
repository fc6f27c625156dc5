package shm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newFormattedRegion formats a heap block the way a server formats its segment.
func newFormattedRegion(t *testing.T, opts ...Option) (*Region, []byte) {
	t.Helper()
	mem := make([]byte, Size)
	region, err := Format(mem, opts...)
	require.NoError(t, err)
	return region, mem
}

// fastPolicy keeps lock timeouts short in tests.
func fastPolicy(retries int) LockPolicy {
	p := DefaultLockPolicy()
	p.Backoff.BaseDelay = 10 * time.Microsecond
	p.Backoff.MaxDelay = 100 * time.Microsecond
	p.MaxRetries = retries
	return p
}
