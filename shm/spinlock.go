package shm

import (
	"math/rand/v2"
	"runtime"
	"shm-chat/errors"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/backoff"
)

// spinRounds is the number of yielding retries attempted before sleeping.
const spinRounds = 16

// SpinLock is the lock word stored in the shared region for each table.
// Zero is free, one is held. It records no owner and is not reentrant.
type SpinLock struct {
	flag atomic.Uint32
}

// LockPolicy bounds how long Acquire waits for a held lock.
type LockPolicy struct {
	Backoff backoff.Config
	// MaxRetries is the number of failed attempts tolerated before
	// ErrLockTimeout is returned. Zero means wait forever.
	MaxRetries int
}

func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		Backoff: backoff.Config{
			BaseDelay:  50 * time.Microsecond,
			Multiplier: 1.6,
			Jitter:     0.2,
			MaxDelay:   5 * time.Millisecond,
		},
		MaxRetries: 2000,
	}
}

// delay returns the sleep before the given retry, following the same
// exponential growth and jitter as gRPC reconnect backoff.
func (p LockPolicy) delay(retries int) time.Duration {
	cur, ceiling := float64(p.Backoff.BaseDelay), float64(p.Backoff.MaxDelay)
	if cur <= 0 {
		return 0
	}
	for cur < ceiling && retries > 0 {
		cur *= p.Backoff.Multiplier
		retries--
	}
	if cur > ceiling {
		cur = ceiling
	}
	cur *= 1 + p.Backoff.Jitter*(rand.Float64()*2-1)
	if cur < 0 {
		return 0
	}
	return time.Duration(cur)
}

// TryAcquire takes the lock if it is free.
func (l *SpinLock) TryAcquire() bool {
	return l.flag.CompareAndSwap(0, 1)
}

// Acquire blocks until the lock transitions from free to held.
// A holder that died keeps the lock forever; the policy turns that into
// ErrLockTimeout instead of a permanent hang.
func (l *SpinLock) Acquire(p LockPolicy) error {
	for retries := 0; ; retries++ {
		if l.flag.CompareAndSwap(0, 1) {
			return nil
		}
		if p.MaxRetries > 0 && retries >= p.MaxRetries {
			return errors.ErrLockTimeout
		}
		if retries < spinRounds {
			runtime.Gosched()
			continue
		}
		time.Sleep(p.delay(retries - spinRounds))
	}
}

// Release frees the lock. Writes made while holding it are visible to the next acquirer.
func (l *SpinLock) Release() {
	l.flag.Store(0)
}

// Held reports whether the lock word is currently set.
func (l *SpinLock) Held() bool {
	return l.flag.Load() != 0
}
