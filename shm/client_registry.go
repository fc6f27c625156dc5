package shm

import (
	"shm-chat/domain"
	"shm-chat/errors"
	"time"
)

// ClientRegistry is the table of CapacityC client records.
// A connected name appears at most once; a cleared slot is reused by the next registration.
type ClientRegistry struct {
	r *Region
}

func validateName(name string) error {
	if name == "" {
		return errors.ErrEmptyName
	}
	if len(name) > MaxNameLen {
		return errors.ErrNameTooLong
	}
	return nil
}

// Register claims a free slot for name. The duplicate check and the insert
// happen under the same lock hold. Announcing the join is left to the caller,
// after this returns, so the two table locks are never nested.
// The result is undefined when err is non-nil.
func (c *ClientRegistry) Register(name string) (domain.RegisterResult, error) {
	if err := validateName(name); err != nil {
		return domain.Full, err
	}
	l := c.r.l
	now := c.r.clock.Now().UnixNano()
	if err := c.r.acquire(&l.clientsLock, "clients"); err != nil {
		return domain.Full, err
	}
	defer l.clientsLock.Release()

	free := -1
	for i := range l.clients {
		rec := &l.clients[i]
		if rec.connected == 0 {
			if free < 0 {
				free = i
			}
			continue
		}
		if equalName(&rec.name, name) {
			return domain.Duplicate, nil
		}
	}
	if free < 0 {
		return domain.Full, nil
	}

	rec := &l.clients[free]
	putString(rec.name[:], name)
	rec.lastActivity = now
	rec.connected = 1
	l.clientCount.Add(1)
	return domain.Registered, nil
}

// Unregister clears the connected record holding name.
func (c *ClientRegistry) Unregister(name string) (domain.UnregisterResult, error) {
	if name == "" {
		return domain.NotFound, nil
	}
	l := c.r.l
	if err := c.r.acquire(&l.clientsLock, "clients"); err != nil {
		return domain.NotFound, err
	}
	defer l.clientsLock.Release()

	if i := l.find(name); i >= 0 {
		l.clearClient(i)
		return domain.Removed, nil
	}
	return domain.NotFound, nil
}

// ScanNames lists connected names in slot order.
func (c *ClientRegistry) ScanNames() ([]string, error) {
	l := c.r.l
	if err := c.r.acquire(&l.clientsLock, "clients"); err != nil {
		return nil, err
	}
	defer l.clientsLock.Release()

	names := make([]string, 0, l.clientCount.Load())
	for i := range l.clients {
		if l.clients[i].connected != 0 {
			names = append(names, getString(l.clients[i].name[:]))
		}
	}
	return names, nil
}

// Records copies every connected record.
func (c *ClientRegistry) Records() ([]domain.ClientRecord, error) {
	l := c.r.l
	if err := c.r.acquire(&l.clientsLock, "clients"); err != nil {
		return nil, err
	}
	defer l.clientsLock.Release()

	records := make([]domain.ClientRecord, 0, l.clientCount.Load())
	for i := range l.clients {
		rec := &l.clients[i]
		if rec.connected == 0 {
			continue
		}
		records = append(records, domain.ClientRecord{
			Name:         getString(rec.name[:]),
			LastActivity: time.Unix(0, rec.lastActivity).UTC(),
		})
	}
	return records, nil
}

// Touch refreshes the liveness timestamp of name. It reports false when
// name is not connected, typically because the supervisor evicted it.
func (c *ClientRegistry) Touch(name string) (bool, error) {
	l := c.r.l
	now := c.r.clock.Now().UnixNano()
	if err := c.r.acquire(&l.clientsLock, "clients"); err != nil {
		return false, err
	}
	defer l.clientsLock.Release()

	if i := l.find(name); i >= 0 {
		l.clients[i].lastActivity = now
		return true, nil
	}
	return false, nil
}

// EvictIdle clears every record idle for longer than threshold and returns
// the freed names. Departure notices and eviction counts are the caller's job.
func (c *ClientRegistry) EvictIdle(now time.Time, threshold time.Duration) ([]string, error) {
	l := c.r.l
	if err := c.r.acquire(&l.clientsLock, "clients"); err != nil {
		return nil, err
	}

	var freed []string
	for i := range l.clients {
		rec := &l.clients[i]
		if rec.connected == 0 {
			continue
		}
		if now.Sub(time.Unix(0, rec.lastActivity)) > threshold {
			freed = append(freed, getString(rec.name[:]))
			l.clearClient(i)
		}
	}
	l.clientsLock.Release()
	return freed, nil
}

// Count is the number of connected records.
func (c *ClientRegistry) Count() int {
	return int(c.r.l.clientCount.Load())
}

// find returns the slot of the connected record holding name, or -1.
// The clients lock must be held.
func (l *layout) find(name string) int {
	for i := range l.clients {
		if l.clients[i].connected != 0 && equalName(&l.clients[i].name, name) {
			return i
		}
	}
	return -1
}

// clearClient resets slot i to the empty record. The clients lock must be held.
func (l *layout) clearClient(i int) {
	l.clients[i] = record{}
	l.clientCount.Add(-1)
}
