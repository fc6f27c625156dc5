package shm

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"shm-chat/domain"
	"shm-chat/errors"

	"github.com/stretchr/testify/require"
)

func TestClientRegistry_Register_Duplicate(t *testing.T) {
	req := require.New(t)
	_, mem := newFormattedRegion(t)
	first, err := Attach(mem)
	req.NoError(err)
	second, err := Attach(mem)
	req.NoError(err)

	// Given alice registered from one process
	res, err := first.Clients().Register("alice")
	req.NoError(err)
	req.Equal(domain.Registered, res)

	// When another process registers the same name
	res, err = second.Clients().Register("alice")

	// Then it is refused and counted once
	req.NoError(err)
	req.Equal(domain.Duplicate, res)
	req.Equal(1, first.Clients().Count())
}

func TestClientRegistry_Register_Until_Full(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)
	clients := region.Clients()

	for i := 0; i < CapacityC; i++ {
		res, err := clients.Register(fmt.Sprintf("user-%02d", i))
		req.NoError(err)
		req.Equal(domain.Registered, res)
	}

	res, err := clients.Register("one-too-many")
	req.NoError(err)
	req.Equal(domain.Full, res)
	req.Equal(CapacityC, clients.Count())
}

func TestClientRegistry_Register_Reuses_Cleared_Slot(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)
	clients := region.Clients()
	for i := 0; i < CapacityC; i++ {
		_, err := clients.Register(fmt.Sprintf("user-%02d", i))
		req.NoError(err)
	}

	res, err := clients.Unregister("user-07")
	req.NoError(err)
	req.Equal(domain.Removed, res)

	reg, err := clients.Register("latecomer")
	req.NoError(err)
	req.Equal(domain.Registered, reg)

	names, err := clients.ScanNames()
	req.NoError(err)
	req.Equal("latecomer", names[7])
	req.NotContains(names, "user-07")
}

func TestClientRegistry_Register_Rejects_Bad_Names(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)

	_, err := region.Clients().Register("")
	req.ErrorIs(err, errors.ErrEmptyName)

	_, err = region.Clients().Register(strings.Repeat("n", MaxNameLen+1))
	req.ErrorIs(err, errors.ErrNameTooLong)

	// A rejected name leaves no trace, whatever result came with the error
	req.Zero(region.Clients().Count())

	res, err := region.Clients().Register(strings.Repeat("n", MaxNameLen))
	req.NoError(err)
	req.Equal(domain.Registered, res)
}

func TestClientRegistry_Unregister_Unknown(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)
	clients := region.Clients()
	_, err := clients.Register("alice")
	req.NoError(err)

	res, err := clients.Unregister("bob")
	req.NoError(err)
	req.Equal(domain.NotFound, res)
	req.Equal(1, clients.Count())

	res, err = clients.Unregister("")
	req.NoError(err)
	req.Equal(domain.NotFound, res)
}

func TestClientRegistry_ScanNames_And_Records(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	region, _ := newFormattedRegion(t, WithClock(clock))
	clients := region.Clients()

	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := clients.Register(name)
		req.NoError(err)
		clock.Advance(time.Second)
	}
	_, err := clients.Unregister("bob")
	req.NoError(err)

	names, err := clients.ScanNames()
	req.NoError(err)
	req.Equal([]string{"alice", "carol"}, names)

	records, err := clients.Records()
	req.NoError(err)
	req.Len(records, 2)
	req.Equal("carol", records[1].Name)
	req.Equal(time.Second*2, records[1].LastActivity.Sub(records[0].LastActivity))
}

func TestClientRegistry_EvictIdle(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	region, _ := newFormattedRegion(t, WithClock(clock))
	clients := region.Clients()
	threshold := 30 * time.Second

	// Given alice and bob registered, and only bob keeps touching
	_, err := clients.Register("alice")
	req.NoError(err)
	_, err = clients.Register("bob")
	req.NoError(err)

	clock.Advance(20 * time.Second)
	touched, err := clients.Touch("bob")
	req.NoError(err)
	req.True(touched)

	// When exactly the threshold elapsed for alice, she is kept
	clock.Advance(10 * time.Second)
	freed, err := clients.EvictIdle(clock.Now(), threshold)
	req.NoError(err)
	req.Empty(freed)

	// And once it is exceeded, she is evicted
	clock.Advance(time.Second)
	freed, err = clients.EvictIdle(clock.Now(), threshold)
	req.NoError(err)
	req.Equal([]string{"alice"}, freed)

	names, err := clients.ScanNames()
	req.NoError(err)
	req.Equal([]string{"bob"}, names)
	req.Equal(1, clients.Count())

	// Then a touch from the evicted client is refused
	touched, err = clients.Touch("alice")
	req.NoError(err)
	req.False(touched)
}
