package shm

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"shm-chat/domain"
	"shm-chat/errors"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func bodies(messages []domain.Message) []string {
	return lo.Map(messages, func(m domain.Message, _ int) string { return m.Body })
}

func appendN(t *testing.T, log *MessageLog, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		require.NoError(t, log.Append("alice", fmt.Sprintf("message %d", i), domain.FromClient))
	}
}

func expectedBodies(from, to int) []string {
	return lo.Map(lo.Range(to-from), func(i int, _ int) string { return fmt.Sprintf("message %d", from+i) })
}

func TestMessageLog_Snapshot_Keeps_Insertion_Order(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)
	log := region.Messages()

	// When the ring is filled exactly to capacity
	appendN(t, log, 0, CapacityM)

	// Then every message is returned oldest first
	messages, err := log.Snapshot(CapacityM)
	req.NoError(err)
	req.Equal(expectedBodies(0, CapacityM), bodies(messages))

	stats, err := log.Stats()
	req.NoError(err)
	req.Equal(CapacityM, stats.Count)
	req.Equal(0, stats.ReadIndex)
	req.Equal(0, stats.WriteIndex)
}

func TestMessageLog_Ring_Eviction(t *testing.T) {
	for _, k := range []int{1, 7, CapacityM + 3} {
		t.Run(fmt.Sprintf("overflow by %d", k), func(t *testing.T) {
			req := require.New(t)
			region, _ := newFormattedRegion(t)
			log := region.Messages()

			// When CapacityM + k messages are appended
			appendN(t, log, 0, CapacityM+k)

			// Then only the newest CapacityM survive, oldest first
			messages, err := log.Snapshot(CapacityM)
			req.NoError(err)
			req.Equal(expectedBodies(k, CapacityM+k), bodies(messages))

			stats, err := log.Stats()
			req.NoError(err)
			req.Equal(CapacityM, stats.Count)
			req.Equal(k%CapacityM, stats.WriteIndex)
			req.Equal(stats.WriteIndex, stats.ReadIndex)
			req.Equal(uint64(CapacityM+k), stats.Sequence)
		})
	}
}

func TestMessageLog_Snapshot_Is_Bounded(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)
	log := region.Messages()
	appendN(t, log, 0, 5)

	messages, err := log.Snapshot(3)
	req.NoError(err)
	req.Equal(expectedBodies(0, 3), bodies(messages))

	messages, err = log.Snapshot(50)
	req.NoError(err)
	req.Len(messages, 5)

	messages, err = log.Snapshot(0)
	req.NoError(err)
	req.Empty(messages)
}

func TestMessageLog_SnapshotWithHead_Numbers_The_Oldest_Message(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)
	log := region.Messages()

	head, messages, err := log.SnapshotWithHead(10)
	req.NoError(err)
	req.Equal(uint64(0), head.Seq)
	req.Empty(messages)

	appendN(t, log, 0, CapacityM+3)
	head, messages, err = log.SnapshotWithHead(CapacityM)
	req.NoError(err)
	req.Equal(uint64(3), head.Seq)
	req.Equal("message 3", messages[0].Body)
}

func TestMessageLog_SnapshotWithHead_Stays_Consistent_Under_Appends(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)
	log := region.Messages()
	appendN(t, log, 0, CapacityM)

	// Given a writer that keeps pushing the ring forward
	done := make(chan error, 1)
	go func() {
		for i := CapacityM; i < 4*CapacityM; i++ {
			if err := log.Append("alice", fmt.Sprintf("message %d", i), domain.FromClient); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	// Then every snapshot's head matches the body of its first message
	for i := 0; i < 200; i++ {
		head, messages, err := log.SnapshotWithHead(CapacityM)
		req.NoError(err)
		req.NotEmpty(messages)
		req.Equal(fmt.Sprintf("message %d", head.Seq), messages[0].Body)
	}
	req.NoError(<-done)
}

func TestMessageLog_Append_Rejects_Before_Writing(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)
	log := region.Messages()

	tests := []struct {
		name   string
		author string
		body   string
		err    error
	}{
		{"empty body", "alice", "", errors.ErrEmptyBody},
		{"body over the slot width", "alice", strings.Repeat("x", MaxBodyLen+1), errors.ErrBodyTooLong},
		{"author over the slot width", strings.Repeat("a", MaxNameLen+1), "hi", errors.ErrAuthorTooLong},
		{"empty author", "", "hi", errors.ErrEmptyName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, log.Append(tt.author, tt.body, domain.FromClient), tt.err)
		})
	}

	stats, err := log.Stats()
	req.NoError(err)
	req.Zero(stats.Count)
	req.Zero(stats.Sequence)
}

func TestMessageLog_Append_Accepts_Exact_Bounds(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	region, _ := newFormattedRegion(t, WithClock(clock))
	log := region.Messages()
	author := strings.Repeat("a", MaxNameLen)
	body := strings.Repeat("b", MaxBodyLen)

	req.NoError(log.Append(author, body, domain.FromServer))

	messages, err := log.Snapshot(1)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal(author, messages[0].Author)
	req.Equal(body, messages[0].Body)
	req.Equal(domain.FromServer, messages[0].Origin)
	req.True(clock.Now().Equal(messages[0].CreatedAt))
}

func TestMessageLog_DrainSince_Is_Idempotent_Without_Appends(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)
	log := region.Messages()
	appendN(t, log, 0, 3)

	// Given a reader that drained everything
	first, err := log.DrainSince(domain.Cursor{})
	req.NoError(err)
	req.Equal(expectedBodies(0, 3), bodies(first.Messages))
	req.Equal(domain.Cursor{Seq: 3}, first.Next)

	// When it drains again with nothing appended
	second, err := log.DrainSince(first.Next)

	// Then nothing comes back and the cursor does not move
	req.NoError(err)
	req.Empty(second.Messages)
	req.Equal(first.Next, second.Next)
	req.Zero(second.Skipped)
}

func TestMessageLog_DrainSince_Sees_Only_New_Messages(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)
	log := region.Messages()
	appendN(t, log, 0, 4)

	cursor, err := log.Tail()
	req.NoError(err)
	appendN(t, log, 4, 6)

	drain, err := log.DrainSince(cursor)
	req.NoError(err)
	req.Equal(expectedBodies(4, 6), bodies(drain.Messages))
	req.Equal(domain.Cursor{Seq: 6}, drain.Next)
}

func TestMessageLog_DrainSince_Reports_Skipped_For_Slow_Reader(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t)
	log := region.Messages()
	start, err := log.Tail()
	req.NoError(err)

	// Given a reader that falls 25 messages more than a full ring behind
	appendN(t, log, 0, CapacityM+25)

	// When it drains
	drain, err := log.DrainSince(start)

	// Then it resumes at the oldest survivor and the loss is counted
	req.NoError(err)
	req.Equal(uint64(25), drain.Skipped)
	req.Len(drain.Messages, CapacityM)
	req.Equal("message 25", drain.Messages[0].Body)
	req.Equal(domain.Cursor{Seq: CapacityM + 25}, drain.Next)

	head, err := log.Head()
	req.NoError(err)
	req.Equal(domain.Cursor{Seq: 25}, head)
}

func TestMessageLog_DrainSince_After_Reformat(t *testing.T) {
	req := require.New(t)
	region, mem := newFormattedRegion(t)
	appendN(t, region.Messages(), 0, 10)
	stale := domain.Cursor{Seq: 10}

	// Given the region is formatted again by a new server
	fresh, err := Format(mem)
	req.NoError(err)
	appendN(t, fresh.Messages(), 0, 2)

	// Then a cursor from the previous life does not replay garbage
	drain, err := fresh.Messages().DrainSince(stale)
	req.NoError(err)
	req.Empty(drain.Messages)
	req.Equal(domain.Cursor{Seq: 2}, drain.Next)
}

func TestMessageLog_Concurrent_Appends_From_Two_Handles(t *testing.T) {
	req := require.New(t)
	_, mem := newFormattedRegion(t)

	// Given two participants viewing the same memory
	first, err := Attach(mem)
	req.NoError(err)
	second, err := Attach(mem)
	req.NoError(err)

	// When both append under contention
	const perWriter = 200
	var wg sync.WaitGroup
	for _, p := range []struct {
		region *Region
		author string
	}{{first, "alice"}, {second, "bob"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := p.region.Messages().Append(p.author, fmt.Sprintf("%s %d", p.author, i), domain.FromClient); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// Then no update is lost and each writer's order is preserved
	messages, err := first.Messages().Snapshot(CapacityM)
	req.NoError(err)
	req.Len(messages, 2*perWriter)

	perAuthor := lo.GroupBy(messages, func(m domain.Message) string { return m.Author })
	for _, author := range []string{"alice", "bob"} {
		want := lo.Map(lo.Range(perWriter), func(i int, _ int) string { return fmt.Sprintf("%s %d", author, i) })
		req.Equal(want, bodies(perAuthor[author]))
	}
}

func TestMessageLog_Append_Times_Out_When_Lock_Is_Wedged(t *testing.T) {
	req := require.New(t)
	region, _ := newFormattedRegion(t, WithLockPolicy(fastPolicy(20)))

	// Given a process died while holding the messages lock
	req.True(region.l.messagesLock.TryAcquire())

	// Then appends fail with a timeout instead of hanging
	err := region.Messages().Append("alice", "anyone?", domain.FromClient)
	req.ErrorIs(err, errors.ErrLockTimeout)

	_, err = region.Messages().Snapshot(1)
	req.ErrorIs(err, errors.ErrLockTimeout)
}

func TestMessageLog_Timestamps_Follow_Clock(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	region, _ := newFormattedRegion(t, WithClock(clock))
	log := region.Messages()

	req.NoError(log.Append("alice", "one", domain.FromClient))
	clock.Advance(time.Minute)
	req.NoError(log.Append("alice", "two", domain.FromClient))

	messages, err := log.Snapshot(2)
	req.NoError(err)
	req.Equal(time.Minute, messages[1].CreatedAt.Sub(messages[0].CreatedAt))
}
