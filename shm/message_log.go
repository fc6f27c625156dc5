package shm

import (
	"shm-chat/domain"
	"shm-chat/errors"
	"time"
)

// MessageLog is the ring of CapacityM messages. Once full, every append
// overwrites the oldest entry: the log never rejects a write for lack of room.
type MessageLog struct {
	r *Region
}

// RingStats is a consistent view of the ring counters.
type RingStats struct {
	Count      int
	ReadIndex  int
	WriteIndex int
	Sequence   uint64
}

// Append writes one message. Oversized or empty input is rejected before the
// lock is taken, so a rejected call never leaves a partial slot behind.
func (m *MessageLog) Append(author, body string, origin domain.Origin) error {
	switch {
	case author == "":
		return errors.ErrEmptyName
	case len(author) > MaxNameLen:
		return errors.ErrAuthorTooLong
	case body == "":
		return errors.ErrEmptyBody
	case len(body) > MaxBodyLen:
		return errors.ErrBodyTooLong
	}

	l := m.r.l
	now := m.r.clock.Now().UnixNano()
	if err := m.r.acquire(&l.messagesLock, "messages"); err != nil {
		return err
	}

	w := l.writeIndex.Load()
	evicted := false
	if w == l.readIndex.Load() && l.messageCount.Load() > 0 {
		l.readIndex.Store((l.readIndex.Load() + 1) % CapacityM)
		l.messageCount.Add(-1)
		evicted = true
	}

	s := &l.messages[w]
	putString(s.author[:], author)
	putString(s.body[:], body)
	s.createdAt = now
	s.origin = uint32(origin)

	l.writeIndex.Store((w + 1) % CapacityM)
	l.messageCount.Add(1)
	l.header.sequence.Add(1)
	if origin == domain.FromServer {
		l.broadcastPending.Store(true)
	}
	l.messagesLock.Release()

	m.r.recorder.IncrAppended()
	if evicted {
		m.r.recorder.IncrRingEvictions()
	}
	return nil
}

// Snapshot returns up to max messages starting at the oldest one.
// It moves no cursor.
func (m *MessageLog) Snapshot(max int) ([]domain.Message, error) {
	_, messages, err := m.SnapshotWithHead(max)
	return messages, err
}

// SnapshotWithHead is Snapshot plus the cursor of the first returned
// message, both read under one lock so they cannot disagree.
func (m *MessageLog) SnapshotWithHead(max int) (domain.Cursor, []domain.Message, error) {
	l := m.r.l
	if err := m.r.acquire(&l.messagesLock, "messages"); err != nil {
		return domain.Cursor{}, nil, err
	}
	defer l.messagesLock.Release()

	count := int(l.messageCount.Load())
	head := domain.Cursor{Seq: l.header.sequence.Load() - uint64(count)}
	if max <= 0 {
		return head, nil, nil
	}
	n := min(max, count)
	read := int(l.readIndex.Load())
	messages := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		messages = append(messages, decode(&l.messages[(read+i)%CapacityM]))
	}
	return head, messages, nil
}

// DrainSince collects every message appended after cursor.
// A reader that fell more than a full ring behind resumes at the oldest
// surviving message; the loss is reported in Skipped, never as an error.
func (m *MessageLog) DrainSince(cursor domain.Cursor) (domain.Drain, error) {
	l := m.r.l
	if err := m.r.acquire(&l.messagesLock, "messages"); err != nil {
		return domain.Drain{Next: cursor}, err
	}

	seq := l.header.sequence.Load()
	oldest := seq - uint64(l.messageCount.Load())
	next := cursor.Seq
	if next > seq {
		// The region was formatted again under this reader.
		next = seq
	}
	var skipped uint64
	if next < oldest {
		skipped = oldest - next
		next = oldest
	}

	var messages []domain.Message
	if seq > next {
		messages = make([]domain.Message, 0, seq-next)
	}
	for ; next < seq; next++ {
		messages = append(messages, decode(&l.messages[next%CapacityM]))
	}
	l.messagesLock.Release()

	if skipped > 0 {
		m.r.recorder.AddSkipped(skipped)
	}
	return domain.Drain{Messages: messages, Next: domain.Cursor{Seq: next}, Skipped: skipped}, nil
}

// Tail returns the cursor just past the newest message, for readers that
// only want traffic appended from now on.
func (m *MessageLog) Tail() (domain.Cursor, error) {
	l := m.r.l
	if err := m.r.acquire(&l.messagesLock, "messages"); err != nil {
		return domain.Cursor{}, err
	}
	defer l.messagesLock.Release()
	return domain.Cursor{Seq: l.header.sequence.Load()}, nil
}

// Head returns the cursor of the oldest message still in the ring.
func (m *MessageLog) Head() (domain.Cursor, error) {
	l := m.r.l
	if err := m.r.acquire(&l.messagesLock, "messages"); err != nil {
		return domain.Cursor{}, err
	}
	defer l.messagesLock.Release()
	return domain.Cursor{Seq: l.header.sequence.Load() - uint64(l.messageCount.Load())}, nil
}

func (m *MessageLog) Stats() (RingStats, error) {
	l := m.r.l
	if err := m.r.acquire(&l.messagesLock, "messages"); err != nil {
		return RingStats{}, err
	}
	defer l.messagesLock.Release()
	return RingStats{
		Count:      int(l.messageCount.Load()),
		ReadIndex:  int(l.readIndex.Load()),
		WriteIndex: int(l.writeIndex.Load()),
		Sequence:   l.header.sequence.Load(),
	}, nil
}

func decode(s *slot) domain.Message {
	return domain.Message{
		Author:    getString(s.author[:]),
		Body:      getString(s.body[:]),
		CreatedAt: time.Unix(0, s.createdAt).UTC(),
		Origin:    domain.Origin(s.origin),
	}
}
