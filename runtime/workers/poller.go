package workers

import (
	"context"
	"log/slog"
	"shm-chat/contract"
	"shm-chat/domain"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultPollInterval = 100 * time.Millisecond

// PollerWorker is the client-side reader: every tick it drains the messages
// appended since its cursor, hands them to the handler on its own goroutine
// and refreshes the client's last activity.
type PollerWorker struct {
	name     string
	messages contract.MessageLog
	clients  contract.ClientRegistry
	handler  contract.MessageHandler
	log      *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	cursor  domain.Cursor
	skipped atomic.Uint64
	evicted atomic.Bool
}

func NewPollerWorker(
	name string,
	messages contract.MessageLog,
	clients contract.ClientRegistry,
	handler contract.MessageHandler,
	start domain.Cursor,
	interval time.Duration,
	log *slog.Logger,
) *PollerWorker {
	return &PollerWorker{
		name:     name,
		messages: messages,
		clients:  clients,
		handler:  handler,
		cursor:   start,
		interval: interval,
		log:      log.With("client", name),
	}
}

func (w *PollerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping poller")
			return nil
		case <-ticker.C:
			if _, err := w.PollOnce(); err != nil {
				w.log.Warn("Poll failed", "error", err)
			}
		}
	}
}

// PollOnce drains, delivers and touches once. It returns the number of
// messages delivered.
// The cursor moves past each message before its handler runs: if Handle
// panics, that message is dropped and the rest of the batch comes back on
// the next poll.
func (w *PollerWorker) PollOnce() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	drain, err := w.messages.DrainSince(w.cursor)
	if err != nil {
		return 0, err
	}
	if drain.Skipped > 0 {
		w.skipped.Add(drain.Skipped)
		w.log.Warn("Reader fell behind the ring, messages lost", "skipped", drain.Skipped)
	}

	first := drain.Next.Seq - uint64(len(drain.Messages))
	for i, msg := range drain.Messages {
		w.cursor = domain.Cursor{Seq: first + uint64(i) + 1}
		w.handler.Handle(msg)
	}
	w.cursor = drain.Next

	touched, err := w.clients.Touch(w.name)
	if err != nil {
		return len(drain.Messages), err
	}
	if !touched && !w.evicted.Swap(true) {
		w.log.Warn("Client no longer registered, activity not recorded")
	}
	return len(drain.Messages), nil
}

// Skipped is the total number of messages this reader lost to ring overwrites.
func (w *PollerWorker) Skipped() uint64 {
	return w.skipped.Load()
}

// Evicted reports whether a touch found the client missing from the registry.
func (w *PollerWorker) Evicted() bool {
	return w.evicted.Load()
}

func (w *PollerWorker) Cursor() domain.Cursor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}
