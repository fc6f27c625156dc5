package shm

import (
	"fmt"
	"log/slog"
	"os"
	"shm-chat/contract"
	"shm-chat/errors"
	"shm-chat/observability"
	"time"
	"unsafe"
)

// Region is a handle over one mapped view of the shared layout.
// Two Regions built over the same bytes behave like two processes.
type Region struct {
	mem      []byte
	l        *layout
	clock    contract.Clock
	policy   LockPolicy
	log      *slog.Logger
	recorder contract.Recorder
	messages *MessageLog
	clients  *ClientRegistry
}

type Option func(r *Region)

func WithClock(c contract.Clock) Option {
	return func(r *Region) { r.clock = c }
}

func WithLockPolicy(p LockPolicy) Option {
	return func(r *Region) { r.policy = p }
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Region) { r.log = log }
}

func WithRecorder(rec contract.Recorder) Option {
	return func(r *Region) { r.recorder = rec }
}

// Format placement-initializes a freshly created block: every byte of the
// layout is zeroed, the header is stamped and the counters and lock words
// are explicitly reset. Only the creator calls it.
func Format(mem []byte, opts ...Option) (*Region, error) {
	r, err := view(mem, opts...)
	if err != nil {
		return nil, err
	}
	clear(mem[:Size])

	h := &r.l.header
	h.magic = magic
	h.version.Store(LayoutVersion)
	h.size.Store(uint32(Size))
	h.creatorPID.Store(uint32(os.Getpid()))
	h.createdAt.Store(r.clock.Now().UnixNano())
	h.sequence.Store(0)

	r.l.messageCount.Store(0)
	r.l.readIndex.Store(0)
	r.l.writeIndex.Store(0)
	r.l.messagesLock.Release()
	r.l.clientsLock.Release()
	r.l.clientCount.Store(0)
	r.l.serverRunning.Store(false)
	r.l.broadcastPending.Store(false)

	r.log.Debug("Shared region formatted", "size", Size, "pid", os.Getpid())
	return r, nil
}

// Attach opens a handle over a block another process already formatted.
func Attach(mem []byte, opts ...Option) (*Region, error) {
	r, err := view(mem, opts...)
	if err != nil {
		return nil, err
	}
	h := &r.l.header
	if h.magic != magic {
		return nil, errors.ErrBadMagic
	}
	if v, s := h.version.Load(), h.size.Load(); v != LayoutVersion || s != uint32(Size) {
		return nil, fmt.Errorf("%w: version %d size %d, want version %d size %d",
			errors.ErrLayoutMismatch, v, s, LayoutVersion, Size)
	}
	return r, nil
}

func view(mem []byte, opts ...Option) (*Region, error) {
	if len(mem) < Size {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", errors.ErrRegionTooSmall, len(mem), Size)
	}
	base := unsafe.Pointer(&mem[0])
	if uintptr(base)%8 != 0 {
		return nil, errors.ErrMisaligned
	}
	r := &Region{
		mem:      mem,
		l:        (*layout)(base),
		clock:    SystemClock{},
		policy:   DefaultLockPolicy(),
		log:      slog.Default(),
		recorder: observability.NopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.messages = &MessageLog{r: r}
	r.clients = &ClientRegistry{r: r}
	return r, nil
}

func (r *Region) Messages() *MessageLog {
	return r.messages
}

func (r *Region) Clients() *ClientRegistry {
	return r.clients
}

func (r *Region) SetServerRunning(running bool) {
	r.l.serverRunning.Store(running)
}

func (r *Region) ServerRunning() bool {
	return r.l.serverRunning.Load()
}

// BroadcastPending reports whether a server message was appended since the
// flag was last consumed.
func (r *Region) BroadcastPending() bool {
	return r.l.broadcastPending.Load()
}

// ConsumeBroadcast clears the broadcast flag and reports whether it was set.
func (r *Region) ConsumeBroadcast() bool {
	return r.l.broadcastPending.Swap(false)
}

// CreatorPID is the process that formatted the region.
func (r *Region) CreatorPID() int {
	return int(r.l.header.creatorPID.Load())
}

func (r *Region) CreatedAt() time.Time {
	return time.Unix(0, r.l.header.createdAt.Load()).UTC()
}

// Claim records the calling process as the owner of a block adopted from a
// server that died. Messages and client records are kept.
func (r *Region) Claim() {
	r.l.header.creatorPID.Store(uint32(os.Getpid()))
	r.log.Info("Shared region claimed", "pid", os.Getpid())
}

// LocksFree reports whether neither table lock is held. A server taking over
// the block of a crashed predecessor only adopts it when this holds.
func (r *Region) LocksFree() bool {
	return !r.l.messagesLock.Held() && !r.l.clientsLock.Held()
}

// acquire wraps SpinLock.Acquire with the table name for errors, logs and counters.
func (r *Region) acquire(lock *SpinLock, table string) error {
	if err := lock.Acquire(r.policy); err != nil {
		r.recorder.IncrLockTimeouts()
		r.log.Warn("Shared table lock timed out", "table", table, "retries", r.policy.MaxRetries)
		return fmt.Errorf("%s: %w", table, err)
	}
	return nil
}
