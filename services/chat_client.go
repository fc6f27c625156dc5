package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"shm-chat/contract"
	"shm-chat/domain"
	"shm-chat/errors"
	"shm-chat/moderation"
	"shm-chat/runtime/workers"
	"shm-chat/shm"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultHistoryLimit = 50

type IChatClient interface {
	Connect(ctx context.Context, name string) (domain.ConnectResult, error)
	Disconnect() error
	SendMessage(body string) (domain.SendResult, error)
	GetHistory(limit int) ([]domain.Message, error)
	GetRoster() ([]string, error)
	OnMessage(handler contract.MessageHandler)
	IsConnected() bool
}

type ClientConfig struct {
	PollInterval       time.Duration
	ServerWaitTimeout  time.Duration
	ServerWaitInterval time.Duration
	LockPolicy         shm.LockPolicy
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PollInterval:       workers.DefaultPollInterval,
		ServerWaitTimeout:  5 * time.Second,
		ServerWaitInterval: 100 * time.Millisecond,
		LockPolicy:         shm.DefaultLockPolicy(),
	}
}

// ProcessProbe tells whether the process that formatted the region is alive.
type ProcessProbe func(pid int) bool

// ChatClient maps the server's segment, registers under a name and runs a
// reader poller that hands every new message to the registered handlers.
type ChatClient struct {
	provider  contract.SegmentProvider
	cfg       ClientConfig
	clock     contract.Clock
	recorder  contract.Recorder
	moderator *moderation.Moderator
	alive     ProcessProbe
	log       *slog.Logger

	mu         sync.RWMutex
	name       string
	seg        contract.Segment
	region     *shm.Region
	poller     *workers.PollerWorker
	supervisor *workers.Supervisor

	// evicted is set once the registry no longer holds the name, after
	// which the name may belong to another process.
	evicted atomic.Bool

	hmu      sync.RWMutex
	handlers []contract.MessageHandler
}

type ClientOption func(c *ChatClient)

func WithClientClock(clock contract.Clock) ClientOption {
	return func(c *ChatClient) { c.clock = clock }
}

func WithClientRecorder(r contract.Recorder) ClientOption {
	return func(c *ChatClient) { c.recorder = r }
}

// WithClientModerator censors outgoing messages before they are appended.
func WithClientModerator(m *moderation.Moderator) ClientOption {
	return func(c *ChatClient) { c.moderator = m }
}

// WithProcessProbe replaces the liveness check of the segment creator.
func WithProcessProbe(p ProcessProbe) ClientOption {
	return func(c *ChatClient) { c.alive = p }
}

func NewChatClient(provider contract.SegmentProvider, cfg ClientConfig, log *slog.Logger, opts ...ClientOption) *ChatClient {
	c := &ChatClient{
		provider: provider,
		cfg:      cfg,
		clock:    shm.SystemClock{},
		alive:    func(int) bool { return true },
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect maps the segment, waits for the server, registers name, announces
// the arrival and starts the reader poller. Expected refusals are reported
// as a ConnectResult with a nil error; the result is undefined when err is
// non-nil.
func (c *ChatClient) Connect(ctx context.Context, name string) (domain.ConnectResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.region != nil {
		return domain.ConnectTaken, errors.ErrAlreadyConnected
	}
	switch {
	case name == "":
		return domain.ConnectTaken, errors.ErrEmptyName
	case len(name) > shm.MaxNameLen:
		return domain.ConnectTaken, errors.ErrNameTooLong
	}

	seg, err := c.provider.Open()
	if stderrors.Is(err, errors.ErrSegmentNotFound) {
		c.log.Info("No shared memory segment, is the server running?", "name", name)
		return domain.ConnectServerUnavailable, nil
	}
	if err != nil {
		return domain.ConnectServerUnavailable, fmt.Errorf("failed to open shared memory: %w", err)
	}

	opts := []shm.Option{
		shm.WithClock(c.clock),
		shm.WithLockPolicy(c.cfg.LockPolicy),
		shm.WithLogger(c.log),
	}
	if c.recorder != nil {
		opts = append(opts, shm.WithRecorder(c.recorder))
	}
	region, err := shm.Attach(seg.Bytes(), opts...)
	if err != nil {
		_ = seg.Close()
		return domain.ConnectServerUnavailable, err
	}

	if !c.waitForServer(ctx, region) {
		_ = seg.Close()
		c.log.Info("Server is not running", "name", name, "waited", c.cfg.ServerWaitTimeout)
		return domain.ConnectServerUnavailable, ctx.Err()
	}

	// The cursor is taken before registering so the own join notice is delivered.
	start, err := region.Messages().Tail()
	if err != nil {
		_ = seg.Close()
		return domain.ConnectServerUnavailable, err
	}

	res, err := region.Clients().Register(name)
	if err != nil {
		_ = seg.Close()
		return domain.ConnectFull, err
	}
	switch res {
	case domain.Duplicate:
		_ = seg.Close()
		c.log.Info("Username already taken", "name", name)
		return domain.ConnectTaken, nil
	case domain.Full:
		_ = seg.Close()
		c.log.Info("No available client slots", "name", name)
		return domain.ConnectFull, nil
	}

	if err := region.Messages().Append(domain.ServerAuthor, domain.JoinNotice(name), domain.FromServer); err != nil {
		c.log.Warn("Could not announce arrival", "name", name, "error", err)
	}

	c.name = name
	c.evicted.Store(false)
	c.seg = seg
	c.region = region
	c.poller = workers.NewPollerWorker(name, region.Messages(), region.Clients(),
		contract.MessageHandlerFunc(c.dispatch), start, c.cfg.PollInterval, c.log)
	c.supervisor = workers.NewSupervisor(c.log)
	c.supervisor.Add(c.poller)
	go c.supervisor.Run(context.Background())

	c.log.Info("Client connected", "name", name)
	return domain.ConnectOK, nil
}

// waitForServer polls the running flag for at most ServerWaitTimeout.
// A flag left behind by a crashed server does not count.
func (c *ChatClient) waitForServer(ctx context.Context, region *shm.Region) bool {
	deadline := time.NewTimer(c.cfg.ServerWaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.ServerWaitInterval)
	defer ticker.Stop()
	for {
		if region.ServerRunning() && c.alive(region.CreatorPID()) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

// Disconnect joins the poller, unregisters, announces the departure and
// unmaps the segment. Calling it while disconnected is a no-op.
func (c *ChatClient) Disconnect() error {
	c.mu.RLock()
	supervisor := c.supervisor
	c.mu.RUnlock()
	if supervisor == nil {
		return nil
	}

	// The poller is joined without holding mu: a handler may still be
	// calling back into the client.
	supervisor.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := supervisor.Wait(ctx); err != nil {
		// Unmapping now could pull the memory from under the poller.
		return fmt.Errorf("poller did not stop: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.supervisor != supervisor {
		return nil
	}

	var errs []error
	// Once evicted the name may belong to someone else: leave it alone.
	if !c.lostName() {
		res, err := c.region.Clients().Unregister(c.name)
		if err != nil {
			errs = append(errs, err)
		} else if res == domain.Removed {
			if err := c.region.Messages().Append(domain.ServerAuthor, domain.LeaveNotice(c.name), domain.FromServer); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if skipped := c.poller.Skipped(); skipped > 0 {
		c.log.Info("Messages lost while connected", "skipped", skipped)
	}
	if err := c.seg.Close(); err != nil {
		errs = append(errs, err)
	}
	c.log.Info("Client disconnected", "name", c.name)
	c.seg, c.region, c.poller, c.supervisor = nil, nil, nil, nil
	return stderrors.Join(errs...)
}

// SendMessage appends body under the client's name. Empty and too long
// bodies are refused before anything is written. A client the server has
// evicted is reported as not connected: its name may be taken by now.
func (c *ChatClient) SendMessage(body string) (domain.SendResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.region == nil || c.lostName() {
		return domain.SendNotConnected, nil
	}
	if c.moderator != nil {
		body, _ = c.moderator.Censor(body)
	}
	switch {
	case body == "":
		return domain.SendEmpty, nil
	case len(body) > shm.MaxBodyLen:
		return domain.SendTooLong, nil
	}

	// Sending counts as activity and tells whether the name is still ours.
	touched, err := c.region.Clients().Touch(c.name)
	if err != nil {
		return domain.SendNotConnected, err
	}
	if !touched {
		c.evicted.Store(true)
		c.log.Warn("Client was evicted, message not sent", "name", c.name)
		return domain.SendNotConnected, nil
	}
	if err := c.region.Messages().Append(c.name, body, domain.FromClient); err != nil {
		return domain.SendNotConnected, err
	}
	c.log.Debug("Message sent", "name", c.name, "length", len(body))
	return domain.SendOK, nil
}

// lostName reports whether the registry dropped this client. Callers hold mu.
func (c *ChatClient) lostName() bool {
	return c.evicted.Load() || (c.poller != nil && c.poller.Evicted())
}

// GetHistory returns up to limit of the oldest messages still in the ring.
func (c *ChatClient) GetHistory(limit int) ([]domain.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.region == nil {
		return nil, errors.ErrNotConnected
	}
	return c.region.Messages().Snapshot(limit)
}

func (c *ChatClient) GetRoster() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.region == nil {
		return nil, errors.ErrNotConnected
	}
	return c.region.Clients().ScanNames()
}

// OnMessage registers a handler called on the poller goroutine for every
// message drained after Connect. Handlers must not call Disconnect.
func (c *ChatClient) OnMessage(handler contract.MessageHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers = append(c.handlers, handler)
}

func (c *ChatClient) dispatch(msg domain.Message) {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	for _, h := range c.handlers {
		h.Handle(msg)
	}
}

// IsConnected is true while registered and the server still runs. It turns
// false once the server evicted this client.
func (c *ChatClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.region != nil && c.region.ServerRunning() && !c.lostName()
}

func (c *ChatClient) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Skipped is the number of messages the poller lost to ring overwrites.
func (c *ChatClient) Skipped() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.poller == nil {
		return 0
	}
	return c.poller.Skipped()
}
