package services

import (
	"context"
	"fmt"
	"log/slog"
	"shm-chat/contract"
	"shm-chat/domain"
	"shm-chat/errors"
	"shm-chat/moderation"
	"shm-chat/observability"
	"shm-chat/runtime/workers"
	"shm-chat/shm"
	"sync"
	"time"
)

type IChatServer interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	Broadcast(body string) error
	AddClientMessage(name, body string) error
	RegisterClient(name string) (domain.RegisterResult, error)
	UnregisterClient(name string) (domain.UnregisterResult, error)
	GetConnectedClients() ([]string, error)
	GetRecentMessages(limit int) ([]domain.Message, error)
}

type ServerConfig struct {
	ScanInterval      time.Duration
	EvictionThreshold time.Duration
	LockPolicy        shm.LockPolicy
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ScanInterval:      workers.DefaultScanInterval,
		EvictionThreshold: workers.DefaultEvictionThreshold,
		LockPolicy:        shm.DefaultLockPolicy(),
	}
}

// ChatServer owns the shared segment: it creates and formats it, runs the
// liveness scan and unlinks the segment when it stops.
type ChatServer struct {
	provider  contract.SegmentProvider
	cfg       ServerConfig
	clock     contract.Clock
	recorder  contract.Recorder
	moderator *moderation.Moderator
	log       *slog.Logger

	// mu is held for reading while the region is in use so Stop never
	// unmaps memory under a caller.
	mu         sync.RWMutex
	seg        contract.Segment
	region     *shm.Region
	supervisor *workers.Supervisor
	liveness   *workers.LivenessWorker
	running    bool
}

type ServerOption func(s *ChatServer)

func WithServerClock(c contract.Clock) ServerOption {
	return func(s *ChatServer) { s.clock = c }
}

func WithServerRecorder(r contract.Recorder) ServerOption {
	return func(s *ChatServer) { s.recorder = r }
}

// WithServerModerator censors client messages relayed by AddClientMessage.
func WithServerModerator(m *moderation.Moderator) ServerOption {
	return func(s *ChatServer) { s.moderator = m }
}

func NewChatServer(provider contract.SegmentProvider, cfg ServerConfig, log *slog.Logger, opts ...ServerOption) *ChatServer {
	s := &ChatServer{
		provider: provider,
		cfg:      cfg,
		clock:    shm.SystemClock{},
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize creates or takes over the segment and marks the server running.
// A block left by a crashed server is kept when its header is valid and no
// lock is stuck, otherwise it is formatted again.
func (s *ChatServer) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.region != nil {
		return nil
	}

	seg, fresh, err := s.provider.Create()
	if err != nil {
		return fmt.Errorf("failed to create shared memory: %w", err)
	}

	opts := []shm.Option{
		shm.WithClock(s.clock),
		shm.WithLockPolicy(s.cfg.LockPolicy),
		shm.WithLogger(s.log),
	}
	if s.recorder != nil {
		opts = append(opts, shm.WithRecorder(s.recorder))
	}

	region, err := s.openRegion(seg.Bytes(), fresh, opts)
	if err != nil {
		_ = seg.Close()
		return err
	}
	region.SetServerRunning(true)

	s.seg = seg
	s.region = region
	s.log.Info("Server initialized", "fresh", fresh, "pid", region.CreatorPID())
	return nil
}

func (s *ChatServer) openRegion(mem []byte, fresh bool, opts []shm.Option) (*shm.Region, error) {
	if !fresh {
		region, err := shm.Attach(mem, opts...)
		switch {
		case err != nil:
			s.log.Warn("Existing segment unusable, formatting it again", "error", err)
		case !region.LocksFree():
			s.log.Warn("Existing segment has a lock held by a dead process, formatting it again",
				"previous_pid", region.CreatorPID())
		default:
			s.log.Info("Adopting segment left by a previous server", "previous_pid", region.CreatorPID())
			region.Claim()
			return region, nil
		}
	}
	region, err := shm.Format(mem, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to format shared memory: %w", err)
	}
	return region, nil
}

// Start launches the liveness scan. It returns immediately; Stop ends it.
func (s *ChatServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.region == nil {
		return errors.ErrNotInitialized
	}
	if s.running {
		return nil
	}

	recorder := s.recorder
	if recorder == nil {
		recorder = observability.NopRecorder{}
	}
	s.liveness = workers.NewLivenessWorker(s.region.Clients(), s.region.Messages(), s.clock, recorder,
		s.log, s.cfg.ScanInterval, s.cfg.EvictionThreshold)
	s.supervisor = workers.NewSupervisor(s.log)
	s.supervisor.Add(s.liveness)
	go s.supervisor.Run(ctx)

	s.running = true
	s.log.Info("Server started", "scan_interval", s.cfg.ScanInterval, "eviction_threshold", s.cfg.EvictionThreshold)
	return nil
}

// Stop joins the liveness scan, clears the running flag, then unlinks and
// unmaps the segment. It is safe to call more than once.
func (s *ChatServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.region == nil {
		return nil
	}

	if s.supervisor != nil {
		s.supervisor.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.supervisor.Wait(ctx); err != nil {
			s.log.Error("Liveness scan did not stop in time", "error", err)
		}
		cancel()
	}
	s.running = false
	s.region.SetServerRunning(false)
	s.region = nil

	unlinkErr := s.seg.Unlink()
	closeErr := s.seg.Close()
	s.seg = nil
	s.log.Info("Server stopped")
	if unlinkErr != nil {
		return unlinkErr
	}
	return closeErr
}

func (s *ChatServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running && s.region != nil && s.region.ServerRunning()
}

// Broadcast appends a message authored by the server.
func (s *ChatServer) Broadcast(body string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region == nil {
		return errors.ErrNotInitialized
	}
	if err := s.region.Messages().Append(domain.ServerAuthor, body, domain.FromServer); err != nil {
		return err
	}
	s.log.Info("Broadcast message", "body", body)
	return nil
}

// AddClientMessage appends a message on behalf of a client and counts it as
// that client's activity.
func (s *ChatServer) AddClientMessage(name, body string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region == nil {
		return errors.ErrNotInitialized
	}
	if s.moderator != nil {
		var words []string
		if body, words = s.moderator.Censor(body); len(words) > 0 {
			s.log.Debug("Message censored", "author", name, "words", words)
		}
	}
	if err := s.region.Messages().Append(name, body, domain.FromClient); err != nil {
		return err
	}
	if _, err := s.region.Clients().Touch(name); err != nil {
		s.log.Warn("Could not record client activity", "name", name, "error", err)
	}
	s.log.Debug("Client message", "author", name, "body", body)
	return nil
}

// RegisterClient registers name and announces the arrival.
func (s *ChatServer) RegisterClient(name string) (domain.RegisterResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region == nil {
		return domain.Full, errors.ErrNotInitialized
	}
	res, err := s.region.Clients().Register(name)
	if err != nil || res != domain.Registered {
		return res, err
	}
	s.log.Info("Client registered", "name", name)
	return res, s.region.Messages().Append(domain.ServerAuthor, domain.JoinNotice(name), domain.FromServer)
}

// UnregisterClient removes name and announces the departure.
func (s *ChatServer) UnregisterClient(name string) (domain.UnregisterResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region == nil {
		return domain.NotFound, errors.ErrNotInitialized
	}
	res, err := s.region.Clients().Unregister(name)
	if err != nil || res != domain.Removed {
		return res, err
	}
	s.log.Info("Client unregistered", "name", name)
	return res, s.region.Messages().Append(domain.ServerAuthor, domain.LeaveNotice(name), domain.FromServer)
}

func (s *ChatServer) GetConnectedClients() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region == nil {
		return nil, errors.ErrNotInitialized
	}
	return s.region.Clients().ScanNames()
}

// GetRecentMessages returns up to limit messages, oldest first.
func (s *ChatServer) GetRecentMessages(limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region == nil {
		return nil, errors.ErrNotInitialized
	}
	return s.region.Messages().Snapshot(limit)
}

// GetRecentMessagesWithHead is GetRecentMessages plus the sequence number of
// the first returned message.
func (s *ChatServer) GetRecentMessagesWithHead(limit int) (domain.Cursor, []domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region == nil {
		return domain.Cursor{}, nil, errors.ErrNotInitialized
	}
	return s.region.Messages().SnapshotWithHead(limit)
}

func (s *ChatServer) GetClientRecords() ([]domain.ClientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region == nil {
		return nil, errors.ErrNotInitialized
	}
	return s.region.Clients().Records()
}

// RingStats reports the ring indices and the sequence of the next append.
func (s *ChatServer) RingStats() (shm.RingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region == nil {
		return shm.RingStats{}, errors.ErrNotInitialized
	}
	return s.region.Messages().Stats()
}

// ScanNow runs one liveness pass outside the ticker.
func (s *ChatServer) ScanNow() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.liveness == nil || s.region == nil {
		return nil, errors.ErrNotInitialized
	}
	return s.liveness.ScanOnce()
}

// ConsumeBroadcast reports whether a server message was appended since the
// previous call.
func (s *ChatServer) ConsumeBroadcast() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.region != nil && s.region.ConsumeBroadcast()
}

// BroadcastPending peeks at the flag ConsumeBroadcast clears.
func (s *ChatServer) BroadcastPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.region != nil && s.region.BroadcastPending()
}
