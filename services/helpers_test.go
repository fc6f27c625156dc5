package services

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"shm-chat/contract"
	"shm-chat/errors"
	"shm-chat/shm"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// memProvider hands out views over one heap block, the way the OS hands out
// mappings of one segment to several processes.
type memProvider struct {
	mu  sync.Mutex
	mem []byte
}

type memSegment struct {
	p   *memProvider
	mem []byte
}

func (p *memProvider) Create() (contract.Segment, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fresh := p.mem == nil
	if fresh {
		p.mem = make([]byte, shm.Size)
	}
	return &memSegment{p: p, mem: p.mem}, fresh, nil
}

func (p *memProvider) Open() (contract.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mem == nil {
		return nil, errors.ErrSegmentNotFound
	}
	return &memSegment{p: p, mem: p.mem}, nil
}

func (p *memProvider) exists() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mem != nil
}

func (s *memSegment) Bytes() []byte { return s.mem }
func (s *memSegment) Close() error  { return nil }

func (s *memSegment) Unlink() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.mem = nil
	return nil
}

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

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

func testServerConfig() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.ScanInterval = time.Hour
	return cfg
}

func testClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ServerWaitTimeout = 100 * time.Millisecond
	cfg.ServerWaitInterval = 10 * time.Millisecond
	return cfg
}

// startServer initializes and starts a server over provider and stops it when the test ends.
func startServer(t *testing.T, provider contract.SegmentProvider, opts ...ServerOption) *ChatServer {
	t.Helper()
	server := NewChatServer(provider, testServerConfig(), testLogger(), opts...)
	require.NoError(t, server.Initialize())
	require.NoError(t, server.Start(t.Context()))
	t.Cleanup(func() { _ = server.Stop() })
	return server
}
