package observability

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// MonitoringStats is a point-in-time view of the counters.
type MonitoringStats struct {
	MessagesAppended uint64  `json:"messages_appended"`
	RingEvictions    uint64  `json:"ring_evictions"`
	MessagesSkipped  uint64  `json:"messages_skipped"`
	LockTimeouts     uint64  `json:"lock_timeouts"`
	ClientsEvicted   uint64  `json:"clients_evicted"`
	AppendRate       float64 `json:"append_rate"` // messages/s since the previous tick
	AllocMemMb       uint64  `json:"alloc_mem_mb"`
	NumGC            uint32  `json:"num_gc"`
}

// MonitoringManager counts what happens to the shared tables seen from this
// process. It satisfies contract.Recorder.
type MonitoringManager struct {
	log         *slog.Logger
	interval    time.Duration
	mu          sync.RWMutex
	latestStats MonitoringStats

	appended       atomic.Uint64
	ringEvictions  atomic.Uint64
	skipped        atomic.Uint64
	lockTimeouts   atomic.Uint64
	clientsEvicted atomic.Uint64

	lastAppended uint64
	lastCheck    time.Time
}

func NewMonitoringManager(log *slog.Logger, interval time.Duration) *MonitoringManager {
	return &MonitoringManager{log: log, interval: interval, lastCheck: time.Now()}
}

func (mm *MonitoringManager) IncrAppended() {
	mm.appended.Add(1)
}

func (mm *MonitoringManager) IncrRingEvictions() {
	mm.ringEvictions.Add(1)
}

func (mm *MonitoringManager) IncrLockTimeouts() {
	mm.lockTimeouts.Add(1)
}

func (mm *MonitoringManager) AddSkipped(n uint64) {
	mm.skipped.Add(n)
}

func (mm *MonitoringManager) IncrClientsEvicted() {
	mm.clientsEvicted.Add(1)
}

// Run refreshes and logs the stats every interval until ctx is done.
func (mm *MonitoringManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(mm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mm.updateStats(time.Now())
			mm.log.Info("Monitoring manager stopped", "stats", mm.GetLatest())
			return nil
		case now := <-ticker.C:
			stats := mm.updateStats(now)
			mm.log.Debug("Stats updated",
				"appended", stats.MessagesAppended,
				"append_rate", stats.AppendRate,
				"ring_evictions", stats.RingEvictions,
				"skipped", stats.MessagesSkipped,
				"lock_timeouts", stats.LockTimeouts,
				"clients_evicted", stats.ClientsEvicted,
				"mem_mb", stats.AllocMemMb,
			)
		}
	}
}

func (mm *MonitoringManager) updateStats(now time.Time) MonitoringStats {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	appended := mm.appended.Load()
	if duration := now.Sub(mm.lastCheck).Seconds(); duration > 0 {
		mm.latestStats.AppendRate = float64(appended-mm.lastAppended) / duration
	}
	mm.lastAppended = appended
	mm.lastCheck = now

	mm.latestStats.MessagesAppended = appended
	mm.latestStats.RingEvictions = mm.ringEvictions.Load()
	mm.latestStats.MessagesSkipped = mm.skipped.Load()
	mm.latestStats.LockTimeouts = mm.lockTimeouts.Load()
	mm.latestStats.ClientsEvicted = mm.clientsEvicted.Load()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mm.latestStats.AllocMemMb = m.Alloc / 1024 / 1024
	mm.latestStats.NumGC = m.NumGC
	return mm.latestStats
}

// GetLatest returns the stats computed at the last tick.
func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.latestStats
}
