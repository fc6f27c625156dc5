package workers

import (
	"context"
	"fmt"
	"log/slog"
	"shm-chat/contract"
	"shm-chat/domain"
	"time"

	stderrors "errors"
)

const (
	DefaultScanInterval      = 5 * time.Second
	DefaultEvictionThreshold = 30 * time.Second
)

// LivenessWorker is the server-side scan that evicts clients whose last
// activity is older than the threshold and announces their departure.
type LivenessWorker struct {
	clients      contract.ClientRegistry
	messages     contract.MessageLog
	clock        contract.Clock
	recorder     contract.Recorder
	log          *slog.Logger
	scanInterval time.Duration
	threshold    time.Duration
}

func NewLivenessWorker(
	clients contract.ClientRegistry,
	messages contract.MessageLog,
	clock contract.Clock,
	recorder contract.Recorder,
	log *slog.Logger,
	scanInterval, threshold time.Duration,
) *LivenessWorker {
	return &LivenessWorker{
		clients:      clients,
		messages:     messages,
		clock:        clock,
		recorder:     recorder,
		log:          log,
		scanInterval: scanInterval,
		threshold:    threshold,
	}
}

func (w *LivenessWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping liveness scan")
			return nil
		case <-ticker.C:
			if _, err := w.ScanOnce(); err != nil {
				w.log.Warn("Liveness scan failed", "error", err)
			}
		}
	}
}

// ScanOnce performs a single eviction pass and returns the evicted names.
// Departure notices are appended after the registry lock was released.
func (w *LivenessWorker) ScanOnce() ([]string, error) {
	freed, err := w.clients.EvictIdle(w.clock.Now(), w.threshold)
	if err != nil {
		return nil, fmt.Errorf("evict idle clients: %w", err)
	}

	var errs []error
	for _, name := range freed {
		w.recorder.IncrClientsEvicted()
		w.log.Warn("Removing inactive client", "name", name, "threshold", w.threshold)
		if err := w.messages.Append(domain.ServerAuthor, domain.LeaveNotice(name), domain.FromServer); err != nil {
			errs = append(errs, fmt.Errorf("announce departure of %s: %w", name, err))
		}
	}
	return freed, stderrors.Join(errs...)
}
