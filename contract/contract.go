//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"shm-chat/domain"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Clock is the wall-clock source stamped into messages and liveness timestamps.
type Clock interface {
	Now() time.Time
}

// MessageHandler receives every message drained by a reader poller,
// on the poller's goroutine.
type MessageHandler interface {
	Handle(msg domain.Message)
}

type MessageHandlerFunc func(msg domain.Message)

func (f MessageHandlerFunc) Handle(msg domain.Message) {
	f(msg)
}

// Recorder collects counters about the shared tables.
type Recorder interface {
	IncrAppended()
	IncrRingEvictions()
	IncrLockTimeouts()
	AddSkipped(n uint64)
	IncrClientsEvicted()
}

type MessageLog interface {
	Append(author, body string, origin domain.Origin) error
	Snapshot(max int) ([]domain.Message, error)
	DrainSince(cursor domain.Cursor) (domain.Drain, error)
}

type ClientRegistry interface {
	Register(name string) (domain.RegisterResult, error)
	Unregister(name string) (domain.UnregisterResult, error)
	ScanNames() ([]string, error)
	Touch(name string) (bool, error)
	EvictIdle(now time.Time, threshold time.Duration) ([]string, error)
}

// Segment is a block of OS shared memory mapped into this process.
type Segment interface {
	Bytes() []byte
	// Close unmaps this process's view.
	Close() error
	// Unlink removes the OS object. Only the creator calls it.
	Unlink() error
}

// SegmentProvider creates or opens the named segment every participant agrees on.
type SegmentProvider interface {
	// Create maps the segment, creating it if needed. fresh is true when
	// the backing memory was just allocated and must be formatted.
	Create() (seg Segment, fresh bool, err error)
	Open() (Segment, error)
}
