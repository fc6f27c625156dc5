package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"shm-chat/mocks"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestSupervisor_RestartOnPanic(t *testing.T) {
	req := require.New(t)
	log := slog.Default()
	ctrl := gomock.NewController(t)
	workerMock := mocks.NewMockWorker(ctrl)

	var calls atomic.Int32
	workerMock.EXPECT().
		Run(gomock.Any()).
		DoAndReturn(func(ctx context.Context) error {
			calls.Add(1)
			panic("boom")
		}).
		AnyTimes()

	sup := NewSupervisor(log)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	go sup.Add(workerMock).Run(ctx)

	// Waiting for panics and restarts
	req.Eventually(func() bool { return calls.Load() >= 2 }, 900*time.Millisecond, 20*time.Millisecond)
	sup.Stop()
	req.NoError(sup.Wait(context.Background()))
}

func TestSupervisor_StopOnSuccess(t *testing.T) {
	req := require.New(t)
	log := slog.Default()
	ctrl := gomock.NewController(t)

	workerMock := mocks.NewMockWorker(ctrl)

	// Given a worker running only once
	workerMock.EXPECT().
		Run(gomock.Any()).
		Return(nil).
		Times(1)

	sup := NewSupervisor(log)

	// Given a channel to notify when Run() terminated
	done := make(chan struct{})

	go func() {
		sup.Add(workerMock).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
		// Then supervisor detected a success and stopped
	case <-time.After(500 * time.Millisecond):
		req.Fail("Supervisor should have stopped after worker success")
	}
}

func TestSupervisor_Stop_Joins_Running_Workers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)

	// Given a worker blocked until its context ends
	var exited atomic.Bool
	running := make(chan struct{})
	workerMock := mocks.NewMockWorker(ctrl)
	workerMock.EXPECT().
		Run(gomock.Any()).
		DoAndReturn(func(ctx context.Context) error {
			close(running)
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			exited.Store(true)
			return nil
		}).
		Times(1)

	sup := NewSupervisor(slog.Default())
	go sup.Add(workerMock).Run(context.Background())
	<-running

	// When the supervisor is stopped and waited for
	sup.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(sup.Wait(ctx))

	// Then the worker had fully exited
	req.True(exited.Load())
}

func TestSupervisor_Stop_Before_Run(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	// No expectation: the worker must never be run
	workerMock := mocks.NewMockWorker(ctrl)

	sup := NewSupervisor(slog.Default())
	sup.Add(workerMock)
	sup.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go sup.Run(context.Background())

	req.NoError(sup.Wait(ctx))
}
