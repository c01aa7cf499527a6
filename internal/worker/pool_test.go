package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := New(3, 10, log)

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(Task{Name: "count", Run: func(context.Context) {
			defer wg.Done()
			n.Add(1)
		}}))
	}
	wg.Wait()
	require.Equal(t, int32(10), n.Load())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPoolQueueFull(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := New(1, 1, log)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(Task{Name: "block", Run: func(context.Context) {
		close(started)
		<-release
	}}))
	<-started
	require.NoError(t, p.Submit(Task{Name: "queued", Run: func(context.Context) {}}))
	require.ErrorIs(t, p.Submit(Task{Name: "overflow", Run: func(context.Context) {}}), ErrQueueFull)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPoolRecoversPanics(t *testing.T) {
	log, hook := test.NewNullLogger()
	p := New(1, 4, log)

	done := make(chan struct{})
	require.NoError(t, p.Submit(Task{Name: "boom", Run: func(context.Context) { panic("boom") }}))
	require.NoError(t, p.Submit(Task{Name: "after", Run: func(context.Context) { close(done) }}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
	require.NoError(t, p.Shutdown(context.Background()))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.ErrorLevel, entry.Level)
	require.Equal(t, "boom", entry.Data["task"])
}

func TestPoolShutdownDrainsAndRejects(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := New(1, 8, log)

	var n atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(Task{Name: "slow", Run: func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			n.Add(1)
		}}))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, int32(5), n.Load())
	require.ErrorIs(t, p.Submit(Task{Name: "late", Run: func(context.Context) {}}), ErrPoolClosed)
}

func TestPoolShutdownDeadline(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := New(1, 1, log)

	cancelled := make(chan struct{})
	require.NoError(t, p.Submit(Task{Name: "stuck", Run: func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
	<-cancelled
}
