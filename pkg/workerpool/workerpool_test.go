package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/andrej220/autopilot/internal/lg"
)

func TestPoolRunsAllJobs(t *testing.T) {
	p := NewPool[int](3)
	var sum int64
	var cleaned int32

	for i := 1; i <= 10; i++ {
		err := p.Submit(Job[int]{
			Payload: i,
			Fn: func(_ context.Context, n int) error {
				atomic.AddInt64(&sum, int64(n))
				return nil
			},
			CleanupFunc: func() { atomic.AddInt32(&cleaned, 1) },
		})
		require.NoError(t, err)
	}
	p.Stop()

	assert.Equal(t, int64(55), atomic.LoadInt64(&sum))
	assert.Equal(t, int32(10), atomic.LoadInt32(&cleaned))
	assert.Equal(t, int32(0), p.ActiveWorkers())
}

func TestPoolRunsJobOnce(t *testing.T) {
	p := NewPool[int](1)
	var calls int32
	require.NoError(t, p.Submit(Job[int]{Fn: func(context.Context, int) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}}))
	p.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool[int](1)
	var wg sync.WaitGroup
	wg.Add(2)
	require.NoError(t, p.Submit(Job[int]{
		Fn:          func(context.Context, int) error { panic("bad job") },
		CleanupFunc: wg.Done,
	}))
	require.NoError(t, p.Submit(Job[int]{
		Fn:          func(context.Context, int) error { return nil },
		CleanupFunc: wg.Done,
	}))
	wg.Wait()
	p.Stop()
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewPool[int](2)
	p.Stop()
	p.Stop()
	err := p.Submit(Job[int]{Fn: func(context.Context, int) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestCanceledJobSkipped(t *testing.T) {
	p := NewPool[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int32
	_ = p.Submit(Job[int]{Ctx: ctx, Fn: func(context.Context, int) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}})
	p.Stop()
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestPoolLogsJobIDNotPayload(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := lg.Attach(context.Background(), lg.FromZap(zap.New(core)))

	type request struct{ Password string }
	p := NewPool[request](1)
	require.NoError(t, p.Submit(Job[request]{
		ID:      "run-1",
		Payload: request{Password: "hunter2"},
		Ctx:     ctx,
		Fn:      func(context.Context, request) error { return errors.New("boom") },
	}))
	p.Stop()

	require.NotZero(t, logs.Len())
	for _, entry := range logs.All() {
		assert.Equal(t, "run-1", entry.ContextMap()["job"], entry.Message)
		for _, f := range entry.Context {
			assert.NotContains(t, fmt.Sprint(f.Interface, f.String), "hunter2", entry.Message)
		}
	}
	assert.Equal(t, 1, logs.FilterMessage("job failed").Len())
}
