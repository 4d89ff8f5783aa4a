package heartbeat_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/heartbeat"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/memstore"
)

type countingToucher struct {
	calls atomic.Int32
	err   error
}

func (c *countingToucher) Touch(ctx context.Context, id string, _ *int) (*domain.Task, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &domain.Task{ID: id}, nil
}

func TestBeat_RefreshesUpdatedAtAndProgress(t *testing.T) {
	store := memstore.NewTasks(nil)
	store.Put(&domain.Task{ID: "t1", Status: domain.StatusProcessing, Progress: 10, UpdatedAt: time.Now().Add(-time.Minute)})
	e := heartbeat.NewEmitter(store, time.Second, nil)

	require.True(t, e.Progress(context.Background(), "t1", 35))

	got, err := store.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 35, got.Progress)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Second)
}

func TestBeat_SwallowsErrors(t *testing.T) {
	toucher := &countingToucher{err: errors.New("connection refused")}
	e := heartbeat.NewEmitter(toucher, time.Second, nil)

	assert.NotPanics(t, func() {
		assert.False(t, e.Beat(context.Background(), "t1", nil))
	})
	assert.EqualValues(t, 1, toucher.calls.Load())
}

func TestBeat_TerminalTaskIsNotRevived(t *testing.T) {
	store := memstore.NewTasks(nil)
	msg := "boom"
	store.Put(&domain.Task{ID: "t1", Status: domain.StatusFailed, ErrorMessage: &msg})
	e := heartbeat.NewEmitter(store, time.Second, nil)

	assert.False(t, e.Beat(context.Background(), "t1", nil))
	got, _ := store.GetByID(context.Background(), "t1")
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestBeat_SurvivesCancelledCaller(t *testing.T) {
	toucher := &countingToucher{}
	e := heartbeat.NewEmitter(toucher, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, e.Beat(ctx, "t1", nil))
}

func TestKeepAlive_BeatsUntilStopped(t *testing.T) {
	toucher := &countingToucher{}
	e := heartbeat.NewEmitter(toucher, time.Second, nil)

	stop := e.KeepAlive(context.Background(), "t1", 5*time.Millisecond)
	require.Eventually(t, func() bool { return toucher.calls.Load() >= 3 }, time.Second, time.Millisecond)
	stop()

	after := toucher.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, toucher.calls.Load(), "no beats after stop")
}

func TestKeepAlive_StopsWithContext(t *testing.T) {
	toucher := &countingToucher{}
	e := heartbeat.NewEmitter(toucher, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())

	stop := e.KeepAlive(ctx, "t1", 5*time.Millisecond)
	cancel()
	stop() // returns once the goroutine has exited
}
