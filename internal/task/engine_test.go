package task

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type funcExecutor struct {
	typ   Type
	calls atomic.Int32
	fn    func(ctx context.Context, t *Task) (Result, error)
}

func (f *funcExecutor) Type() Type { return f.typ }

func (f *funcExecutor) Execute(ctx context.Context, t *Task) (Result, error) {
	f.calls.Add(1)
	return f.fn(ctx, t)
}

// failingExecutor fails every attempt and applies the retry bound.
func failingExecutor(typ Type, bound int) *funcExecutor {
	return &funcExecutor{typ: typ, fn: func(_ context.Context, t *Task) (Result, error) {
		var extra CleanupExtraInfo
		if err := Decode(t.ExtraInfo, &extra); err != nil {
			return nil, err
		}
		extra.AddHistory(time.Now(), NewError(CodeCleanup, "nope", nil))
		if extra.ShouldRetry(bound) {
			return Retry{ExtraInfo: Encode(extra)}, nil
		}
		return Fatal{ExtraInfo: Encode(extra)}, nil
	}}
}

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "tasks.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, store Store, execs ...Executor) (*Engine, chan Task) {
	t.Helper()
	e := NewEngine(store, Options{Workers: 2, QueueSize: 8, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	e.Register(execs...)
	done := make(chan Task, 16)
	e.OnFinish(func(t Task) { done <- t })
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)
	return e, done
}

func waitFinished(t *testing.T, done chan Task) Task {
	t.Helper()
	select {
	case tk := <-done:
		return tk
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
		return Task{}
	}
}

func TestEngineSuccess(t *testing.T) {
	store := newTestStore(t)
	ex := &funcExecutor{typ: TypeSyncFanout, fn: func(_ context.Context, t *Task) (Result, error) {
		return Success{ExtraInfo: Encode(SyncExtraInfo{FailDeviceIDs: []string{}})}, nil
	}}
	e, done := newTestEngine(t, store, ex)

	id, err := e.Create(context.Background(), TypeSyncFanout, 42, SyncExtraInfo{FailDeviceIDs: []string{"a"}})
	require.NoError(t, err)

	finished := waitFinished(t, done)
	assert.Equal(t, id, finished.ID)
	assert.Equal(t, StatusSuccess, finished.Status)

	stored, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, stored.Status)
	var extra SyncExtraInfo
	require.NoError(t, Decode(stored.ExtraInfo, &extra))
	assert.Empty(t, extra.FailDeviceIDs)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestEngineRetryBound(t *testing.T) {
	for _, bound := range []int{DefaultRetryBound, ShortRetryBound} {
		t.Run("bound", func(t *testing.T) {
			store := newTestStore(t)
			ex := failingExecutor(TypeCleanup, bound)
			e, done := newTestEngine(t, store, ex)

			_, err := e.Create(context.Background(), TypeCleanup, 0, CleanupExtraInfo{})
			require.NoError(t, err)

			finished := waitFinished(t, done)
			assert.Equal(t, StatusFailure, finished.Status)
			assert.Equal(t, int32(bound), ex.calls.Load())
			assert.Len(t, Histories(finished.ExtraInfo), bound)
			assert.Equal(t, CodeCleanup, Histories(finished.ExtraInfo)[0].Code)
		})
	}
}

func TestEngineUnhandled(t *testing.T) {
	cases := map[string]func(context.Context, *Task) (Result, error){
		"error": func(context.Context, *Task) (Result, error) { return nil, errors.New("boom") },
		"panic": func(context.Context, *Task) (Result, error) { panic("kaboom") },
		"nil":   func(context.Context, *Task) (Result, error) { return nil, nil },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			store := newTestStore(t)
			ex := &funcExecutor{typ: TypePullIcon, fn: fn}
			e, done := newTestEngine(t, store, ex)

			_, err := e.Create(context.Background(), TypePullIcon, 1, PullIconExtraInfo{Source: "app"})
			require.NoError(t, err)

			finished := waitFinished(t, done)
			assert.Equal(t, StatusFailure, finished.Status)
			hist := Histories(finished.ExtraInfo)
			require.Len(t, hist, 1)
			assert.Equal(t, CodeUnhandled, hist[0].Code)
			assert.Equal(t, int32(1), ex.calls.Load())

			var extra PullIconExtraInfo
			require.NoError(t, Decode(finished.ExtraInfo, &extra))
			assert.Equal(t, "app", extra.Source)
		})
	}
}

func TestEngineMissingExecutor(t *testing.T) {
	store := newTestStore(t)
	e, done := newTestEngine(t, store)

	_, err := e.Create(context.Background(), TypePullFile, 1, nil)
	require.NoError(t, err)
	finished := waitFinished(t, done)
	assert.Equal(t, StatusFailure, finished.Status)
	assert.Contains(t, Histories(finished.ExtraInfo)[0].Message, "no executor")
}

func TestEngineRecoversInterruptedTasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, &Task{Type: TypeCleanup, Status: StatusExecuting})
	require.NoError(t, err)
	_, err = store.Create(ctx, &Task{Type: TypeCleanup, Status: StatusPreparing})
	require.NoError(t, err)
	_, err = store.Create(ctx, &Task{Type: TypeCleanup, Status: StatusSuccess})
	require.NoError(t, err)

	ex := &funcExecutor{typ: TypeCleanup, fn: func(context.Context, *Task) (Result, error) {
		return Success{}, nil
	}}
	_, done := newTestEngine(t, store, ex)

	waitFinished(t, done)
	waitFinished(t, done)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestEngineSkipsDuplicateSubmissions(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	ex := &funcExecutor{typ: TypeCleanup, fn: func(context.Context, *Task) (Result, error) {
		<-release
		return Success{}, nil
	}}
	e, done := newTestEngine(t, store, ex)

	id, err := e.Create(context.Background(), TypeCleanup, 0, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, e.Submit(context.Background(), id))
	time.Sleep(20 * time.Millisecond)
	close(release)

	waitFinished(t, done)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(time.Second, 5*time.Second)
	assert.Equal(t, time.Second, b(1))
	assert.Equal(t, 2*time.Second, b(2))
	assert.Equal(t, 4*time.Second, b(3))
	assert.Equal(t, 5*time.Second, b(4))
	assert.Equal(t, time.Second, b(0))
}
