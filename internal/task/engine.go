package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrEngineStopped = errors.New("task engine stopped")

// Options tunes an Engine.
type Options struct {
	Workers   int
	QueueSize int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// KeepTerminal purges finished tasks older than this at Start; 0 keeps all
	KeepTerminal time.Duration
	Logger       *zap.Logger
}

// Engine dispatches submitted task ids to executors. Intake is one ordered
// channel; tasks run independently and may finish in any order.
type Engine struct {
	store     Store
	logger    *zap.Logger
	workers   int
	keep      time.Duration
	queue     chan int64
	backoff   func(attempt int) time.Duration
	mu        sync.RWMutex
	executors map[Type]Executor
	listeners []func(Task)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewEngine(store Store, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     store,
		logger:    logger.With(zap.String("component", "task-engine")),
		workers:   opts.Workers,
		keep:      opts.KeepTerminal,
		queue:     make(chan int64, opts.QueueSize),
		backoff:   ExponentialBackoff(opts.BaseDelay, opts.MaxDelay),
		executors: make(map[Type]Executor),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register installs the executor for its task type.
func (e *Engine) Register(execs ...Executor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ex := range execs {
		e.executors[ex.Type()] = ex
	}
}

// OnFinish registers a callback invoked after a task reaches a terminal status.
func (e *Engine) OnFinish(fn func(Task)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) executor(t Type) Executor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.executors[t]
}

// Start launches the workers and resubmits tasks left unfinished by a
// previous run. The engine stops when ctx is done or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if e.keep > 0 {
		n, err := e.store.DeleteTerminalBefore(ctx, time.Now().Add(-e.keep))
		if err != nil {
			e.logger.Warn("Failed to purge finished tasks", zap.Error(err))
		} else if n > 0 {
			e.logger.Info("Purged finished tasks", zap.Int("count", n))
		}
	}

	pending, err := e.recoverPending(ctx)
	if err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case <-ctx.Done():
			e.cancel()
		case <-e.ctx.Done():
		}
	}()

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.SubmitTasks(e.ctx, pending); err != nil && !errors.Is(err, ErrEngineStopped) {
			e.logger.Warn("Failed to resubmit pending tasks", zap.Error(err))
		}
	}()

	e.logger.Info("Task engine started",
		zap.Int("workers", e.workers),
		zap.Int("pending", len(pending)))
	return nil
}

// recoverPending resets tasks interrupted mid-execution and returns every
// task that should run again.
func (e *Engine) recoverPending(ctx context.Context) ([]int64, error) {
	tasks, err := e.store.ListByStatus(ctx, StatusPreparing, StatusExecuting)
	if err != nil {
		return nil, fmt.Errorf("failed to recover pending tasks: %w", err)
	}
	ids := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == StatusExecuting {
			if _, err := e.store.CompareAndSetStatus(ctx, t.ID, StatusExecuting, StatusPreparing); err != nil {
				e.logger.Warn("Failed to reset interrupted task", zap.Int64("task_id", t.ID), zap.Error(err))
				continue
			}
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// Stop cancels in-flight executions and waits for workers to exit.
// Interrupted tasks are left PREPARING and resume on the next Start.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.logger.Info("Task engine stopped")
}

// Submit enqueues a task id. It blocks while the queue is full.
func (e *Engine) Submit(ctx context.Context, id int64) error {
	select {
	case e.queue <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrEngineStopped
	}
}

// SubmitTasks enqueues ids in order.
func (e *Engine) SubmitTasks(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if err := e.Submit(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Create persists a new PREPARING task and submits it.
func (e *Engine) Create(ctx context.Context, typ Type, subjectID int64, extra any) (int64, error) {
	t := &Task{
		Type:      typ,
		SubjectID: subjectID,
		Status:    StatusPreparing,
		ExtraInfo: Encode(extra),
	}
	id, err := e.store.Create(ctx, t)
	if err != nil {
		return 0, err
	}
	return id, e.Submit(ctx, id)
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case id := <-e.queue:
			e.run(id)
		}
	}
}

func (e *Engine) run(id int64) {
	ctx := e.ctx
	logger := e.logger.With(zap.Int64("task_id", id))

	t, err := e.store.Get(ctx, id)
	if err != nil {
		logger.Warn("Dropping submitted task", zap.Error(err))
		return
	}
	if t.Status != StatusPreparing {
		logger.Debug("Task not runnable", zap.String("status", string(t.Status)))
		return
	}
	ok, err := e.store.CompareAndSetStatus(ctx, id, StatusPreparing, StatusExecuting)
	if err != nil || !ok {
		logger.Debug("Task claimed elsewhere", zap.Error(err))
		return
	}
	t.Status = StatusExecuting

	start := time.Now()
	var result Result
	ex := e.executor(t.Type)
	if ex == nil {
		err = fmt.Errorf("%w: %s", ErrNoExecutor, t.Type)
	} else {
		snapshot := *t
		result, err = invoke(ctx, ex, &snapshot)
	}

	if _, retry := result.(Retry); ctx.Err() != nil && (err != nil || retry) {
		// shutdown: leave it for the next start
		t.Status = StatusPreparing
		if uerr := e.store.Update(context.Background(), t); uerr != nil {
			logger.Warn("Failed to park interrupted task", zap.Error(uerr))
		}
		return
	}

	e.apply(t, start, result, err, logger)
}

func invoke(ctx context.Context, ex Executor, t *Task) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = NewError(CodeUnhandled, fmt.Sprintf("executor panicked: %v", r), nil)
		}
	}()
	return ex.Execute(ctx, t)
}

func (e *Engine) apply(t *Task, start time.Time, result Result, err error, logger *zap.Logger) {
	if err == nil && result == nil {
		err = NewError(CodeUnhandled, "executor returned no result", nil)
	}

	retry := false
	if err != nil {
		t.ExtraInfo = appendHistory(t.ExtraInfo, start, err)
		t.Status = StatusFailure
		logger.Error("Task failed with unhandled error",
			zap.String("type", string(t.Type)),
			zap.Int64("subject_id", t.SubjectID),
			zap.Error(err))
	} else {
		switch r := result.(type) {
		case Success:
			if r.ExtraInfo != nil {
				t.ExtraInfo = r.ExtraInfo
			}
			t.Status = StatusSuccess
		case Retry:
			if r.ExtraInfo != nil {
				t.ExtraInfo = r.ExtraInfo
			}
			t.Status = StatusPreparing
			retry = true
		case Fatal:
			if r.ExtraInfo != nil {
				t.ExtraInfo = r.ExtraInfo
			}
			t.Status = StatusFailure
		default:
			t.Status = StatusFailure
			logger.Error("Executor returned unknown result", zap.String("result", fmt.Sprintf("%T", r)))
		}
	}

	if uerr := e.store.Update(context.Background(), t); uerr != nil {
		logger.Error("Failed to persist task result", zap.Error(uerr))
		return
	}

	if retry {
		attempt := len(Histories(t.ExtraInfo))
		delay := e.backoff(attempt)
		logger.Info("Task scheduled for retry",
			zap.String("type", string(t.Type)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		e.resubmitAfter(t.ID, delay)
		return
	}

	logger.Debug("Task finished",
		zap.String("type", string(t.Type)),
		zap.String("status", string(t.Status)),
		zap.Duration("took", time.Since(start)))

	e.mu.RLock()
	listeners := e.listeners
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(*t)
	}
}

func (e *Engine) resubmitAfter(id int64, delay time.Duration) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-e.ctx.Done():
			return
		case <-timer.C:
		}
		if err := e.Submit(e.ctx, id); err != nil && !errors.Is(err, ErrEngineStopped) {
			e.logger.Warn("Failed to resubmit task", zap.Int64("task_id", id), zap.Error(err))
		}
	}()
}
