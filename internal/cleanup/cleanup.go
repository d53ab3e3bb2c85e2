// Package cleanup evicts old and excess history. Both passes are advisory:
// a failing pass is reported and never undoes the work of the other.
package cleanup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/berrythewa/pastesync/internal/config"
	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/task"
	"go.uber.org/zap"
)

// Store is the slice of the content store cleanup needs. Favorites are
// never counted nor deleted.
type Store interface {
	SizeQuerier
	OldestCreateTime(ctx context.Context) (time.Time, bool, error)
	NonFavoriteSize(ctx context.Context) (int64, error)
	// MarkDeletedBefore deletes items created at or before t, restricted to
	// kinds when any are given.
	MarkDeletedBefore(ctx context.Context, t time.Time, kinds ...paste.Type) (int, error)
}

// Policy is the subset of config.CleanupConfig the passes consume.
type Policy struct {
	ImageRetention    time.Duration
	FileRetention     time.Duration
	MaxStorageSize    int64
	CleanupPercentage int
}

func PolicyFromConfig(c config.CleanupConfig) Policy {
	return Policy{
		ImageRetention:    c.ImageRetention,
		FileRetention:     c.FileRetention,
		MaxStorageSize:    c.MaxStorageSize,
		CleanupPercentage: c.CleanupPercentage,
	}
}

// Report summarizes one run.
type Report struct {
	AgeDeleted       int
	ThresholdDeleted int
	Cutoff           time.Time
	Queries          int
}

// Executor runs cleanup tasks. Runs never overlap.
type Executor struct {
	store  Store
	policy Policy
	now    func() time.Time
	mu     sync.Mutex
	logger *zap.Logger
}

func NewExecutor(store Store, policy Policy, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:  store,
		policy: policy,
		now:    time.Now,
		logger: logger.With(zap.String("component", "cleanup")),
	}
}

func (x *Executor) Type() task.Type { return task.TypeCleanup }

func (x *Executor) Execute(ctx context.Context, t *task.Task) (task.Result, error) {
	var extra task.CleanupExtraInfo
	if err := task.Decode(t.ExtraInfo, &extra); err != nil {
		return nil, err
	}

	start := time.Now()
	report, err := x.Run(ctx)
	extra.AgeDeleted = report.AgeDeleted
	extra.ThresholdDeleted = report.ThresholdDeleted
	if !report.Cutoff.IsZero() {
		extra.Cutoff = report.Cutoff.UnixMilli()
	}
	if err == nil {
		return task.Success{ExtraInfo: task.Encode(extra)}, nil
	}

	extra.AddHistory(start, task.NewError(task.CodeCleanup, "cleanup pass failed", err))
	if extra.ShouldRetry(task.ShortRetryBound) {
		return task.Retry{ExtraInfo: task.Encode(extra)}, nil
	}
	return task.Fatal{ExtraInfo: task.Encode(extra)}, nil
}

// Run performs the age pass then the threshold pass. Errors of both are
// joined; the report reflects whatever was applied.
func (x *Executor) Run(ctx context.Context) (Report, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var report Report
	now := x.now()

	ageErr := x.agePass(ctx, now, &report)
	if ageErr != nil {
		x.logger.Warn("Age based cleanup failed", zap.Error(ageErr))
	}
	thresholdErr := x.thresholdPass(ctx, now, &report)
	if thresholdErr != nil {
		x.logger.Warn("Threshold based cleanup failed", zap.Error(thresholdErr))
	}

	if report.AgeDeleted > 0 || report.ThresholdDeleted > 0 {
		x.logger.Info("Cleanup removed items",
			zap.Int("age_deleted", report.AgeDeleted),
			zap.Int("threshold_deleted", report.ThresholdDeleted),
			zap.Time("cutoff", report.Cutoff))
	}
	return report, errors.Join(ageErr, thresholdErr)
}

func (x *Executor) agePass(ctx context.Context, now time.Time, report *Report) error {
	windows := []struct {
		kind      paste.Type
		retention time.Duration
	}{
		{paste.TypeImages, x.policy.ImageRetention},
		{paste.TypeFiles, x.policy.FileRetention},
	}
	var errs []error
	for _, w := range windows {
		if w.retention <= 0 {
			continue
		}
		n, err := x.store.MarkDeletedBefore(ctx, now.Add(-w.retention), w.kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.AgeDeleted += n
	}
	return errors.Join(errs...)
}

func (x *Executor) thresholdPass(ctx context.Context, now time.Time, report *Report) error {
	if x.policy.MaxStorageSize <= 0 || x.policy.CleanupPercentage <= 0 {
		return nil
	}
	total, err := x.store.NonFavoriteSize(ctx)
	if err != nil {
		return err
	}
	if total <= x.policy.MaxStorageSize {
		return nil
	}
	cleanSize := total * int64(x.policy.CleanupPercentage) / 100
	if cleanSize <= 0 {
		return nil
	}
	oldest, ok, err := x.store.OldestCreateTime(ctx)
	if err != nil || !ok {
		return err
	}

	cutoff, queries, err := FindCutoff(ctx, x.store, oldest, now, total, cleanSize)
	report.Queries = queries
	if err != nil {
		return err
	}
	n, err := x.store.MarkDeletedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	report.Cutoff = cutoff
	report.ThresholdDeleted = n
	x.logger.Debug("Threshold cutoff found",
		zap.Int64("total", total),
		zap.Int64("clean_size", cleanSize),
		zap.Int("queries", queries))
	return nil
}
