package pull

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/berrythewa/pastesync/internal/fileindex"
	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/task"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FileExecutor runs pull_file tasks: it fetches every chunk still missing
// from pullChunks, concurrently, and finalizes the paste when none remain.
type FileExecutor struct {
	store     PasteStore
	client    Client
	directory Directory
	indexes   *fileindex.Cache
	progress  *Progress
	finalizer Finalizer
	locks     *KeyedMutex
	bound     int
	logger    *zap.Logger
}

func NewFileExecutor(store PasteStore, client Client, directory Directory, indexes *fileindex.Cache,
	progress *Progress, finalizer Finalizer, logger *zap.Logger) *FileExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileExecutor{
		store:     store,
		client:    client,
		directory: directory,
		indexes:   indexes,
		progress:  progress,
		finalizer: finalizer,
		locks:     NewKeyedMutex(),
		bound:     task.DefaultRetryBound,
		logger:    logger.With(zap.String("component", "pull-file")),
	}
}

func (x *FileExecutor) Type() task.Type { return task.TypePullFile }

func (x *FileExecutor) Execute(ctx context.Context, t *task.Task) (task.Result, error) {
	var extra task.PullFileExtraInfo
	if err := task.Decode(t.ExtraInfo, &extra); err != nil {
		return nil, err
	}

	// one pull per paste at a time
	unlock := x.locks.Lock(strconv.FormatInt(t.SubjectID, 10))
	defer unlock()

	start := time.Now()
	d, err := x.store.Get(ctx, t.SubjectID)
	if err != nil {
		extra.AddHistory(start, task.NewError(task.CodePasteNotFound, "paste to pull is gone", err))
		x.progress.Remove(t.SubjectID)
		return task.Fatal{ExtraInfo: task.Encode(extra)}, nil
	}
	logger := x.logger.With(zap.Int64("paste_id", d.ID), zap.String("device_id", d.Coordinate.DeviceID))

	idx := x.indexes.Get(d)
	total := idx.ChunkCount()
	if len(extra.PullChunks) != total {
		extra.PullChunks = make([]bool, total)
	}
	missing := make([]int, 0, total)
	for i, ok := range extra.PullChunks {
		if !ok {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return x.finish(ctx, d, idx, extra, start), nil
	}

	ep, err := x.directory.Resolve(ctx, d.Coordinate.DeviceID)
	if err != nil {
		return x.fail(ctx, d, nil, extra, start, task.NewError(task.CodePullFileResolve, "cannot reach source device", err)), nil
	}

	completed := total - len(missing)
	var (
		mu       sync.Mutex
		firstErr error
		g        errgroup.Group
	)
	for _, i := range missing {
		g.Go(func() error {
			err := x.pullChunk(ctx, ep, d, idx, i)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Debug("Chunk pull failed", zap.Int("chunk", i), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			extra.PullChunks[i] = true
			completed++
			x.progress.Update(d.ID, completed, total)
			return nil
		})
	}
	_ = g.Wait()

	if completed == total {
		return x.finish(ctx, d, idx, extra, start), nil
	}
	logger.Info("Pull incomplete",
		zap.Int("completed", completed),
		zap.Int("total", total))
	return x.fail(ctx, d, &ep, extra, start, task.NewError(task.CodePullFileChunk, "chunks missing after pull", firstErr)), nil
}

func (x *FileExecutor) pullChunk(ctx context.Context, ep Endpoint, d *paste.Data, idx *fileindex.Index, i int) error {
	c, err := idx.Chunk(i)
	if err != nil {
		return err
	}
	data, err := x.client.PullChunk(ctx, ep, d.Coordinate.ID, i)
	if err != nil {
		return err
	}
	return fileindex.WriteChunk(c, data)
}

func (x *FileExecutor) finish(ctx context.Context, d *paste.Data, idx *fileindex.Index, extra task.PullFileExtraInfo, start time.Time) task.Result {
	defer x.progress.Remove(d.ID)
	if err := fileindex.TouchEmpty(idx); err != nil {
		extra.AddHistory(start, task.NewError(task.CodePullFileLocalIO, "cannot create empty files", err))
		return task.Fatal{ExtraInfo: task.Encode(extra)}
	}
	if err := x.finalizer.Finalize(ctx, d); err != nil {
		extra.AddHistory(start, task.NewError(task.CodePullFileLocalIO, "cannot finalize paste", err))
		return task.Fatal{ExtraInfo: task.Encode(extra)}
	}
	x.logger.Info("Pull complete", zap.Int64("paste_id", d.ID), zap.Int("chunks", idx.ChunkCount()))
	return task.Success{ExtraInfo: task.Encode(extra)}
}

// fail records err and either retries or, once the bound is reached, rolls
// back the sender's staged copy and gives up.
func (x *FileExecutor) fail(ctx context.Context, d *paste.Data, ep *Endpoint, extra task.PullFileExtraInfo, start time.Time, err error) task.Result {
	extra.AddHistory(start, err)
	if extra.ShouldRetry(x.bound) {
		return task.Retry{ExtraInfo: task.Encode(extra)}
	}

	logger := x.logger.With(zap.Int64("paste_id", d.ID))
	if ep == nil {
		if resolved, rerr := x.directory.Resolve(ctx, d.Coordinate.DeviceID); rerr == nil {
			ep = &resolved
		}
	}
	if ep != nil {
		if rerr := x.client.Rollback(ctx, *ep, d.Coordinate.ID); rerr != nil {
			logger.Warn("Remote rollback failed", zap.Error(rerr))
		}
	} else {
		logger.Warn("Skipping remote rollback, source device unreachable")
	}
	if aerr := x.finalizer.Abandon(ctx, d); aerr != nil {
		logger.Warn("Failed to abandon paste", zap.Error(aerr))
	}
	x.progress.Remove(d.ID)
	logger.Error("Pull failed permanently", zap.Error(err))
	return task.Fatal{ExtraInfo: task.Encode(extra)}
}
