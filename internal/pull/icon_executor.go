package pull

import (
	"context"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/task"
	"github.com/berrythewa/pastesync/pkg/utils"
	"go.uber.org/zap"
)

// IconExecutor runs pull_icon tasks. At most one fetch per source label is
// in flight; later tasks for the same label find the icon already stored.
type IconExecutor struct {
	client    Client
	directory Directory
	resolver  paste.PathResolver
	locks     *KeyedMutex
	bound     int
	logger    *zap.Logger
}

func NewIconExecutor(client Client, directory Directory, resolver paste.PathResolver, logger *zap.Logger) *IconExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IconExecutor{
		client:    client,
		directory: directory,
		resolver:  resolver,
		locks:     NewKeyedMutex(),
		bound:     task.ShortRetryBound,
		logger:    logger.With(zap.String("component", "pull-icon")),
	}
}

func (x *IconExecutor) Type() task.Type { return task.TypePullIcon }

func (x *IconExecutor) Execute(ctx context.Context, t *task.Task) (task.Result, error) {
	var extra task.PullIconExtraInfo
	if err := task.Decode(t.ExtraInfo, &extra); err != nil {
		return nil, err
	}

	unlock := x.locks.Lock(extra.Source)
	defer unlock()

	path := x.resolver.Resolve(paste.CategoryIcon, IconRelPath(extra.Source))
	if utils.Exists(path) {
		return task.Success{}, nil
	}

	start := time.Now()
	ep, err := x.directory.Resolve(ctx, extra.DeviceID)
	if err != nil {
		return x.fail(extra, start, err), nil
	}
	data, err := x.client.PullIcon(ctx, ep, extra.Source)
	if err != nil {
		return x.fail(extra, start, err), nil
	}
	if err := utils.WriteFileAtomic(path, data, 0644); err != nil {
		// local disk trouble will not fix itself
		extra.AddHistory(start, task.NewError(task.CodePullFileLocalIO, "cannot store icon", err))
		return task.Fatal{ExtraInfo: task.Encode(extra)}, nil
	}

	x.logger.Debug("Icon stored", zap.String("source", extra.Source), zap.Int("bytes", len(data)))
	return task.Success{ExtraInfo: task.Encode(extra)}, nil
}

func (x *IconExecutor) fail(extra task.PullIconExtraInfo, start time.Time, err error) task.Result {
	extra.AddHistory(start, task.NewError(task.CodePullIcon, "icon fetch failed", err))
	if extra.ShouldRetry(x.bound) {
		return task.Retry{ExtraInfo: task.Encode(extra)}
	}
	x.logger.Warn("Giving up on icon", zap.String("source", extra.Source), zap.Error(err))
	return task.Fatal{ExtraInfo: task.Encode(extra)}
}
