package sync

import (
	"context"
	"fmt"
	"slices"
	"sort"
	gosync "sync"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/pull"
	"github.com/berrythewa/pastesync/internal/task"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pusher delivers a paste record to one device.
type Pusher interface {
	Push(ctx context.Context, ep pull.Endpoint, d *paste.Data) error
}

// Devices resolves and enumerates known devices.
type Devices interface {
	pull.Directory
	Devices() []string
}

// FanoutExecutor runs sync_fanout tasks: it pushes a local paste to every
// known device. Devices that could not be reached are kept in the task
// and only those are retried.
type FanoutExecutor struct {
	store    pull.PasteStore
	pusher   Pusher
	devices  Devices
	staging  *Staging
	deviceID string
	bound    int
	logger   *zap.Logger
}

func NewFanoutExecutor(store pull.PasteStore, pusher Pusher, devices Devices, staging *Staging, deviceID string, logger *zap.Logger) *FanoutExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FanoutExecutor{
		store:    store,
		pusher:   pusher,
		devices:  devices,
		staging:  staging,
		deviceID: deviceID,
		bound:    task.DefaultRetryBound,
		logger:   logger.With(zap.String("component", "sync-fanout")),
	}
}

func (x *FanoutExecutor) Type() task.Type { return task.TypeSyncFanout }

func (x *FanoutExecutor) Execute(ctx context.Context, t *task.Task) (task.Result, error) {
	var extra task.SyncExtraInfo
	if err := task.Decode(t.ExtraInfo, &extra); err != nil {
		return nil, err
	}
	start := time.Now()

	d, err := x.store.Get(ctx, t.SubjectID)
	if err != nil {
		extra.AddHistory(start, task.NewError(task.CodePasteNotFound, "paste to sync is gone", err))
		return task.Fatal{ExtraInfo: task.Encode(extra)}, nil
	}
	// only the origin device serves a paste
	if d.State == paste.StateDeleted || d.Coordinate.DeviceID != x.deviceID {
		return task.Success{}, nil
	}

	targets := extra.FailDeviceIDs
	if len(targets) == 0 {
		targets = x.devices.Devices()
	}
	targets = slices.DeleteFunc(slices.Clone(targets), func(id string) bool { return id == x.deviceID })
	if len(targets) == 0 {
		extra.FailDeviceIDs = nil
		return task.Success{ExtraInfo: task.Encode(extra)}, nil
	}

	var (
		mu     gosync.Mutex
		failed []string
		g      errgroup.Group
	)
	for _, deviceID := range targets {
		g.Go(func() error {
			if err := x.pushTo(ctx, deviceID, d); err != nil {
				x.logger.Debug("Push failed", zap.String("device_id", deviceID), zap.Error(err))
				mu.Lock()
				failed = append(failed, deviceID)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(failed)
	extra.FailDeviceIDs = failed
	if len(failed) == 0 {
		x.logger.Debug("Paste synced", zap.Int64("paste_id", d.ID), zap.Int("devices", len(targets)))
		return task.Success{ExtraInfo: task.Encode(extra)}, nil
	}

	extra.AddHistory(start, task.NewError(task.CodeSyncPush,
		fmt.Sprintf("%d of %d devices unreachable", len(failed), len(targets)), nil))
	if extra.ShouldRetry(x.bound) {
		return task.Retry{ExtraInfo: task.Encode(extra)}, nil
	}
	x.logger.Warn("Giving up on devices",
		zap.Int64("paste_id", d.ID),
		zap.Strings("device_ids", failed))
	return task.Fatal{ExtraInfo: task.Encode(extra)}, nil
}

func (x *FanoutExecutor) pushTo(ctx context.Context, deviceID string, d *paste.Data) error {
	ep, err := x.devices.Resolve(ctx, deviceID)
	if err != nil {
		return err
	}
	var p peer.ID
	if d.HasFiles() {
		if p, err = peer.Decode(ep.PeerID); err != nil {
			return err
		}
		x.staging.Stage(d.ID, p)
	}
	if err := x.pusher.Push(ctx, ep, d); err != nil {
		if d.HasFiles() {
			x.staging.Release(d.ID, p)
		}
		return err
	}
	return nil
}
