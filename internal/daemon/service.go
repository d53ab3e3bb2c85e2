// Package daemon assembles the capture, storage, task and sync components
// into one running service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/berrythewa/pastesync/internal/cleanup"
	"github.com/berrythewa/pastesync/internal/clipboard"
	"github.com/berrythewa/pastesync/internal/config"
	"github.com/berrythewa/pastesync/internal/fileindex"
	"github.com/berrythewa/pastesync/internal/ipc"
	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/platform"
	"github.com/berrythewa/pastesync/internal/pull"
	"github.com/berrythewa/pastesync/internal/storage"
	psync "github.com/berrythewa/pastesync/internal/sync"
	"github.com/berrythewa/pastesync/internal/task"
	"go.uber.org/zap"
)

const (
	stagingSize = 1024
	stagingTTL  = time.Hour
)

// Options overrides parts of the service, mainly for tests.
type Options struct {
	// Watcher replaces the watcher named in the config
	Watcher clipboard.Watcher
}

// Service is one running device.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	content   *storage.BoltStorage
	taskStore *task.BoltStore
	engine    *task.Engine
	progress  *pull.Progress
	indexes   *fileindex.Cache
	cleaner   *cleanup.Executor
	receiver  *Receiver
	watcher   clipboard.Watcher
	monitor   *clipboard.Monitor

	// nil when sync is disabled
	node      *psync.Node
	directory *psync.Directory
	server    *psync.Server

	lastCleanup int64
}

// NewService opens the stores and builds every component. Nothing runs
// until Run.
func NewService(cfg *config.Config, logger *zap.Logger, opts Options) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.SystemPaths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to create data directories: %w", err)
	}
	for _, p := range []string{cfg.Storage.DBPath, cfg.Storage.TaskDBPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	s := &Service{cfg: cfg, logger: logger.With(zap.String("component", "service"))}
	resolver := cfg.SystemPaths

	var err error
	s.content, err = storage.NewBoltStorage(storage.StorageConfig{
		DBPath:   cfg.Storage.DBPath,
		Resolver: resolver,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	s.taskStore, err = task.NewBoltStore(cfg.Storage.TaskDBPath, logger)
	if err != nil {
		s.content.Close()
		return nil, err
	}

	s.engine = task.NewEngine(s.taskStore, task.Options{
		Workers:      cfg.Task.Workers,
		QueueSize:    cfg.Task.QueueSize,
		BaseDelay:    cfg.Task.RetryBaseDelay,
		MaxDelay:     cfg.Task.RetryMaxDelay,
		KeepTerminal: cfg.Task.KeepTerminal,
		Logger:       logger,
	})
	s.progress = pull.NewProgress()
	s.indexes = fileindex.NewCache(cfg.FileIndex.CacheSize, cfg.FileIndex.CacheTTL, cfg.FileIndex.ChunkSize, resolver)
	s.content.OnDelete(s.indexes.Invalidate)
	s.cleaner = cleanup.NewExecutor(s.content, cleanup.PolicyFromConfig(cfg.Cleanup), logger)
	s.engine.Register(s.cleaner)

	s.receiver = NewReceiver(s.content, s.engine, resolver, cfg.Sync.SyncToDownload, cfg.Sync.MaxFileSize, logger)

	s.watcher = opts.Watcher
	if s.watcher == nil {
		s.watcher, err = platform.NewWatcher(cfg.Watcher, platform.Options{
			PollingInterval: cfg.PollingInterval,
			Logger:          logger,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	registry := clipboard.NewRegistry(cfg.DeviceID, logger, clipboard.DefaultPlugins(resolver)...)
	if cfg.Sync.MaxFileSize > 0 {
		registry.AddFilter(clipboard.SizeFilter{MaxSize: cfg.Sync.MaxFileSize})
	}
	s.monitor = clipboard.NewMonitor(s.watcher, registry, s.content, logger)
	s.receiver.SetClipboard(s.watcher, s.monitor.Remember)

	if cfg.Sync.Enabled {
		if err := s.initSync(logger); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) initSync(logger *zap.Logger) error {
	cfg := s.cfg
	node, err := psync.NewNode(cfg.Sync, cfg.SystemPaths.IdentityFile, logger)
	if err != nil {
		return err
	}
	s.node = node

	client := psync.NewClient(node.Host(), cfg.DeviceID, logger)
	s.directory = psync.NewDirectory(node.Host(), client, logger)
	if err := s.directory.AddStatic(cfg.Sync.Peers); err != nil {
		return err
	}
	staging := psync.NewStaging(stagingSize, stagingTTL)

	s.server = psync.NewServer(psync.ServerConfig{
		Host:      node.Host(),
		DeviceID:  cfg.DeviceID,
		Store:     s.content,
		Indexes:   s.indexes,
		Staging:   staging,
		Resolver:  cfg.SystemPaths,
		Directory: s.directory,
		Receiver:  s.receiver,
		Logger:    logger,
	})

	s.engine.Register(
		pull.NewFileExecutor(s.content, client, s.directory, s.indexes, s.progress, s.receiver, logger),
		pull.NewIconExecutor(client, s.directory, cfg.SystemPaths, logger),
		psync.NewFanoutExecutor(s.content, client, s.directory, staging, cfg.DeviceID, logger),
	)
	s.monitor.OnCapture(func(ctx context.Context, d *paste.Data) {
		if _, err := s.engine.Create(ctx, task.TypeSyncFanout, d.ID, task.SyncExtraInfo{}); err != nil {
			s.logger.Warn("Failed to schedule fan-out", zap.Int64("paste_id", d.ID), zap.Error(err))
		}
	})
	return nil
}

// Run starts every component and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.engine.Start(ctx); err != nil {
		return err
	}
	defer s.engine.Stop()

	if s.server != nil {
		s.server.Start(ctx)
		defer s.server.Stop()
		if s.cfg.Sync.EnableMDNS {
			if err := s.node.StartMDNS(s.cfg.Sync.ServiceTag, s.directory); err != nil {
				s.logger.Warn("mDNS discovery unavailable", zap.Error(err))
			}
		}
		if s.cfg.Sync.EnableDHT {
			router, err := s.node.StartDHT(ctx, s.cfg.Sync.BootstrapPeers)
			if err != nil {
				s.logger.Warn("DHT peer routing unavailable", zap.Error(err))
			} else {
				s.directory.SetRouter(router)
			}
		}
		if s.cfg.Sync.EnablePresence {
			interval := time.Duration(s.cfg.Sync.PresenceInterval) * time.Second
			presence := psync.NewPresence(s.node, s.cfg.DeviceID, s.directory, interval, s.logger)
			if err := presence.Start(ctx, s.cfg.Sync.ServiceTag); err != nil {
				s.logger.Warn("Presence announcements unavailable", zap.Error(err))
			} else {
				defer presence.Stop()
			}
		}
		s.logger.Info("Sync enabled",
			zap.String("peer_id", s.node.ID().String()),
			zap.Strings("addrs", s.node.P2PAddrs()))
	}

	control := ipc.NewServer(ipc.SocketPath(s.cfg.SystemPaths.DataDir), s.handleControl(ctx), s.logger)
	if err := control.Start(ctx); err != nil {
		s.logger.Warn("Control socket unavailable, CLI commands need the service stopped", zap.Error(err))
	} else {
		defer control.Stop()
	}

	if err := s.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start clipboard monitor: %w", err)
	}
	defer s.monitor.Stop()

	if s.cfg.Cleanup.Enabled {
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.scheduleCleanup(ctx)
		}()
		defer func() { <-done }()
	}

	s.logger.Info("Service started", zap.String("device_id", s.cfg.DeviceID))
	<-ctx.Done()
	s.logger.Info("Service stopping")
	return nil
}

// scheduleCleanup creates a cleanup task now and then every interval,
// skipping a round while the previous task is still pending.
func (s *Service) scheduleCleanup(ctx context.Context) {
	interval := s.cfg.Cleanup.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.submitCleanup(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) submitCleanup(ctx context.Context) {
	if s.lastCleanup != 0 {
		if t, err := s.taskStore.Get(ctx, s.lastCleanup); err == nil && !t.Status.Terminal() {
			s.logger.Debug("Cleanup still pending", zap.Int64("task_id", t.ID))
			return
		}
	}
	id, err := s.engine.Create(ctx, task.TypeCleanup, 0, task.CleanupExtraInfo{})
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, task.ErrEngineStopped) {
			s.logger.Warn("Failed to schedule cleanup", zap.Error(err))
		}
		return
	}
	s.lastCleanup = id
}

// Progress reports file transfer progress of received pastes.
func (s *Service) Progress() *pull.Progress { return s.progress }

// Close releases the stores and the network node.
func (s *Service) Close() error {
	var errs []error
	if s.node != nil {
		errs = append(errs, s.node.Close())
	}
	if s.taskStore != nil {
		errs = append(errs, s.taskStore.Close())
	}
	if s.content != nil {
		errs = append(errs, s.content.Close())
	}
	return errors.Join(errs...)
}
