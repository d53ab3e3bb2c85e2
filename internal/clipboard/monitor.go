package clipboard

import (
	"context"
	"errors"
	"sync"

	"github.com/berrythewa/pastesync/internal/paste"
	"go.uber.org/zap"
)

// Store persists captured pastes. created is false when an identical live
// paste already exists.
type Store interface {
	Persist(ctx context.Context, d *paste.Data) (id int64, created bool, err error)
}

// CaptureFunc is called for every newly stored local capture.
type CaptureFunc func(ctx context.Context, d *paste.Data)

// Monitor turns watcher events into stored pastes.
type Monitor struct {
	watcher  Watcher
	registry *Registry
	store    Store
	logger   *zap.Logger

	mu        sync.Mutex
	lastHash  string
	onCapture []CaptureFunc

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(watcher Watcher, registry *Registry, store Store, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		watcher:  watcher,
		registry: registry,
		store:    store,
		logger:   logger.With(zap.String("component", "clipboard-monitor")),
	}
}

// OnCapture registers fn for new captures. Call before Start.
func (m *Monitor) OnCapture(fn CaptureFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCapture = append(m.onCapture, fn)
}

// Start begins consuming watcher events in the background.
func (m *Monitor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	events, err := m.watcher.Watch(ctx)
	if err != nil {
		cancel()
		return err
	}
	m.cancel = cancel
	m.done = make(chan struct{})
	m.logger.Info("Starting clipboard monitor")

	go func() {
		defer close(m.done)
		for ev := range events {
			if _, err := m.Process(ctx, ev); err != nil && !errors.Is(err, ErrNoContent) && ctx.Err() == nil {
				m.logger.Error("Failed to process clipboard change", zap.Error(err))
			}
		}
	}()
	return nil
}

// Stop cancels the watcher and waits for the event loop to drain.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.logger.Info("Clipboard monitor stopped")
}

// Process ingests one event. It returns the stored paste, or nil when the
// content did not change since the last event.
func (m *Monitor) Process(ctx context.Context, ev Event) (*paste.Data, error) {
	d, err := m.registry.Ingest(ctx, ev.Snapshot, ev.Source)
	if err != nil {
		return nil, err
	}

	hash := d.Hash()
	m.mu.Lock()
	if hash == m.lastHash {
		m.mu.Unlock()
		m.registry.Discard(d)
		return nil, nil
	}
	m.lastHash = hash
	listeners := m.onCapture
	m.mu.Unlock()

	id, created, err := m.store.Persist(ctx, d)
	if err != nil {
		m.registry.Discard(d)
		return nil, err
	}
	d.ID = id
	if d.Coordinate.ID == 0 {
		d.Coordinate.ID = id
	}
	if !created {
		// the stored record keeps its own files
		m.registry.Discard(d)
		m.logger.Debug("Clipboard content already stored", zap.Int64("paste_id", id))
		return d, nil
	}

	m.logger.Info("New clipboard content captured",
		zap.Int64("paste_id", id),
		zap.String("type", string(d.Type())),
		zap.Int64("size", d.Size()))
	for _, fn := range listeners {
		fn(ctx, d)
	}
	return d, nil
}

// Remember records hash as the current clipboard content so that writing
// it back to the clipboard is not captured again.
func (m *Monitor) Remember(hash string) {
	m.mu.Lock()
	m.lastHash = hash
	m.mu.Unlock()
}
