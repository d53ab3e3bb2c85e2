// Package platform provides clipboard watchers for the host system.
package platform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/berrythewa/pastesync/internal/clipboard"
	"go.uber.org/zap"
)

// Options configures a watcher.
type Options struct {
	// PollingInterval is the base interval of polling watchers
	PollingInterval int64
	Logger          *zap.Logger
}

// WatcherFactory creates a watcher from options.
type WatcherFactory func(Options) (clipboard.Watcher, error)

var (
	mu        sync.RWMutex
	factories = map[string]WatcherFactory{}
)

// RegisterWatcher makes a watcher implementation available by name.
func RegisterWatcher(name string, factory WatcherFactory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// NewWatcher creates the watcher registered under name.
func NewWatcher(name string, opts Options) (clipboard.Watcher, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown clipboard watcher %q (available: %v)", name, Watchers())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return factory(opts)
}

// Watchers lists the registered watcher names.
func Watchers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
