package platform

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	cb "github.com/berrythewa/pastesync/internal/clipboard"
	"github.com/berrythewa/pastesync/internal/paste"
	"go.uber.org/zap"
)

const (
	defaultPollingInterval = 500 * time.Millisecond
	// after this many unchanged reads the watcher slows down
	idleStreak  = 5
	idleFactor  = 4
	maxInterval = 5 * time.Second
)

func init() {
	RegisterWatcher("polling", func(opts Options) (cb.Watcher, error) {
		return NewPollingWatcher(time.Duration(opts.PollingInterval)*time.Millisecond, opts.Logger), nil
	})
}

// PollingWatcher reads the system clipboard as text on an interval that
// grows while the content stays the same.
type PollingWatcher struct {
	read         func() (string, error)
	write        func(string) error
	baseInterval time.Duration
	maxInterval  time.Duration
	logger       *zap.Logger

	mu          sync.Mutex
	lastContent string
	seeded      bool
}

func NewPollingWatcher(interval time.Duration, logger *zap.Logger) *PollingWatcher {
	if interval <= 0 {
		interval = defaultPollingInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollingWatcher{
		read:         clipboard.ReadAll,
		write:        clipboard.WriteAll,
		baseInterval: interval,
		maxInterval:  min(interval*idleFactor, max(maxInterval, interval)),
		logger:       logger.With(zap.String("component", "polling-watcher")),
	}
}

// Watch emits an event whenever the clipboard text changes. The content
// present when watching starts is not reported.
func (w *PollingWatcher) Watch(ctx context.Context) (<-chan cb.Event, error) {
	if clipboard.Unsupported {
		w.logger.Warn("System clipboard utilities not found, clipboard reads will fail")
	}
	if text, err := w.read(); err == nil {
		w.mu.Lock()
		w.lastContent, w.seeded = text, true
		w.mu.Unlock()
	}

	out := make(chan cb.Event)
	go func() {
		defer close(out)
		interval := w.baseInterval
		inactive := 0
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				w.logger.Debug("Stopping clipboard polling")
				return
			case <-timer.C:
			}

			snap, changed := w.poll()
			if changed {
				inactive = 0
				interval = w.baseInterval
				select {
				case out <- cb.Event{Snapshot: snap}:
				case <-ctx.Done():
					return
				}
			} else {
				inactive++
				if inactive > idleStreak {
					interval = w.maxInterval
				}
			}
			timer.Reset(interval)
		}
	}()
	return out, nil
}

func (w *PollingWatcher) poll() (cb.Snapshot, bool) {
	text, err := w.read()
	if err != nil {
		w.logger.Debug("Failed to read clipboard", zap.Error(err))
		return nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if text == "" || (w.seeded && text == w.lastContent) {
		return nil, false
	}
	w.lastContent, w.seeded = text, true
	return DetectFormats(text), true
}

// WriteText replaces the clipboard text. The written text is not reported
// as a change.
func (w *PollingWatcher) WriteText(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.write(text); err != nil {
		return err
	}
	w.lastContent, w.seeded = text, true
	return nil
}

// DetectFormats derives the formats a text-only clipboard implies.
func DetectFormats(text string) *cb.MapSnapshot {
	snap := cb.NewMapSnapshot()
	if files := fileList(text); len(files) > 0 {
		snap.Set(cb.FormatFiles, cb.Value{Files: files})
		return snap
	}
	trimmed := strings.TrimSpace(text)
	switch {
	case isHTML(trimmed):
		snap.Set(cb.FormatHTML, cb.Value{Text: text})
	case isRTF(trimmed):
		snap.Set(cb.FormatRTF, cb.Value{Text: text})
	case isColor(trimmed):
		snap.Set(cb.FormatColor, cb.Value{Text: trimmed})
	}
	snap.Set(cb.FormatText, cb.Value{Text: text})
	return snap
}

// fileList accepts a JSON array of paths, a uri-list or one path per line,
// as long as every entry exists.
func fileList(text string) []string {
	var files []string
	if err := json.Unmarshal([]byte(text), &files); err != nil {
		files = nil
		for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			files = append(files, strings.TrimPrefix(line, "file://"))
		}
	}
	if len(files) == 0 {
		return nil
	}
	for _, f := range files {
		if !strings.HasPrefix(f, "/") && !(len(f) > 2 && f[1] == ':') {
			return nil
		}
		if _, err := os.Stat(f); err != nil {
			return nil
		}
	}
	return files
}

func isHTML(text string) bool {
	if len(text) < 6 {
		return false
	}
	lower := strings.ToLower(text)
	for _, start := range []string{"<html", "<!doctype", "<meta", "<body"} {
		if strings.HasPrefix(lower, start) {
			return true
		}
	}
	return false
}

func isRTF(text string) bool {
	return len(text) > 5 && strings.HasPrefix(text, "{\\rtf")
}

func isColor(text string) bool {
	if !strings.HasPrefix(text, "#") {
		return false
	}
	_, err := paste.ParseColor(text)
	return err == nil
}
