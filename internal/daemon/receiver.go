package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/pull"
	"github.com/berrythewa/pastesync/internal/task"
	"github.com/berrythewa/pastesync/pkg/utils"
	"go.uber.org/zap"
)

// ContentStore is the subset of the content store the receiver needs.
type ContentStore interface {
	Persist(ctx context.Context, d *paste.Data) (int64, bool, error)
	Get(ctx context.Context, id int64) (*paste.Data, error)
	MarkLoaded(ctx context.Context, id int64) error
	SetState(ctx context.Context, id int64, state paste.State) error
}

// TaskCreator persists and submits a task.
type TaskCreator interface {
	Create(ctx context.Context, typ task.Type, subjectID int64, extra any) (int64, error)
}

// ClipboardWriter puts received text on the local clipboard.
type ClipboardWriter interface {
	WriteText(text string) error
}

// Receiver stores pastes pushed by other devices and schedules the pulls
// their files and icons need. It is also the finalizer of pull_file tasks.
type Receiver struct {
	store          ContentStore
	tasks          TaskCreator
	resolver       paste.PathResolver
	syncToDownload bool
	maxFileSize    int64
	logger         *zap.Logger

	mu        sync.Mutex
	clipboard ClipboardWriter
	remember  func(hash string)
}

func NewReceiver(store ContentStore, tasks TaskCreator, resolver paste.PathResolver,
	syncToDownload bool, maxFileSize int64, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		store:          store,
		tasks:          tasks,
		resolver:       resolver,
		syncToDownload: syncToDownload,
		maxFileSize:    maxFileSize,
		logger:         logger.With(zap.String("component", "receiver")),
	}
}

// SetClipboard makes loaded text pastes replace the local clipboard.
// remember is told the hash first so the write is not captured again.
func (r *Receiver) SetClipboard(w ClipboardWriter, remember func(hash string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clipboard, r.remember = w, remember
}

func (r *Receiver) Receive(ctx context.Context, fromDevice string, d *paste.Data) error {
	if d.Primary == nil {
		return fmt.Errorf("%w: paste without content", paste.ErrInvalidItem)
	}
	if err := d.CheckNames(); err != nil {
		r.logger.Warn("Rejecting paste with unsafe names", zap.String("from", fromDevice), zap.Error(err))
		return err
	}
	d.ID = 0
	d.Favorite = false
	d.Bind(r.syncToDownload, r.resolver)

	hasFiles := d.HasFiles()
	if hasFiles && r.maxFileSize > 0 && d.Size() > r.maxFileSize {
		r.logger.Info("Skipping paste over the file size limit",
			zap.String("from", fromDevice),
			zap.Int64("size", d.Size()),
			zap.Int64("limit", r.maxFileSize))
		return nil
	}
	if hasFiles {
		d.State = paste.StateLoading
	} else {
		d.State = paste.StateLoaded
	}

	var reserved []string
	if hasFiles && r.syncToDownload {
		var err error
		if reserved, err = r.reserveDownloads(d); err != nil {
			return err
		}
	}

	id, created, err := r.store.Persist(ctx, d)
	if err != nil {
		releaseReserved(reserved)
		return err
	}
	if !created {
		releaseReserved(reserved)
		r.logger.Debug("Received paste already stored", zap.Int64("paste_id", id))
		return nil
	}
	d.ID = id
	r.logger.Info("Paste received",
		zap.String("from", fromDevice),
		zap.Int64("paste_id", id),
		zap.String("type", string(d.Type())),
		zap.Int64("size", d.Size()))

	if d.Source != "" && !utils.Exists(r.resolver.Resolve(paste.CategoryIcon, pull.IconRelPath(d.Source))) {
		extra := task.PullIconExtraInfo{Source: d.Source, DeviceID: d.Coordinate.DeviceID}
		if _, err := r.tasks.Create(ctx, task.TypePullIcon, id, extra); err != nil {
			r.logger.Warn("Failed to schedule icon pull", zap.Int64("paste_id", id), zap.Error(err))
		}
	}

	if hasFiles {
		_, err := r.tasks.Create(ctx, task.TypePullFile, id, task.PullFileExtraInfo{})
		return err
	}
	return r.Finalize(ctx, d)
}

// reserveDownloads claims a free name in the downloads directory for every
// top-level entry of d, renaming entries that clash with existing files.
// It returns the reserved paths.
func (r *Receiver) reserveDownloads(d *paste.Data) ([]string, error) {
	dir := r.resolver.DownloadDir()
	var reserved []string
	bind := func(item paste.Item) (paste.Item, error) {
		f, ok := item.(paste.FilesItem)
		if !ok {
			return item, nil
		}
		trees := f.FileInfoTreeMap()
		local := make(map[string]string, len(trees))
		for _, name := range f.Names() {
			got, err := utils.ReserveName(dir, name, !trees[name].IsFile())
			if err != nil {
				return nil, err
			}
			reserved = append(reserved, filepath.Join(dir, got))
			local[name] = got
			if got != name {
				r.logger.Info("Renamed received entry to avoid overwriting",
					zap.String("name", name),
					zap.String("local_name", got))
			}
		}
		return f.Rename(local), nil
	}

	primary, err := bind(d.Primary)
	if err != nil {
		releaseReserved(reserved)
		return nil, err
	}
	secondary := make([]paste.Item, len(d.Secondary))
	for i, item := range d.Secondary {
		if secondary[i], err = bind(item); err != nil {
			releaseReserved(reserved)
			return nil, err
		}
	}
	d.Primary, d.Secondary = primary, secondary
	return reserved, nil
}

// releaseReserved removes placeholders that never received data.
func releaseReserved(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// Finalize marks d loaded and, for text content, writes it to the clipboard.
func (r *Receiver) Finalize(ctx context.Context, d *paste.Data) error {
	if err := r.store.MarkLoaded(ctx, d.ID); err != nil {
		return err
	}
	d.State = paste.StateLoaded

	text, ok := clipboardText(d.Primary)
	if !ok {
		return nil
	}
	r.mu.Lock()
	w, remember := r.clipboard, r.remember
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	if remember != nil {
		remember(d.Hash())
	}
	if err := w.WriteText(text); err != nil {
		// the paste itself is stored, only the clipboard is stale
		r.logger.Warn("Failed to write clipboard", zap.Int64("paste_id", d.ID), zap.Error(err))
	}
	return nil
}

// Abandon marks d failed after its transfer was given up.
func (r *Receiver) Abandon(ctx context.Context, d *paste.Data) error {
	return r.store.SetState(ctx, d.ID, paste.StateFailed)
}

func clipboardText(item paste.Item) (string, bool) {
	switch v := item.(type) {
	case paste.TextItem:
		return v.Text(), true
	case paste.URLItem:
		return v.URL(), true
	case paste.HTMLItem:
		return v.Text(), true
	case paste.RTFItem:
		return v.Text(), true
	case paste.ColorItem:
		return paste.FormatColor(v.Color()), true
	}
	return "", false
}
