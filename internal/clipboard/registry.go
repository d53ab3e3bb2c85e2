package clipboard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoContent means no plugin produced a valid item.
var ErrNoContent = errors.New("no clipboard content recognized")

// Draft is a plugin selected for a snapshot together with the formats it
// will read.
type Draft struct {
	Plugin      Plugin
	Identifiers []string
}

// Capture is a snapshot accepted for enrichment.
type Capture struct {
	Coordinate paste.Coordinate
	Source     string
	Drafts     []Draft
}

// Registry maps native formats to plugins.
type Registry struct {
	deviceID string
	plugins  []Plugin
	filters  []Filter
	logger   *zap.Logger
	now      func() time.Time
}

func NewRegistry(deviceID string, logger *zap.Logger, plugins ...Plugin) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	ps := slices.Clone(plugins)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Priority() < ps[j].Priority() })
	return &Registry{
		deviceID: deviceID,
		plugins:  ps,
		logger:   logger.With(zap.String("component", "clipboard-registry")),
		now:      time.Now,
	}
}

// AddFilter appends filters applied to every enriched item.
func (r *Registry) AddFilter(filters ...Filter) {
	r.filters = append(r.filters, filters...)
}

// Draft selects the plugins whose formats are present in snap. It returns
// nil when none apply.
func (r *Registry) Draft(snap Snapshot, source string) *Capture {
	present := make(map[string]struct{})
	for _, f := range snap.Formats() {
		present[f] = struct{}{}
	}
	var drafts []Draft
	for _, p := range r.plugins {
		var ids []string
		for _, id := range p.Identifiers() {
			if _, ok := present[id]; ok {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			drafts = append(drafts, Draft{Plugin: p, Identifiers: ids})
		}
	}
	if len(drafts) == 0 {
		return nil
	}
	return &Capture{
		Coordinate: paste.NewCoordinate(0, r.deviceID, r.now()),
		Source:     source,
		Drafts:     drafts,
	}
}

// Enrich runs every draft concurrently. A failing or panicking plugin only
// loses its own item. The primary is the valid item of highest priority.
func (r *Registry) Enrich(ctx context.Context, snap Snapshot, c *Capture) (*paste.Data, error) {
	items := make([]paste.Item, len(c.Drafts))
	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range c.Drafts {
		g.Go(func() error {
			item, err := r.enrichOne(gctx, snap, d, c.Coordinate)
			if err != nil {
				if !errors.Is(err, ErrNotApplicable) {
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", d.Plugin.Name(), err))
					mu.Unlock()
				}
				return nil
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		r.discard(items...)
		return nil, err
	}
	for _, err := range errs {
		r.logger.Warn("Plugin failed to enrich snapshot", zap.Error(err))
	}

	// drafts are in ascending priority
	var primary paste.Item
	var secondary []paste.Item
	var dropped []paste.Item
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if item == nil {
			continue
		}
		if !item.IsValid() || !r.accept(item) {
			dropped = append(dropped, item)
			continue
		}
		if primary == nil {
			primary = item
			continue
		}
		if item.Hash() == primary.Hash() && item.Type() == primary.Type() {
			dropped = append(dropped, item)
			continue
		}
		secondary = append(secondary, item)
	}
	r.discard(dropped...)
	if primary == nil {
		return nil, ErrNoContent
	}
	return &paste.Data{
		Coordinate: c.Coordinate,
		Source:     c.Source,
		State:      paste.StateLoaded,
		Primary:    primary,
		Secondary:  secondary,
	}, nil
}

func (r *Registry) enrichOne(ctx context.Context, snap Snapshot, d Draft, coord paste.Coordinate) (item paste.Item, err error) {
	defer func() {
		if v := recover(); v != nil {
			item, err = nil, fmt.Errorf("plugin panicked: %v", v)
		}
	}()
	return d.Plugin.Enrich(ctx, snap, d.Identifiers, coord)
}

// Discard releases what the items of d hold outside the record. Call it
// for an enriched paste that is not going to be stored.
func (r *Registry) Discard(d *paste.Data) {
	if d == nil {
		return
	}
	r.discard(d.Items()...)
}

func (r *Registry) discard(items ...paste.Item) {
	for _, item := range items {
		if item == nil {
			continue
		}
		for _, p := range r.plugins {
			x, ok := p.(Discarder)
			if !ok {
				continue
			}
			if err := x.Discard(item); err != nil {
				r.logger.Warn("Failed to discard item",
					zap.String("plugin", p.Name()),
					zap.String("type", string(item.Type())),
					zap.Error(err))
			}
		}
	}
}

func (r *Registry) accept(item paste.Item) bool {
	for _, f := range r.filters {
		if !f.Accept(item) {
			return false
		}
	}
	return true
}

// Ingest drafts and enriches snap in one step.
func (r *Registry) Ingest(ctx context.Context, snap Snapshot, source string) (*paste.Data, error) {
	c := r.Draft(snap, source)
	if c == nil {
		return nil, ErrNoContent
	}
	return r.Enrich(ctx, snap, c)
}

// Filter rejects enriched items before they become part of a paste.
type Filter interface {
	Accept(item paste.Item) bool
}

// SizeFilter drops items larger than MaxSize bytes. Zero disables it.
type SizeFilter struct {
	MaxSize int64
}

func (f SizeFilter) Accept(item paste.Item) bool {
	return f.MaxSize <= 0 || item.Size() <= f.MaxSize
}

// ExcludeTypeFilter drops items of the listed types.
type ExcludeTypeFilter struct {
	Types []paste.Type
}

func (f ExcludeTypeFilter) Accept(item paste.Item) bool {
	return !slices.Contains(f.Types, item.Type())
}
