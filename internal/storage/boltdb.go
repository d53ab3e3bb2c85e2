package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/pkg/compression"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	pastesBucket = "pastes"
	// createTime(8) | id(8) -> size(8), live non-favorite records only
	timeBucket = "paste_time"
	// hash -> id, live records only
	hashBucket = "paste_hash"
	// day(8) -> summed size of the paste_time entries of that UTC day
	daySizeBucket = "paste_day_size"

	dayMillis = int64(24 * time.Hour / time.Millisecond)
)

var ErrNotFound = errors.New("paste not found")

// BoltStorage keeps paste records in a bbolt file. Deleting a record keeps
// a tombstone and removes the files the record owns.
type BoltStorage struct {
	db       *bbolt.DB
	resolver paste.PathResolver
	logger   *zap.Logger

	mu       sync.RWMutex
	onDelete []func(id int64)
}

// StorageConfig holds configuration for BoltStorage initialization
type StorageConfig struct {
	DBPath string
	// Resolver locates owned files; nil skips file removal
	Resolver paste.PathResolver
	Logger   *zap.Logger
}

// HistoryOptions filters List.
type HistoryOptions struct {
	Limit   int
	Since   time.Time
	Before  time.Time
	Type    paste.Type
	MinSize int64
	MaxSize int64
	// Reverse lists oldest first
	Reverse        bool
	FavoritesOnly  bool
	IncludeDeleted bool
}

// NewBoltStorage creates a new BoltStorage instance
func NewBoltStorage(cfg StorageConfig) (*BoltStorage, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := bbolt.Open(cfg.DBPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		rebuild := tx.Bucket([]byte(daySizeBucket)) == nil
		for _, name := range []string{pastesBucket, timeBucket, hashBucket, daySizeBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		if rebuild {
			return rebuildDaySizes(open(tx))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("BoltStorage initialized", zap.String("db_path", cfg.DBPath))
	return &BoltStorage{
		db:       db,
		resolver: cfg.Resolver,
		logger:   logger.With(zap.String("component", "storage")),
	}, nil
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func timeKey(t time.Time, id int64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k, uint64(t.UnixMilli()))
	binary.BigEndian.PutUint64(k[8:], uint64(id))
	return k
}

// upper bound of every time key at or before t
func timeKeyCeil(t time.Time) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k, uint64(t.UnixMilli()))
	for i := 8; i < 16; i++ {
		k[i] = 0xff
	}
	return k
}

func dayOf(t time.Time) int64 {
	return t.UnixMilli() / dayMillis
}

// rebuildDaySizes derives the per-day totals from the time index.
func rebuildDaySizes(b buckets) error {
	return b.times.ForEach(func(k, v []byte) error {
		day := int64(binary.BigEndian.Uint64(k[:8])) / dayMillis
		return b.addDaySize(day, btoi(v))
	})
}

func (b buckets) addDaySize(day, delta int64) error {
	key := itob(day)
	var cur int64
	if v := b.days.Get(key); v != nil {
		cur = btoi(v)
	}
	if cur+delta <= 0 {
		return b.days.Delete(key)
	}
	return b.days.Put(key, itob(cur+delta))
}

func encode(d *paste.Data) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal paste: %w", err)
	}
	payload, compressed, err := compression.Compress(raw)
	if err != nil {
		return nil, err
	}
	flag := byte(0)
	if compressed {
		flag = 1
	}
	return append([]byte{flag}, payload...), nil
}

func decode(v []byte) (*paste.Data, error) {
	if len(v) == 0 {
		return nil, errors.New("empty paste record")
	}
	raw, err := compression.Decompress(v[1:], v[0] == 1)
	if err != nil {
		return nil, err
	}
	var d paste.Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal paste: %w", err)
	}
	return &d, nil
}

func indexed(d *paste.Data) bool {
	return d.State != paste.StateDeleted && !d.Favorite
}

type buckets struct {
	pastes, times, hashes, days *bbolt.Bucket
}

func open(tx *bbolt.Tx) buckets {
	return buckets{
		pastes: tx.Bucket([]byte(pastesBucket)),
		times:  tx.Bucket([]byte(timeBucket)),
		hashes: tx.Bucket([]byte(hashBucket)),
		days:   tx.Bucket([]byte(daySizeBucket)),
	}
}

func (b buckets) get(id int64) (*paste.Data, error) {
	v := b.pastes.Get(itob(id))
	if v == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	d, err := decode(v)
	if err != nil {
		return nil, err
	}
	d.ID = id
	return d, nil
}

// put writes d and moves its index entries from old (nil on insert).
func (b buckets) put(old, d *paste.Data) error {
	if old != nil {
		if indexed(old) {
			if err := b.times.Delete(timeKey(old.Coordinate.CreateTime, old.ID)); err != nil {
				return err
			}
			if err := b.addDaySize(dayOf(old.Coordinate.CreateTime), -old.Size()); err != nil {
				return err
			}
		}
		if h := old.Hash(); h != "" && old.State != paste.StateDeleted {
			if cur := b.hashes.Get([]byte(h)); cur != nil && btoi(cur) == old.ID {
				if err := b.hashes.Delete([]byte(h)); err != nil {
					return err
				}
			}
		}
	}

	v, err := encode(d)
	if err != nil {
		return err
	}
	if err := b.pastes.Put(itob(d.ID), v); err != nil {
		return err
	}
	if indexed(d) {
		if err := b.times.Put(timeKey(d.Coordinate.CreateTime, d.ID), itob(d.Size())); err != nil {
			return err
		}
		if err := b.addDaySize(dayOf(d.Coordinate.CreateTime), d.Size()); err != nil {
			return err
		}
	}
	if h := d.Hash(); h != "" && d.State != paste.StateDeleted {
		return b.hashes.Put([]byte(h), itob(d.ID))
	}
	return nil
}

// Persist stores d under a fresh id. A live record with the same hash is
// the same content: its id is returned with created false and nothing is
// written.
func (s *BoltStorage) Persist(_ context.Context, d *paste.Data) (int64, bool, error) {
	var (
		id      int64
		created bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := open(tx)
		if h := d.Hash(); h != "" {
			if v := b.hashes.Get([]byte(h)); v != nil {
				id = btoi(v)
				return nil
			}
		}
		seq, err := b.pastes.NextSequence()
		if err != nil {
			return err
		}
		d.ID = int64(seq)
		// a local capture is addressed by its own id on every device
		if d.Coordinate.ID == 0 {
			d.Coordinate.ID = d.ID
		}
		if d.State == "" {
			d.State = paste.StateLoaded
		}
		id, created = d.ID, true
		return b.put(nil, d)
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to persist paste: %w", err)
	}

	if created {
		s.logger.Debug("New content added",
			zap.Int64("paste_id", id),
			zap.String("type", string(d.Type())),
			zap.Int64("size", d.Size()))
	} else {
		s.logger.Debug("Duplicate content", zap.Int64("paste_id", id), zap.String("hash", d.Hash()))
	}
	return id, created, nil
}

func (s *BoltStorage) Get(_ context.Context, id int64) (*paste.Data, error) {
	var d *paste.Data
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		d, err = open(tx).get(id)
		return err
	})
	return d, err
}

// FindByHash returns the live record holding hash.
func (s *BoltStorage) FindByHash(_ context.Context, hash string) (*paste.Data, error) {
	var d *paste.Data
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := open(tx)
		v := b.hashes.Get([]byte(hash))
		if v == nil {
			return fmt.Errorf("%w: hash %s", ErrNotFound, hash)
		}
		var err error
		d, err = b.get(btoi(v))
		return err
	})
	return d, err
}

// Update replaces the stored record with d.
func (s *BoltStorage) Update(_ context.Context, d *paste.Data) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := open(tx)
		old, err := b.get(d.ID)
		if err != nil {
			return err
		}
		return b.put(old, d)
	})
}

func (s *BoltStorage) modify(id int64, fn func(d *paste.Data)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := open(tx)
		old, err := b.get(id)
		if err != nil {
			return err
		}
		next := *old
		fn(&next)
		return b.put(old, &next)
	})
}

func (s *BoltStorage) SetState(_ context.Context, id int64, state paste.State) error {
	return s.modify(id, func(d *paste.Data) { d.State = state })
}

func (s *BoltStorage) MarkLoaded(ctx context.Context, id int64) error {
	return s.SetState(ctx, id, paste.StateLoaded)
}

// SetFavorite pins or unpins a record. Favorites are exempt from cleanup.
func (s *BoltStorage) SetFavorite(_ context.Context, id int64, favorite bool) error {
	return s.modify(id, func(d *paste.Data) { d.Favorite = favorite })
}

// MarkDeleted tombstones ids and removes their owned files. Unknown or
// already deleted ids are skipped.
func (s *BoltStorage) MarkDeleted(_ context.Context, ids ...int64) (int, error) {
	var removed []*paste.Data
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := open(tx)
		for _, id := range ids {
			d, err := b.get(id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if d.State == paste.StateDeleted {
				continue
			}
			if err := s.tombstone(b, d); err != nil {
				return err
			}
			removed = append(removed, d)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete pastes: %w", err)
	}
	s.afterDelete(removed)
	return len(removed), nil
}

// MarkDeletedBefore tombstones every live non-favorite record created at or
// before t, restricted to kinds when given.
func (s *BoltStorage) MarkDeletedBefore(_ context.Context, t time.Time, kinds ...paste.Type) (int, error) {
	var removed []*paste.Data
	ceil := timeKeyCeil(t)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := open(tx)
		var victims []*paste.Data
		c := b.times.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, ceil) <= 0; k, _ = c.Next() {
			d, err := b.get(btoi(k[8:]))
			if err != nil {
				return err
			}
			if len(kinds) > 0 && !slices.Contains(kinds, d.Type()) {
				continue
			}
			victims = append(victims, d)
		}
		// cursor is invalid once the bucket is modified
		for _, d := range victims {
			if err := s.tombstone(b, d); err != nil {
				return err
			}
		}
		removed = victims
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete pastes before %v: %w", t, err)
	}
	s.afterDelete(removed)
	return len(removed), nil
}

func (s *BoltStorage) tombstone(b buckets, d *paste.Data) error {
	next := *d
	next.State = paste.StateDeleted
	return b.put(d, &next)
}

// OnDelete registers a callback run for every record after it is deleted.
func (s *BoltStorage) OnDelete(fn func(id int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelete = append(s.onDelete, fn)
}

func (s *BoltStorage) afterDelete(deleted []*paste.Data) {
	s.mu.RLock()
	listeners := s.onDelete
	s.mu.RUnlock()
	for _, d := range deleted {
		for _, fn := range listeners {
			fn(d.ID)
		}
	}

	if s.resolver == nil {
		return
	}
	for _, d := range deleted {
		for _, item := range d.FileItems() {
			if !item.Owned() {
				continue
			}
			for _, p := range item.Locate(s.resolver) {
				if err := os.RemoveAll(p); err != nil {
					s.logger.Warn("Failed to remove owned file", zap.String("path", p), zap.Error(err))
					continue
				}
				// drop the per-item directory once it is empty
				_ = os.Remove(filepath.Dir(p))
			}
		}
	}
}

// QueryCumulativeSizeBefore sums the sizes of live non-favorite records
// created at or before t. Whole days come from the per-day totals; only
// the records of the day of t are visited.
func (s *BoltStorage) QueryCumulativeSizeBefore(_ context.Context, t time.Time) (int64, error) {
	var sum int64
	day := dayOf(t)
	ceil := timeKeyCeil(t)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := open(tx)
		dayKey := itob(day)
		dc := b.days.Cursor()
		for k, v := dc.First(); k != nil && bytes.Compare(k, dayKey) < 0; k, v = dc.Next() {
			sum += btoi(v)
		}
		tc := b.times.Cursor()
		for k, v := tc.Seek(timeKey(time.UnixMilli(day*dayMillis), 0)); k != nil && bytes.Compare(k, ceil) <= 0; k, v = tc.Next() {
			sum += btoi(v)
		}
		return nil
	})
	return sum, err
}

// OldestCreateTime reports the creation time of the oldest live
// non-favorite record; ok is false when there is none.
func (s *BoltStorage) OldestCreateTime(_ context.Context) (time.Time, bool, error) {
	var (
		oldest time.Time
		ok     bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		k, _ := tx.Bucket([]byte(timeBucket)).Cursor().First()
		if k != nil {
			oldest = time.UnixMilli(int64(binary.BigEndian.Uint64(k[:8]))).UTC()
			ok = true
		}
		return nil
	})
	return oldest, ok, err
}

func (s *BoltStorage) NonFavoriteSize(_ context.Context) (int64, error) {
	var sum int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(daySizeBucket)).ForEach(func(_, v []byte) error {
			sum += btoi(v)
			return nil
		})
	})
	return sum, err
}

// List returns records newest first, filtered by opts.
func (s *BoltStorage) List(_ context.Context, opts HistoryOptions) ([]*paste.Data, error) {
	var out []*paste.Data
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := open(tx)
		c := b.pastes.Cursor()
		first, next := c.Last, c.Prev
		if opts.Reverse {
			first, next = c.First, c.Next
		}
		for k, v := first(); k != nil; k, v = next() {
			if opts.Limit > 0 && len(out) >= opts.Limit {
				break
			}
			d, err := decode(v)
			if err != nil {
				s.logger.Warn("Skipping unreadable paste", zap.Int64("paste_id", btoi(k)), zap.Error(err))
				continue
			}
			d.ID = btoi(k)
			if opts.match(d) {
				out = append(out, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pastes: %w", err)
	}
	return out, nil
}

func (o HistoryOptions) match(d *paste.Data) bool {
	if d.State == paste.StateDeleted && !o.IncludeDeleted {
		return false
	}
	if o.FavoritesOnly && !d.Favorite {
		return false
	}
	if o.Type != "" && d.Type() != o.Type {
		return false
	}
	created := d.Coordinate.CreateTime
	if !o.Since.IsZero() && created.Before(o.Since) {
		return false
	}
	if !o.Before.IsZero() && !created.Before(o.Before) {
		return false
	}
	size := d.Size()
	if o.MinSize > 0 && size < o.MinSize {
		return false
	}
	if o.MaxSize > 0 && size > o.MaxSize {
		return false
	}
	return true
}
