package cleanup

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	created  time.Time
	size     int64
	kind     paste.Type
	favorite bool
	deleted  bool
}

type memStore struct {
	mu       sync.Mutex
	records  []*record
	queries  int
	failMark error
	running  atomic.Int32
	overlap  atomic.Bool
}

func (m *memStore) QueryCumulativeSizeBefore(_ context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	var sum int64
	for _, r := range m.live() {
		if !r.created.After(t) {
			sum += r.size
		}
	}
	return sum, nil
}

func (m *memStore) OldestCreateTime(context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest time.Time
	for _, r := range m.live() {
		if oldest.IsZero() || r.created.Before(oldest) {
			oldest = r.created
		}
	}
	return oldest, !oldest.IsZero(), nil
}

func (m *memStore) NonFavoriteSize(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, r := range m.live() {
		sum += r.size
	}
	return sum, nil
}

func (m *memStore) MarkDeletedBefore(_ context.Context, t time.Time, kinds ...paste.Type) (int, error) {
	if m.running.Add(1) > 1 {
		m.overlap.Store(true)
	}
	defer m.running.Add(-1)
	time.Sleep(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark != nil {
		return 0, m.failMark
	}
	n := 0
	for _, r := range m.live() {
		if r.created.After(t) {
			continue
		}
		if len(kinds) > 0 && !containsKind(kinds, r.kind) {
			continue
		}
		r.deleted = true
		n++
	}
	return n, nil
}

func (m *memStore) live() []*record {
	var out []*record
	for _, r := range m.records {
		if !r.deleted && !r.favorite {
			out = append(out, r)
		}
	}
	return out
}

func containsKind(kinds []paste.Type, k paste.Type) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFindCutoff(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	now := epoch.Add(90 * 24 * time.Hour)

	distributions := map[string]func(i int) (time.Duration, int64){
		"uniform": func(i int) (time.Duration, int64) {
			return time.Duration(i) * time.Hour, 1000
		},
		"front loaded": func(i int) (time.Duration, int64) {
			return time.Duration(i*i) * time.Minute / 4, int64(100000 / (i + 1))
		},
		"random": func(i int) (time.Duration, int64) {
			return time.Duration(rng.Int63n(int64(80 * 24 * time.Hour))).Truncate(time.Millisecond), rng.Int63n(1<<20) + 1
		},
	}

	for name, gen := range distributions {
		t.Run(name, func(t *testing.T) {
			store := &memStore{}
			for i := 0; i < 500; i++ {
				offset, size := gen(i)
				store.records = append(store.records, &record{created: epoch.Add(offset), size: size, kind: paste.TypeText})
			}
			ctx := context.Background()
			total, _ := store.NonFavoriteSize(ctx)
			oldest, _, _ := store.OldestCreateTime(ctx)

			for _, pct := range []int64{1, 10, 50, 100} {
				clean := total * pct / 100
				store.queries = 0
				cutoff, queries, err := FindCutoff(ctx, store, oldest, now, total, clean)
				require.NoError(t, err)

				at, _ := store.QueryCumulativeSizeBefore(ctx, cutoff)
				assert.GreaterOrEqual(t, at, clean, "pct %d", pct)
				if cutoff.After(oldest) {
					before, _ := store.QueryCumulativeSizeBefore(ctx, cutoff.Add(-time.Millisecond))
					assert.Less(t, before, clean, "pct %d", pct)
				}

				span := float64(now.Sub(oldest).Milliseconds())
				bound := int(math.Ceil(math.Log2(span))) + 2
				assert.LessOrEqual(t, queries, bound)
			}
		})
	}
}

func TestFindCutoffSingleInstant(t *testing.T) {
	store := &memStore{records: []*record{{created: epoch, size: 10}}}
	cutoff, queries, err := FindCutoff(context.Background(), store, epoch, epoch, 10, 5)
	require.NoError(t, err)
	assert.True(t, cutoff.Equal(epoch))
	assert.Equal(t, 0, queries)
}

func newExecutor(store Store, policy Policy, now time.Time) *Executor {
	x := NewExecutor(store, policy, nil)
	x.now = func() time.Time { return now }
	return x
}

func TestAgePass(t *testing.T) {
	now := epoch.Add(60 * 24 * time.Hour)
	store := &memStore{records: []*record{
		{created: epoch, size: 1, kind: paste.TypeImages},
		{created: epoch, size: 1, kind: paste.TypeFiles},
		{created: epoch, size: 1, kind: paste.TypeText},
		{created: epoch, size: 1, kind: paste.TypeImages, favorite: true},
		{created: now.Add(-time.Hour), size: 1, kind: paste.TypeImages},
		{created: now.Add(-20 * 24 * time.Hour), size: 1, kind: paste.TypeFiles},
	}}
	x := newExecutor(store, Policy{ImageRetention: 7 * 24 * time.Hour, FileRetention: 30 * 24 * time.Hour}, now)

	report, err := x.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.AgeDeleted)
	assert.Zero(t, report.ThresholdDeleted)

	assert.True(t, store.records[0].deleted)
	assert.True(t, store.records[1].deleted)
	assert.False(t, store.records[2].deleted, "text has no retention window")
	assert.False(t, store.records[3].deleted, "favorites survive")
	assert.False(t, store.records[4].deleted)
	assert.False(t, store.records[5].deleted)
}

func TestThresholdPass(t *testing.T) {
	now := epoch.Add(100 * time.Hour)
	store := &memStore{}
	for i := 0; i < 100; i++ {
		store.records = append(store.records, &record{created: epoch.Add(time.Duration(i) * time.Hour), size: 100, kind: paste.TypeText})
	}
	store.records = append(store.records, &record{created: epoch, size: 1 << 20, favorite: true})

	t.Run("under ceiling", func(t *testing.T) {
		x := newExecutor(store, Policy{MaxStorageSize: 10000, CleanupPercentage: 10}, now)
		report, err := x.Run(context.Background())
		require.NoError(t, err)
		assert.Zero(t, report.ThresholdDeleted)
	})

	t.Run("over ceiling", func(t *testing.T) {
		x := newExecutor(store, Policy{MaxStorageSize: 5000, CleanupPercentage: 10}, now)
		report, err := x.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 10, report.ThresholdDeleted)
		assert.True(t, report.Cutoff.Equal(epoch.Add(9*time.Hour)))
		assert.False(t, store.records[100].deleted)

		size, _ := store.NonFavoriteSize(context.Background())
		assert.Equal(t, int64(9000), size)
	})
}

func TestExecutorRetryBound(t *testing.T) {
	store := &memStore{
		records:  []*record{{created: epoch, size: 1, kind: paste.TypeImages}},
		failMark: errors.New("disk full"),
	}
	x := newExecutor(store, Policy{ImageRetention: time.Hour}, epoch.Add(48*time.Hour))
	tk := &task.Task{Type: task.TypeCleanup}

	res, err := x.Execute(context.Background(), tk)
	require.NoError(t, err)
	retry, ok := res.(task.Retry)
	require.True(t, ok)

	tk.ExtraInfo = retry.ExtraInfo
	res, err = x.Execute(context.Background(), tk)
	require.NoError(t, err)
	fatal, ok := res.(task.Fatal)
	require.True(t, ok)

	histories := task.Histories(fatal.ExtraInfo)
	require.Len(t, histories, task.ShortRetryBound)
	assert.Equal(t, task.CodeCleanup, histories[0].Code)
}

func TestExecutorSerializesRuns(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 10; i++ {
		store.records = append(store.records, &record{created: epoch.Add(time.Duration(i) * time.Minute), size: 10, kind: paste.TypeImages})
	}
	x := newExecutor(store, Policy{ImageRetention: time.Hour, FileRetention: time.Hour, MaxStorageSize: 1, CleanupPercentage: 50}, epoch.Add(time.Hour/2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := x.Execute(context.Background(), &task.Task{Type: task.TypeCleanup})
			assert.NoError(t, err)
			assert.IsType(t, task.Success{}, res)
		}()
	}
	wg.Wait()
	assert.False(t, store.overlap.Load())
}
