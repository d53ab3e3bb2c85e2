package storage

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

type dirResolver struct{ root string }

func (r dirResolver) Resolve(category paste.FileCategory, rel string) string {
	return filepath.Join(r.root, string(category), filepath.FromSlash(rel))
}

func (r dirResolver) DownloadDir() string { return filepath.Join(r.root, "Downloads") }

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStorage(t *testing.T, resolver paste.PathResolver) *BoltStorage {
	t.Helper()
	s, err := NewBoltStorage(StorageConfig{
		DBPath:   filepath.Join(t.TempDir(), "pastes.db"),
		Resolver: resolver,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func textData(text string, created time.Time) *paste.Data {
	return &paste.Data{
		Coordinate: paste.NewCoordinate(0, "local", created),
		Source:     "org.editor",
		Primary:    paste.NewTextItem([]string{"text/plain"}, text, nil),
	}
}

func TestBoltStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("PersistAndGet", func(t *testing.T) {
		s := newStorage(t, nil)
		d := textData("hello", epoch)
		id, created, err := s.Persist(ctx, d)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, id, d.ID)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, paste.StateLoaded, got.State)
		assert.Equal(t, d.Hash(), got.Hash())
		assert.True(t, epoch.Equal(got.Coordinate.CreateTime))
		assert.Equal(t, "org.editor", got.Source)

		_, err = s.Get(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DedupByHash", func(t *testing.T) {
		s := newStorage(t, nil)
		first, _, err := s.Persist(ctx, textData("same", epoch))
		require.NoError(t, err)
		second, created, err := s.Persist(ctx, textData("same", epoch.Add(time.Minute)))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first, second)

		// a deleted record no longer absorbs duplicates
		_, err = s.MarkDeleted(ctx, first)
		require.NoError(t, err)
		third, created, err := s.Persist(ctx, textData("same", epoch))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first, third)
	})

	t.Run("OnDelete", func(t *testing.T) {
		s := newStorage(t, nil)
		var deleted []int64
		s.OnDelete(func(id int64) { deleted = append(deleted, id) })

		a, _, err := s.Persist(ctx, textData("a", epoch))
		require.NoError(t, err)
		b, _, err := s.Persist(ctx, textData("b", epoch.Add(time.Hour)))
		require.NoError(t, err)

		_, err = s.MarkDeleted(ctx, a)
		require.NoError(t, err)
		_, err = s.MarkDeletedBefore(ctx, epoch.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []int64{a, b}, deleted)
	})

	t.Run("CompressedRecord", func(t *testing.T) {
		s := newStorage(t, nil)
		long := strings.Repeat("compress me ", 1000)
		id, _, err := s.Persist(ctx, textData(long, epoch))
		require.NoError(t, err)
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, long, got.Primary.(paste.TextItem).Text())
	})

	t.Run("CumulativeSize", func(t *testing.T) {
		s := newStorage(t, nil)
		var ids []int64
		for i := 0; i < 5; i++ {
			id, _, err := s.Persist(ctx, textData(strings.Repeat("x", 10*(i+1)), epoch.Add(time.Duration(i)*time.Hour)))
			require.NoError(t, err)
			ids = append(ids, id)
		}

		total, err := s.NonFavoriteSize(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(150), total)

		size, err := s.QueryCumulativeSizeBefore(ctx, epoch.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(60), size)

		size, err = s.QueryCumulativeSizeBefore(ctx, epoch.Add(2*time.Hour-time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, int64(30), size)

		require.NoError(t, s.SetFavorite(ctx, ids[0], true))
		total, err = s.NonFavoriteSize(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(140), total)

		oldest, ok, err := s.OldestCreateTime(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, epoch.Add(time.Hour).Equal(oldest))
	})

	t.Run("MarkDeletedBefore", func(t *testing.T) {
		s := newStorage(t, nil)
		textID, _, err := s.Persist(ctx, textData("old text", epoch))
		require.NoError(t, err)
		color := &paste.Data{
			Coordinate: paste.NewCoordinate(0, "local", epoch),
			Primary:    paste.NewColorItem(nil, -1, nil),
		}
		colorID, _, err := s.Persist(ctx, color)
		require.NoError(t, err)
		favID, _, err := s.Persist(ctx, textData("keep", epoch))
		require.NoError(t, err)
		require.NoError(t, s.SetFavorite(ctx, favID, true))
		newID, _, err := s.Persist(ctx, textData("new", epoch.Add(time.Hour)))
		require.NoError(t, err)

		n, err := s.MarkDeletedBefore(ctx, epoch, paste.TypeColor)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.MarkDeletedBefore(ctx, epoch)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		states := map[int64]paste.State{}
		for _, id := range []int64{textID, colorID, favID, newID} {
			d, err := s.Get(ctx, id)
			require.NoError(t, err)
			states[id] = d.State
		}
		assert.Equal(t, paste.StateDeleted, states[textID])
		assert.Equal(t, paste.StateDeleted, states[colorID])
		assert.Equal(t, paste.StateLoaded, states[favID])
		assert.Equal(t, paste.StateLoaded, states[newID])

		total, err := s.NonFavoriteSize(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
	})

	t.Run("OwnedFilesRemoved", func(t *testing.T) {
		resolver := dirResolver{t.TempDir()}
		s := newStorage(t, resolver)

		refDir := t.TempDir()
		refFile := filepath.Join(refDir, "keep.txt")
		require.NoError(t, os.WriteFile(refFile, []byte("mine"), 0644))
		ref, err := paste.NewFilesItem(paste.TypeFiles, nil, &refDir,
			map[string]*paste.FileInfoTree{"keep.txt": paste.NewFileLeaf("h1", 4)}, []string{"keep.txt"}, nil)
		require.NoError(t, err)

		owned, err := paste.NewFilesItem(paste.TypeImages, nil, nil,
			map[string]*paste.FileInfoTree{"shot.png": paste.NewFileLeaf("h2", 3)}, []string{"shot.png"}, nil)
		require.NoError(t, err)
		ownedData := &paste.Data{Coordinate: paste.NewCoordinate(7, "local", epoch), Primary: owned}
		ownedData.Bind(false, resolver)

		refID, _, err := s.Persist(ctx, &paste.Data{Coordinate: paste.NewCoordinate(0, "local", epoch), Primary: ref})
		require.NoError(t, err)
		ownedID, _, err := s.Persist(ctx, ownedData)
		require.NoError(t, err)

		ownedPath := ownedData.FileItems()[0].Locate(resolver)["shot.png"]
		require.NoError(t, os.MkdirAll(filepath.Dir(ownedPath), 0755))
		require.NoError(t, os.WriteFile(ownedPath, []byte("png"), 0644))

		n, err := s.MarkDeleted(ctx, refID, ownedID, 12345)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		assert.FileExists(t, refFile, "referenced files are never deleted")
		assert.NoFileExists(t, ownedPath)

		n, err = s.MarkDeleted(ctx, ownedID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("List", func(t *testing.T) {
		s := newStorage(t, nil)
		for i := 0; i < 4; i++ {
			_, _, err := s.Persist(ctx, textData(strings.Repeat("y", i+1), epoch.Add(time.Duration(i)*time.Minute)))
			require.NoError(t, err)
		}
		_, _, err := s.Persist(ctx, &paste.Data{
			Coordinate: paste.NewCoordinate(0, "local", epoch),
			Primary:    paste.NewURLItem(nil, "https://example.com", nil),
		})
		require.NoError(t, err)

		all, err := s.List(ctx, HistoryOptions{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, paste.TypeURL, all[0].Type())

		texts, err := s.List(ctx, HistoryOptions{Type: paste.TypeText, Limit: 2})
		require.NoError(t, err)
		require.Len(t, texts, 2)
		assert.Equal(t, "yyyy", texts[0].Primary.(paste.TextItem).Text())

		oldest, err := s.List(ctx, HistoryOptions{Reverse: true, Limit: 1})
		require.NoError(t, err)
		require.Len(t, oldest, 1)
		assert.Equal(t, "y", oldest[0].Primary.(paste.TextItem).Text())

		recent, err := s.List(ctx, HistoryOptions{Since: epoch.Add(2 * time.Minute), Type: paste.TypeText})
		require.NoError(t, err)
		assert.Len(t, recent, 2)
	})
}

func TestCumulativeSizeAcrossDays(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "pastes.db")
	s, err := NewBoltStorage(StorageConfig{DBPath: dbPath})
	require.NoError(t, err)

	type record struct {
		id      int64
		created time.Time
		size    int64
	}
	var records []record
	for i := 0; i < 12; i++ {
		created := epoch.Add(time.Duration(i) * 9 * time.Hour)
		id, _, err := s.Persist(ctx, textData(strings.Repeat("z", i+1), created))
		require.NoError(t, err)
		records = append(records, record{id, created, int64(i + 1)})
	}
	require.NoError(t, s.SetFavorite(ctx, records[3].id, true))
	_, err = s.MarkDeleted(ctx, records[7].id)
	require.NoError(t, err)
	live := slices.DeleteFunc(slices.Clone(records), func(r record) bool {
		return r.id == records[3].id || r.id == records[7].id
	})

	expected := func(at time.Time) int64 {
		var sum int64
		for _, r := range live {
			if !r.created.After(at) {
				sum += r.size
			}
		}
		return sum
	}
	check := func(s *BoltStorage) {
		t.Helper()
		for _, r := range records {
			for _, at := range []time.Time{r.created.Add(-time.Millisecond), r.created, r.created.Add(time.Millisecond)} {
				got, err := s.QueryCumulativeSizeBefore(ctx, at)
				require.NoError(t, err)
				assert.Equal(t, expected(at), got, "at %v", at)
			}
		}
		total, err := s.NonFavoriteSize(ctx)
		require.NoError(t, err)
		assert.Equal(t, expected(records[len(records)-1].created), total)
	}
	check(s)

	// stores written before the per-day totals existed rebuild them
	require.NoError(t, s.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket([]byte(daySizeBucket))
	}))
	require.NoError(t, s.Close())
	s, err = NewBoltStorage(StorageConfig{DBPath: dbPath})
	require.NoError(t, err)
	defer s.Close()
	check(s)
}
