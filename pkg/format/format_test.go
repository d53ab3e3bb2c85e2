package format

import (
	"strings"
	"testing"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func textPaste(id int64, text string, created time.Time) *paste.Data {
	return &paste.Data{
		ID:         id,
		Coordinate: paste.NewCoordinate(id, "dev-a", created),
		State:      paste.StateLoaded,
		Primary:    paste.NewTextItem(nil, text, nil),
	}
}

func TestFormatPaste(t *testing.T) {
	f := New(PlainOptions())
	f.now = func() time.Time { return now }

	t.Run("full", func(t *testing.T) {
		out := f.FormatPaste(textPaste(3, "line one\nline two", now.Add(-2*time.Hour)))
		assert.Contains(t, out, "#3 text")
		assert.Contains(t, out, "Created: 2 hours ago")
		assert.Contains(t, out, "Device: dev-a")
		assert.Contains(t, out, "Size: 17 B")
		assert.Contains(t, out, "  line one\n  line two")
	})

	t.Run("state and favorite", func(t *testing.T) {
		d := textPaste(4, "x", now)
		d.Favorite = true
		d.State = paste.StateLoading
		assert.Contains(t, f.FormatPaste(d), "#4 text ★ [loading]")
	})

	t.Run("compact", func(t *testing.T) {
		opts := CompactOptions()
		opts.UseColors, opts.UseIcons = false, false
		out := FormatPaste(textPaste(1, "  hello\n  world ", now), opts)
		assert.Equal(t, "#1 text hello", out)
	})

	t.Run("files", func(t *testing.T) {
		trees := map[string]*paste.FileInfoTree{
			"b.txt": paste.NewFileLeaf("h1", 2048),
			"dir":   paste.NewFileDir(map[string]*paste.FileInfoTree{"c": paste.NewFileLeaf("h2", 1)}),
		}
		item, err := paste.NewFilesItem(paste.TypeFiles, nil, nil, trees, []string{"x/b.txt", "x/dir"}, nil)
		require.NoError(t, err)
		out := f.FormatPaste(&paste.Data{ID: 9, Primary: item, Coordinate: paste.NewCoordinate(9, "d", now)})
		assert.Contains(t, out, "b.txt (2.0 KB)")
		assert.Contains(t, out, "dir/ (1 files, 1 B)")
	})

	t.Run("empty list", func(t *testing.T) {
		assert.Equal(t, "No clipboard history", f.FormatPasteList(nil))
	})

	t.Run("list", func(t *testing.T) {
		out := f.FormatPasteList([]*paste.Data{textPaste(2, "b", now), textPaste(1, "a", now)})
		assert.True(t, strings.HasPrefix(out, "Clipboard History (2 entries)"))
		assert.Less(t, strings.Index(out, "#2"), strings.Index(out, "#1"))
	})
}

func TestStats(t *testing.T) {
	list := []*paste.Data{
		textPaste(1, "aa", now.Add(-time.Hour)),
		textPaste(2, "bbb", now),
		{ID: 3, Coordinate: paste.NewCoordinate(3, "dev-b", now.Add(-2*time.Hour)), Favorite: true,
			Primary: paste.NewURLItem(nil, "https://x.io", nil)},
	}
	s := ComputeStats(list)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, int64(2+3+12), s.TotalSize)
	assert.Equal(t, 1, s.Favorites)
	assert.Equal(t, now.Add(-2*time.Hour), s.Oldest)
	assert.Equal(t, now, s.Newest)
	assert.Equal(t, map[paste.Type]int{paste.TypeText: 2, paste.TypeURL: 1}, s.ByType)

	out := FormatStats(s, PlainOptions())
	assert.Contains(t, out, "Total entries: 3")
	assert.Contains(t, out, "  text: 2")
	assert.Contains(t, out, "  dev-b: 1")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "1.5 MB", FormatSize(3<<19))
	assert.Equal(t, "abcd...", TruncateText("abcdefghij", 7))
	assert.Equal(t, "a\nb\n... (2 more lines)", TruncateLines("a\nb\nc\nd", 2))
	assert.Equal(t, "just now", FormatRelativeTime(now, now))
	assert.Equal(t, "3 days ago", FormatRelativeTime(now.Add(-72*time.Hour), now))
}
