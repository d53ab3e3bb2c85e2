package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytes(t *testing.T) {
	t.Run("stable", func(t *testing.T) {
		assert.Equal(t, HashBytes([]byte("hello")), HashBytes([]byte("hello")))
		assert.NotEqual(t, HashBytes([]byte("hello")), HashBytes([]byte("hello!")))
	})

	t.Run("cid v1 base32", func(t *testing.T) {
		assert.True(t, strings.HasPrefix(HashString("hello"), "b"))
	})

	t.Run("reader matches bytes", func(t *testing.T) {
		got, err := HashReader(strings.NewReader("hello"))
		require.NoError(t, err)
		assert.Equal(t, HashString("hello"), got)
	})
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.bin")

	require.NoError(t, WriteFileAtomic(path, []byte("payload"), 0644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	h, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, HashString("payload"), h)
}

func TestReserveName(t *testing.T) {
	t.Run("free name is kept", func(t *testing.T) {
		dir := t.TempDir()
		name, err := ReserveName(dir, "report.txt", false)
		require.NoError(t, err)
		assert.Equal(t, "report.txt", name)
		assert.FileExists(t, filepath.Join(dir, "report.txt"))
	})

	t.Run("taken names are numbered and left untouched", func(t *testing.T) {
		dir := t.TempDir()
		existing := filepath.Join(dir, "report.txt")
		require.NoError(t, os.WriteFile(existing, []byte("original"), 0644))

		name, err := ReserveName(dir, "report.txt", false)
		require.NoError(t, err)
		assert.Equal(t, "report (1).txt", name)

		name, err = ReserveName(dir, "report.txt", false)
		require.NoError(t, err)
		assert.Equal(t, "report (2).txt", name)

		data, err := os.ReadFile(existing)
		require.NoError(t, err)
		assert.Equal(t, "original", string(data))
	})

	t.Run("directories and dotfiles", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "photos.d"), 0755))
		name, err := ReserveName(dir, "photos.d", true)
		require.NoError(t, err)
		assert.Equal(t, "photos.d (1)", name)
		assert.DirExists(t, filepath.Join(dir, name))

		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), nil, 0644))
		name, err = ReserveName(dir, ".env", false)
		require.NoError(t, err)
		assert.Equal(t, ".env (1)", name)
	})
}
