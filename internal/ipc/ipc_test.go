package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortSocket(t *testing.T) string {
	t.Helper()
	// unix socket paths are limited to ~104 bytes
	dir, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestRoundTrip(t *testing.T) {
	path := shortSocket(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(path, func(req *Request) (any, error) {
		switch req.Command {
		case "echo":
			var args map[string]int
			if err := json.Unmarshal(req.Args, &args); err != nil {
				return nil, err
			}
			return map[string]int{"n": args["n"] + 1}, nil
		case "nothing":
			return nil, nil
		}
		return nil, errors.New("unknown command " + req.Command)
	}, nil)
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()

	t.Run("data", func(t *testing.T) {
		var out map[string]int
		require.NoError(t, Call(ctx, path, "echo", map[string]int{"n": 1}, &out))
		assert.Equal(t, 2, out["n"])
	})

	t.Run("no data", func(t *testing.T) {
		assert.NoError(t, Call(ctx, path, "nothing", nil, nil))
	})

	t.Run("handler error", func(t *testing.T) {
		err := Call(ctx, path, "bogus", nil, nil)
		assert.EqualError(t, err, "unknown command bogus")
	})
}

func TestUnavailable(t *testing.T) {
	err := Call(context.Background(), shortSocket(t), "status", nil, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStopRemovesSocket(t *testing.T) {
	path := shortSocket(t)
	srv := NewServer(path, func(*Request) (any, error) { return nil, nil }, nil)
	require.NoError(t, srv.Start(context.Background()))
	assert.FileExists(t, path)
	srv.Stop()
	assert.NoFileExists(t, path)
}
