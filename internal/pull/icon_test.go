package pull

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type iconClient struct {
	senderClient
	iconCalls atomic.Int32
	fail      bool
}

func (c *iconClient) PullIcon(_ context.Context, _ Endpoint, source string) ([]byte, error) {
	c.iconCalls.Add(1)
	time.Sleep(20 * time.Millisecond)
	if c.fail {
		return nil, errors.New("offline")
	}
	return []byte("png:" + source), nil
}

func iconTask(source string) *task.Task {
	return &task.Task{
		Type:      task.TypePullIcon,
		ExtraInfo: task.Encode(task.PullIconExtraInfo{Source: source, DeviceID: "dev"}),
	}
}

func TestIconExecutorDeduplicates(t *testing.T) {
	resolver := dirResolver{t.TempDir()}
	client := &iconClient{}
	x := NewIconExecutor(client, staticDirectory{}, resolver, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := x.Execute(context.Background(), iconTask("org.editor"))
			assert.NoError(t, err)
			assert.IsType(t, task.Success{}, res)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), client.iconCalls.Load())
	assert.Equal(t, 0, x.locks.Len())

	data, err := os.ReadFile(resolver.Resolve(paste.CategoryIcon, IconRelPath("org.editor")))
	require.NoError(t, err)
	assert.Equal(t, "png:org.editor", string(data))
}

func TestIconExecutorRetryBound(t *testing.T) {
	client := &iconClient{fail: true}
	x := NewIconExecutor(client, staticDirectory{}, dirResolver{t.TempDir()}, nil)

	tk := iconTask("app")
	res, err := x.Execute(context.Background(), tk)
	require.NoError(t, err)
	retry, ok := res.(task.Retry)
	require.True(t, ok)

	tk.ExtraInfo = retry.ExtraInfo
	res, err = x.Execute(context.Background(), tk)
	require.NoError(t, err)
	fatal, ok := res.(task.Fatal)
	require.True(t, ok)
	assert.Len(t, task.Histories(fatal.ExtraInfo), task.ShortRetryBound)
}

func TestKeyedMutexDistinctKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA := k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked by a")
	}
	unlockA()
	assert.Equal(t, 0, k.Len())
}

func TestProgress(t *testing.T) {
	p := NewProgress()
	p.Update(5, 1, 4)
	ch := p.Progress(5)
	assert.Equal(t, 0.25, <-ch)

	p.Update(5, 4, 4)
	assert.Equal(t, 1.0, <-ch)

	p.Remove(5)
	_, open := <-ch
	assert.False(t, open)
}
