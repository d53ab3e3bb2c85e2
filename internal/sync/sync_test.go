package sync

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/berrythewa/pastesync/internal/config"
	"github.com/berrythewa/pastesync/internal/fileindex"
	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/pull"
	"github.com/berrythewa/pastesync/internal/task"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirResolver struct{ root string }

func (r dirResolver) Resolve(category paste.FileCategory, rel string) string {
	return filepath.Join(r.root, string(category), filepath.FromSlash(rel))
}

func (r dirResolver) DownloadDir() string { return filepath.Join(r.root, "Downloads") }

type memStore struct {
	mu    gosync.Mutex
	items map[int64]*paste.Data
}

func (m *memStore) Get(_ context.Context, id int64) (*paste.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return d, nil
}

type inbox struct {
	mu       gosync.Mutex
	received []*paste.Data
	from     []string
}

func (i *inbox) Receive(_ context.Context, from string, d *paste.Data) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.received = append(i.received, d)
	i.from = append(i.from, from)
	return nil
}

type device struct {
	id        string
	node      *Node
	client    *Client
	directory *Directory
	staging   *Staging
	store     *memStore
	inbox     *inbox
	resolver  dirResolver
}

func newDevice(t *testing.T, id string) *device {
	t.Helper()
	node, err := NewNode(config.SyncConfig{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}}, "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { node.Close() })

	dev := &device{
		id:       id,
		node:     node,
		client:   NewClient(node.Host(), id, nil),
		staging:  NewStaging(16, time.Minute),
		store:    &memStore{items: map[int64]*paste.Data{}},
		inbox:    &inbox{},
		resolver: dirResolver{t.TempDir()},
	}
	dev.directory = NewDirectory(node.Host(), dev.client, nil)
	server := NewServer(ServerConfig{
		Host:      node.Host(),
		DeviceID:  id,
		Store:     dev.store,
		Indexes:   fileindex.NewCache(4, time.Minute, 4, dev.resolver),
		Staging:   dev.staging,
		Resolver:  dev.resolver,
		Directory: dev.directory,
		Receiver:  dev.inbox,
	})
	server.Start(context.Background())
	t.Cleanup(server.Stop)
	return dev
}

// introduce makes b known to a the way a configured peer would be.
func introduce(a, b *device) {
	a.directory.Add(b.id, peer.AddrInfo{ID: b.node.ID(), Addrs: b.node.Host().Addrs()}, peerstore.PermanentAddrTTL)
}

func TestPushAndPull(t *testing.T) {
	ctx := context.Background()
	alice, bob := newDevice(t, "alice"), newDevice(t, "bob")
	introduce(alice, bob)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("0123456789"), 0644))
	tree, err := paste.BuildFileInfoTree(filepath.Join(dir, "note.txt"))
	require.NoError(t, err)
	item, err := paste.NewFilesItem(paste.TypeFiles, nil, &dir, map[string]*paste.FileInfoTree{"note.txt": tree}, []string{"note.txt"}, nil)
	require.NoError(t, err)
	d := &paste.Data{ID: 5, Coordinate: paste.NewCoordinate(5, "alice", time.Now()), State: paste.StateLoaded, Primary: item}
	alice.store.items[5] = d

	fanout := NewFanoutExecutor(alice.store, alice.client, alice.directory, alice.staging, "alice", nil)
	res, err := fanout.Execute(ctx, &task.Task{Type: task.TypeSyncFanout, SubjectID: 5})
	require.NoError(t, err)
	require.IsType(t, task.Success{}, res)

	require.Len(t, bob.inbox.received, 1)
	got := bob.inbox.received[0]
	assert.Equal(t, "alice", bob.inbox.from[0])
	assert.Equal(t, d.Hash(), got.Hash())
	assert.Equal(t, int64(5), got.Coordinate.ID)

	// bob learned alice from the push
	ep, err := bob.directory.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.node.ID().String(), ep.PeerID)

	var pulled []byte
	for i := 0; i < 3; i++ {
		chunk, err := bob.client.PullChunk(ctx, ep, got.Coordinate.ID, i)
		require.NoError(t, err)
		pulled = append(pulled, chunk...)
	}
	assert.Equal(t, []byte("0123456789"), pulled)

	_, err = bob.client.PullChunk(ctx, ep, got.Coordinate.ID, 3)
	assert.ErrorIs(t, err, ErrRemote)

	require.NoError(t, bob.client.Rollback(ctx, ep, got.Coordinate.ID))
	assert.Zero(t, alice.staging.Len())
	_, err = bob.client.PullChunk(ctx, ep, got.Coordinate.ID, 0)
	assert.ErrorIs(t, err, ErrRemote)
}

func TestPullIcon(t *testing.T) {
	ctx := context.Background()
	alice, bob := newDevice(t, "alice"), newDevice(t, "bob")
	introduce(bob, alice)

	icon := bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 10)
	path := alice.resolver.Resolve(paste.CategoryIcon, pull.IconRelPath("org.editor"))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, icon, 0644))

	ep, err := bob.directory.Resolve(ctx, "alice")
	require.NoError(t, err)
	got, err := bob.client.PullIcon(ctx, ep, "org.editor")
	require.NoError(t, err)
	assert.Equal(t, icon, got)

	_, err = bob.client.PullIcon(ctx, ep, "unknown.app")
	assert.ErrorIs(t, err, ErrRemote)
}

func TestHello(t *testing.T) {
	alice, bob := newDevice(t, "alice"), newDevice(t, "bob")
	alice.node.Host().Peerstore().AddAddrs(bob.node.ID(), bob.node.Host().Addrs(), time.Minute)

	id, err := alice.client.Hello(context.Background(), bob.node.ID())
	require.NoError(t, err)
	assert.Equal(t, "bob", id)

	deviceID, ok := bob.directory.DeviceOf(alice.node.ID())
	assert.True(t, ok)
	assert.Equal(t, "alice", deviceID)
}

func TestDirectory(t *testing.T) {
	self, other := newDevice(t, "self"), newDevice(t, "other")

	t.Run("static peers", func(t *testing.T) {
		addrs := other.node.P2PAddrs()
		require.NotEmpty(t, addrs)
		require.NoError(t, self.directory.AddStatic([]config.PeerConfig{{DeviceID: "other", Addr: addrs[0]}}))

		ep, err := self.directory.Resolve(context.Background(), "other")
		require.NoError(t, err)
		assert.Equal(t, other.node.ID().String(), ep.PeerID)
		assert.NotEmpty(t, ep.Addrs)
		assert.Equal(t, []string{"other"}, self.directory.Devices())
	})

	t.Run("missing peer id", func(t *testing.T) {
		err := self.directory.AddStatic([]config.PeerConfig{{DeviceID: "x", Addr: "/ip4/127.0.0.1/tcp/4001"}})
		assert.Error(t, err)
	})

	t.Run("unknown device", func(t *testing.T) {
		_, err := self.directory.Resolve(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrUnknownDevice)
	})

	t.Run("self is ignored", func(t *testing.T) {
		self.directory.Add("me", peer.AddrInfo{ID: self.node.ID()}, time.Minute)
		_, err := self.directory.Resolve(context.Background(), "me")
		assert.ErrorIs(t, err, ErrUnknownDevice)
	})
}

func TestPresence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	alice, bob := newDevice(t, "alice"), newDevice(t, "bob")
	require.NoError(t, alice.node.Host().Connect(ctx, peer.AddrInfo{ID: bob.node.ID(), Addrs: bob.node.Host().Addrs()}))

	for _, dev := range []*device{alice, bob} {
		p := NewPresence(dev.node, dev.id, dev.directory, 100*time.Millisecond, nil)
		require.NoError(t, p.Start(ctx, "test"))
		t.Cleanup(p.Stop)
	}

	assert.Eventually(t, func() bool {
		id, ok := alice.directory.DeviceOf(bob.node.ID())
		return ok && id == "bob"
	}, 15*time.Second, 50*time.Millisecond)
	assert.Eventually(t, func() bool {
		id, ok := bob.directory.DeviceOf(alice.node.ID())
		return ok && id == "alice"
	}, 15*time.Second, 50*time.Millisecond)

	ep, err := alice.directory.Resolve(ctx, "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, ep.Addrs)
}

type staticRouter struct{ info peer.AddrInfo }

func (r staticRouter) FindPeer(_ context.Context, p peer.ID) (peer.AddrInfo, error) {
	if p != r.info.ID {
		return peer.AddrInfo{}, errors.New("not found")
	}
	return r.info, nil
}

func TestDirectoryRouterFallback(t *testing.T) {
	self, other := newDevice(t, "self"), newDevice(t, "other")
	// known id, no address
	self.directory.Add("other", peer.AddrInfo{ID: other.node.ID()}, time.Minute)

	ep, err := self.directory.Resolve(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, ep.Addrs)

	self.directory.SetRouter(staticRouter{peer.AddrInfo{ID: other.node.ID(), Addrs: other.node.Host().Addrs()}})
	ep, err = self.directory.Resolve(context.Background(), "other")
	require.NoError(t, err)
	assert.NotEmpty(t, ep.Addrs)
}

func TestIdentityPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")
	cfg := config.SyncConfig{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}}

	first, err := NewNode(cfg, path, nil)
	require.NoError(t, err)
	id := first.ID()
	require.NoError(t, first.Close())

	second, err := NewNode(cfg, path, nil)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, id, second.ID())
}

func TestStaging(t *testing.T) {
	s := NewStaging(8, 50*time.Millisecond)
	p := peer.ID("peer-a")
	s.Stage(1, p)
	assert.True(t, s.Reserved(1, p))
	assert.False(t, s.Reserved(1, peer.ID("peer-b")))
	assert.False(t, s.Reserved(2, p))

	assert.True(t, s.Release(1, p))
	assert.False(t, s.Reserved(1, p))

	s.Stage(3, p)
	assert.Eventually(t, func() bool { return !s.Reserved(3, p) }, time.Second, 10*time.Millisecond)
}

type flakyPusher struct {
	mu     gosync.Mutex
	down   map[string]int
	pushes []string
}

func (f *flakyPusher) Push(_ context.Context, ep pull.Endpoint, _ *paste.Data) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, ep.DeviceID)
	if f.down[ep.DeviceID] > 0 {
		f.down[ep.DeviceID]--
		return errors.New("unreachable")
	}
	return nil
}

type fakeDevices []string

func (f fakeDevices) Devices() []string { return f }

func (f fakeDevices) Resolve(_ context.Context, id string) (pull.Endpoint, error) {
	return pull.Endpoint{DeviceID: id, PeerID: "12D3KooWInvalid"}, nil
}

func TestFanoutRetriesFailedDevices(t *testing.T) {
	ctx := context.Background()
	store := &memStore{items: map[int64]*paste.Data{
		1: {ID: 1, Coordinate: paste.NewCoordinate(1, "me", time.Now()), Primary: paste.NewTextItem(nil, "hi", nil)},
		2: {ID: 2, Coordinate: paste.NewCoordinate(9, "other", time.Now()), Primary: paste.NewTextItem(nil, "relay", nil)},
	}}
	pusher := &flakyPusher{down: map[string]int{"b": 1}}
	x := NewFanoutExecutor(store, pusher, fakeDevices{"a", "b", "me"}, NewStaging(4, time.Minute), "me", nil)

	tk := &task.Task{Type: task.TypeSyncFanout, SubjectID: 1}
	res, err := x.Execute(ctx, tk)
	require.NoError(t, err)
	retry, ok := res.(task.Retry)
	require.True(t, ok)

	var extra task.SyncExtraInfo
	require.NoError(t, task.Decode(retry.ExtraInfo, &extra))
	assert.Equal(t, []string{"b"}, extra.FailDeviceIDs)
	assert.ElementsMatch(t, []string{"a", "b"}, pusher.pushes)

	pusher.pushes = nil
	tk.ExtraInfo = retry.ExtraInfo
	res, err = x.Execute(ctx, tk)
	require.NoError(t, err)
	assert.IsType(t, task.Success{}, res)
	assert.Equal(t, []string{"b"}, pusher.pushes)

	t.Run("received pastes are not relayed", func(t *testing.T) {
		pusher.pushes = nil
		res, err := x.Execute(ctx, &task.Task{Type: task.TypeSyncFanout, SubjectID: 2})
		require.NoError(t, err)
		assert.IsType(t, task.Success{}, res)
		assert.Empty(t, pusher.pushes)
	})

	t.Run("bound", func(t *testing.T) {
		pusher.down["a"] = 10
		tk := &task.Task{Type: task.TypeSyncFanout, SubjectID: 1}
		for i := 0; i < task.DefaultRetryBound-1; i++ {
			res, err := x.Execute(ctx, tk)
			require.NoError(t, err)
			r, ok := res.(task.Retry)
			require.True(t, ok)
			tk.ExtraInfo = r.ExtraInfo
		}
		res, err := x.Execute(ctx, tk)
		require.NoError(t, err)
		assert.IsType(t, task.Fatal{}, res)
	})
}
