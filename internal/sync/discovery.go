package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/berrythewa/pastesync/internal/config"
	"github.com/berrythewa/pastesync/internal/pull"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

var ErrUnknownDevice = errors.New("unknown device")

const helloTimeout = 10 * time.Second

// Directory maps device ids to peers. Entries come from configured peers,
// hello exchanges initiated after mDNS discovery, and peers that greet us.
type Directory struct {
	host   host.Host
	hello  func(ctx context.Context, p peer.ID) (string, error)
	router routing.PeerRouting
	logger *zap.Logger

	mu      gosync.RWMutex
	devices map[string]peer.AddrInfo
	peers   map[peer.ID]string
}

func NewDirectory(h host.Host, client *Client, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Directory{
		host:    h,
		logger:  logger.With(zap.String("component", "directory")),
		devices: make(map[string]peer.AddrInfo),
		peers:   make(map[peer.ID]string),
	}
	if client != nil {
		d.hello = client.Hello
	}
	return d
}

// AddStatic registers configured peers. Each address must end in /p2p/<id>.
func (d *Directory) AddStatic(peers []config.PeerConfig) error {
	for _, pc := range peers {
		addr, err := multiaddr.NewMultiaddr(pc.Addr)
		if err != nil {
			return fmt.Errorf("invalid address for peer %s: %w", pc.DeviceID, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return fmt.Errorf("address for peer %s lacks a peer id: %w", pc.DeviceID, err)
		}
		d.Add(pc.DeviceID, *info, peerstore.PermanentAddrTTL)
	}
	return nil
}

func (d *Directory) Add(deviceID string, info peer.AddrInfo, ttl time.Duration) {
	if info.ID == d.host.ID() {
		return
	}
	if len(info.Addrs) > 0 {
		d.host.Peerstore().AddAddrs(info.ID, info.Addrs, ttl)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.devices[deviceID]; ok && prev.ID != info.ID {
		delete(d.peers, prev.ID)
	}
	d.devices[deviceID] = info
	d.peers[info.ID] = deviceID
	d.logger.Debug("Device registered",
		zap.String("device_id", deviceID),
		zap.String("peer_id", info.ID.String()))
}

// Refresh records the current addresses of a device announced by its peer.
func (d *Directory) Refresh(deviceID string, info peer.AddrInfo, ttl time.Duration) {
	d.mu.RLock()
	known, ok := d.devices[deviceID]
	d.mu.RUnlock()
	if ok && known.ID == info.ID {
		d.host.Peerstore().AddAddrs(info.ID, info.Addrs, ttl)
		return
	}
	d.Add(deviceID, info, ttl)
}

// Learn records a device that contacted us.
func (d *Directory) Learn(deviceID string, p peer.ID, addr multiaddr.Multiaddr) {
	if deviceID == "" {
		return
	}
	d.mu.RLock()
	known, ok := d.devices[deviceID]
	d.mu.RUnlock()
	if ok && known.ID == p {
		return
	}
	info := peer.AddrInfo{ID: p}
	if addr != nil {
		info.Addrs = []multiaddr.Multiaddr{addr}
	}
	d.Add(deviceID, info, peerstore.RecentlyConnectedAddrTTL)
}

// SetRouter installs a peer router consulted when no address of a known
// device is left in the peerstore.
func (d *Directory) SetRouter(r routing.PeerRouting) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.router = r
}

func (d *Directory) Resolve(ctx context.Context, deviceID string) (pull.Endpoint, error) {
	d.mu.RLock()
	info, ok := d.devices[deviceID]
	router := d.router
	d.mu.RUnlock()
	if !ok {
		return pull.Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	addrs := d.host.Peerstore().Addrs(info.ID)
	if len(addrs) == 0 && router != nil {
		found, err := router.FindPeer(ctx, info.ID)
		if err != nil {
			d.logger.Debug("Peer lookup failed",
				zap.String("device_id", deviceID),
				zap.Error(err))
		} else {
			d.host.Peerstore().AddAddrs(info.ID, found.Addrs, peerstore.TempAddrTTL)
			addrs = found.Addrs
		}
	}

	ep := pull.Endpoint{DeviceID: deviceID, PeerID: info.ID.String()}
	for _, a := range addrs {
		ep.Addrs = append(ep.Addrs, a.String())
	}
	return ep, nil
}

func (d *Directory) DeviceOf(p peer.ID) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.peers[p]
	return id, ok
}

// Devices lists known device ids in order.
func (d *Directory) Devices() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.devices))
	for id := range d.devices {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HandlePeerFound is called when a peer is discovered via mDNS.
func (d *Directory) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == d.host.ID() {
		return
	}
	d.logger.Debug("Discovered peer via mDNS", zap.String("peer_id", pi.ID.String()))
	d.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, time.Hour)
	if d.hello == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), helloTimeout)
		defer cancel()
		deviceID, err := d.hello(ctx, pi.ID)
		if err != nil {
			d.logger.Debug("Hello failed", zap.String("peer_id", pi.ID.String()), zap.Error(err))
			return
		}
		d.Add(deviceID, pi, time.Hour)
	}()
}
