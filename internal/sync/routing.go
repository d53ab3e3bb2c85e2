package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	dhtProtocolPrefix = "/pastesync"
	bootstrapTimeout  = 20 * time.Second
)

// StartDHT joins a client-mode Kademlia DHT through the bootstrap peers.
// The returned router finds the current addresses of known peer ids.
// Bootstrap peers that cannot be reached are logged and skipped.
func (n *Node) StartDHT(ctx context.Context, bootstrap []string) (routing.PeerRouting, error) {
	if n.dht != nil {
		return n.dht, nil
	}

	var peers []peer.AddrInfo
	for _, addr := range bootstrap {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			n.logger.Warn("Failed to parse bootstrap peer address",
				zap.String("addr", addr),
				zap.Error(err))
			continue
		}
		peers = append(peers, *info)
	}

	kad, err := dht.New(ctx, n.host,
		dht.Mode(dht.ModeClient),
		dht.ProtocolPrefix(dhtProtocolPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to create DHT: %w", err)
	}

	if len(peers) == 0 {
		n.logger.Warn("No bootstrap peers configured for DHT")
	}
	var g errgroup.Group
	for _, pi := range peers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
			defer cancel()
			if err := n.host.Connect(cctx, pi); err != nil {
				n.logger.Warn("Failed to connect to bootstrap peer",
					zap.String("peer_id", pi.ID.String()),
					zap.Error(err))
				return nil
			}
			n.logger.Debug("Connected to bootstrap peer", zap.String("peer_id", pi.ID.String()))
			return nil
		})
	}
	_ = g.Wait()

	if err := kad.Bootstrap(ctx); err != nil {
		// connected peers may still answer lookups
		n.logger.Warn("Failed to bootstrap DHT", zap.Error(err))
	}
	n.dht = kad
	n.logger.Info("Started DHT peer routing", zap.Int("bootstrap_peers", len(peers)))
	return kad, nil
}

// PubSub returns the gossip router of the node, creating it on first use.
// It lives as long as ctx.
func (n *Node) PubSub(ctx context.Context) (*pubsub.PubSub, error) {
	if n.pubsub != nil {
		return n.pubsub, nil
	}
	ps, err := pubsub.NewGossipSub(ctx, n.host)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}
	n.pubsub = ps
	return ps, nil
}
