// Package sync moves pastes between devices over libp2p streams.
package sync

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/berrythewa/pastesync/internal/config"
	"github.com/berrythewa/pastesync/pkg/utils"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"go.uber.org/zap"
)

// Node owns the libp2p host of this device.
type Node struct {
	host   host.Host
	mdns   mdns.Service
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	logger *zap.Logger
}

// NewNode creates the host. identityFile keeps the peer key stable across
// restarts; an empty path uses a throwaway key.
func NewNode(cfg config.SyncConfig, identityFile string, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "libp2p-node"))

	privKey, err := loadIdentity(identityFile, logger)
	if err != nil {
		return nil, err
	}

	opts := []libp2p.Option{libp2p.Identity(privKey)}
	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	n := &Node{host: h, logger: logger}
	logger.Info("Created libp2p host",
		zap.String("peer_id", h.ID().String()),
		zap.Strings("addresses", n.P2PAddrs()))
	return n, nil
}

func loadIdentity(path string, logger *zap.Logger) (crypto.PrivKey, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			key, err := crypto.UnmarshalPrivateKey(raw)
			if err == nil {
				return key, nil
			}
			logger.Warn("Failed to load peer identity, generating new one", zap.Error(err))
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read peer identity: %w", err)
		}
	}

	key, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, -1, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate peer identity: %w", err)
	}
	if path == "" {
		return key, nil
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode peer identity: %w", err)
	}
	if err := utils.WriteFileAtomic(path, raw, 0600); err != nil {
		return nil, err
	}
	logger.Info("Generated new peer identity", zap.String("path", path))
	return key, nil
}

func (n *Node) Host() host.Host { return n.host }
func (n *Node) ID() peer.ID     { return n.host.ID() }

// P2PAddrs lists the full dialable addresses of this node.
func (n *Node) P2PAddrs() []string {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()})
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

// StartMDNS advertises the node on the local network and reports peers
// found under the same service tag to notifee.
func (n *Node) StartMDNS(serviceTag string, notifee mdns.Notifee) error {
	if n.mdns != nil {
		return nil
	}
	service := mdns.NewMdnsService(n.host, serviceTag, notifee)
	if err := service.Start(); err != nil {
		return fmt.Errorf("failed to start mDNS service: %w", err)
	}
	n.mdns = service
	n.logger.Info("Started mDNS discovery", zap.String("service_tag", serviceTag))
	return nil
}

func (n *Node) Close() error {
	if n.dht != nil {
		if err := n.dht.Close(); err != nil {
			n.logger.Warn("Failed to stop DHT", zap.Error(err))
		}
		n.dht = nil
	}
	if n.mdns != nil {
		if err := n.mdns.Close(); err != nil {
			n.logger.Warn("Failed to stop mDNS", zap.Error(err))
		}
		n.mdns = nil
	}
	return n.host.Close()
}
