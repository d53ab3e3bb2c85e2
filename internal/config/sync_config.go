package config

import (
	"fmt"

	"github.com/multiformats/go-multiaddr"
)

// SyncConfig holds peer-to-peer sync settings
type SyncConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	ListenAddrs []string `json:"listen_addrs" yaml:"listen_addrs"`
	EnableMDNS  bool     `json:"enable_mdns" yaml:"enable_mdns"`
	ServiceTag  string   `json:"service_tag" yaml:"service_tag"`
	// Peers are paired devices reachable at fixed addresses
	Peers []PeerConfig `json:"peers" yaml:"peers"`
	// SyncToDownload places received files in the downloads directory
	SyncToDownload bool  `json:"sync_to_download" yaml:"sync_to_download"`
	MaxFileSize    int64 `json:"max_file_size" yaml:"max_file_size"`

	// EnableDHT looks up peers whose addresses changed through a
	// Kademlia DHT reached via BootstrapPeers
	EnableDHT      bool     `json:"enable_dht" yaml:"enable_dht"`
	BootstrapPeers []string `json:"bootstrap_peers" yaml:"bootstrap_peers"`

	// EnablePresence announces this device on a gossip topic so connected
	// peers learn its device id without a hello round trip
	EnablePresence   bool `json:"enable_presence" yaml:"enable_presence"`
	PresenceInterval int  `json:"presence_interval" yaml:"presence_interval"` // seconds
}

// PeerConfig is one statically paired device
type PeerConfig struct {
	DeviceID string `json:"device_id" yaml:"device_id"`
	// Addr is a full multiaddr including /p2p/<peer id>
	Addr string `json:"addr" yaml:"addr"`
}

// DefaultSyncConfig returns default sync configuration
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Enabled:     true,
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
		EnableMDNS:  true,
		ServiceTag:  "pastesync-mdns",
		MaxFileSize: 512 << 20,

		EnablePresence:   true,
		PresenceInterval: 60,
	}
}

// Validate checks every configured multiaddr
func (c SyncConfig) Validate() error {
	for _, addr := range c.ListenAddrs {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", addr, err)
		}
	}
	for _, addr := range c.BootstrapPeers {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			return fmt.Errorf("invalid bootstrap peer %q: %w", addr, err)
		}
	}
	if c.PresenceInterval < 0 {
		return fmt.Errorf("presence_interval must not be negative")
	}
	for _, p := range c.Peers {
		if p.DeviceID == "" {
			return fmt.Errorf("peer %q has no device_id", p.Addr)
		}
		if _, err := multiaddr.NewMultiaddr(p.Addr); err != nil {
			return fmt.Errorf("invalid address for peer %s: %w", p.DeviceID, err)
		}
	}
	return nil
}
