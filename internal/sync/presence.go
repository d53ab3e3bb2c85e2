package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const presenceTopicPrefix = "pastesync/presence/"

type announcement struct {
	DeviceID string   `json:"deviceId"`
	Addrs    []string `json:"addrs,omitempty"`
}

// Presence periodically announces this device on a gossip topic and
// records the devices other peers announce.
type Presence struct {
	node      *Node
	deviceID  string
	directory *Directory
	interval  time.Duration
	logger    *zap.Logger

	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

func NewPresence(node *Node, deviceID string, directory *Directory, interval time.Duration, logger *zap.Logger) *Presence {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Presence{
		node:      node,
		deviceID:  deviceID,
		directory: directory,
		interval:  interval,
		logger:    logger.With(zap.String("component", "presence")),
	}
}

// Start joins the presence topic of group.
func (p *Presence) Start(ctx context.Context, group string) error {
	ps, err := p.node.PubSub(ctx)
	if err != nil {
		return err
	}
	topic, err := ps.Join(presenceTopicPrefix + group)
	if err != nil {
		return fmt.Errorf("failed to join presence topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return fmt.Errorf("failed to subscribe to presence topic: %w", err)
	}
	p.topic, p.sub = topic, sub

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(2)
	go p.announceLoop(ctx)
	go p.readLoop(ctx)

	p.logger.Info("Joined presence topic", zap.String("topic", topic.String()))
	return nil
}

func (p *Presence) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.sub.Cancel()
	if err := p.topic.Close(); err != nil {
		p.logger.Debug("Failed to close presence topic", zap.Error(err))
	}
}

func (p *Presence) announceLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.announce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Debug("Failed to announce presence", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Presence) announce(ctx context.Context) error {
	a := announcement{DeviceID: p.deviceID}
	for _, addr := range p.node.Host().Addrs() {
		a.Addrs = append(a.Addrs, addr.String())
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return p.topic.Publish(ctx, data)
}

func (p *Presence) readLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		msg, err := p.sub.Next(ctx)
		if err != nil {
			return
		}
		p.handle(msg)
	}
}

func (p *Presence) handle(msg *pubsub.Message) {
	from := msg.GetFrom()
	if from == p.node.ID() {
		return
	}
	var a announcement
	if err := json.Unmarshal(msg.Data, &a); err != nil {
		p.logger.Debug("Ignoring malformed announcement", zap.String("peer_id", from.String()), zap.Error(err))
		return
	}
	if a.DeviceID == "" || a.DeviceID == p.deviceID {
		return
	}
	info := peer.AddrInfo{ID: from}
	for _, s := range a.Addrs {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			continue
		}
		info.Addrs = append(info.Addrs, addr)
	}
	p.directory.Refresh(a.DeviceID, info, 3*p.interval)
}
