package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/pull"
	"github.com/berrythewa/pastesync/pkg/compression"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const (
	defaultStreamTimeout = 30 * time.Second
	// chunks are at most one index chunk, icons are small
	maxPullBody = 64 << 20
)

// Client talks to the Server of other devices. It implements pull.Client.
type Client struct {
	host     host.Host
	deviceID string
	timeout  time.Duration
	logger   *zap.Logger
}

func NewClient(h host.Host, deviceID string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		host:     h,
		deviceID: deviceID,
		timeout:  defaultStreamTimeout,
		logger:   logger.With(zap.String("component", "sync-client")),
	}
}

// peerOf decodes the endpoint and makes its addresses dialable.
func (c *Client) peerOf(ep pull.Endpoint) (peer.ID, error) {
	id, err := peer.Decode(ep.PeerID)
	if err != nil {
		return "", fmt.Errorf("invalid peer id for device %s: %w", ep.DeviceID, err)
	}
	for _, s := range ep.Addrs {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			continue
		}
		c.host.Peerstore().AddAddr(id, addr, peerstore.TempAddrTTL)
	}
	return id, nil
}

func (c *Client) roundTrip(ctx context.Context, p peer.ID, proto protocol.ID, req request, body []byte) (response, []byte, error) {
	var resp response
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	s, err := c.host.NewStream(ctx, p, proto)
	if err != nil {
		return resp, nil, fmt.Errorf("failed to open %s stream: %w", proto, err)
	}
	defer s.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}

	w := bufio.NewWriter(s)
	req.DeviceID = c.deviceID
	req.Length = int64(len(body))
	if err := writeLine(w, req); err != nil {
		s.Reset()
		return resp, nil, err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			s.Reset()
			return resp, nil, err
		}
	}
	if err := w.Flush(); err != nil {
		s.Reset()
		return resp, nil, err
	}
	if err := s.CloseWrite(); err != nil {
		s.Reset()
		return resp, nil, err
	}

	r := bufio.NewReader(s)
	if err := readLine(r, &resp); err != nil {
		s.Reset()
		return resp, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !resp.OK {
		return resp, nil, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	payload, err := readBody(r, resp.Length, maxPullBody)
	if err != nil {
		s.Reset()
		return resp, nil, err
	}
	return resp, payload, nil
}

func (c *Client) PullChunk(ctx context.Context, ep pull.Endpoint, pasteID int64, chunk int) ([]byte, error) {
	p, err := c.peerOf(ep)
	if err != nil {
		return nil, err
	}
	_, data, err := c.roundTrip(ctx, p, PullProtocol, request{Op: OpChunk, PasteID: pasteID, Chunk: chunk}, nil)
	return data, err
}

func (c *Client) PullIcon(ctx context.Context, ep pull.Endpoint, source string) ([]byte, error) {
	p, err := c.peerOf(ep)
	if err != nil {
		return nil, err
	}
	_, data, err := c.roundTrip(ctx, p, PullProtocol, request{Op: OpIcon, Source: source}, nil)
	return data, err
}

func (c *Client) Rollback(ctx context.Context, ep pull.Endpoint, pasteID int64) error {
	p, err := c.peerOf(ep)
	if err != nil {
		return err
	}
	_, _, err = c.roundTrip(ctx, p, PullProtocol, request{Op: OpRollback, PasteID: pasteID}, nil)
	return err
}

// Push hands d to the device behind ep, which then pulls any files.
func (c *Client) Push(ctx context.Context, ep pull.Endpoint, d *paste.Data) error {
	p, err := c.peerOf(ep)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal paste: %w", err)
	}
	body, compressed, err := compression.Compress(raw)
	if err != nil {
		return err
	}
	_, _, err = c.roundTrip(ctx, p, PushProtocol, request{Op: OpPush, PasteID: d.ID, Compressed: compressed}, body)
	if err == nil {
		c.logger.Debug("Pushed paste",
			zap.Int64("paste_id", d.ID),
			zap.String("device_id", ep.DeviceID),
			zap.Int("bytes", len(body)))
	}
	return err
}

// Hello exchanges device ids with p.
func (c *Client) Hello(ctx context.Context, p peer.ID) (string, error) {
	resp, _, err := c.roundTrip(ctx, p, HelloProtocol, request{Op: OpHello}, nil)
	if err != nil {
		return "", err
	}
	if resp.DeviceID == "" {
		return "", fmt.Errorf("%w: empty device id", ErrRemote)
	}
	return resp.DeviceID, nil
}
