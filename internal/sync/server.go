package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/berrythewa/pastesync/internal/fileindex"
	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/pull"
	"github.com/berrythewa/pastesync/pkg/compression"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"
)

var ErrNotStaged = errors.New("paste not staged for this peer")

// Receiver takes pastes pushed by other devices.
type Receiver interface {
	Receive(ctx context.Context, fromDevice string, d *paste.Data) error
}

// ServerConfig wires a Server.
type ServerConfig struct {
	Host      host.Host
	DeviceID  string
	Store     pull.PasteStore
	Indexes   *fileindex.Cache
	Staging   *Staging
	Resolver  paste.PathResolver
	Directory *Directory
	Receiver  Receiver
	// MaxPushSize bounds an incoming paste record, 0 means 16MB
	MaxPushSize int64
	Logger      *zap.Logger
}

// Server answers the pull, push and hello protocols.
type Server struct {
	cfg     ServerConfig
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *zap.Logger
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPushSize <= 0 {
		cfg.MaxPushSize = 16 << 20
	}
	return &Server{
		cfg:     cfg,
		timeout: defaultStreamTimeout,
		logger:  logger.With(zap.String("component", "sync-server")),
	}
}

func (s *Server) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cfg.Host.SetStreamHandler(PullProtocol, s.handlePull)
	s.cfg.Host.SetStreamHandler(PushProtocol, s.handlePush)
	s.cfg.Host.SetStreamHandler(HelloProtocol, s.handleHello)
	s.logger.Info("Sync server started", zap.String("device_id", s.cfg.DeviceID))
}

func (s *Server) Stop() {
	for _, p := range []protocol.ID{PullProtocol, PushProtocol, HelloProtocol} {
		s.cfg.Host.RemoveStreamHandler(p)
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// accept reads the request line of a fresh stream.
func (s *Server) accept(stream network.Stream) (*bufio.Reader, *bufio.Writer, request, error) {
	_ = stream.SetDeadline(time.Now().Add(s.timeout))
	r := bufio.NewReader(stream)
	w := bufio.NewWriter(stream)
	var req request
	err := readLine(r, &req)
	return r, w, req, err
}

func (s *Server) reply(stream network.Stream, w *bufio.Writer, body []byte, err error) {
	resp := response{OK: err == nil, DeviceID: s.cfg.DeviceID}
	if err != nil {
		resp.Error = err.Error()
		body = nil
	}
	resp.Length = int64(len(body))
	if werr := writeLine(w, resp); werr != nil {
		stream.Reset()
		return
	}
	if len(body) > 0 {
		if _, werr := w.Write(body); werr != nil {
			stream.Reset()
			return
		}
	}
	if werr := w.Flush(); werr != nil {
		stream.Reset()
		return
	}
	stream.Close()
}

func (s *Server) handlePull(stream network.Stream) {
	remote := stream.Conn().RemotePeer()
	_, w, req, err := s.accept(stream)
	if err != nil {
		s.logger.Debug("Bad pull request", zap.String("peer_id", remote.String()), zap.Error(err))
		stream.Reset()
		return
	}
	s.cfg.Directory.Learn(req.DeviceID, remote, stream.Conn().RemoteMultiaddr())

	var body []byte
	switch req.Op {
	case OpChunk:
		body, err = s.chunk(req.PasteID, req.Chunk, stream)
	case OpIcon:
		body, err = os.ReadFile(s.cfg.Resolver.Resolve(paste.CategoryIcon, pull.IconRelPath(req.Source)))
	case OpRollback:
		if s.cfg.Staging.Release(req.PasteID, remote) {
			s.logger.Info("Staged paste rolled back",
				zap.Int64("paste_id", req.PasteID),
				zap.String("device_id", req.DeviceID))
		}
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}
	if err != nil {
		s.logger.Debug("Pull request failed",
			zap.String("op", string(req.Op)),
			zap.Int64("paste_id", req.PasteID),
			zap.Error(err))
	}
	s.reply(stream, w, body, err)
}

func (s *Server) chunk(pasteID int64, i int, stream network.Stream) ([]byte, error) {
	if !s.cfg.Staging.Reserved(pasteID, stream.Conn().RemotePeer()) {
		return nil, fmt.Errorf("%w: %d", ErrNotStaged, pasteID)
	}
	d, err := s.cfg.Store.Get(s.ctx, pasteID)
	if err != nil {
		return nil, err
	}
	c, err := s.cfg.Indexes.Get(d).Chunk(i)
	if err != nil {
		return nil, err
	}
	return fileindex.ReadChunk(c)
}

func (s *Server) handlePush(stream network.Stream) {
	remote := stream.Conn().RemotePeer()
	r, w, req, err := s.accept(stream)
	if err != nil {
		stream.Reset()
		return
	}

	err = func() error {
		if req.DeviceID == "" {
			return errors.New("push without device id")
		}
		body, err := readBody(r, req.Length, s.cfg.MaxPushSize)
		if err != nil {
			return err
		}
		raw, err := compression.Decompress(body, req.Compressed)
		if err != nil {
			return err
		}
		var d paste.Data
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("failed to decode pushed paste: %w", err)
		}
		if d.Coordinate.DeviceID != req.DeviceID {
			return fmt.Errorf("paste from %s claims origin %s", req.DeviceID, d.Coordinate.DeviceID)
		}
		s.cfg.Directory.Learn(req.DeviceID, remote, stream.Conn().RemoteMultiaddr())
		return s.cfg.Receiver.Receive(s.ctx, req.DeviceID, &d)
	}()
	if err != nil {
		s.logger.Warn("Rejected pushed paste", zap.String("peer_id", remote.String()), zap.Error(err))
	}
	s.reply(stream, w, nil, err)
}

func (s *Server) handleHello(stream network.Stream) {
	_, w, req, err := s.accept(stream)
	if err != nil {
		stream.Reset()
		return
	}
	s.cfg.Directory.Learn(req.DeviceID, stream.Conn().RemotePeer(), stream.Conn().RemoteMultiaddr())
	s.reply(stream, w, nil, nil)
}
