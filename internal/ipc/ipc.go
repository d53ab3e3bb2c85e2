// Package ipc is the local control channel between the CLI and a running
// service: one JSON request and one JSON response per connection over a
// unix socket.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable means no service is listening on the socket.
var ErrUnavailable = errors.New("service not reachable")

// SocketPath is the control socket location under dataDir.
func SocketPath(dataDir string) string {
	return filepath.Join(dataDir, "run", "pastesync.sock")
}

// Call sends command with args and decodes the response data into out,
// which may be nil.
func Call(ctx context.Context, socketPath, command string, args, out any) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req := Request{Command: command}
	if args != nil {
		if req.Args, err = json.Marshal(args); err != nil {
			return fmt.Errorf("failed to encode arguments: %w", err)
		}
	}
	if err := json.NewEncoder(conn).Encode(&req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Status != StatusOK {
		return errors.New(resp.Message)
	}
	if out != nil && len(resp.Data) > 0 {
		return json.Unmarshal(resp.Data, out)
	}
	return nil
}

// Server accepts control connections until its context ends.
type Server struct {
	path    string
	handler Handler
	timeout time.Duration
	logger  *zap.Logger
	ln      net.Listener
	done    chan struct{}
}

func NewServer(socketPath string, handler Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		path:    socketPath,
		handler: handler,
		timeout: 30 * time.Second,
		logger:  logger.With(zap.String("component", "ipc")),
	}
}

// Start listens on the socket, replacing a stale one.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	os.Remove(s.path)
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.ln = ln
	s.done = make(chan struct{})

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		defer close(s.done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Debug("Accept failed", zap.Error(err))
				continue
			}
			go s.handleConn(conn)
		}
	}()
	s.logger.Debug("Control socket listening", zap.String("path", s.path))
	return nil
}

// Stop closes the listener and removes the socket file.
func (s *Server) Stop() {
	if s.ln == nil {
		return
	}
	s.ln.Close()
	<-s.done
	os.Remove(s.path)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(s.timeout))
	enc := json.NewEncoder(conn)

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		enc.Encode(&Response{Status: StatusError, Message: "invalid request: " + err.Error()})
		return
	}
	data, err := s.handler(&req)
	resp := &Response{Status: StatusOK}
	if err == nil && data != nil {
		resp.Data, err = json.Marshal(data)
	}
	if err != nil {
		resp = &Response{Status: StatusError, Message: err.Error()}
		s.logger.Debug("Control request failed", zap.String("command", req.Command), zap.Error(err))
	}
	if err := enc.Encode(resp); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}
