package sync

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// Protocol paths
const (
	ProtocolVersion  = "1.0.0"
	BaseProtocolPath = "/pastesync/"

	PullProtocol  = protocol.ID(BaseProtocolPath + ProtocolVersion + "/pull")
	PushProtocol  = protocol.ID(BaseProtocolPath + ProtocolVersion + "/push")
	HelloProtocol = protocol.ID(BaseProtocolPath + ProtocolVersion + "/hello")
)

// Op selects what a pull request asks for.
type Op string

const (
	OpChunk    Op = "chunk"
	OpIcon     Op = "icon"
	OpRollback Op = "rollback"
	OpPush     Op = "push"
	OpHello    Op = "hello"
)

const maxHeaderSize = 64 << 10

var (
	ErrRemote        = errors.New("remote refused request")
	ErrHeaderTooLong = errors.New("header line too long")
)

// request is the first line of every stream; a body of Length bytes may
// follow it.
type request struct {
	Op         Op     `json:"op"`
	DeviceID   string `json:"deviceId,omitempty"`
	PasteID    int64  `json:"pasteId,omitempty"`
	Chunk      int    `json:"chunk,omitempty"`
	Source     string `json:"source,omitempty"`
	Length     int64  `json:"length,omitempty"`
	Compressed bool   `json:"compressed,omitempty"`
}

// response mirrors request on the way back.
type response struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	Length   int64  `json:"length,omitempty"`
}

func writeLine(w *bufio.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

func readLine(r *bufio.Reader, v any) error {
	var line []byte
	for {
		part, isPrefix, err := r.ReadLine()
		if err != nil {
			return err
		}
		line = append(line, part...)
		if len(line) > maxHeaderSize {
			return ErrHeaderTooLong
		}
		if !isPrefix {
			break
		}
	}
	return json.Unmarshal(line, v)
}

func readBody(r io.Reader, n, limit int64) ([]byte, error) {
	if n < 0 || (limit > 0 && n > limit) {
		return nil, fmt.Errorf("body of %d bytes exceeds limit %d", n, limit)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}
