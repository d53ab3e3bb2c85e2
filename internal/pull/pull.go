// Package pull fetches file chunks and source icons from the device that
// produced a paste.
package pull

import (
	"context"

	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/pkg/utils"
)

// Endpoint is a resolved remote device.
type Endpoint struct {
	DeviceID string
	PeerID   string
	Addrs    []string
}

// Directory resolves device ids to reachable endpoints.
type Directory interface {
	Resolve(ctx context.Context, deviceID string) (Endpoint, error)
}

// Client is the remote pull API.
type Client interface {
	PullChunk(ctx context.Context, ep Endpoint, pasteID int64, chunk int) ([]byte, error)
	PullIcon(ctx context.Context, ep Endpoint, source string) ([]byte, error)
	// Rollback tells the sender to drop the copy it staged for us.
	Rollback(ctx context.Context, ep Endpoint, pasteID int64) error
}

// PasteStore is the read side of the content store.
type PasteStore interface {
	Get(ctx context.Context, id int64) (*paste.Data, error)
}

// Finalizer settles a received paste once its transfer ends.
type Finalizer interface {
	Finalize(ctx context.Context, d *paste.Data) error
	Abandon(ctx context.Context, d *paste.Data) error
}

// IconRelPath is where the icon of a source label is stored on every device.
func IconRelPath(source string) string {
	return utils.HashString(source) + ".png"
}
