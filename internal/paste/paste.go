// Package paste holds the clipboard content model: one Item per native
// representation, grouped into a Data record per capture event.
package paste

import (
	"errors"
	"slices"
	"time"
)

// Type discriminates Item variants in memory and on the wire.
type Type string

const (
	TypeText   Type = "text"
	TypeURL    Type = "url"
	TypeHTML   Type = "html"
	TypeRTF    Type = "rtf"
	TypeColor  Type = "color"
	TypeFiles  Type = "files"
	TypeImages Type = "images"
)

var (
	ErrUnknownType = errors.New("unknown paste item type")
	ErrInvalidItem = errors.New("invalid paste item")
	ErrUnsafeName  = errors.New("unsafe file name")
)

// Item is the capability set shared by every content variant.
// Implementations are immutable values; updates return new items.
type Item interface {
	Type() Type
	Identifiers() []string
	Hash() string
	Size() int64
	ExtraInfo() ExtraInfo
	SearchContent() string
	Summary() string
	IsValid() bool
	// Copy returns the same item with patch merged into its extra info.
	Copy(patch ExtraInfo) Item
}

// Coordinate identifies one capture event across devices.
type Coordinate struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"deviceId"`
	CreateTime time.Time `json:"-"`
}

// NewCoordinate truncates createTime to milliseconds, the wire precision.
func NewCoordinate(id int64, deviceID string, createTime time.Time) Coordinate {
	return Coordinate{
		ID:         id,
		DeviceID:   deviceID,
		CreateTime: createTime.UTC().Truncate(time.Millisecond),
	}
}

type base struct {
	identifiers []string
	hash        string
	size        int64
	extra       ExtraInfo
}

func newBase(identifiers []string, hash string, size int64, extra ExtraInfo) base {
	return base{
		identifiers: normalizeIdentifiers(identifiers),
		hash:        hash,
		size:        size,
		extra:       extra.clean(),
	}
}

func (b base) Identifiers() []string { return slices.Clone(b.identifiers) }
func (b base) Hash() string          { return b.hash }
func (b base) Size() int64           { return b.size }
func (b base) ExtraInfo() ExtraInfo  { return b.extra.clone() }

func (b base) withExtra(patch ExtraInfo) base {
	b.extra = b.extra.Merge(patch)
	return b
}

// normalizeIdentifiers keeps first-seen order and drops duplicates.
func normalizeIdentifiers(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
