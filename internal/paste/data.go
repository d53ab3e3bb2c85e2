package paste

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// State tracks the lifecycle of a Data record.
type State string

const (
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateDeleted State = "deleted"
	// StateFailed marks a received record whose files never arrived
	StateFailed State = "failed"
)

// Data is one capture event: a primary item plus secondary
// representations of the same content.
type Data struct {
	ID         int64
	Coordinate Coordinate
	Source     string
	Favorite   bool
	State      State
	Primary    Item
	Secondary  []Item
}

func (d *Data) Type() Type {
	if d.Primary == nil {
		return ""
	}
	return d.Primary.Type()
}

func (d *Data) Hash() string {
	if d.Primary == nil {
		return ""
	}
	return d.Primary.Hash()
}

// Size is the storage footprint of every representation.
func (d *Data) Size() int64 {
	var size int64
	for _, item := range d.Items() {
		size += item.Size()
	}
	return size
}

// Items returns the primary item followed by the secondary ones.
func (d *Data) Items() []Item {
	items := make([]Item, 0, len(d.Secondary)+1)
	if d.Primary != nil {
		items = append(items, d.Primary)
	}
	return append(items, d.Secondary...)
}

// FileItems returns every file bearing representation.
func (d *Data) FileItems() []FilesItem {
	var out []FilesItem
	for _, item := range d.Items() {
		if f, ok := item.(FilesItem); ok {
			out = append(out, f)
		}
	}
	return out
}

// HasFiles reports whether the record needs a file transfer when synced.
func (d *Data) HasFiles() bool { return len(d.FileItems()) > 0 }

func (d *Data) SearchContent() string {
	parts := make([]string, 0, len(d.Secondary)+1)
	for _, item := range d.Items() {
		if s := item.SearchContent(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Bind rewrites every file bearing item for a receiver.
func (d *Data) Bind(syncToDownload bool, resolver PathResolver) {
	bind := func(item Item) Item {
		if f, ok := item.(FilesItem); ok {
			return f.Bind(d.Coordinate, syncToDownload, resolver)
		}
		return item
	}
	if d.Primary != nil {
		d.Primary = bind(d.Primary)
	}
	for i, item := range d.Secondary {
		d.Secondary[i] = bind(item)
	}
}

// CheckNames verifies every name that becomes part of a local path when d
// is bound: the origin device id and the names of its file items.
func (d *Data) CheckNames() error {
	if !ValidName(d.Coordinate.DeviceID) {
		return fmt.Errorf("%w: device id %q", ErrUnsafeName, d.Coordinate.DeviceID)
	}
	for _, item := range d.FileItems() {
		if err := item.CheckNames(); err != nil {
			return err
		}
	}
	return nil
}

type coordinateJSON struct {
	ID         int64  `json:"id"`
	DeviceID   string `json:"deviceId"`
	CreateTime int64  `json:"createTime"`
}

func (c Coordinate) MarshalJSON() ([]byte, error) {
	return json.Marshal(coordinateJSON{ID: c.ID, DeviceID: c.DeviceID, CreateTime: c.CreateTime.UnixMilli()})
}

func (c *Coordinate) UnmarshalJSON(data []byte) error {
	var raw coordinateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = NewCoordinate(raw.ID, raw.DeviceID, time.UnixMilli(raw.CreateTime))
	return nil
}

type dataJSON struct {
	ID         int64             `json:"id"`
	Coordinate Coordinate        `json:"coordinate"`
	Source     string            `json:"source,omitempty"`
	Favorite   bool              `json:"favorite,omitempty"`
	State      State             `json:"state"`
	Primary    json.RawMessage   `json:"primary"`
	Secondary  []json.RawMessage `json:"secondary,omitempty"`
}

func (d *Data) MarshalJSON() ([]byte, error) {
	if d.Primary == nil {
		return nil, fmt.Errorf("%w: record has no primary item", ErrInvalidItem)
	}
	primary, err := Marshal(d.Primary)
	if err != nil {
		return nil, err
	}
	out := dataJSON{
		ID:         d.ID,
		Coordinate: d.Coordinate,
		Source:     d.Source,
		Favorite:   d.Favorite,
		State:      d.State,
		Primary:    primary,
	}
	for _, item := range d.Secondary {
		raw, err := Marshal(item)
		if err != nil {
			return nil, err
		}
		out.Secondary = append(out.Secondary, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON drops secondary items of unknown type; an unknown primary
// fails the whole record.
func (d *Data) UnmarshalJSON(data []byte) error {
	var in dataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	primary, err := Unmarshal(in.Primary)
	if err != nil {
		return err
	}
	var secondary []Item
	for _, raw := range in.Secondary {
		item, err := Unmarshal(raw)
		if errors.Is(err, ErrUnknownType) {
			continue
		}
		if err != nil {
			return err
		}
		secondary = append(secondary, item)
	}
	*d = Data{
		ID:         in.ID,
		Coordinate: in.Coordinate,
		Source:     in.Source,
		Favorite:   in.Favorite,
		State:      in.State,
		Primary:    primary,
		Secondary:  secondary,
	}
	return nil
}
