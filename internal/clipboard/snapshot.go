// Package clipboard turns native clipboard snapshots into paste records.
package clipboard

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
)

// Portable format identifiers. Watchers translate native formats to these.
const (
	FormatText  = "text/plain"
	FormatURL   = "text/x-moz-url"
	FormatHTML  = "text/html"
	FormatRTF   = "text/rtf"
	FormatColor = "application/x-color"
	FormatPNG   = "image/png"
	FormatJPEG  = "image/jpeg"
	FormatFiles = "text/uri-list"
)

var ErrFormatUnavailable = errors.New("clipboard format unavailable")

// Value is one format read from a snapshot. Which field is set depends on
// the format: text formats fill Text, images Bytes, file lists Files.
type Value struct {
	Text  string
	Bytes []byte
	Files []string
}

// Snapshot is the clipboard content at one instant.
type Snapshot interface {
	Formats() []string
	Read(format string) (Value, error)
}

// Event is one clipboard change seen by a Watcher.
type Event struct {
	Snapshot Snapshot
	// Source labels the application that owned the clipboard, if known
	Source string
}

// Watcher reports clipboard changes until ctx is done, then closes the
// channel.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Event, error)
	// WriteText replaces the clipboard with text.
	WriteText(text string) error
}

// MapSnapshot is a Snapshot held in memory.
type MapSnapshot struct {
	order  []string
	values map[string]Value
}

func NewMapSnapshot() *MapSnapshot {
	return &MapSnapshot{values: make(map[string]Value)}
}

// Set adds or replaces a format, keeping first insertion order.
func (s *MapSnapshot) Set(format string, v Value) *MapSnapshot {
	if _, ok := s.values[format]; !ok {
		s.order = append(s.order, format)
	}
	s.values[format] = v
	return s
}

func (s *MapSnapshot) Formats() []string {
	return append([]string(nil), s.order...)
}

func (s *MapSnapshot) Read(format string) (Value, error) {
	v, ok := s.values[format]
	if !ok {
		return Value{}, ErrFormatUnavailable
	}
	return v, nil
}

// isValidURL checks if the given string is a valid URL
func isValidURL(s string) bool {
	if strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	// A valid URL should have a scheme and host
	return u.Scheme != "" && u.Host != ""
}

// imageExtension returns the file extension matching the magic bytes of
// data, or "" when data is not a known image.
func imageExtension(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47}):
		return ".png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return ".jpg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return ".gif"
	case bytes.HasPrefix(data, []byte("BM")):
		return ".bmp"
	}
	return ""
}
