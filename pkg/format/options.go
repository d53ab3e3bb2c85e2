package format

import "github.com/berrythewa/pastesync/internal/paste"

// Options controls formatting behavior
type Options struct {
	UseColors    bool
	UseIcons     bool
	MaxWidth     int  // Max content width (0 = no limit)
	MaxLines     int  // Max content lines (0 = no limit)
	ShowMetadata bool // Show device, size, state
	Compact      bool // Use compact single-line format
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		UseColors:    true,
		UseIcons:     true,
		MaxWidth:     80,
		MaxLines:     10,
		ShowMetadata: true,
	}
}

// CompactOptions returns options for compact single-line display
func CompactOptions() Options {
	opts := DefaultOptions()
	opts.Compact = true
	opts.ShowMetadata = false
	opts.MaxLines = 1
	return opts
}

// PlainOptions disables colors and icons, for pipes and tests.
func PlainOptions() Options {
	opts := DefaultOptions()
	opts.UseColors = false
	opts.UseIcons = false
	return opts
}

// TypeIcons maps paste types to Unicode icons
var TypeIcons = map[paste.Type]string{
	paste.TypeText:   "📝",
	paste.TypeURL:    "🔗",
	paste.TypeHTML:   "🌐",
	paste.TypeRTF:    "📄",
	paste.TypeColor:  "🎨",
	paste.TypeImages: "🖼️",
	paste.TypeFiles:  "📎",
}

// TypeColors maps paste types to colors
var TypeColors = map[paste.Type]string{
	paste.TypeText:   Cyan,
	paste.TypeURL:    Blue,
	paste.TypeHTML:   Green,
	paste.TypeRTF:    Gray,
	paste.TypeColor:  Red,
	paste.TypeImages: Magenta,
	paste.TypeFiles:  Yellow,
}
