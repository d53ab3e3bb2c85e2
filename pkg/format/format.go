// Package format renders paste history for terminals.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"
)

// Formatter renders pastes with fixed options
type Formatter struct {
	options Options
	now     func() time.Time
}

func New(opts Options) *Formatter {
	return &Formatter{options: opts, now: time.Now}
}

// FormatPaste renders one paste.
func (f *Formatter) FormatPaste(d *paste.Data) string {
	if d == nil || d.Primary == nil {
		return ColorizeIf("No content", Gray, f.options.UseColors)
	}

	header := f.formatHeader(d)
	if f.options.Compact {
		return header + " " + DimIf(itemPreview(d.Primary, 50), f.options.UseColors)
	}

	parts := []string{header}
	if f.options.ShowMetadata {
		parts = append(parts, f.formatMetadata(d))
	}
	if body := itemBody(d.Primary, f.options); body != "" {
		parts = append(parts, CreateBox("Content", body, f.options))
	}
	return strings.Join(parts, "\n")
}

// FormatPasteList renders pastes in the order given.
func (f *Formatter) FormatPasteList(list []*paste.Data) string {
	if len(list) == 0 {
		return ColorizeIf("No clipboard history", Gray, f.options.UseColors)
	}

	title := fmt.Sprintf("Clipboard History (%d entries)", len(list))
	parts := []string{ColorizeIf(title, BrightBlue, f.options.UseColors), ""}
	for i, d := range list {
		index := fmt.Sprintf("[%d]", i+1)
		if f.options.Compact {
			parts = append(parts, index+" "+f.FormatPaste(d))
			continue
		}
		parts = append(parts, index, f.FormatPaste(d))
		if i < len(list)-1 {
			parts = append(parts, CreateSeparator(f.options))
		}
	}
	return strings.Join(parts, "\n")
}

func (f *Formatter) formatHeader(d *paste.Data) string {
	var parts []string
	typ := d.Type()
	if f.options.UseIcons {
		if icon, ok := TypeIcons[typ]; ok {
			parts = append(parts, icon)
		}
	}
	parts = append(parts, BoldIf(fmt.Sprintf("#%d", d.ID), f.options.UseColors))
	parts = append(parts, ColorizeIf(string(typ), TypeColors[typ], f.options.UseColors))
	if d.Favorite {
		parts = append(parts, ColorizeIf("★", BrightYellow, f.options.UseColors))
	}
	if d.State != "" && d.State != paste.StateLoaded {
		parts = append(parts, ColorizeIf("["+string(d.State)+"]", Red, f.options.UseColors))
	}
	return strings.Join(parts, " ")
}

func (f *Formatter) formatMetadata(d *paste.Data) string {
	parts := []string{
		"Created: " + FormatRelativeTime(d.Coordinate.CreateTime, f.now()),
		"Device: " + d.Coordinate.DeviceID,
		"Size: " + FormatSize(d.Size()),
	}
	if d.Source != "" {
		parts = append(parts, "Source: "+d.Source)
	}
	if n := len(d.Secondary); n > 0 {
		parts = append(parts, fmt.Sprintf("Also: %d formats", n))
	}
	return DimIf(strings.Join(parts, " • "), f.options.UseColors)
}

// FormatPaste renders one paste with opts.
func FormatPaste(d *paste.Data, opts Options) string {
	return New(opts).FormatPaste(d)
}

// FormatPasteList renders pastes with opts.
func FormatPasteList(list []*paste.Data, opts Options) string {
	return New(opts).FormatPasteList(list)
}
