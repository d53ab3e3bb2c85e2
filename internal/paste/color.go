package paste

import (
	"fmt"
	"strconv"
	"strings"
)

const colorSize = 8

// ColorItem is a solid ARGB color.
type ColorItem struct {
	base
	color int32
}

func NewColorItem(identifiers []string, argb int32, extra ExtraInfo) ColorItem {
	return ColorItem{
		base:  newBase(identifiers, colorHash(argb), colorSize, extra),
		color: argb,
	}
}

func colorHash(argb int32) string {
	return strconv.FormatInt(int64(argb), 10)
}

func (c ColorItem) Type() Type            { return TypeColor }
func (c ColorItem) Color() int32          { return c.color }
func (c ColorItem) Summary() string       { return FormatColor(c.color) }
func (c ColorItem) SearchContent() string { return strings.ToLower(FormatColor(c.color)) }
func (c ColorItem) IsValid() bool         { return c.size == colorSize && c.hash == colorHash(c.color) }

func (c ColorItem) Copy(patch ExtraInfo) Item {
	c.base = c.base.withExtra(patch)
	return c
}

func (c ColorItem) WithColor(argb int32) ColorItem {
	return NewColorItem(c.identifiers, argb, c.extra)
}

// FormatColor renders argb as #AARRGGBB.
func FormatColor(argb int32) string {
	return fmt.Sprintf("#%08X", uint32(argb))
}

// ParseColor accepts #RGB, #RRGGBB and #AARRGGBB. Missing alpha is opaque.
func ParseColor(s string) (int32, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(s) {
	case 3:
		s = "FF" + string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	case 6:
		s = "FF" + s
	case 8:
	default:
		return 0, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return int32(uint32(v)), nil
}
