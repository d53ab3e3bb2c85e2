package paste

import (
	"strings"
	"unicode/utf8"

	"github.com/berrythewa/pastesync/pkg/utils"
)

const summaryMaxRunes = 128

// TextItem is plain text.
type TextItem struct {
	base
	text string
}

func NewTextItem(identifiers []string, text string, extra ExtraInfo) TextItem {
	return TextItem{
		base: newBase(identifiers, utils.HashString(text), int64(len(text)), extra),
		text: text,
	}
}

func (t TextItem) Type() Type             { return TypeText }
func (t TextItem) Text() string           { return t.text }
func (t TextItem) SearchContent() string  { return strings.ToLower(t.text) }
func (t TextItem) Summary() string        { return summarize(t.text) }
func (t TextItem) IsValid() bool          { return t.text != "" && t.hash != "" && t.size > 0 }
func (t TextItem) Copy(patch ExtraInfo) Item {
	t.base = t.base.withExtra(patch)
	return t
}

// WithText returns an edited copy with a fresh hash and size.
func (t TextItem) WithText(text string) TextItem {
	return NewTextItem(t.identifiers, text, t.extra)
}

// URLItem is a single hyperlink.
type URLItem struct {
	base
	url string
}

func NewURLItem(identifiers []string, url string, extra ExtraInfo) URLItem {
	return URLItem{
		base: newBase(identifiers, utils.HashString(url), int64(len(url)), extra),
		url:  url,
	}
}

func (u URLItem) Type() Type            { return TypeURL }
func (u URLItem) URL() string           { return u.url }
func (u URLItem) SearchContent() string { return strings.ToLower(u.url) }
func (u URLItem) IsValid() bool         { return u.url != "" && u.hash != "" && u.size > 0 }

func (u URLItem) Summary() string {
	if title := u.extra[ExtraTitle]; title != "" {
		return summarize(title)
	}
	return summarize(u.url)
}

func (u URLItem) Copy(patch ExtraInfo) Item {
	u.base = u.base.withExtra(patch)
	return u
}

func (u URLItem) WithURL(url string) URLItem {
	return NewURLItem(u.identifiers, url, u.extra)
}

// summarize returns the first non-blank line, cut to summaryMaxRunes.
func summarize(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > summaryMaxRunes {
			r := []rune(line)
			return string(r[:summaryMaxRunes]) + "…"
		}
		return line
	}
	return ""
}
