package paste

import (
	"strings"

	"github.com/berrythewa/pastesync/pkg/utils"
	"golang.org/x/net/html"
)

// HTMLItem is a markup fragment. Its plain text is extracted once at
// construction.
type HTMLItem struct {
	base
	html  string
	plain string
}

func NewHTMLItem(identifiers []string, markup string, extra ExtraInfo) HTMLItem {
	return HTMLItem{
		base:  newBase(identifiers, utils.HashString(markup), int64(len(markup)), extra),
		html:  markup,
		plain: htmlText(markup),
	}
}

func (h HTMLItem) Type() Type            { return TypeHTML }
func (h HTMLItem) HTML() string          { return h.html }
func (h HTMLItem) Text() string          { return h.plain }
func (h HTMLItem) SearchContent() string { return strings.ToLower(h.plain) }
func (h HTMLItem) Summary() string       { return summarize(h.plain) }
func (h HTMLItem) IsValid() bool         { return h.html != "" && h.hash != "" && h.size > 0 }

func (h HTMLItem) Copy(patch ExtraInfo) Item {
	h.base = h.base.withExtra(patch)
	return h
}

func (h HTMLItem) WithHTML(markup string) HTMLItem {
	return NewHTMLItem(h.identifiers, markup, h.extra)
}

// htmlText collects text nodes outside script and style elements.
func htmlText(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "div", "li", "tr":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if (string(name) == "script" || string(name) == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// RTFItem is a rich text document.
type RTFItem struct {
	base
	rtf   string
	plain string
}

func NewRTFItem(identifiers []string, rtf string, extra ExtraInfo) RTFItem {
	return RTFItem{
		base:  newBase(identifiers, utils.HashString(rtf), int64(len(rtf)), extra),
		rtf:   rtf,
		plain: rtfText(rtf),
	}
}

func (r RTFItem) Type() Type            { return TypeRTF }
func (r RTFItem) RTF() string           { return r.rtf }
func (r RTFItem) Text() string          { return r.plain }
func (r RTFItem) SearchContent() string { return strings.ToLower(r.plain) }
func (r RTFItem) Summary() string       { return summarize(r.plain) }
func (r RTFItem) IsValid() bool         { return r.rtf != "" && r.hash != "" && r.size > 0 }

func (r RTFItem) Copy(patch ExtraInfo) Item {
	r.base = r.base.withExtra(patch)
	return r
}

func (r RTFItem) WithRTF(rtf string) RTFItem {
	return NewRTFItem(r.identifiers, rtf, r.extra)
}

// rtfText drops control words, hex escapes and destination groups ({\* ...}).
func rtfText(src string) string {
	var b strings.Builder
	// ignorable[d] is true when group depth d is a destination to skip
	ignorable := []bool{false}
	skipping := func() bool { return ignorable[len(ignorable)-1] }

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch c {
		case '{':
			ignorable = append(ignorable, skipping())
		case '}':
			if len(ignorable) > 1 {
				ignorable = ignorable[:len(ignorable)-1]
			}
		case '\\':
			if i+1 >= len(src) {
				continue
			}
			next := src[i+1]
			switch {
			case next == '\\' || next == '{' || next == '}':
				if !skipping() {
					b.WriteByte(next)
				}
				i++
			case next == '*':
				ignorable[len(ignorable)-1] = true
				i++
			case next == '\'':
				// \'hh
				i += 3
			case isASCIILetter(next):
				j := i + 1
				for j < len(src) && isASCIILetter(src[j]) {
					j++
				}
				word := src[i+1 : j]
				for j < len(src) && (src[j] == '-' || (src[j] >= '0' && src[j] <= '9')) {
					j++
				}
				if j < len(src) && src[j] == ' ' {
					j++
				}
				switch word {
				case "par", "line":
					if !skipping() {
						b.WriteByte('\n')
					}
				case "tab":
					if !skipping() {
						b.WriteByte('\t')
					}
				case "fonttbl", "colortbl", "stylesheet", "info", "pict":
					ignorable[len(ignorable)-1] = true
				}
				i = j - 1
			default:
				i++
			}
		case '\r', '\n':
		default:
			if !skipping() {
				b.WriteByte(c)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
