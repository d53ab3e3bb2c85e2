package format

import (
	"fmt"
	"sort"
	"strings"

	"github.com/berrythewa/pastesync/internal/paste"
)

// itemBody renders the full content of one item.
func itemBody(item paste.Item, opts Options) string {
	var body string
	switch v := item.(type) {
	case paste.TextItem:
		body = v.Text()
	case paste.URLItem:
		body = v.URL()
		if title := v.ExtraInfo()[paste.ExtraTitle]; title != "" {
			body += "\n" + title
		}
	case paste.HTMLItem:
		body = v.Text()
	case paste.RTFItem:
		body = v.Text()
	case paste.ColorItem:
		body = paste.FormatColor(v.Color())
	case paste.FilesItem:
		body = fileList(v)
	default:
		body = item.Summary()
	}
	body = TruncateLines(body, opts.MaxLines)
	if opts.MaxWidth > 0 {
		lines := strings.Split(body, "\n")
		for i, l := range lines {
			lines[i] = TruncateText(l, opts.MaxWidth)
		}
		body = strings.Join(lines, "\n")
	}
	return body
}

func fileList(f paste.FilesItem) string {
	trees := f.FileInfoTreeMap()
	names := make([]string, 0, len(trees))
	for name := range trees {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		t := trees[name]
		if t.IsFile() {
			lines = append(lines, fmt.Sprintf("%s (%s)", name, FormatSize(t.Size())))
		} else {
			lines = append(lines, fmt.Sprintf("%s/ (%d files, %s)", name, t.Count(), FormatSize(t.Size())))
		}
	}
	return strings.Join(lines, "\n")
}

// itemPreview is a one line rendering of item.
func itemPreview(item paste.Item, maxLen int) string {
	var s string
	switch v := item.(type) {
	case paste.FilesItem:
		s = strings.Join(v.Names(), ", ")
	case paste.ColorItem:
		s = paste.FormatColor(v.Color())
	default:
		s = item.Summary()
	}
	s = oneLine(s)
	if s == "" {
		return "(empty)"
	}
	return TruncateText(s, maxLen)
}
