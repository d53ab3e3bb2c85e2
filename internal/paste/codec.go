package paste

import (
	"encoding/json"
	"fmt"
)

type itemJSON struct {
	Type        Type            `json:"type"`
	Identifiers []string        `json:"identifiers,omitempty"`
	Hash        string          `json:"hash"`
	Size        int64           `json:"size"`
	ExtraInfo   json.RawMessage `json:"extraInfo,omitempty"`

	Text  *string `json:"text,omitempty"`
	URL   *string `json:"url,omitempty"`
	HTML  *string `json:"html,omitempty"`
	RTF   *string `json:"rtf,omitempty"`
	Color *int32  `json:"color,omitempty"`

	Count            *int64                   `json:"count,omitempty"`
	BasePath         *string                  `json:"basePath,omitempty"`
	FileInfoTreeMap  map[string]*FileInfoTree `json:"fileInfoTreeMap,omitempty"`
	RelativePathList []string                 `json:"relativePathList,omitempty"`
	LocalNames       map[string]string        `json:"localNames,omitempty"`
}

// Marshal encodes item as a flat JSON object with a type discriminator.
func Marshal(item Item) ([]byte, error) {
	out := itemJSON{
		Type:        item.Type(),
		Identifiers: item.Identifiers(),
		Hash:        item.Hash(),
		Size:        item.Size(),
	}
	if extra := item.ExtraInfo(); len(extra) > 0 {
		raw, err := json.Marshal(extra)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extra info: %w", err)
		}
		out.ExtraInfo = raw
	}

	switch v := item.(type) {
	case TextItem:
		out.Text = &v.text
	case URLItem:
		out.URL = &v.url
	case HTMLItem:
		out.HTML = &v.html
	case RTFItem:
		out.RTF = &v.rtf
	case ColorItem:
		out.Color = &v.color
	case FilesItem:
		count := v.count
		out.Count = &count
		out.BasePath = v.basePath
		out.FileInfoTreeMap = v.trees
		out.RelativePathList = v.relPaths
		out.LocalNames = v.localNames
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, item)
	}
	return json.Marshal(out)
}

// Unmarshal decodes one item. Unknown types return ErrUnknownType and no item.
func Unmarshal(data []byte) (Item, error) {
	var in itemJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to decode paste item: %w", err)
	}
	extra, err := decodeExtraInfo(in.ExtraInfo)
	if err != nil {
		return nil, err
	}
	b := newBase(in.Identifiers, in.Hash, in.Size, extra)

	switch in.Type {
	case TypeText:
		return TextItem{base: b, text: deref(in.Text)}, nil
	case TypeURL:
		return URLItem{base: b, url: deref(in.URL)}, nil
	case TypeHTML:
		markup := deref(in.HTML)
		return HTMLItem{base: b, html: markup, plain: htmlText(markup)}, nil
	case TypeRTF:
		rtf := deref(in.RTF)
		return RTFItem{base: b, rtf: rtf, plain: rtfText(rtf)}, nil
	case TypeColor:
		var c int32
		if in.Color != nil {
			c = *in.Color
		}
		return ColorItem{base: b, color: c}, nil
	case TypeFiles, TypeImages:
		item := FilesItem{
			base:       b,
			typ:        in.Type,
			basePath:   in.BasePath,
			trees:      in.FileInfoTreeMap,
			relPaths:   in.RelativePathList,
			localNames: in.LocalNames,
		}
		if in.Count != nil {
			item.count = *in.Count
		}
		if err := item.CheckNames(); err != nil {
			return nil, err
		}
		return item, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
