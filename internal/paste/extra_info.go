package paste

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// Known extra info keys. Anything else is dropped on decode.
const (
	ExtraName           = "name"
	ExtraTitle          = "title"
	ExtraBackground     = "background"
	ExtraMarkPath       = "markPath"
	ExtraSyncToDownload = "syncToDownload"
)

var knownExtraKeys = map[string]struct{}{
	ExtraName:           {},
	ExtraTitle:          {},
	ExtraBackground:     {},
	ExtraMarkPath:       {},
	ExtraSyncToDownload: {},
}

// ExtraInfo is sparse user or system metadata attached to an item.
type ExtraInfo map[string]string

// Merge returns a new map with patch applied on top of e. Keys missing
// from patch are kept.
func (e ExtraInfo) Merge(patch ExtraInfo) ExtraInfo {
	out := make(ExtraInfo, len(e)+len(patch))
	maps.Copy(out, e)
	for k, v := range patch {
		if _, ok := knownExtraKeys[k]; ok {
			out[k] = v
		}
	}
	return out.clean()
}

func (e ExtraInfo) SyncToDownload() bool {
	v, _ := strconv.ParseBool(e[ExtraSyncToDownload])
	return v
}

func (e ExtraInfo) clone() ExtraInfo {
	if len(e) == 0 {
		return nil
	}
	return maps.Clone(e)
}

func (e ExtraInfo) clean() ExtraInfo {
	if len(e) == 0 {
		return nil
	}
	out := make(ExtraInfo, len(e))
	for k, v := range e {
		if _, ok := knownExtraKeys[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// decodeExtraInfo accepts both the structured map and the legacy form where
// the map was encoded again into a JSON string.
func decodeExtraInfo(raw json.RawMessage) (ExtraInfo, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var embedded string
		if err := json.Unmarshal(raw, &embedded); err != nil {
			return nil, fmt.Errorf("failed to decode legacy extra info: %w", err)
		}
		if embedded == "" {
			return nil, nil
		}
		raw = []byte(embedded)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic map[string]any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode extra info: %w", err)
	}

	out := make(ExtraInfo, len(generic))
	for k, v := range generic {
		if _, ok := knownExtraKeys[k]; !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case json.Number:
			out[k] = val.String()
		case nil:
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out.clean(), nil
}
