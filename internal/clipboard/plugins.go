package clipboard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/pkg/utils"
	"github.com/google/uuid"
)

// ErrNotApplicable means the snapshot holds the claimed format but its
// content is not of the plugin's kind.
var ErrNotApplicable = errors.New("content not applicable")

// Plugin builds one kind of item from a snapshot.
type Plugin interface {
	Name() string
	Type() paste.Type
	// Identifiers are the formats the plugin claims.
	Identifiers() []string
	// Priority orders candidates for the primary item, highest first.
	Priority() int
	// Enrich reads the claimed formats ids of snap and builds the item.
	Enrich(ctx context.Context, snap Snapshot, ids []string, coord paste.Coordinate) (paste.Item, error)
}

// Discarder is implemented by plugins whose items hold files outside the
// paste record. Discard releases them for an item that is not stored.
type Discarder interface {
	Discard(item paste.Item) error
}

// DefaultPlugins returns every built-in plugin. Images are copied into
// storage owned through resolver; file lists are referenced in place.
func DefaultPlugins(resolver paste.PathResolver) []Plugin {
	return []Plugin{
		textPlugin{},
		urlPlugin{},
		htmlPlugin{},
		rtfPlugin{},
		colorPlugin{},
		imagePlugin{resolver: resolver},
		filesPlugin{},
	}
}

func readText(snap Snapshot, ids []string) (string, error) {
	for _, id := range ids {
		v, err := snap.Read(id)
		if err != nil {
			continue
		}
		if v.Text != "" {
			return v.Text, nil
		}
		if len(v.Bytes) > 0 {
			return string(v.Bytes), nil
		}
	}
	return "", ErrNotApplicable
}

type textPlugin struct{}

func (textPlugin) Name() string          { return "text" }
func (textPlugin) Type() paste.Type      { return paste.TypeText }
func (textPlugin) Identifiers() []string { return []string{FormatText} }
func (textPlugin) Priority() int         { return 10 }

func (textPlugin) Enrich(_ context.Context, snap Snapshot, ids []string, _ paste.Coordinate) (paste.Item, error) {
	text, err := readText(snap, ids)
	if err != nil {
		return nil, err
	}
	return paste.NewTextItem(ids, text, nil), nil
}

// urlPlugin also claims plain text and accepts it when it is one URL.
type urlPlugin struct{}

func (urlPlugin) Name() string          { return "url" }
func (urlPlugin) Type() paste.Type      { return paste.TypeURL }
func (urlPlugin) Identifiers() []string { return []string{FormatURL, FormatText} }
func (urlPlugin) Priority() int         { return 30 }

func (urlPlugin) Enrich(_ context.Context, snap Snapshot, ids []string, _ paste.Coordinate) (paste.Item, error) {
	text, err := readText(snap, ids)
	if err != nil {
		return nil, err
	}
	// text/x-moz-url carries "url\ntitle"
	link, title, _ := strings.Cut(strings.TrimSpace(text), "\n")
	link = strings.TrimSpace(link)
	if !isValidURL(link) {
		return nil, ErrNotApplicable
	}
	var extra paste.ExtraInfo
	if title = strings.TrimSpace(title); title != "" {
		extra = paste.ExtraInfo{paste.ExtraTitle: title}
	}
	return paste.NewURLItem(ids, link, extra), nil
}

type htmlPlugin struct{}

func (htmlPlugin) Name() string          { return "html" }
func (htmlPlugin) Type() paste.Type      { return paste.TypeHTML }
func (htmlPlugin) Identifiers() []string { return []string{FormatHTML} }
func (htmlPlugin) Priority() int         { return 20 }

func (htmlPlugin) Enrich(_ context.Context, snap Snapshot, ids []string, _ paste.Coordinate) (paste.Item, error) {
	markup, err := readText(snap, ids)
	if err != nil {
		return nil, err
	}
	return paste.NewHTMLItem(ids, markup, nil), nil
}

type rtfPlugin struct{}

func (rtfPlugin) Name() string          { return "rtf" }
func (rtfPlugin) Type() paste.Type      { return paste.TypeRTF }
func (rtfPlugin) Identifiers() []string { return []string{FormatRTF} }
func (rtfPlugin) Priority() int         { return 15 }

func (rtfPlugin) Enrich(_ context.Context, snap Snapshot, ids []string, _ paste.Coordinate) (paste.Item, error) {
	rtf, err := readText(snap, ids)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(strings.TrimSpace(rtf), `{\rtf`) {
		return nil, ErrNotApplicable
	}
	return paste.NewRTFItem(ids, rtf, nil), nil
}

type colorPlugin struct{}

func (colorPlugin) Name() string          { return "color" }
func (colorPlugin) Type() paste.Type      { return paste.TypeColor }
func (colorPlugin) Identifiers() []string { return []string{FormatColor} }
func (colorPlugin) Priority() int         { return 40 }

func (colorPlugin) Enrich(_ context.Context, snap Snapshot, ids []string, _ paste.Coordinate) (paste.Item, error) {
	text, err := readText(snap, ids)
	if err != nil {
		return nil, err
	}
	argb, err := paste.ParseColor(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotApplicable, err)
	}
	return paste.NewColorItem(ids, argb, nil), nil
}

// imagePlugin copies image bytes into owned storage.
type imagePlugin struct {
	resolver paste.PathResolver
}

func (imagePlugin) Name() string          { return "image" }
func (imagePlugin) Type() paste.Type      { return paste.TypeImages }
func (imagePlugin) Identifiers() []string { return []string{FormatPNG, FormatJPEG} }
func (imagePlugin) Priority() int         { return 50 }

func (p imagePlugin) Enrich(ctx context.Context, snap Snapshot, ids []string, coord paste.Coordinate) (paste.Item, error) {
	var data []byte
	for _, id := range ids {
		if v, err := snap.Read(id); err == nil && len(v.Bytes) > 0 {
			data = v.Bytes
			break
		}
	}
	ext := imageExtension(data)
	if ext == "" {
		return nil, ErrNotApplicable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := "image" + ext
	rel := path.Join(coord.CreateTime.Format("2006-01-02"), coord.DeviceID, uuid.NewString(), name)
	if err := utils.WriteFileAtomic(p.resolver.Resolve(paste.CategoryImage, rel), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}
	trees := map[string]*paste.FileInfoTree{name: paste.NewFileLeaf(utils.HashBytes(data), int64(len(data)))}
	return paste.NewFilesItem(paste.TypeImages, ids, nil, trees, []string{rel}, nil)
}

// Discard removes the owned copy of an image item and its directory.
func (p imagePlugin) Discard(item paste.Item) error {
	f, ok := item.(paste.FilesItem)
	if !ok || !f.Owned() || f.Type() != paste.TypeImages {
		return nil
	}
	var errs []error
	for _, loc := range f.Locate(p.resolver) {
		if err := os.Remove(loc); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		_ = os.Remove(filepath.Dir(loc))
	}
	return errors.Join(errs...)
}

// filesPlugin references the copied files where they are.
type filesPlugin struct{}

func (filesPlugin) Name() string          { return "files" }
func (filesPlugin) Type() paste.Type      { return paste.TypeFiles }
func (filesPlugin) Identifiers() []string { return []string{FormatFiles} }
func (filesPlugin) Priority() int         { return 60 }

func (filesPlugin) Enrich(ctx context.Context, snap Snapshot, ids []string, _ paste.Coordinate) (paste.Item, error) {
	var files []string
	for _, id := range ids {
		if v, err := snap.Read(id); err == nil && len(v.Files) > 0 {
			files = v.Files
			break
		}
	}
	if len(files) == 0 {
		return nil, ErrNotApplicable
	}

	base := commonDir(files)
	trees := make(map[string]*paste.FileInfoTree, len(files))
	rels := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := filepath.Base(f)
		if _, dup := trees[name]; dup {
			continue
		}
		tree, err := paste.BuildFileInfoTree(f)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(base, f)
		if err != nil {
			return nil, err
		}
		trees[name] = tree
		rels = append(rels, filepath.ToSlash(rel))
	}
	return paste.NewFilesItem(paste.TypeFiles, ids, &base, trees, rels, nil)
}

// commonDir is the deepest directory containing every path.
func commonDir(paths []string) string {
	dir := filepath.Dir(filepath.Clean(paths[0]))
	for _, p := range paths[1:] {
		for !within(dir, filepath.Clean(p)) {
			parent := filepath.Dir(dir)
			if parent == dir {
				return dir
			}
			dir = parent
		}
	}
	return dir
}

func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
