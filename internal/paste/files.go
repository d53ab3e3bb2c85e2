package paste

import (
	"bytes"
	"fmt"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/berrythewa/pastesync/pkg/utils"
)

// FileCategory selects the owned-storage area for a file.
type FileCategory string

const (
	CategoryFile  FileCategory = "files"
	CategoryImage FileCategory = "images"
	CategoryIcon  FileCategory = "icons"
)

// PathResolver maps owned storage categories to concrete directories.
type PathResolver interface {
	Resolve(category FileCategory, rel string) string
	DownloadDir() string
}

// FilesItem is a multi-file selection or a set of images. BasePath nil
// means the item owns private copies of its files.
type FilesItem struct {
	base
	typ      Type
	count    int64
	basePath *string
	trees    map[string]*FileInfoTree
	relPaths []string
	// localNames maps a top-level name to the name it has on this device
	// when the two differ.
	localNames map[string]string
}

// NewFilesItem builds a files or images item. relPaths are slash separated
// and their base names are the keys of trees.
func NewFilesItem(typ Type, identifiers []string, basePath *string, trees map[string]*FileInfoTree, relPaths []string, extra ExtraInfo) (FilesItem, error) {
	if typ != TypeFiles && typ != TypeImages {
		return FilesItem{}, fmt.Errorf("%w: %s is not file bearing", ErrInvalidItem, typ)
	}
	item := FilesItem{
		typ:      typ,
		trees:    maps.Clone(trees),
		relPaths: slices.Clone(relPaths),
	}
	if basePath != nil {
		bp := *basePath
		item.basePath = &bp
	}
	var size int64
	for _, t := range trees {
		item.count += t.Count()
		size += t.Size()
	}
	item.base = newBase(identifiers, filesHash(trees), size, extra)
	return item, nil
}

func filesHash(trees map[string]*FileInfoTree) string {
	if len(trees) == 0 {
		return ""
	}
	var buf bytes.Buffer
	names := slices.Sorted(maps.Keys(trees))
	for _, name := range names {
		fmt.Fprintf(&buf, "%q=", name)
		trees[name].writeDigest(&buf)
	}
	return utils.HashBytes(buf.Bytes())
}

func (f FilesItem) Type() Type  { return f.typ }
func (f FilesItem) Count() int64 { return f.count }

func (f FilesItem) BasePath() (string, bool) {
	if f.basePath == nil {
		return "", false
	}
	return *f.basePath, true
}

// Owned reports whether the item holds private copies of its files.
func (f FilesItem) Owned() bool { return f.basePath == nil }

func (f FilesItem) FileInfoTreeMap() map[string]*FileInfoTree { return maps.Clone(f.trees) }
func (f FilesItem) RelativePathList() []string                { return slices.Clone(f.relPaths) }

// Names returns top-level entry names in lexicographic order.
func (f FilesItem) Names() []string {
	return slices.Sorted(maps.Keys(f.trees))
}

func (f FilesItem) Category() FileCategory {
	if f.typ == TypeImages {
		return CategoryImage
	}
	return CategoryFile
}

func (f FilesItem) SearchContent() string {
	return strings.ToLower(strings.Join(f.Names(), " "))
}

func (f FilesItem) Summary() string {
	names := f.Names()
	switch {
	case len(names) == 0:
		return ""
	case len(names) <= 3:
		return strings.Join(names, ", ")
	default:
		return fmt.Sprintf("%s (+%d)", strings.Join(names[:3], ", "), len(names)-3)
	}
}

// ShapeValid checks the structural invariants only, without touching disk.
func (f FilesItem) ShapeValid() bool {
	if f.count <= 0 || len(f.trees) == 0 || f.hash == "" {
		return false
	}
	if len(f.relPaths) != len(f.trees) {
		return false
	}
	var count int64
	for _, t := range f.trees {
		count += t.Count()
	}
	return count == f.count
}

func (f FilesItem) IsValid() bool {
	if !f.ShapeValid() {
		return false
	}
	if f.basePath == nil {
		return true
	}
	for _, rel := range f.relPaths {
		if utils.Exists(filepath.Join(*f.basePath, filepath.FromSlash(rel))) {
			return true
		}
	}
	return false
}

func (f FilesItem) Copy(patch ExtraInfo) Item {
	f.base = f.base.withExtra(patch)
	return f
}

// CheckNames verifies that every name of the item is a single path element
// and every relative path stays below its root.
func (f FilesItem) CheckNames() error {
	for name, t := range f.trees {
		if !ValidName(name) {
			return fmt.Errorf("%w: %q", ErrUnsafeName, name)
		}
		if t == nil {
			return fmt.Errorf("%w: %q has no file info", ErrInvalidItem, name)
		}
		if err := t.checkNames(); err != nil {
			return err
		}
	}
	for _, local := range f.localNames {
		if !ValidName(local) {
			return fmt.Errorf("%w: %q", ErrUnsafeName, local)
		}
	}
	for _, rel := range f.relPaths {
		if !localPath(rel) {
			return fmt.Errorf("%w: %q", ErrUnsafeName, rel)
		}
	}
	return nil
}

func localPath(rel string) bool {
	return rel != "" && !strings.ContainsAny(rel, "\\\x00") && filepath.IsLocal(filepath.FromSlash(rel))
}

// Locate returns the absolute location of every top-level entry, keyed by
// name. Relative paths that would leave their root are skipped.
func (f FilesItem) Locate(resolver PathResolver) map[string]string {
	out := make(map[string]string, len(f.relPaths))
	renamed := make(map[string]string, len(f.localNames))
	for name, local := range f.localNames {
		renamed[local] = name
	}
	for _, rel := range f.relPaths {
		if !localPath(rel) {
			continue
		}
		name := path.Base(rel)
		if orig, ok := renamed[name]; ok {
			name = orig
		}
		if f.basePath != nil {
			out[name] = filepath.Join(*f.basePath, filepath.FromSlash(rel))
		} else {
			out[name] = resolver.Resolve(f.Category(), rel)
		}
	}
	return out
}

// Bind rewrites where the files of a received item live. With
// syncToDownload the files go to the downloads directory under their
// original names, which the caller renames with Rename on collision;
// otherwise the item owns a copy under an item-scoped path.
func (f FilesItem) Bind(coord Coordinate, syncToDownload bool, resolver PathResolver) FilesItem {
	names := f.Names()
	rel := make([]string, 0, len(names))
	f.localNames = nil
	if syncToDownload {
		dir := resolver.DownloadDir()
		f.basePath = &dir
		rel = append(rel, names...)
	} else {
		f.basePath = nil
		for _, name := range names {
			rel = append(rel, OwnedRelativePath(coord, name))
		}
	}
	f.relPaths = rel
	return f
}

// Rename places top-level entries of a referenced item under the names in
// local, keyed by original name. The hash and chunk order stay those of the
// original names.
func (f FilesItem) Rename(local map[string]string) FilesItem {
	if f.basePath == nil {
		return f
	}
	names := f.Names()
	rel := make([]string, 0, len(names))
	f.localNames = nil
	for _, name := range names {
		to, ok := local[name]
		if !ok || to == name {
			rel = append(rel, name)
			continue
		}
		if f.localNames == nil {
			f.localNames = make(map[string]string)
		}
		f.localNames[name] = to
		rel = append(rel, to)
	}
	f.relPaths = rel
	return f
}

// LocalName is the name entry name has on this device.
func (f FilesItem) LocalName(name string) string {
	if to, ok := f.localNames[name]; ok {
		return to
	}
	return name
}

// OwnedRelativePath is the item-scoped location of an owned file.
func OwnedRelativePath(coord Coordinate, name string) string {
	return path.Join(
		coord.CreateTime.Format("2006-01-02"),
		coord.DeviceID,
		strconv.FormatInt(coord.ID, 10),
		name,
	)
}
