package paste

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/berrythewa/pastesync/pkg/utils"
)

// FileInfoTree describes one file (leaf) or directory. Count and size are
// computed at construction and never change.
type FileInfoTree struct {
	hash     string
	size     int64
	count    int64
	children map[string]*FileInfoTree
}

// ValidName reports whether name can be used as one path element on any
// device: not empty, not "." or "..", and free of separators.
func ValidName(name string) bool {
	if name == "" || strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return filepath.IsLocal(name) && name == filepath.Base(name)
}

func NewFileLeaf(hash string, size int64) *FileInfoTree {
	return &FileInfoTree{hash: hash, size: size, count: 1}
}

func NewFileDir(children map[string]*FileInfoTree) *FileInfoTree {
	t := &FileInfoTree{children: make(map[string]*FileInfoTree, len(children))}
	for name, child := range children {
		t.children[name] = child
		t.size += child.size
		t.count += child.count
	}
	return t
}

func (t *FileInfoTree) IsFile() bool { return t.children == nil }
func (t *FileInfoTree) Hash() string { return t.hash }
func (t *FileInfoTree) Size() int64  { return t.size }
func (t *FileInfoTree) Count() int64 { return t.count }

// Names returns child names in lexicographic order.
func (t *FileInfoTree) Names() []string {
	names := make([]string, 0, len(t.children))
	for name := range t.children {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (t *FileInfoTree) Child(name string) *FileInfoTree {
	return t.children[name]
}

// writeDigest feeds a canonical description of the tree into w.
func (t *FileInfoTree) writeDigest(w io.Writer) {
	if t.IsFile() {
		fmt.Fprintf(w, "f:%s:%d;", t.hash, t.size)
		return
	}
	fmt.Fprint(w, "d{")
	for _, name := range t.Names() {
		fmt.Fprintf(w, "%q=", name)
		t.children[name].writeDigest(w)
	}
	fmt.Fprint(w, "}")
}

type fileInfoJSON struct {
	Hash     string                   `json:"hash,omitempty"`
	Size     int64                    `json:"size"`
	Children map[string]*FileInfoTree `json:"children,omitempty"`
}

func (t *FileInfoTree) MarshalJSON() ([]byte, error) {
	if t.IsFile() {
		return json.Marshal(fileInfoJSON{Hash: t.hash, Size: t.size})
	}
	return json.Marshal(struct {
		Children map[string]*FileInfoTree `json:"children"`
	}{Children: t.children})
}

func (t *FileInfoTree) UnmarshalJSON(data []byte) error {
	var raw fileInfoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Children != nil {
		for name := range raw.Children {
			if !ValidName(name) {
				return fmt.Errorf("%w: %q", ErrUnsafeName, name)
			}
		}
		*t = *NewFileDir(raw.Children)
		return nil
	}
	if raw.Size < 0 {
		return fmt.Errorf("negative file size %d", raw.Size)
	}
	*t = *NewFileLeaf(raw.Hash, raw.Size)
	return nil
}

// checkNames rejects any name below t that is not a ValidName.
func (t *FileInfoTree) checkNames() error {
	for name, child := range t.children {
		if !ValidName(name) {
			return fmt.Errorf("%w: %q", ErrUnsafeName, name)
		}
		if err := child.checkNames(); err != nil {
			return err
		}
	}
	return nil
}

// BuildFileInfoTree walks path, hashing every regular file.
func BuildFileInfoTree(path string) (*FileInfoTree, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		hash, err := utils.HashFile(path)
		if err != nil {
			return nil, err
		}
		return NewFileLeaf(hash, info.Size()), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}
	children := make(map[string]*FileInfoTree, len(entries))
	for _, e := range entries {
		if e.Type()&os.ModeSymlink != 0 {
			continue
		}
		child, err := BuildFileInfoTree(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, err
		}
		children[e.Name()] = child
	}
	return NewFileDir(children), nil
}
