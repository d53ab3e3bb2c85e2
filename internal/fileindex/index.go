// Package fileindex partitions the files of a paste into fixed-size chunks
// with a numbering both devices derive independently from the same metadata.
package fileindex

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/berrythewa/pastesync/internal/paste"
)

const DefaultChunkSize int64 = 1 << 20

var ErrChunkOutOfRange = errors.New("chunk index out of range")

// Chunk is one byte range of one file. A chunk never spans two files.
type Chunk struct {
	Index int
	// Name is the top-level entry, RelPath the slash path below it.
	Name    string
	RelPath string
	// Path is where the file lives on this device.
	Path   string
	Offset int64
	Length int64
}

type fileSpan struct {
	name   string
	rel    string
	path   string
	size   int64
	first  int
	chunks int
}

// Index is immutable once built.
type Index struct {
	chunkSize int64
	files     []fileSpan
	total     int
}

// Build walks every item in order and each tree depth first in
// lexicographic order, assigning chunk indices left to right. Entries whose
// name is not a single path element get no chunks.
func Build(items []paste.FilesItem, resolver paste.PathResolver, chunkSize int64) *Index {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	idx := &Index{chunkSize: chunkSize}
	for _, item := range items {
		locations := item.Locate(resolver)
		trees := item.FileInfoTreeMap()
		for _, name := range item.Names() {
			location, ok := locations[name]
			if !ok || !paste.ValidName(name) {
				continue
			}
			idx.walk(name, "", location, trees[name])
		}
	}
	return idx
}

func (idx *Index) walk(name, rel, location string, tree *paste.FileInfoTree) {
	if tree == nil {
		return
	}
	if tree.IsFile() {
		n := int((tree.Size() + idx.chunkSize - 1) / idx.chunkSize)
		idx.files = append(idx.files, fileSpan{
			name:   name,
			rel:    rel,
			path:   location,
			size:   tree.Size(),
			first:  idx.total,
			chunks: n,
		})
		idx.total += n
		return
	}
	for _, child := range tree.Names() {
		// a child must stay inside its parent directory
		if !paste.ValidName(child) {
			continue
		}
		idx.walk(name, path.Join(rel, child), filepath.Join(location, child), tree.Child(child))
	}
}

func (idx *Index) ChunkSize() int64 { return idx.chunkSize }
func (idx *Index) ChunkCount() int  { return idx.total }

// Chunk returns the i-th chunk.
func (idx *Index) Chunk(i int) (Chunk, error) {
	if i < 0 || i >= idx.total {
		return Chunk{}, fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, i, idx.total)
	}
	// first file whose range ends after i; zero-chunk files are skipped naturally
	n := sort.Search(len(idx.files), func(k int) bool {
		f := idx.files[k]
		return f.first+f.chunks > i
	})
	f := idx.files[n]
	offset := int64(i-f.first) * idx.chunkSize
	length := idx.chunkSize
	if rest := f.size - offset; rest < length {
		length = rest
	}
	return Chunk{
		Index:   i,
		Name:    f.name,
		RelPath: f.rel,
		Path:    f.path,
		Offset:  offset,
		Length:  length,
	}, nil
}

// Chunks lists every chunk in index order.
func (idx *Index) Chunks() []Chunk {
	out := make([]Chunk, 0, idx.total)
	for i := 0; i < idx.total; i++ {
		c, _ := idx.Chunk(i)
		out = append(out, c)
	}
	return out
}

// EmptyFiles returns the paths of zero-byte files, which have no chunks.
func (idx *Index) EmptyFiles() []string {
	var out []string
	for _, f := range idx.files {
		if f.size == 0 {
			out = append(out, f.path)
		}
	}
	return out
}

// ReadChunk reads the bytes of c from disk.
func ReadChunk(c Chunk) ([]byte, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.Path, err)
	}
	defer f.Close()

	buf := make([]byte, c.Length)
	n, err := f.ReadAt(buf, c.Offset)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == c.Length) {
		return nil, fmt.Errorf("failed to read chunk %d of %s: %w", c.Index, c.Path, err)
	}
	return buf, nil
}

// WriteChunk writes data at the chunk offset, creating the file if needed.
func WriteChunk(c Chunk, data []byte) error {
	if int64(len(data)) != c.Length {
		return fmt.Errorf("chunk %d: got %d bytes, want %d", c.Index, len(data), c.Length)
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", c.Path, err)
	}
	f, err := os.OpenFile(c.Path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.Path, err)
	}
	if _, err := f.WriteAt(data, c.Offset); err != nil {
		f.Close()
		return fmt.Errorf("failed to write chunk %d of %s: %w", c.Index, c.Path, err)
	}
	return f.Close()
}

// TouchEmpty creates the zero-byte files of idx.
func TouchEmpty(idx *Index) error {
	for _, p := range idx.EmptyFiles() {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", p, err)
		}
		f.Close()
	}
	return nil
}
