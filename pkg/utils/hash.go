package utils

import (
	"fmt"
	"io"
	"os"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// HashBytes returns the content address of data as a CIDv1 (raw codec, sha2-256).
func HashBytes(data []byte) string {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// sha2-256 is always registered
		panic(fmt.Sprintf("multihash sum: %v", err))
	}
	return cid.NewCidV1(cid.Raw, mh).String()
}

// HashString is HashBytes over the UTF-8 bytes of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// HashReader streams r through sha2-256 and returns the CID string.
func HashReader(r io.Reader) (string, error) {
	mh, err := multihash.SumStream(r, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// HashFile hashes the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return HashReader(f)
}
