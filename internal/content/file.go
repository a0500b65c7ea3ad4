package content

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Digest is the non-cryptographic content hash used as the cache validity key.
type Digest uint64

// DigestBytes hashes b.
func DigestBytes(b []byte) Digest { return Digest(xxhash.Sum64(b)) }

// String renders the digest as 16 lowercase hex characters.
func (d Digest) String() string { return fmt.Sprintf("%016x", uint64(d)) }

// ParseDigest is the inverse of Digest.String.
func ParseDigest(s string) (Digest, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse digest %q: %w", s, err)
	}
	return Digest(v), nil
}

// ContentFile is one input file. Bytes are read lazily and kept for the run.
type ContentFile struct {
	AbsPath string
	// RelPath is slash separated and relative to the content root.
	RelPath string

	once   sync.Once
	data   []byte
	digest Digest
	err    error
}

// NewContentFile builds a ContentFile for rel below root.
func NewContentFile(root, rel string) *ContentFile {
	return &ContentFile{
		AbsPath: filepath.Join(root, filepath.FromSlash(rel)),
		RelPath: filepath.ToSlash(rel),
	}
}

func (f *ContentFile) load() {
	f.once.Do(func() {
		data, err := os.ReadFile(f.AbsPath)
		if err != nil {
			f.err = fmt.Errorf("read %s: %w", f.RelPath, err)
			return
		}
		f.data = data
		f.digest = DigestBytes(data)
	})
}

// Bytes returns the file contents, reading them on first use.
func (f *ContentFile) Bytes() ([]byte, error) {
	f.load()
	return f.data, f.err
}

// Digest returns the content digest, reading the file on first use.
func (f *ContentFile) Digest() (Digest, error) {
	f.load()
	return f.digest, f.err
}
