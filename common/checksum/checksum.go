// Package checksum computes the 32-bit file checksums recorded in update manifests. Checksums are
// CRC-32 using the IEEE 802.3 polynomial over the full byte content of a file. Paths and metadata
// never contribute.
package checksum

import (
	"fmt"
	"hash/crc32"
	"io"

	"github.com/spf13/afero"
)

// Reader streams r to completion and returns its checksum along with the number of bytes read.
func Reader(r io.Reader) (uint32, int64, error) {
	h := crc32.NewIEEE()
	n, err := io.Copy(h, r)
	if err != nil {
		return 0, n, err
	}
	return h.Sum32(), n, nil
}

// Bytes returns the checksum of an in-memory buffer.
func Bytes(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// File returns the checksum and size of the regular file at path. Directories are rejected since
// they never contribute an entry to a manifest.
func File(fsys afero.Fs, path string) (uint32, int64, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, 0, fmt.Errorf("unable to checksum %q: not a regular file", path)
	}
	f, err := fsys.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	sum, n, err := Reader(f)
	if err != nil {
		return 0, n, fmt.Errorf("unable to checksum %q: %w", path, err)
	}
	return sum, n, nil
}
