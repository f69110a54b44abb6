package zip

import (
	"hash/crc32"
	"io"
)

// verifyChecksum reads r to completion and reports whether its CRC-32
// matches want. It is used to check the round-trip property (spec.md §8):
// reading an entry's full content back out should reproduce the CRC-32
// recorded for it in the central directory. Adapted from the source
// repo's sequential checksumReader, trimmed to a single blocking call
// since nothing here needs to interleave partial reads with hashing.
func verifyChecksum(r io.Reader, want uint32) (uint32, error) {
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, r); err != nil {
		return 0, &IOError{"verify checksum", err}
	}
	got := h.Sum32()
	if got != want {
		return got, ErrCorrupted
	}
	return got, nil
}
