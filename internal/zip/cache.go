package zip

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"
)

// entryCache is Archive's optional read-through content cache (spec.md §6,
// "a cache for resolved entry content is a legitimate host-layer
// optimisation the core must not preclude"). It is keyed by entry name and
// holds whole decompressed payloads, admitted through a TinyLFU policy the
// same way the source repo's block pool admits decoded blocks
// (internal/spinner/concurrent.go's bcache).
//
// Only entries small enough to be worth holding whole in memory are
// admitted to the cache; maybeStore decides that by comparing against
// maxCacheableEntry.
type entryCache struct {
	t *tinylfu.T[string, []byte]
}

// maxCacheableEntry bounds which entries maybeStore will decompress and
// admit. Decompressing an entire large member just to populate a cache
// defeats the point of streaming reads, so only modest files participate.
const maxCacheableEntry = 4 << 20

func newEntryCache(n int) *entryCache {
	if n <= 0 {
		return nil
	}
	return &entryCache{t: tinylfu.New[string, []byte](n, n*10, xxhash.Sum64String)}
}

func (c *entryCache) get(e *Entry) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.t.Get(e.name)
}

// maybeStore decompresses target's full content through src and admits it
// into the cache under target's name. Used from Archive.OpenRead on a cache
// miss, with the same ByteSource the returned OpenFile reads from; it only
// calls ReadAt, so the OpenFile's position is unaffected. The OpenFile
// still decompresses the entry again on its own reads.
func (c *entryCache) maybeStore(e *Entry, a *Archive, src ByteSource) {
	if c == nil || e.uncompressedSize > maxCacheableEntry {
		return
	}
	data, err := readAllEntryData(src, e.offset, e.method, e.compressedSize, e.uncompressedSize)
	if err != nil {
		return
	}
	c.t.Add(e.name, data)
}
