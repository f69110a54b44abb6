package zip

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// resolvedState is Entry.state's closed set of values. Resolving is
// internal-only: it must never be observed outside a single resolution
// call on the same archive (seeing it means a symlink cycle).
type resolvedState int32

const (
	stateUnresolvedFile resolvedState = iota
	stateUnresolvedSymlink
	stateResolving
	stateResolved
	stateBrokenFile
	stateBrokenSymlink
)

// Entry describes one archive member. Fields set at parse time are
// immutable; offset, state and symlinkTarget are mutated only by
// resolution, the first time the entry is used (state passes through
// Resolving on its way to Resolved or Broken*).
type Entry struct {
	name string

	versionMadeBy    uint16
	versionNeeded    uint16
	method           uint16
	crc32            uint32
	compressedSize   int64
	uncompressedSize int64
	lastModTime      int64 // unix seconds, local time
	hostOS           byte

	offset int64 // local-header offset (+ data_start); past resolve, the data offset

	state atomic.Int32 // resolvedState

	// symlinkTarget indexes into Archive.entries. It is only meaningful
	// once state == stateResolved, and then it either is -1 (a real
	// file) or names an Entry that is itself Resolved with its own
	// symlinkTarget == -1 (the chain is always flattened to its end).
	symlinkTarget int32
}

// Name returns the entry's archive-relative, forward-slash path.
func (e *Entry) Name() string { return e.name }

// LastModTime returns the entry's modification time, decoded from the DOS
// date/time pair and interpreted in the local timezone.
func (e *Entry) LastModTime() time.Time { return time.Unix(e.lastModTime, 0) }

// IsDir reports whether this entry is a directory marker (name ends in "/").
func (e *Entry) IsDir() bool { return strings.HasSuffix(e.name, "/") }

// UncompressedSize returns the entry's stored uncompressed size.
func (e *Entry) UncompressedSize() int64 { return e.uncompressedSize }

func (e *Entry) getState() resolvedState      { return resolvedState(e.state.Load()) }
func (e *Entry) setState(s resolvedState)     { e.state.Store(int32(s)) }

// isSymlinkByFlags reports whether the entry is a symlink per its initial
// parse-time classification or its resolved chain, without resolving it.
func (e *Entry) isSymlinkByFlags() bool {
	switch e.getState() {
	case stateUnresolvedSymlink, stateBrokenSymlink:
		return true
	case stateResolved:
		return e.symlinkTarget >= 0
	default:
		return false
	}
}

// sortEntries orders entries by byte-wise name comparison, as required for
// binary search. Duplicates (permitted by the format) keep a stable
// relative order rather than being collapsed.
func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
}

// findEntry returns the first entry with the exact name, and its index.
func findEntry(entries []*Entry, name string) (*Entry, int, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].name >= name })
	if i < len(entries) && entries[i].name == name {
		return entries[i], i, true
	}
	return nil, -1, false
}

// findStartOfDir returns the index of the first entry whose name begins
// with dir+"/" (dir's own trailing slash, if any, is ignored), or -1 if no
// such entry exists. dir == "" means the archive root, which starts at
// index 0 whenever the archive has any entries.
//
// stopOnFirst exists for parity with the source's two call sites (a quick
// existence probe for isDirectory vs. the enumeration start point) but
// carries no behavioral difference here: because the search below is a
// stable lower bound, it already returns the earliest matching index
// either way, unlike the source's plain binary search which needed a
// separate backward rescan to find the first of several ties.
func findStartOfDir(entries []*Entry, dir string, stopOnFirst bool) int {
	_ = stopOnFirst
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		if len(entries) == 0 {
			return -1
		}
		return 0
	}
	prefix := dir + "/"
	i := sort.Search(len(entries), func(i int) bool { return entries[i].name >= prefix })
	if i < len(entries) && strings.HasPrefix(entries[i].name, prefix) {
		return i
	}
	return -1
}
