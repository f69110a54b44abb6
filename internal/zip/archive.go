// Package zip is a read-only ZIP archive backend for a virtual filesystem:
// given a path to a ZIP file, it exposes existence checks, directory
// enumeration, metadata queries, and seekable decompressing readers over
// the archive's members, following Unix symlinks stored inside it.
//
// The package is tolerant of prepended bytes (self-extractor stubs) and
// does not support ZIP64, spanning, encryption, or compression methods
// other than STORE and DEFLATE.
package zip

import (
	"encoding/binary"
	"strings"

	"golang.org/x/sync/singleflight"
)

// NameCollector receives enumerated child names one at a time. It is the
// narrow interface the core depends on instead of taking on the enclosing
// virtual filesystem's own list container.
type NameCollector interface {
	Append(name string)
}

// SliceCollector is a NameCollector backed by a plain slice, handy for
// callers (and tests) that just want the names back.
type SliceCollector []string

func (s *SliceCollector) Append(name string) { *s = append(*s, name) }

// Archive is a mounted ZIP file: an entry index plus the I/O and
// concurrency discipline described in spec.md §5.
type Archive struct {
	name    string
	opener  Opener
	size    int64
	entries []*Entry

	group singleflight.Group
	cache *entryCache
}

// Option configures an Archive at Open time.
type Option func(*Archive)

// WithCache bounds Archive.OpenRead's optional read-through content cache
// to n entries. Without this option no caching happens.
func WithCache(n int) Option {
	return func(a *Archive) { a.cache = newEntryCache(n) }
}

// Mount opens the ZIP file at path on the host filesystem.
func Mount(path string, opts ...Option) (*Archive, error) {
	return Open(path, FileOpener(path), opts...)
}

// Open builds an Archive by reading the central directory through opener.
// opener is the host-I/O-layer collaborator spec.md §6 leaves external;
// FileOpener and MmapOpener are the two concrete implementations this
// module provides.
func Open(name string, opener Opener, opts ...Option) (*Archive, error) {
	src, err := opener.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	size := src.Len()
	eocdOffset, err := locateEOCD(src, size)
	if err != nil {
		return nil, err
	}
	eocd, err := parseEOCD(src, eocdOffset, size)
	if err != nil {
		return nil, err
	}
	entries, err := parseCentralDirectory(src, eocd)
	if err != nil {
		return nil, err
	}
	sortEntries(entries)

	a := &Archive{name: name, opener: opener, size: size, entries: entries}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// IsArchive is the fast existence probe from spec.md §4.1: either the
// first four bytes are the local-header signature, or the EOCD locator
// succeeds. (The source implementation inverts this second check,
// treating locator *failure* as "might be prepended"; that's backwards,
// and isn't reproduced here.)
func IsArchive(opener Opener) (bool, error) {
	src, err := opener.Open()
	if err != nil {
		return false, err
	}
	defer src.Close()

	var sig [4]byte
	if n, _ := src.ReadAt(sig[:], 0); n == 4 && binary.LittleEndian.Uint32(sig[:]) == localFileSignature {
		return true, nil
	}
	_, err = locateEOCD(src, src.Len())
	return err == nil, nil
}

// Name returns the archive's human-readable name (the path it was opened with).
func (a *Archive) Name() string { return a.name }

// Exists reports whether name is present in the archive.
func (a *Archive) Exists(name string) bool {
	_, _, ok := findEntry(a.entries, name)
	return ok
}

// GetLastModTime returns the entry's modification time.
func (a *Archive) GetLastModTime(name string) (int64, error) {
	e, _, ok := findEntry(a.entries, name)
	if !ok {
		return 0, ErrNoSuchFile
	}
	return e.lastModTime, nil
}

// IsSymLink reports whether name names a symlink entry.
func (a *Archive) IsSymLink(name string) (bool, error) {
	e, _, ok := findEntry(a.entries, name)
	if !ok {
		return false, ErrNoSuchFile
	}
	return e.isSymlinkByFlags(), nil
}

// IsDirectory reports whether name is a directory: either it has children
// in the index directly, or (after resolving symlinks on demand) its
// final target does (spec.md §4.7).
func (a *Archive) IsDirectory(name string) (bool, error) {
	trimmed := strings.TrimSuffix(name, "/")
	if findStartOfDir(a.entries, trimmed, true) >= 0 {
		return true, nil
	}

	e, _, ok := findEntry(a.entries, trimmed)
	if !ok {
		if trimmed == "" {
			return true, nil // empty archive, root is still a directory
		}
		return false, ErrNoSuchFile
	}
	if !e.isSymlinkByFlags() {
		return false, nil
	}

	if err := a.resolveEntry(e); err != nil {
		return false, err
	}
	if e.symlinkTarget < 0 {
		return false, nil
	}
	final := a.entries[e.symlinkTarget]
	if findStartOfDir(a.entries, final.name, true) >= 0 {
		return true, nil
	}
	// A resolved symlink whose target is not a directory (spec.md §7).
	return false, ErrNotADirectory
}

// OpenRead resolves name (following symlinks) and returns a streaming
// reader over its data.
func (a *Archive) OpenRead(name string) (*OpenFile, error) {
	e, _, ok := findEntry(a.entries, name)
	if !ok {
		return nil, ErrNoSuchFile
	}
	if e.IsDir() {
		return nil, ErrNotADirectory
	}

	if err := a.resolveEntry(e); err != nil {
		return nil, err
	}
	target := e
	if e.symlinkTarget >= 0 {
		target = a.entries[e.symlinkTarget]
	}
	if target.IsDir() {
		return nil, ErrNotADirectory
	}

	if a.cache != nil {
		if data, ok := a.cache.get(target); ok {
			return newCachedOpenFile(target, data), nil
		}
	}

	src, err := a.opener.Open()
	if err != nil {
		return nil, err
	}
	f, err := newOpenFile(a, target, src)
	if err != nil {
		src.Close()
		return nil, err
	}
	if a.cache != nil {
		a.cache.maybeStore(target, a, src)
	}
	return f, nil
}

// EnumerateFiles appends each immediate child of dir's basename to out
// exactly once (spec.md §4.8). dir == "" enumerates the archive root.
func (a *Archive) EnumerateFiles(dir string, omitSymLinks bool, out NameCollector) error {
	dlen := len(strings.TrimSuffix(dir, "/"))
	dir = strings.TrimSuffix(dir, "/")

	i := findStartOfDir(a.entries, dir, false)
	if i < 0 {
		if dir == "" {
			return nil // empty archive
		}
		return ErrNoSuchFile
	}

	skip := dlen
	if dlen > 0 {
		skip++ // also skip the separating slash
	}

	for i < len(a.entries) {
		e := a.entries[i]
		if dlen > 0 && !strings.HasPrefix(e.name, dir+"/") {
			break
		}

		tail := e.name[skip:]
		if tail == "" || (omitSymLinks && e.isSymlinkByFlags()) {
			i++
			continue
		}

		var child string
		if slash := strings.IndexByte(tail, '/'); slash >= 0 {
			child = tail[:slash]
		} else {
			child = tail
		}
		out.Append(child)
		i++

		// Skip every other entry whose immediate child component is the
		// same name: deeper children of a just-emitted subdirectory, and
		// duplicate records for the same name (the format permits
		// duplicates; each child must still surface exactly once).
		childPrefix := child + "/"
		for i < len(a.entries) {
			name := a.entries[i].name
			if dlen > 0 && !strings.HasPrefix(name, dir+"/") {
				break
			}
			rest := name[skip:]
			if rest == child || strings.HasPrefix(rest, childPrefix) {
				i++
				continue
			}
			break
		}
	}
	return nil
}
