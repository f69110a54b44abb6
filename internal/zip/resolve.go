package zip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// resolveEntry runs the resolution state machine for e (spec.md §4.9),
// opening its own short-lived ByteSource to do so. Concurrent resolutions
// of the same entry, reached independently by two different callers, are
// collapsed into one call through the archive's singleflight group — the
// idiomatic stand-in for spec.md §5 policy (b), "resolution is guarded by
// a per-archive mutex".
//
// Following a symlink chain can legitimately revisit the same call path
// from within itself (that's exactly a loop, spec.md §4.9 step 4), and
// singleflight is not reentrant: a goroutine that calls group.Do for a key
// it is already running blocks on its own completion. chain carries the
// set of entry names already being resolved on the current call path so
// that case is caught and reported as ErrSymlinkLoop before it ever
// reaches the singleflight group, leaving the group free to do its real
// job of collapsing concurrent work from distinct callers.
func (a *Archive) resolveEntry(e *Entry) error {
	return a.resolveChained(e, nil)
}

func (a *Archive) resolveChained(e *Entry, chain map[string]bool) error {
	if e.getState() == stateResolved {
		return nil
	}
	if chain[e.name] {
		return ErrSymlinkLoop
	}
	next := make(map[string]bool, len(chain)+1)
	for k := range chain {
		next[k] = true
	}
	next[e.name] = true

	_, err, _ := a.group.Do(e.name, func() (any, error) {
		return nil, a.resolveOnce(e, next)
	})
	return err
}

func (a *Archive) resolveOnce(e *Entry, chain map[string]bool) error {
	switch e.getState() {
	case stateResolved:
		return nil
	case stateBrokenFile, stateBrokenSymlink:
		return ErrCorrupted
	case stateResolving:
		return ErrSymlinkLoop
	}

	wasSymlink := e.getState() == stateUnresolvedSymlink
	e.setState(stateResolving)

	src, err := a.opener.Open()
	if err != nil {
		e.setState(brokenKind(wasSymlink))
		return err
	}
	defer src.Close()

	if err := parseLocalHeader(src, e, a.size); err != nil {
		e.setState(brokenKind(wasSymlink))
		return err
	}

	if !wasSymlink {
		e.setState(stateResolved)
		return nil
	}

	raw, err := readAllEntryData(src, e.offset, e.method, e.compressedSize, e.uncompressedSize)
	if err != nil {
		e.setState(stateBrokenSymlink)
		return err
	}

	target := normalizeSymlinkPath(string(raw), e.hostOS)
	te, idx, ok := findEntry(a.entries, target)
	if !ok {
		e.setState(stateBrokenSymlink)
		return fmt.Errorf("zip: symlink target %q: %w", target, ErrNoSuchFile)
	}

	if err := a.resolveChained(te, chain); err != nil {
		e.setState(stateBrokenSymlink)
		return err
	}

	// te is now Resolved; if it was itself a symlink its own
	// symlinkTarget already names its (already-flattened) final target,
	// per the invariant that Resolved implies an empty symlink_target on
	// whatever symlink_target points to.
	final := idx
	if te.symlinkTarget >= 0 {
		final = int(te.symlinkTarget)
	}
	e.symlinkTarget = int32(final)
	e.setState(stateResolved)
	return nil
}

func brokenKind(wasSymlink bool) resolvedState {
	if wasSymlink {
		return stateBrokenSymlink
	}
	return stateBrokenFile
}

// parseLocalHeader validates the local file header against the
// central-directory fields already parsed for e, then advances e.offset
// past the (variable-length) filename and extra fields so it points at
// the first byte of file data (spec.md §4.10).
func parseLocalHeader(src ByteSource, e *Entry, archiveSize int64) error {
	buf := make([]byte, localHeaderFixedSize)
	n, err := src.ReadAt(buf, e.offset)
	if n != localHeaderFixedSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return &IOError{"read local header", err}
		}
		return ErrCorrupted
	}
	if binary.LittleEndian.Uint32(buf) != localFileSignature {
		return ErrCorrupted
	}

	versionNeeded := binary.LittleEndian.Uint16(buf[4:])
	method := binary.LittleEndian.Uint16(buf[8:])
	crc := binary.LittleEndian.Uint32(buf[14:])
	compressedSize := binary.LittleEndian.Uint32(buf[18:])
	uncompressedSize := binary.LittleEndian.Uint32(buf[22:])
	nameLen := binary.LittleEndian.Uint16(buf[26:])
	extraLen := binary.LittleEndian.Uint16(buf[28:])

	if versionNeeded != e.versionNeeded ||
		method != e.method ||
		crc != e.crc32 ||
		int64(compressedSize) != e.compressedSize ||
		int64(uncompressedSize) != e.uncompressedSize {
		return ErrCorrupted
	}

	dataOffset := e.offset + localHeaderFixedSize + int64(nameLen) + int64(extraLen)
	if dataOffset+e.compressedSize > archiveSize {
		return ErrCorrupted
	}
	e.offset = dataOffset
	return nil
}

// normalizeSymlinkPath applies DOS-path conversion (using the symlink
// entry's own host-OS byte) and then resolves "." and ".." segments
// textually, without consulting the index (spec.md §4.11). A ".." with no
// preceding segment truncates the path to empty rather than escaping
// upward; processing continues with whatever segments follow.
func normalizeSymlinkPath(raw string, hostOS byte) string {
	if hostOS == 0 {
		raw = strings.ReplaceAll(raw, "\\", "/")
	}

	var out []string
	for _, seg := range strings.Split(raw, "/") {
		switch seg {
		case "", ".":
			// empty handles leading/trailing/doubled slashes too
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/")
}
