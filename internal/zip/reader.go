package zip

import (
	"bufio"
	"compress/flate"
	"fmt"
	"io"
)

// OpenFile is a per-open-entry streaming reader. It owns an independent
// ByteSource handle, so two OpenFiles on the same archive never share a
// seek cursor (spec.md §5).
type OpenFile struct {
	archive *Archive
	entry   *Entry // always the final, non-symlink entry
	src     ByteSource

	// cached holds an entry's already-decompressed bytes when this
	// OpenFile was served from the Archive's content cache; src is nil
	// in that case and every method short-circuits to slice it directly.
	cached []byte

	dataOffset       int64
	method           uint16
	compressedSize   int64
	uncompressedSize int64

	uncompressedPos int64
	compressedPos   int64

	// DEFLATE only.
	section *io.SectionReader
	buf     *bufio.Reader
	inf     io.ReadCloser
}

// Size returns the entry's uncompressed length (fileLength in spec.md §4.12).
func (f *OpenFile) Size() int64 { return f.uncompressedSize }

// Tell returns the current read position.
func (f *OpenFile) Tell() int64 { return f.uncompressedPos }

// EOF reports whether the read position is at the end of the entry.
func (f *OpenFile) EOF() bool { return f.uncompressedPos == f.uncompressedSize }

// Entry returns the resolved entry this OpenFile reads from.
func (f *OpenFile) Entry() *Entry { return f.entry }

func newOpenFile(a *Archive, e *Entry, src ByteSource) (*OpenFile, error) {
	if e.method != methodStore && e.method != methodDeflate {
		return nil, fmt.Errorf("zip: unsupported compression method %d: %w", e.method, ErrUnsupportedArchive)
	}
	f := &OpenFile{
		archive:          a,
		entry:            e,
		src:              src,
		dataOffset:       e.offset,
		method:           e.method,
		compressedSize:   e.compressedSize,
		uncompressedSize: e.uncompressedSize,
	}
	if f.method == methodDeflate {
		if err := f.initInflater(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// newCachedOpenFile builds an OpenFile that serves reads directly out of
// data, an entry's already-decompressed content (Archive.OpenRead's cache
// fast path, spec.md §6 "optional read-through cache"). It has no src and
// needs no inflater.
func newCachedOpenFile(e *Entry, data []byte) *OpenFile {
	if data == nil {
		data = []byte{} // a zero-length entry must still take the cached paths
	}
	return &OpenFile{
		entry:            e,
		cached:           data,
		uncompressedSize: int64(len(data)),
	}
}

func (f *OpenFile) initInflater() error {
	f.section = io.NewSectionReader(f.src, f.dataOffset, f.compressedSize)
	f.buf = bufio.NewReaderSize(f.section, compressedReadBufferSize)
	f.inf = flate.NewReader(f.buf)
	f.compressedPos = 0
	return nil
}

// Read implements io.Reader, delivering bytes until the entry's
// uncompressed size is exhausted, at which point it returns io.EOF.
func (f *OpenFile) Read(p []byte) (int, error) {
	avail := f.uncompressedSize - f.uncompressedPos
	if avail <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > avail {
		p = p[:avail]
	}

	if f.cached != nil {
		n := copy(p, f.cached[f.uncompressedPos:])
		f.uncompressedPos += int64(n)
		if f.uncompressedPos == f.uncompressedSize {
			return n, io.EOF
		}
		return n, nil
	}

	var n int
	var err error
	switch f.method {
	case methodStore:
		n, err = f.src.ReadAt(p, f.dataOffset+f.uncompressedPos)
		if err == io.EOF && n == len(p) {
			err = nil
		}
	case methodDeflate:
		n, err = f.inf.Read(p)
	default:
		return 0, fmt.Errorf("zip: unsupported compression method %d: %w", f.method, ErrCorrupted)
	}

	f.uncompressedPos += int64(n)
	if err != nil && err != io.EOF {
		return n, &IOError{"read", err}
	}
	if f.uncompressedPos == f.uncompressedSize {
		return n, io.EOF
	}
	if err == io.EOF {
		// The underlying stream ended before uncompressedSize was reached:
		// a malformed archive whose recorded size doesn't match what the
		// data actually yields. Report it rather than looping a caller's
		// io.Copy/io.ReadFull on (0, nil) forever.
		return n, ErrCorrupted
	}
	return n, nil
}

// ReadObjects implements the spec's record-oriented read contract
// (spec.md §4.12): it reads whole objSize-byte objects, clamping down to
// the number available and reporting ErrPastEOF whenever the request had
// to be clamped (including down to zero objects).
func (f *OpenFile) ReadObjects(buf []byte, objSize int) (objCount int, err error) {
	if objSize <= 0 || len(buf) < objSize {
		return 0, nil
	}
	want := len(buf) - len(buf)%objSize
	avail := f.uncompressedSize - f.uncompressedPos
	pastEOF := false
	if int64(want) > avail {
		want = int(avail - avail%int64(objSize))
		pastEOF = true
	}
	if want == 0 {
		return 0, ErrPastEOF
	}

	n, rerr := io.ReadFull(f, buf[:want])
	if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
		return n / objSize, rerr
	}
	if pastEOF {
		return n / objSize, ErrPastEOF
	}
	return n / objSize, nil
}

// Seek implements io.Seeker. Only absolute positions within [0,
// uncompressedSize] are valid; seeking past the end fails with
// ErrPastEOF, matching spec.md §4.12 rather than io.Seeker's usual
// "seek anywhere, fail on the next read" convention.
func (f *OpenFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.uncompressedPos + offset
	case io.SeekEnd:
		abs = f.uncompressedSize + offset
	default:
		return f.uncompressedPos, fmt.Errorf("zip: seek: invalid whence %d", whence)
	}
	if abs < 0 || abs > f.uncompressedSize {
		return f.uncompressedPos, ErrPastEOF
	}

	if f.cached != nil {
		f.uncompressedPos = abs
		return abs, nil
	}

	switch f.method {
	case methodStore:
		f.uncompressedPos = abs
	case methodDeflate:
		if abs < f.uncompressedPos {
			// Restart-and-skip: re-init the inflater from the start of
			// the entry's data and read-and-discard up to abs, rather
			// than reallocating a fresh OpenFile.
			if f.inf != nil {
				f.inf.Close()
			}
			if err := f.initInflater(); err != nil {
				return f.uncompressedPos, err
			}
			f.uncompressedPos = 0
		}
		if abs > f.uncompressedPos {
			if _, err := io.CopyN(io.Discard, f, abs-f.uncompressedPos); err != nil && err != io.EOF {
				return f.uncompressedPos, err
			}
		}
	}
	return f.uncompressedPos, nil
}

// Close releases the inflater, if any, and the OpenFile's private
// ByteSource handle.
func (f *OpenFile) Close() error {
	if f.cached != nil {
		return nil
	}
	if f.inf != nil {
		f.inf.Close()
	}
	return f.src.Close()
}

// readAllEntryData decompresses an entry's full content in one call. It is
// the building block both for reading a symlink's target text (spec.md
// §4.9 step 3) and for filling the content cache (entryCache.maybeStore).
func readAllEntryData(src ByteSource, offset int64, method uint16, compressedSize, uncompressedSize int64) ([]byte, error) {
	if uncompressedSize == 0 {
		return nil, nil
	}
	switch method {
	case methodStore:
		buf := make([]byte, uncompressedSize)
		n, err := src.ReadAt(buf, offset)
		if int64(n) != uncompressedSize {
			if err != nil && err != io.EOF {
				return nil, &IOError{"read", err}
			}
			return nil, ErrCorrupted
		}
		return buf, nil
	case methodDeflate:
		section := io.NewSectionReader(src, offset, compressedSize)
		br := bufio.NewReaderSize(section, compressedReadBufferSize)
		fr := flate.NewReader(br)
		defer fr.Close()
		buf := make([]byte, uncompressedSize)
		if _, err := io.ReadFull(fr, buf); err != nil {
			return nil, &InflateError{"data", err}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("zip: unsupported compression method %d: %w", method, ErrCorrupted)
	}
}
