package zip

import (
	"os"

	"golang.org/x/exp/mmap"
)

// ByteSource is the abstract random-access byte stream the core reads
// archives through. Each open entry (OpenFile) holds its own ByteSource so
// that independent readers never share a seek cursor.
type ByteSource interface {
	// ReadAt behaves like io.ReaderAt: it never advances an internal
	// cursor, so concurrent ReadAt calls on the same ByteSource are safe
	// as long as the implementation's backing medium supports it.
	ReadAt(p []byte, off int64) (int, error)
	// Len reports the total size of the underlying stream.
	Len() int64
	Close() error
}

// Opener produces a fresh, independent ByteSource on demand. Archive calls
// Open once during mount to read the central directory, once per entry
// resolution, and once per OpenRead that misses the content cache; the
// OpenFile returned by OpenRead keeps that ByteSource until its Close.
type Opener interface {
	Open() (ByteSource, error)
}

// FileOpener opens the archive with os.Open, handing out a plain
// *os.File-backed ByteSource per call.
func FileOpener(path string) Opener { return fileOpener{path} }

type fileOpener struct{ path string }

func (o fileOpener) Open() (ByteSource, error) {
	f, err := os.Open(o.path)
	if err != nil {
		return nil, &IOError{"open", err}
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &IOError{"stat", err}
	}
	return &fileSource{f: f, size: fi.Size()}, nil
}

type fileSource struct {
	f    *os.File
	size int64
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *fileSource) Len() int64                              { return s.size }
func (s *fileSource) Close() error                            { return s.f.Close() }

// MmapOpener memory-maps the archive file instead of reading it through
// os.File.ReadAt, trading a larger up-front mapping for cheaper repeated
// random access on big archives.
func MmapOpener(path string) Opener { return mmapOpener{path} }

type mmapOpener struct{ path string }

func (o mmapOpener) Open() (ByteSource, error) {
	r, err := mmap.Open(o.path)
	if err != nil {
		return nil, &IOError{"mmap", err}
	}
	return &mmapSource{r: r}, nil
}

type mmapSource struct{ r *mmap.ReaderAt }

func (s *mmapSource) ReadAt(p []byte, off int64) (int, error) { return s.r.ReadAt(p, off) }
func (s *mmapSource) Len() int64                              { return int64(s.r.Len()) }
func (s *mmapSource) Close() error                            { return s.r.Close() }
