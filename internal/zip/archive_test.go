package zip

import (
	gozip "archive/zip"
	"bytes"
	"compress/flate"
	"errors"
	"hash/crc32"
	"io"
	"io/fs"
	"testing"
)

// memSource is a ByteSource over an in-memory buffer, standing in for
// FileOpener/MmapOpener in tests that build fixtures with archive/zip.Writer
// instead of reading testdata files (none are checked into this tree).
type memSource struct{ r *bytes.Reader }

func (m *memSource) ReadAt(p []byte, off int64) (int, error) { return m.r.ReadAt(p, off) }
func (m *memSource) Len() int64                              { return m.r.Size() }
func (m *memSource) Close() error                             { return nil }

type memOpener struct{ data []byte }

func (o memOpener) Open() (ByteSource, error) { return &memSource{bytes.NewReader(o.data)}, nil }

type fixtureEntry struct {
	name    string
	method  uint16
	content []byte
	mode    fs.FileMode // non-zero to force a Unix mode (symlinks)
}

// buildZip assembles a ZIP file from entries using the standard library's
// writer, the same cross-check strategy as the source repo's
// TestVsStdlib (internal/zip/zip_test.go): trust archive/zip to produce a
// correct file, and exercise this package as the reader. Entries go
// through CreateRaw with the CRC and sizes filled in, so each local header
// repeats the central directory's values (CreateHeader would write zeros
// there and append a data descriptor, which parseLocalHeader rejects).
func buildZip(t *testing.T, entries []fixtureEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gozip.NewWriter(&buf)
	for _, e := range entries {
		payload := e.content
		if e.method == gozip.Deflate {
			var cbuf bytes.Buffer
			zw, err := flate.NewWriter(&cbuf, flate.DefaultCompression)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := zw.Write(e.content); err != nil {
				t.Fatal(err)
			}
			if err := zw.Close(); err != nil {
				t.Fatal(err)
			}
			payload = cbuf.Bytes()
		}
		h := &gozip.FileHeader{
			Name:               e.name,
			Method:             e.method,
			CRC32:              crc32.ChecksumIEEE(e.content),
			CompressedSize64:   uint64(len(payload)),
			UncompressedSize64: uint64(len(e.content)),
		}
		if e.mode != 0 {
			h.SetMode(e.mode)
		}
		fw, err := w.CreateRaw(h)
		if err != nil {
			t.Fatalf("CreateRaw(%q): %v", e.name, err)
		}
		if _, err := fw.Write(payload); err != nil {
			t.Fatalf("write %q: %v", e.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf.Bytes()
}

func mustMount(t *testing.T, data []byte) *Archive {
	t.Helper()
	a, err := Open("fixture.zip", memOpener{data})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return a
}

func TestStoreRoundTrip(t *testing.T) {
	data := buildZip(t, []fixtureEntry{
		{name: "hello.txt", method: gozip.Store, content: []byte("hello, world")},
	})
	a := mustMount(t, data)

	f, err := a.OpenRead("hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello, world" {
		t.Errorf("content = %q", got)
	}
	if !f.EOF() {
		t.Error("expected EOF after reading to the end")
	}
}

func TestDeflateSeek(t *testing.T) {
	content := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)
	data := buildZip(t, []fixtureEntry{
		{name: "big.txt", method: gozip.Deflate, content: content},
	})
	a := mustMount(t, data)

	f, err := a.OpenRead("big.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// Forward read, then backward seek: exercises restart-and-skip.
	buf := make([]byte, 100)
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, content[:100]) {
		t.Fatalf("first 100 bytes mismatch")
	}

	if _, err := f.Seek(5000, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, content[5000:5100]) {
		t.Fatalf("bytes at 5000 mismatch")
	}

	if _, err := f.Seek(10, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, content[10:110]) {
		t.Fatalf("backward seek mismatch")
	}

	if pos, err := f.Seek(0, io.SeekEnd); err != nil || pos != int64(len(content)) {
		t.Fatalf("seek end: pos=%d err=%v", pos, err)
	}
	if _, err := f.Seek(1, io.SeekCurrent); err != io.EOF && err != ErrPastEOF {
		t.Fatalf("seek past end should fail with ErrPastEOF, got %v", err)
	}
}

func TestPrependedSelfExtractor(t *testing.T) {
	zipBytes := buildZip(t, []fixtureEntry{
		{name: "payload.bin", method: gozip.Store, content: []byte("payload")},
	})
	stub := make([]byte, 4096)
	data := append(stub, zipBytes...)

	a, err := Open("stub.zip", memOpener{data})
	if err != nil {
		t.Fatal(err)
	}
	f, err := a.OpenRead("payload.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, _ := io.ReadAll(f)
	if string(got) != "payload" {
		t.Errorf("content = %q", got)
	}
}

func TestSymlinkChain(t *testing.T) {
	data := buildZip(t, []fixtureEntry{
		{name: "real.txt", method: gozip.Store, content: []byte("target data")},
		{name: "link1", method: gozip.Store, content: []byte("real.txt"), mode: fs.ModeSymlink | 0o777},
		{name: "link2", method: gozip.Store, content: []byte("link1"), mode: fs.ModeSymlink | 0o777},
	})
	a := mustMount(t, data)

	isLink, err := a.IsSymLink("link2")
	if err != nil || !isLink {
		t.Fatalf("link2 should be a symlink: %v %v", isLink, err)
	}

	f, err := a.OpenRead("link2")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.Entry().Name() != "real.txt" {
		t.Errorf("chain should flatten to real.txt, got %q", f.Entry().Name())
	}
	got, _ := io.ReadAll(f)
	if string(got) != "target data" {
		t.Errorf("content = %q", got)
	}
}

func TestSymlinkLoop(t *testing.T) {
	data := buildZip(t, []fixtureEntry{
		{name: "a", method: gozip.Store, content: []byte("b"), mode: fs.ModeSymlink | 0o777},
		{name: "b", method: gozip.Store, content: []byte("a"), mode: fs.ModeSymlink | 0o777},
	})
	a := mustMount(t, data)

	if _, err := a.OpenRead("a"); err != ErrSymlinkLoop {
		t.Fatalf("first attempt should report ErrSymlinkLoop, got %v", err)
	}
	// Once broken, the entry stays broken rather than re-entering Resolving.
	if _, err := a.OpenRead("a"); err != ErrCorrupted {
		t.Fatalf("retry should report ErrCorrupted, got %v", err)
	}
}

func TestEnumerateFiles(t *testing.T) {
	data := buildZip(t, []fixtureEntry{
		{name: "dir/sub/file.txt", method: gozip.Store, content: []byte("a")},
		{name: "dir/x", method: gozip.Store, content: []byte("b")},
		{name: "dir/y", method: gozip.Store, content: []byte("c")},
	})
	a := mustMount(t, data)

	var names SliceCollector
	if err := a.EnumerateFiles("dir", false, &names); err != nil {
		t.Fatal(err)
	}
	want := []string{"sub", "x", "y"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i, n := range want {
		if string(names[i]) != n {
			t.Errorf("entry %d: got %q, want %q", i, names[i], n)
		}
	}
}

func TestCRCRoundTrip(t *testing.T) {
	content := []byte("check my CRC please")
	data := buildZip(t, []fixtureEntry{
		{name: "f", method: gozip.Deflate, content: content},
	})
	a := mustMount(t, data)
	e, _, ok := findEntry(a.entries, "f")
	if !ok {
		t.Fatal("entry not found")
	}
	if err := a.resolveEntry(e); err != nil {
		t.Fatal(err)
	}

	f, err := a.OpenRead("f")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := verifyChecksum(f, e.crc32); err != nil {
		t.Fatalf("checksum mismatch: %v", err)
	}
}

func TestIsArchive(t *testing.T) {
	data := buildZip(t, []fixtureEntry{{name: "x", method: gozip.Store, content: []byte("y")}})
	ok, err := IsArchive(memOpener{data})
	if err != nil || !ok {
		t.Fatalf("expected true, got %v %v", ok, err)
	}

	ok, err = IsArchive(memOpener{[]byte("not a zip file at all")})
	if err == nil && ok {
		t.Fatalf("expected false for non-archive data")
	}
}

func TestWithCache(t *testing.T) {
	data := buildZip(t, []fixtureEntry{
		{name: "cached.txt", method: gozip.Store, content: []byte("cache me")},
	})
	a, err := Open("fixture.zip", memOpener{data}, WithCache(8))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		f, err := a.OpenRead("cached.txt")
		if err != nil {
			t.Fatal(err)
		}
		got, _ := io.ReadAll(f)
		f.Close()
		if string(got) != "cache me" {
			t.Errorf("iteration %d: content = %q", i, got)
		}
	}
}

func TestGlob(t *testing.T) {
	data := buildZip(t, []fixtureEntry{
		{name: "a/b.txt", method: gozip.Store, content: []byte("1")},
		{name: "a/c.go", method: gozip.Store, content: []byte("2")},
		{name: "d.go", method: gozip.Store, content: []byte("3")},
	})
	a := mustMount(t, data)

	got, err := a.Glob("**/*.go")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"a/c.go": true, "d.go": true}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for _, n := range got {
		if !want[n] {
			t.Errorf("unexpected match %q", n)
		}
	}
}

// TestUnsupportedMethodRejectedAtOpen pins the fix making an unsupported
// compression_method a hard error on newOpenFile rather than only on the
// first Read.
func TestUnsupportedMethodRejectedAtOpen(t *testing.T) {
	e := &Entry{method: 99, uncompressedSize: 1}
	_, err := newOpenFile(nil, e, &memSource{bytes.NewReader(nil)})
	if !errors.Is(err, ErrUnsupportedArchive) {
		t.Fatalf("newOpenFile with method 99: got %v, want ErrUnsupportedArchive", err)
	}
}

// TestShortDeflateStreamIsCorrupted pins the fix for a malformed archive
// whose recorded uncompressed_size overstates what the DEFLATE stream
// actually yields: Read must stop with ErrCorrupted instead of looping a
// caller's io.ReadFull/io.Copy on (0, nil) forever.
func TestShortDeflateStreamIsCorrupted(t *testing.T) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("short")); err != nil {
		t.Fatal(err)
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}
	compressed := buf.Bytes()

	e := &Entry{
		method:           methodDeflate,
		compressedSize:   int64(len(compressed)),
		uncompressedSize: 1000, // far more than "short" actually inflates to
	}
	f, err := newOpenFile(nil, e, &memSource{bytes.NewReader(compressed)})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	out := make([]byte, 1000)
	_, err = io.ReadFull(f, out)
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("io.ReadFull on short stream: got %v, want ErrCorrupted", err)
	}
}
