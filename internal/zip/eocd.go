package zip

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	eocdSignature      = 0x06054b50
	centralDirSignature = 0x02014b50
	localFileSignature  = 0x04034b50

	eocdFixedSize  = 22
	maxCommentSize = 0xffff
	localHeaderFixedSize = 30
	centralRecordFixedSize = 46

	methodStore   = 0
	methodDeflate = 8

	compressedReadBufferSize = 16 * 1024
)

// eocdRecord is the parsed End-of-Central-Directory record, plus the
// prepended-bytes correction every local/central-directory offset needs
// applied to it (spec.md §4.3, §9 "prepended-data tolerance").
type eocdRecord struct {
	totalEntries  uint16
	centralSize   int64
	centralOffset int64
	dataStart     int64 // bytes of non-ZIP data prepended to the file
}

// locateEOCD finds the absolute offset of the EOCD signature by reading
// the whole worst-case tail of the file (22-byte record + up to a 64KiB
// comment) in a single ReadAt, then scanning it backwards for the
// signature.
//
// The source implementation instead re-reads overlapping 256-byte windows
// moving backward from the end of the file, shifting by "maxread-4" each
// iteration. spec.md §9 flags that scheme as subtly buggy (an off-by-one
// in the scan bound, fragile handling of a signature that straddles two
// windows). Reading the bounded tail in one shot sidesteps windowing
// entirely rather than trying to reproduce the original arithmetic
// correctly, which is the Open Question's suggested resolution.
func locateEOCD(src ByteSource, size int64) (int64, error) {
	if size < eocdFixedSize {
		return 0, ErrNotAnArchive
	}

	window := int64(eocdFixedSize + maxCommentSize)
	if window > size {
		window = size
	}
	base := size - window

	buf := make([]byte, window)
	n, err := src.ReadAt(buf, base)
	if int64(n) != window {
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, &IOError{"read eocd window", err}
		}
		buf = buf[:n]
	}

	for i := len(buf) - eocdFixedSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) != eocdSignature {
			continue
		}
		candidate := base + int64(i)
		commentLen := int64(binary.LittleEndian.Uint16(buf[i+20:]))
		if candidate+eocdFixedSize+commentLen == size {
			return candidate, nil
		}
		// Signature-shaped bytes inside a comment; keep scanning left.
	}
	return 0, ErrNotAnArchive
}

// parseEOCD validates the 22-byte EOCD record at offset and computes the
// prepended-data correction (spec.md §4.3).
func parseEOCD(src ByteSource, offset, size int64) (eocdRecord, error) {
	buf := make([]byte, eocdFixedSize)
	n, err := src.ReadAt(buf, offset)
	if n != eocdFixedSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return eocdRecord{}, &IOError{"read eocd", err}
		}
		return eocdRecord{}, ErrCorrupted
	}
	if binary.LittleEndian.Uint32(buf) != eocdSignature {
		return eocdRecord{}, ErrNotAnArchive
	}

	diskNumber := binary.LittleEndian.Uint16(buf[4:])
	diskWithCD := binary.LittleEndian.Uint16(buf[6:])
	entriesThisDisk := binary.LittleEndian.Uint16(buf[8:])
	totalEntries := binary.LittleEndian.Uint16(buf[10:])
	centralSize := int64(binary.LittleEndian.Uint32(buf[12:]))
	centralOffset := int64(binary.LittleEndian.Uint32(buf[16:]))
	commentLength := binary.LittleEndian.Uint16(buf[20:])

	if diskNumber != 0 || diskWithCD != 0 {
		return eocdRecord{}, ErrUnsupportedArchive
	}
	if entriesThisDisk != totalEntries {
		return eocdRecord{}, ErrUnsupportedArchive
	}
	if offset < centralOffset+centralSize {
		return eocdRecord{}, ErrUnsupportedArchive
	}
	if offset+eocdFixedSize+int64(commentLength) != size {
		return eocdRecord{}, ErrUnsupportedArchive
	}

	return eocdRecord{
		totalEntries:  totalEntries,
		centralSize:   centralSize,
		centralOffset: centralOffset,
		dataStart:     offset - (centralOffset + centralSize),
	}, nil
}
