package zip

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
)

// parseCentralDirectory reads eocd.totalEntries central-directory records
// starting at eocd.centralOffset+eocd.dataStart, producing one *Entry per
// record (spec.md §4.4).
func parseCentralDirectory(src ByteSource, eocd eocdRecord) ([]*Entry, error) {
	pos := eocd.centralOffset + eocd.dataStart
	entries := make([]*Entry, 0, eocd.totalEntries)

	for i := uint16(0); i < eocd.totalEntries; i++ {
		fixed := make([]byte, centralRecordFixedSize)
		n, err := src.ReadAt(fixed, pos)
		if n != centralRecordFixedSize {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, &IOError{"read central directory record", err}
			}
			return nil, ErrCorrupted
		}
		if binary.LittleEndian.Uint32(fixed) != centralDirSignature {
			return nil, ErrCorrupted
		}

		versionMadeBy := binary.LittleEndian.Uint16(fixed[4:])
		versionNeeded := binary.LittleEndian.Uint16(fixed[6:])
		method := binary.LittleEndian.Uint16(fixed[10:])
		dosTime := binary.LittleEndian.Uint16(fixed[12:])
		dosDate := binary.LittleEndian.Uint16(fixed[14:])
		crc := binary.LittleEndian.Uint32(fixed[16:])
		compressedSize := binary.LittleEndian.Uint32(fixed[20:])
		uncompressedSize := binary.LittleEndian.Uint32(fixed[24:])
		nameLen := binary.LittleEndian.Uint16(fixed[28:])
		extraLen := binary.LittleEndian.Uint16(fixed[30:])
		commentLen := binary.LittleEndian.Uint16(fixed[32:])
		externalAttr := binary.LittleEndian.Uint32(fixed[38:])
		localOffset := binary.LittleEndian.Uint32(fixed[42:])

		variable := make([]byte, int(nameLen)+int(extraLen)+int(commentLen))
		n, err = src.ReadAt(variable, pos+centralRecordFixedSize)
		if n != len(variable) {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, &IOError{"read central directory name", err}
			}
			return nil, ErrCorrupted
		}

		name := string(variable[:nameLen])
		hostOS := byte(versionMadeBy >> 8)
		if hostOS == 0 { // FAT family: backslashes are path separators
			name = strings.ReplaceAll(name, "\\", "/")
		}

		e := &Entry{
			name:             name,
			versionMadeBy:    versionMadeBy,
			versionNeeded:    versionNeeded,
			method:           method,
			crc32:            crc,
			compressedSize:   int64(compressedSize),
			uncompressedSize: int64(uncompressedSize),
			lastModTime:      dosToUnix(dosDate, dosTime),
			hostOS:           hostOS,
			offset:           int64(localOffset) + eocd.dataStart,
			symlinkTarget:    -1,
		}

		isSymlink := doesSymlinks(hostOS) &&
			e.uncompressedSize > 0 &&
			(externalAttr>>16)&0o170000 == 0o120000
		if isSymlink {
			e.setState(stateUnresolvedSymlink)
		} else {
			e.setState(stateUnresolvedFile)
		}

		entries = append(entries, e)
		pos += centralRecordFixedSize + int64(len(variable))
	}

	return entries, nil
}

// doesSymlinks reports whether the given version_made_by host-OS byte can
// mark a symlink. It returns false for the old hosts that physfs's
// reference implementation knows never set the Unix-mode bits of
// external_attr, and true for every other host OS byte, including ones not
// in active use when the list was drawn up, which are assumed Unix-like.
func doesSymlinks(hostOS byte) bool {
	switch hostOS {
	case 0, 1, 2, 4, 6, 11, 13, 14, 15, 18:
		return false
	default:
		return true
	}
}
