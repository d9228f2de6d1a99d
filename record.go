// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipflow

import (
	"encoding/binary"
	"io"
)

type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

// extTimeExtra encodes the "extended timestamp" extra field.
//
// This is what Info-ZIP uses. Nearly every major ZIP implementation uses a
// different format, but at least most seem to be able to understand the other
// formats. This format happens to be identical for both local and central
// header if modification time is the only timestamp being encoded.
func extTimeExtra(b *writeBuf, e *Entry) {
	b.uint16(extTimeExtraID)
	b.uint16(5) // Size: SizeOf(uint8) + SizeOf(uint32)
	b.uint8(1)  // Flags: ModTime
	b.uint32(uint32(e.Modified.Unix()))
}

// localExtra returns the extra field data for the entry's local header.
//
// The Zip64 extra, when present, must come first: Windows Explorer refuses
// archives where it is preceded by another extra field.
func localExtra(e *Entry) []byte {
	n := extTimeExtraLen
	zip64 := e.isZip64()
	if zip64 {
		n += zip64LocalExtraLen
	}
	buf := make([]byte, n)
	b := writeBuf(buf)
	if zip64 {
		b.uint16(zip64ExtraID)
		b.uint16(16) // size = 2x uint64
		b.uint64(e.UncompressedSize64)
		b.uint64(e.CompressedSize64)
	}
	extTimeExtra(&b, e)
	return buf
}

// writeLocalHeader emits the local file header for the entry, including the
// filename and extra fields.
//
// Entries awaiting a data descriptor get zeroed CRC and size fields. For
// entries with known sizes past the 32 bit limit, the size fields hold
// 0xffffffff and the real sizes go to a Zip64 extra.
func writeLocalHeader(w io.Writer, e *Entry) error {
	if len(e.Name) > uint16max {
		return ErrLongName
	}

	extra := localExtra(e)
	modifiedDate, modifiedTime := timeToMsDosTime(e.Modified)
	zip64 := e.isZip64()

	readerVersion := uint16(zipVersion20)
	if zip64 {
		readerVersion = zipVersion45
	}

	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(uint32(fileHeaderSignature))
	b.uint16(readerVersion)
	b.uint16(e.flags())
	b.uint16(e.Method)
	b.uint16(modifiedTime)
	b.uint16(modifiedDate)
	switch {
	case e.descriptor:
		// crc32, compressed size and uncompressed size follow the body
		// in the data descriptor and must be zero here.
		b.uint32(0)
		b.uint32(0)
		b.uint32(0)
	case zip64:
		b.uint32(e.CRC32)
		b.uint32(uint32max)
		b.uint32(uint32max)
	default:
		b.uint32(e.CRC32)
		b.uint32(uint32(e.CompressedSize64))
		b.uint32(uint32(e.UncompressedSize64))
	}
	b.uint16(uint16(len(e.Name)))
	b.uint16(uint16(len(extra)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Name); err != nil {
		return err
	}
	_, err := w.Write(extra)
	return err
}

// writeDataDescriptor emits the data descriptor following an entry body.
//
// This is more complicated than one would think, see e.g. comments in
// zipfile.c:putextended() and
// http://bugs.sun.com/bugdatabase/view_bug.do?bug_id=7073588.
// The approach here is to write 8 byte sizes if needed without adding a
// zip64 extra in the local header (too late anyway).
func writeDataDescriptor(w io.Writer, e *Entry) error {
	var buf []byte
	if e.isZip64() {
		buf = make([]byte, dataDescriptor64Len)
	} else {
		buf = make([]byte, dataDescriptorLen)
	}
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature) // de-facto standard, required by OS X
	b.uint32(e.CRC32)
	if e.isZip64() {
		b.uint64(e.CompressedSize64)
		b.uint64(e.UncompressedSize64)
	} else {
		b.uint32(uint32(e.CompressedSize64))
		b.uint32(uint32(e.UncompressedSize64))
	}
	_, err := w.Write(buf)
	return err
}

// centralExtra returns the extra field data for the entry's central record.
//
// Unlike the local header, the Zip64 extra here carries only the fields that
// overflowed their 32 bit slots, in the canonical order: uncompressed size,
// compressed size, local header offset.
func centralExtra(e *Entry) []byte {
	needUSize := e.UncompressedSize64 >= uint32max
	needCSize := e.CompressedSize64 >= uint32max
	needOffset := e.offset >= uint32max

	n := extTimeExtraLen
	fields := 0
	if needUSize {
		fields++
	}
	if needCSize {
		fields++
	}
	if needOffset {
		fields++
	}
	if fields > 0 {
		n += 4 + 8*fields
	}
	buf := make([]byte, n)
	b := writeBuf(buf)
	if fields > 0 {
		b.uint16(zip64ExtraID)
		b.uint16(uint16(8 * fields))
		if needUSize {
			b.uint64(e.UncompressedSize64)
		}
		if needCSize {
			b.uint64(e.CompressedSize64)
		}
		if needOffset {
			b.uint64(e.offset)
		}
	}
	extTimeExtra(&b, e)
	return buf
}

// centralZip64 reports whether the entry's central record needs Zip64 fields.
func centralZip64(e *Entry) bool {
	return e.isZip64() || e.offset >= uint32max
}

// writeTrailer emits the central directory, the Zip64 end records when any
// archive-level threshold is crossed, and the end of central directory
// record. It is shared by the streamer's Close and the size estimator.
func writeTrailer(cw *countWriter, dir []*Entry, comment string, testHookCloseSizeOffset func(size, offset uint64)) error {
	if len(comment) > uint16max {
		return ErrLongComment
	}

	start := uint64(cw.count)
	anyZip64 := false

	for _, e := range dir {
		modifiedDate, modifiedTime := timeToMsDosTime(e.Modified)
		extra := centralExtra(e)
		zip64 := centralZip64(e)
		if zip64 {
			anyZip64 = true
		}

		readerVersion := uint16(zipVersion20)
		if zip64 {
			readerVersion = zipVersion45
		}

		var buf [directoryHeaderLen]byte
		b := writeBuf(buf[:])
		b.uint32(uint32(directoryHeaderSignature))
		b.uint16(creatorUnix<<8 | zipVersion20)
		b.uint16(readerVersion)
		b.uint16(e.flags())
		b.uint16(e.Method)
		b.uint16(modifiedTime)
		b.uint16(modifiedDate)
		b.uint32(e.CRC32)
		if e.CompressedSize64 >= uint32max {
			b.uint32(uint32max)
		} else {
			b.uint32(uint32(e.CompressedSize64))
		}
		if e.UncompressedSize64 >= uint32max {
			b.uint32(uint32max)
		} else {
			b.uint32(uint32(e.UncompressedSize64))
		}
		b.uint16(uint16(len(e.Name)))
		b.uint16(uint16(len(extra)))
		b = b[4:] // skip entry comment length and disk number start (2x uint16)
		b = b[2:] // skip internal file attributes (uint16)
		b.uint32(e.externalAttrs())
		if e.offset >= uint32max {
			b.uint32(uint32max)
		} else {
			b.uint32(uint32(e.offset))
		}
		if _, err := cw.Write(buf[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(cw, e.Name); err != nil {
			return err
		}
		if _, err := cw.Write(extra); err != nil {
			return err
		}
	}

	size := uint64(cw.count) - start
	end := start + size

	records := uint64(len(dir))
	offset := start

	if f := testHookCloseSizeOffset; f != nil {
		f(size, offset)
	}

	if records >= uint16max || size >= uint32max || offset >= uint32max || anyZip64 {
		var buf [directory64EndLen + directory64LocLen]byte
		b := writeBuf(buf[:])

		// zip64 end of central directory record
		b.uint32(directory64EndSignature)
		b.uint64(directory64EndLen - 12) // length minus signature (uint32) and length fields (uint64)
		b.uint16(zipVersion45)           // version made by
		b.uint16(zipVersion45)           // version needed to extract
		b.uint32(0)                      // number of this disk
		b.uint32(0)                      // number of the disk with the start of the central directory
		b.uint64(records)                // total number of entries in the central directory on this disk
		b.uint64(records)                // total number of entries in the central directory
		b.uint64(size)                   // size of the central directory
		b.uint64(offset)                 // offset of start of central directory with respect to the starting disk number

		// zip64 end of central directory locator
		b.uint32(directory64LocSignature)
		b.uint32(0)   // number of the disk with the start of the zip64 end of central directory
		b.uint64(end) // relative offset of the zip64 end of central directory record
		b.uint32(1)   // total number of disks

		if _, err := cw.Write(buf[:]); err != nil {
			return err
		}

		// store max values in the regular end record to signal that
		// that the zip64 values should be used instead
		if records >= uint16max {
			records = uint16max
		}
		if size >= uint32max {
			size = uint32max
		}
		if offset >= uint32max {
			offset = uint32max
		}
	}

	// write end record
	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(uint32(directoryEndSignature))
	b = b[4:]                      // skip over disk number and first disk number (2x uint16)
	b.uint16(uint16(records))      // number of entries this disk
	b.uint16(uint16(records))      // number of entries total
	b.uint32(uint32(size))         // size of directory
	b.uint32(uint32(offset))       // start of directory
	b.uint16(uint16(len(comment))) // byte size of EOCD comment
	if _, err := cw.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(cw, comment)
	return err
}
