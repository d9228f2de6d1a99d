// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipflow

import (
	"strings"
	"time"
)

// Compression methods.
const (
	Store   uint16 = 0 // no compression
	Deflate uint16 = 8 // DEFLATE compressed
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	dataDescriptorSignature  = 0x08074b50 // de-facto standard; required by OS X Finder
	fileHeaderLen            = 30         // + filename + extra
	directoryHeaderLen       = 46         // + filename + extra + comment
	directoryEndLen          = 22         // + comment
	dataDescriptorLen        = 16         // four uint32: descriptor signature, crc32, compressed size, size
	dataDescriptor64Len      = 24         // descriptor with 8 byte sizes
	directory64LocLen        = 20         //
	directory64EndLen        = 56         // + extra
	extTimeExtraLen          = 9          // 2*SizeOf(uint16) + SizeOf(uint8) + SizeOf(uint32)
	zip64LocalExtraLen       = 20         // 2*SizeOf(uint16) + 2*SizeOf(uint64)

	// Constants for the first byte in CreatorVersion.
	creatorFAT    = 0
	creatorUnix   = 3
	creatorNTFS   = 11
	creatorVFAT   = 14
	creatorMacOSX = 19

	// Version numbers.
	zipVersion20 = 20 // 2.0
	zipVersion45 = 45 // 4.5 (reads and writes zip64 archives)

	// Limits for non zip64 files.
	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1

	// Extra header IDs.
	//
	// IDs 0..31 are reserved for official use by PKWARE.
	// IDs above that range are defined by third-party vendors.
	// Since ZIP lacked high precision timestamps (nor a official specification
	// of the timezone used for the date fields), many competing extra fields
	// have been invented. Pervasive use effectively makes them "official".
	//
	// See http://mdfs.net/Docs/Comp/Archiving/Zip/ExtraField
	zip64ExtraID   = 0x0001 // Zip64 extended information
	extTimeExtraID = 0x5455 // Extended timestamp

	// General purpose flag bits.
	flagDataDescriptor = 0x8   // sizes and CRC follow the entry body
	flagUTF8           = 0x800 // EFS: name is UTF-8 encoded
)

// Entry describes a single file within the archive.
//
// The streamer creates entries on the Add* and Create* calls and keeps them
// until Close, when each entry's metadata is replayed into the central
// directory. CRC32 and the sizes of an entry written through a Create* body
// are filled in when the body is closed.
type Entry struct {
	// Name is the name of the file.
	//
	// It must be a relative path, must not start with a drive letter (such as
	// "C:"), and must use forward slashes instead of back slashes. A trailing
	// slash indicates that this entry is a directory and must have no data.
	Name string

	// Method is the compression method, Store or Deflate.
	Method uint16

	// Modified is the modified time of the entry.
	//
	// An extended timestamp (which is timezone-agnostic) is always emitted.
	// The legacy MS-DOS date field is encoded according to the location of
	// the Modified time.
	Modified time.Time

	// CRC32 is a checksum of the uncompressed file data.
	CRC32 uint32

	CompressedSize64   uint64
	UncompressedSize64 uint64

	// descriptor records that sizes and CRC were unknown when the local
	// header was written and a data descriptor follows the body.
	descriptor bool

	// offset is the position of the entry's local header in the archive.
	offset uint64
}

// isDir reports whether the entry is a directory entry.
func (e *Entry) isDir() bool { return strings.HasSuffix(e.Name, "/") }

// isZip64 reports whether the entry's own sizes exceed the 32 bit limit.
//
// This decides Zip64 in the local header and in the data descriptor. The
// central directory record additionally considers the header offset.
func (e *Entry) isZip64() bool {
	return e.CompressedSize64 >= uint32max || e.UncompressedSize64 >= uint32max
}

// flags returns the general purpose bit flags for the entry.
func (e *Entry) flags() uint16 {
	var f uint16
	if e.descriptor {
		f |= flagDataDescriptor
	}
	if hasNonASCII(e.Name) {
		f |= flagUTF8
	}
	return f
}

// externalAttrs returns the external file attributes for the entry.
//
// The made-by host is UNIX, so the high 16 bits carry a UNIX mode. Regular
// files are 0644, directories 0755 plus the MS-DOS directory bit for readers
// that only look at the low byte.
func (e *Entry) externalAttrs() uint32 {
	if e.isDir() {
		return (s_IFDIR|0o755)<<16 | msdosDir
	}
	return (s_IFREG | 0o644) << 16
}

// hasNonASCII reports whether the name contains a byte outside ASCII and the
// UTF-8 flag must be set.
//
// Officially, ZIP uses CP-437 for names without the flag, but many readers
// interpret them as whatever the system's local character encoding happens to
// be. Since all names here are UTF-8 by contract, the flag is set exactly when
// the name is not plain ASCII, where every common encoding agrees anyway.
func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return true
		}
	}
	return false
}

// Bounds of the MS-DOS date format.
var (
	minDosTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxDosTime = time.Date(2107, time.December, 31, 23, 59, 58, 0, time.UTC)
)

// timeToMsDosTime converts a time.Time to an MS-DOS date and time.
// The resolution is 2s; times outside 1980..2107 saturate to the nearest
// representable value.
// See: https://msdn.microsoft.com/en-us/library/ms724274(v=VS.85).aspx
func timeToMsDosTime(t time.Time) (fDate uint16, fTime uint16) {
	if t.Before(minDosTime) {
		t = minDosTime
	} else if t.After(maxDosTime) {
		t = maxDosTime
	}
	fDate = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

const (
	// Unix constants. The specification doesn't mention them,
	// but these seem to be the values agreed on by tools.
	s_IFMT  = 0xf000
	s_IFREG = 0x8000
	s_IFDIR = 0x4000

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)
