/*
Package zipflow writes ZIP archives to forward-only byte sinks.

The output is produced strictly in order and the sink is never seeked or
rewound, so an archive can be streamed directly into an HTTP response, a
pipe, a socket or multipart upload chunks. Entries may be stored or
compressed with raw DEFLATE, and the writer switches to the Zip64 format
exactly when an entry or the archive crosses a format threshold, keeping
small archives free of Zip64 records for maximum compatibility.

When entry sizes and checksums are known in advance, the exact byte size of
the archive can be computed with an Estimator before a single byte is
written, for example to set a Content-Length header.

See: https://www.pkware.com/appnote, https://golang.org/pkg/archive/zip/

This package does not support disk spanning.
*/
package zipflow

import (
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

// Streamer writes a ZIP archive to a sink one record at a time.
//
// Entries are added through the Add* calls when their sizes and CRC are known
// in advance, or through the Create* calls when they are not; in the latter
// case the sizes follow the body in a data descriptor. Close writes the
// central directory and the end records. A Streamer is not safe for
// concurrent use.
type Streamer struct {
	cw      *countWriter
	dir     []*Entry
	comment string
	modTime time.Time
	level   int
	closed  bool

	// At most one of known/open is set while an entry body is in flight.
	known     *Entry // entry expecting remaining more body bytes via Write
	remaining uint64
	open      *OpenFile // body handle from a Create call

	testHookCloseSizeOffset func(size, offset uint64)
}

// An Option configures a Streamer.
type Option func(*Streamer)

// WithComment sets the archive comment, written after the end of central
// directory record. It may be up to 64 KiB - 1 bytes long; longer comments
// make Close fail.
func WithComment(comment string) Option {
	return func(s *Streamer) { s.comment = comment }
}

// WithModTime sets the modification time recorded for entries that do not
// carry their own. The default is the time the streamer was created.
func WithModTime(t time.Time) Option {
	return func(s *Streamer) { s.modTime = t }
}

// WithCompressionLevel sets the DEFLATE level used by CreateDeflated.
// It accepts the levels of compress/flate; the default is
// flate.DefaultCompression.
func WithCompressionLevel(level int) Option {
	return func(s *Streamer) { s.level = level }
}

// An EntryOption configures a single entry.
type EntryOption func(*Entry)

// EntryModTime sets the entry's modification time.
func EntryModTime(t time.Time) EntryOption {
	return func(e *Entry) { e.Modified = t }
}

// NewStreamer returns a Streamer writing an archive to w.
//
// The streamer never reads or seeks w. If a write to w fails, the error is
// returned and the streamer keeps failing with it.
func NewStreamer(w io.Writer, opts ...Option) *Streamer {
	s := &Streamer{
		cw:      &countWriter{w: w},
		modTime: time.Now(),
		level:   flate.DefaultCompression,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newEntry validates the streamer state and the name and allocates the entry
// at the current archive offset.
func (s *Streamer) newEntry(name string, method uint16, descriptor bool, opts []EntryOption) (*Entry, error) {
	switch {
	case s.closed:
		return nil, ErrClosed
	case s.open != nil:
		return nil, ErrEntryOpen
	case s.known != nil:
		// The previous entry got fewer body bytes than declared.
		return nil, ErrSizeMismatch
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	if len(name) > uint16max {
		return nil, ErrLongName
	}
	e := &Entry{
		Name:       name,
		Method:     method,
		Modified:   s.modTime,
		descriptor: descriptor,
		offset:     uint64(s.cw.count),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// AddStoredEntry writes the local header of a stored entry whose size and
// CRC are known in advance. The caller must then write exactly size body
// bytes through Streamer.Write. No data descriptor is emitted.
func (s *Streamer) AddStoredEntry(name string, size uint64, crc uint32, opts ...EntryOption) error {
	e, err := s.newEntry(name, Store, false, opts)
	if err != nil {
		return err
	}
	e.CRC32 = crc
	e.CompressedSize64 = size
	e.UncompressedSize64 = size
	return s.startKnown(e, size)
}

// AddDeflatedEntry writes the local header of a deflated entry whose sizes
// and CRC are known in advance. The caller must then write exactly
// compressedSize bytes of a raw DEFLATE stream through Streamer.Write.
// No data descriptor is emitted.
func (s *Streamer) AddDeflatedEntry(name string, uncompressedSize uint64, crc uint32, compressedSize uint64, opts ...EntryOption) error {
	e, err := s.newEntry(name, Deflate, false, opts)
	if err != nil {
		return err
	}
	e.CRC32 = crc
	e.CompressedSize64 = compressedSize
	e.UncompressedSize64 = uncompressedSize
	return s.startKnown(e, compressedSize)
}

func (s *Streamer) startKnown(e *Entry, bodySize uint64) error {
	if err := writeLocalHeader(s.cw, e); err != nil {
		return err
	}
	s.dir = append(s.dir, e)
	if bodySize > 0 {
		s.known = e
		s.remaining = bodySize
	}
	return nil
}

// Write accepts body bytes for the entry most recently added with
// AddStoredEntry or AddDeflatedEntry. Writing past the declared size returns
// ErrSizeMismatch.
func (s *Streamer) Write(p []byte) (int, error) {
	switch {
	case s.closed:
		return 0, ErrClosed
	case s.open != nil:
		return 0, ErrEntryOpen
	case s.known == nil:
		return 0, ErrNoEntry
	}
	if uint64(len(p)) > s.remaining {
		return 0, ErrSizeMismatch
	}
	n, err := s.cw.Write(p)
	s.remaining -= uint64(n)
	if err != nil {
		return n, err
	}
	if s.remaining == 0 {
		s.known = nil
	}
	return n, nil
}

// AddEmptyDirectory adds a directory entry. A "/" is appended to the name if
// not already present. Directory entries are stored, have no body and no
// data descriptor.
func (s *Streamer) AddEmptyDirectory(name string, opts ...EntryOption) error {
	if name == "" {
		return ErrEmptyName
	}
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	e, err := s.newEntry(name, Store, false, opts)
	if err != nil {
		return err
	}
	if err := writeLocalHeader(s.cw, e); err != nil {
		return err
	}
	s.dir = append(s.dir, e)
	return nil
}

// CreateStored starts a stored entry whose size is not known in advance and
// returns its body writer. The entry's local header has zeroed size and CRC
// fields; closing the body emits a data descriptor with the real values.
// The body must be closed before another entry is started.
func (s *Streamer) CreateStored(name string, opts ...EntryOption) (*OpenFile, error) {
	e, err := s.newEntry(name, Store, true, opts)
	if err != nil {
		return nil, err
	}
	return s.startOpen(e, newStoredWriter(s.cw))
}

// CreateDeflated starts a deflated entry whose sizes are not known in
// advance and returns its body writer. Bytes written to the body are
// compressed with raw DEFLATE as they arrive; closing the body drains the
// encoder and emits a data descriptor.
func (s *Streamer) CreateDeflated(name string, opts ...EntryOption) (*OpenFile, error) {
	e, err := s.newEntry(name, Deflate, true, opts)
	if err != nil {
		return nil, err
	}
	bw, err := newDeflateWriter(s.cw, s.level)
	if err != nil {
		return nil, err
	}
	return s.startOpen(e, bw)
}

func (s *Streamer) startOpen(e *Entry, body bodyWriter) (*OpenFile, error) {
	if err := writeLocalHeader(s.cw, e); err != nil {
		return nil, err
	}
	s.dir = append(s.dir, e)
	f := &OpenFile{s: s, e: e, body: body}
	s.open = f
	return f, nil
}

// Close writes the central directory and end of central directory records.
// No entries may be added afterwards. Close does not close the underlying
// sink.
func (s *Streamer) Close() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.open != nil:
		return ErrEntryOpen
	case s.known != nil:
		return ErrSizeMismatch
	}
	s.closed = true
	return writeTrailer(s.cw, s.dir, s.comment, s.testHookCloseSizeOffset)
}

// OpenFile is the body writer of an entry started with CreateStored or
// CreateDeflated. It borrows the streamer's sink until Close, which settles
// the entry's sizes and CRC and emits the data descriptor.
type OpenFile struct {
	s      *Streamer
	e      *Entry
	body   bodyWriter
	closed bool
}

func (f *OpenFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	return f.body.Write(p)
}

// Close finishes the entry and emits its data descriptor. It must be called
// exactly once; the streamer refuses new entries until then.
func (f *OpenFile) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	f.s.open = nil
	res, err := f.body.finish()
	if err != nil {
		return err
	}
	f.e.CRC32 = res.crc32
	f.e.CompressedSize64 = res.compressedSize
	f.e.UncompressedSize64 = res.uncompressedSize
	return writeDataDescriptor(f.s.cw, f.e)
}
