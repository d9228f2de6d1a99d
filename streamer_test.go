// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipflow

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math/rand"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
)

type WriteTest struct {
	Name   string
	Data   []byte
	Method uint16
}

var writeTests = []WriteTest{
	{
		Name:   "foo",
		Data:   []byte("Rabbits, guinea pigs, gophers, marsupial rats, and quolls."),
		Method: Store,
	},
	{
		Name:   "bar",
		Data:   nil, // large data set in the test
		Method: Deflate,
	},
	{
		Name:   "sub/dir/baz",
		Data:   []byte("nested entry"),
		Method: Deflate,
	},
	{
		Name:   "empty",
		Data:   nil,
		Method: Store,
	},
}

// addKnown adds wt through the known-sizes path: header first, body bytes
// after.
func addKnown(t *testing.T, s *Streamer, wt *WriteTest) {
	t.Helper()
	switch wt.Method {
	case Store:
		if err := s.AddStoredEntry(wt.Name, uint64(len(wt.Data)), crc(wt.Data)); err != nil {
			t.Fatalf("AddStoredEntry(%q): %v", wt.Name, err)
		}
		if len(wt.Data) == 0 {
			return
		}
		if _, err := s.Write(wt.Data); err != nil {
			t.Fatalf("Write(%q): %v", wt.Name, err)
		}
	case Deflate:
		compressed := deflate(wt.Data)
		err := s.AddDeflatedEntry(wt.Name, uint64(len(wt.Data)), crc(wt.Data), uint64(len(compressed)))
		if err != nil {
			t.Fatalf("AddDeflatedEntry(%q): %v", wt.Name, err)
		}
		if _, err := s.Write(compressed); err != nil {
			t.Fatalf("Write(%q): %v", wt.Name, err)
		}
	}
}

func TestStreamer(t *testing.T) {
	largeData := make([]byte, 1<<17)
	if _, err := rand.Read(largeData); err != nil {
		t.Fatal("rand.Read failed:", err)
	}
	writeTests[1].Data = largeData
	defer func() {
		writeTests[1].Data = nil
	}()

	// write a zip file
	buf := new(bytes.Buffer)
	s := NewStreamer(buf)
	for _, wt := range writeTests {
		addKnown(t, s, &wt)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// read it back
	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	for i, wt := range writeTests {
		testReadFile(t, r.File[i], &wt)
	}
}

func TestStreamerCreate(t *testing.T) {
	largeData := make([]byte, 1<<17)
	if _, err := rand.Read(largeData); err != nil {
		t.Fatal("rand.Read failed:", err)
	}
	writeTests[1].Data = largeData
	defer func() {
		writeTests[1].Data = nil
	}()

	// write a zip file through the unknown-sizes path, in uneven chunks
	buf := new(bytes.Buffer)
	s := NewStreamer(buf)
	for _, wt := range writeTests {
		var w *OpenFile
		var err error
		if wt.Method == Store {
			w, err = s.CreateStored(wt.Name)
		} else {
			w, err = s.CreateDeflated(wt.Name)
		}
		if err != nil {
			t.Fatalf("create %q: %v", wt.Name, err)
		}
		for data := wt.Data; len(data) > 0; {
			n := len(data)/3 + 1
			if n > len(data) {
				n = len(data)
			}
			if _, err := w.Write(data[:n]); err != nil {
				t.Fatalf("write %q: %v", wt.Name, err)
			}
			data = data[n:]
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close %q: %v", wt.Name, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// read it back
	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	for i, wt := range writeTests {
		testReadFile(t, r.File[i], &wt)
		if r.File[i].Flags&flagDataDescriptor == 0 {
			t.Errorf("%s: data descriptor flag not set", wt.Name)
		}
	}
}

// TestStreamerComment is test for EOCD comment read/write.
func TestStreamerComment(t *testing.T) {
	var tests = []struct {
		comment string
		ok      bool
	}{
		{"hi, hello", true},
		{"hi, こんにちわ", true},
		{strings.Repeat("a", uint16max), true},
		{strings.Repeat("a", uint16max+1), false},
	}

	for _, test := range tests {
		buf := new(bytes.Buffer)
		s := NewStreamer(buf, WithComment(test.comment))
		err := s.Close()
		if err != nil {
			if test.ok {
				t.Fatalf("unexpected error %v", err)
			}
			if !errors.Is(err, ErrLongComment) {
				t.Fatalf("expected ErrLongComment, got %v", err)
			}
			continue
		}
		if !test.ok {
			t.Fatalf("unexpected success, want error")
		}

		// read it back
		r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		if err != nil {
			t.Fatal(err)
		}
		if r.Comment != test.comment {
			t.Fatalf("Reader.Comment: got %v, want %v", r.Comment, test.comment)
		}
	}
}

func TestStreamerUTF8(t *testing.T) {
	var utf8Tests = []struct {
		name  string
		flags uint16
	}{
		{
			name:  "hi, hello",
			flags: 0x8,
		},
		{
			name:  "hi, こんにちわ",
			flags: 0x808,
		},
		{
			name:  "Kungälv.txt",
			flags: 0x808,
		},
		{
			// Every name is UTF-8 by contract, so even bytes that would
			// be valid Shift JIS get the flag.
			name:  "\x93\xfa\x96{\x8c\xea.txt",
			flags: 0x808,
		},
	}

	buf := new(bytes.Buffer)
	s := NewStreamer(buf)
	for _, test := range utf8Tests {
		w, err := s.CreateDeflated(test.name)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// read it back
	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	for i, test := range utf8Tests {
		flags := r.File[i].Flags
		if flags != test.flags {
			t.Errorf("name=%q: flags=%#x, want %#x", test.name, flags, test.flags)
		}
	}
}

func TestStreamerModTime(t *testing.T) {
	modified := time.Date(2017, 10, 31, 21, 11, 56, 0, time.UTC)
	buf := new(bytes.Buffer)
	s := NewStreamer(buf)
	err := s.AddStoredEntry("test.txt", 0, 0, EntryModTime(modified))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	// The extended timestamp extra stores the exact Unix time.
	if got := r.File[0].Modified; !got.Equal(modified) {
		t.Errorf("Modified: got %v, want %v", got, modified)
	}
}

func TestDosTimeSaturation(t *testing.T) {
	tests := []struct {
		t        time.Time
		date     uint16
		time     uint16
	}{
		// in range
		{time.Date(2017, 10, 31, 21, 11, 57, 0, time.UTC),
			31 + 10<<5 + 37<<9, 57/2 + 11<<5 + 21<<11},
		// before the epoch saturates to 1980-01-01 00:00:00
		{time.Date(1966, 1, 1, 12, 0, 0, 0, time.UTC),
			1 + 1<<5, 0},
		// past the end saturates to 2107-12-31 23:59:58
		{time.Date(2200, 6, 15, 0, 0, 0, 0, time.UTC),
			31 + 12<<5 + 127<<9, 29 + 59<<5 + 23<<11},
	}
	for _, test := range tests {
		gotDate, gotTime := timeToMsDosTime(test.t)
		if gotDate != test.date || gotTime != test.time {
			t.Errorf("timeToMsDosTime(%v) = %#x, %#x; want %#x, %#x",
				test.t, gotDate, gotTime, test.date, test.time)
		}
	}
}

func TestStreamerErrors(t *testing.T) {
	t.Run("write without entry", func(t *testing.T) {
		s := NewStreamer(io.Discard)
		if _, err := s.Write([]byte("x")); !errors.Is(err, ErrNoEntry) {
			t.Errorf("got %v, want ErrNoEntry", err)
		}
	})

	t.Run("overflow", func(t *testing.T) {
		s := NewStreamer(io.Discard)
		if err := s.AddStoredEntry("a", 2, 0); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Write([]byte("abc")); !errors.Is(err, ErrSizeMismatch) {
			t.Errorf("got %v, want ErrSizeMismatch", err)
		}
	})

	t.Run("underflow detected at next operation", func(t *testing.T) {
		s := NewStreamer(io.Discard)
		if err := s.AddStoredEntry("a", 4, 0); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Write([]byte("ab")); err != nil {
			t.Fatal(err)
		}
		if err := s.AddStoredEntry("b", 0, 0); !errors.Is(err, ErrSizeMismatch) {
			t.Errorf("AddStoredEntry: got %v, want ErrSizeMismatch", err)
		}
		if err := s.Close(); !errors.Is(err, ErrSizeMismatch) {
			t.Errorf("Close: got %v, want ErrSizeMismatch", err)
		}
	})

	t.Run("entry open", func(t *testing.T) {
		s := NewStreamer(io.Discard)
		w, err := s.CreateStored("a")
		if err != nil {
			t.Fatal(err)
		}
		if err := s.AddStoredEntry("b", 0, 0); !errors.Is(err, ErrEntryOpen) {
			t.Errorf("AddStoredEntry: got %v, want ErrEntryOpen", err)
		}
		if _, err := s.CreateDeflated("c"); !errors.Is(err, ErrEntryOpen) {
			t.Errorf("CreateDeflated: got %v, want ErrEntryOpen", err)
		}
		if err := s.Close(); !errors.Is(err, ErrEntryOpen) {
			t.Errorf("Close: got %v, want ErrEntryOpen", err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("write after close", func(t *testing.T) {
		s := NewStreamer(io.Discard)
		w, err := s.CreateStored("a")
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte("x")); !errors.Is(err, ErrClosed) {
			t.Errorf("body Write: got %v, want ErrClosed", err)
		}
		if err := w.Close(); !errors.Is(err, ErrClosed) {
			t.Errorf("body Close: got %v, want ErrClosed", err)
		}
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
		if err := s.AddStoredEntry("b", 0, 0); !errors.Is(err, ErrClosed) {
			t.Errorf("AddStoredEntry: got %v, want ErrClosed", err)
		}
		if _, err := s.Write([]byte("x")); !errors.Is(err, ErrClosed) {
			t.Errorf("Write: got %v, want ErrClosed", err)
		}
		if err := s.Close(); !errors.Is(err, ErrClosed) {
			t.Errorf("Close: got %v, want ErrClosed", err)
		}
	})

	t.Run("bad names", func(t *testing.T) {
		s := NewStreamer(io.Discard)
		if err := s.AddStoredEntry("", 0, 0); !errors.Is(err, ErrEmptyName) {
			t.Errorf("got %v, want ErrEmptyName", err)
		}
		long := strings.Repeat("x", uint16max+1)
		if err := s.AddStoredEntry(long, 0, 0); !errors.Is(err, ErrLongName) {
			t.Errorf("got %v, want ErrLongName", err)
		}
	})

	t.Run("sink error poisons the streamer", func(t *testing.T) {
		sinkErr := errors.New("sink broke")
		s := NewStreamer(&failingWriter{failAfter: 10, err: sinkErr})
		err := s.AddStoredEntry("a", 4, 0)
		if !errors.Is(err, sinkErr) {
			t.Fatalf("AddStoredEntry: got %v, want sink error", err)
		}
		if err := s.Close(); !errors.Is(err, sinkErr) {
			t.Errorf("Close: got %v, want sink error", err)
		}
	})
}

type failingWriter struct {
	failAfter int
	n         int
	err       error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.failAfter {
		n := w.failAfter - w.n
		w.n = w.failAfter
		return n, w.err
	}
	w.n += len(p)
	return len(p), nil
}

func TestStreamerDir(t *testing.T) {
	buf := new(bytes.Buffer)
	s := NewStreamer(buf)
	if err := s.AddEmptyDirectory("dir"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddEmptyDirectory("dir2/"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	b := buf.Bytes()
	var sig [4]byte
	binary.LittleEndian.PutUint32(sig[:], uint32(dataDescriptorSignature))
	if bytes.Index(b, sig[:]) != -1 {
		t.Error("there should be no data descriptor")
	}

	r, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"dir/", "dir2/"} {
		f := r.File[i]
		if f.Name != want {
			t.Errorf("File(%d) = %q, want %q", i, f.Name, want)
		}
		if !f.Mode().IsDir() {
			t.Errorf("%s: mode %v is not a directory", f.Name, f.Mode())
		}
		if f.UncompressedSize64 != 0 {
			t.Errorf("%s: size %d, want 0", f.Name, f.UncompressedSize64)
		}
	}
}

func TestStreamerAttributes(t *testing.T) {
	buf := new(bytes.Buffer)
	s := NewStreamer(buf)
	if err := s.AddStoredEntry("file.txt", 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.AddEmptyDirectory("dir"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := r.File[0].Mode(), os.FileMode(0o644); got != want {
		t.Errorf("file mode: got %v, want %v", got, want)
	}
	if got, want := r.File[1].Mode(), os.ModeDir|0o755; got != want {
		t.Errorf("dir mode: got %v, want %v", got, want)
	}
	if got := r.File[0].CreatorVersion >> 8; got != creatorUnix {
		t.Errorf("made-by host system: got %d, want %d", got, creatorUnix)
	}
}

// TestStoredDataDescriptor exercises the unknown-size stored path and checks
// the emitted data descriptor byte for byte.
func TestStoredDataDescriptor(t *testing.T) {
	buf := new(bytes.Buffer)
	s := NewStreamer(buf)
	w, err := s.CreateStored("s.bin")
	if err != nil {
		t.Fatal(err)
	}
	var payload []byte
	for _, b := range []byte{'a', 'b', 'b'} {
		chunk := bytes.Repeat([]byte{b}, 256)
		if _, err := w.Write(chunk); err != nil {
			t.Fatal(err)
		}
		payload = append(payload, chunk...)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// local header + name + extended timestamp extra, then the body
	descOff := fileHeaderLen + len("s.bin") + extTimeExtraLen + len(payload)
	b := readBuf(buf.Bytes()[descOff:])
	if sig := b.uint32(); sig != dataDescriptorSignature {
		t.Fatalf("descriptor signature: got %#x", sig)
	}
	if got, want := b.uint32(), crc(payload); got != want {
		t.Errorf("descriptor crc32: got %#x, want %#x", got, want)
	}
	if got := b.uint32(); got != uint32(len(payload)) {
		t.Errorf("descriptor compressed size: got %d, want %d", got, len(payload))
	}
	if got := b.uint32(); got != uint32(len(payload)) {
		t.Errorf("descriptor uncompressed size: got %d, want %d", got, len(payload))
	}

	// the central record must carry the same values
	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	f := r.File[0]
	if f.CRC32 != crc(payload) || f.CompressedSize64 != 768 || f.UncompressedSize64 != 768 {
		t.Errorf("central record: crc=%#x csize=%d usize=%d", f.CRC32, f.CompressedSize64, f.UncompressedSize64)
	}
	testReadFile(t, f, &WriteTest{Name: "s.bin", Data: payload, Method: Store})
}

// TestDeflatedDataDescriptor exercises the unknown-size deflated path.
func TestDeflatedDataDescriptor(t *testing.T) {
	payload := append(bytes.Repeat([]byte{'a'}, 256), bytes.Repeat([]byte{'b'}, 512)...)

	buf := new(bytes.Buffer)
	s := NewStreamer(buf)
	w, err := s.CreateDeflated("t.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(payload[:256]); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(payload[256:]); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	f := r.File[0]
	if f.CRC32 != crc(payload) {
		t.Errorf("crc: got %#x, want %#x", f.CRC32, crc(payload))
	}
	testReadFile(t, f, &WriteTest{Name: "t.txt", Data: payload, Method: Deflate})
}

// TestDiacriticFilename checks the EFS flag and name round trip for a
// non-ASCII name.
func TestDiacriticFilename(t *testing.T) {
	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	buf := new(bytes.Buffer)
	s := NewStreamer(buf)
	if err := s.AddStoredEntry("Kungälv.txt", uint64(len(payload)), crc(payload)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	f := r.File[0]
	if f.Flags&flagUTF8 == 0 {
		t.Error("EFS flag not set")
	}
	if f.Name != "Kungälv.txt" {
		t.Errorf("name: got %q", f.Name)
	}
	testReadFile(t, f, &WriteTest{Name: "Kungälv.txt", Data: payload, Method: Store})
}

func deflate(data []byte) []byte {
	var compressedData bytes.Buffer
	comp, _ := flate.NewWriter(&compressedData, 5) // level 5 -> err = nil
	io.Copy(comp, bytes.NewReader(data))           // bytes.Buffer does not return non-nil err
	comp.Close()
	return compressedData.Bytes()
}

func crc(data []byte) uint32 {
	hash := crc32.NewIEEE()
	hash.Write(data) // crc32 does not return non-nil err
	return hash.Sum32()
}

func testReadFile(t *testing.T, f *zip.File, wt *WriteTest) {
	if f.Name != wt.Name {
		t.Fatalf("File name: got %q, want %q", f.Name, wt.Name)
	}
	rc, err := f.Open()
	if err != nil {
		t.Fatal("opening:", err)
	}
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal("reading:", err)
	}
	err = rc.Close()
	if err != nil {
		t.Fatal("closing:", err)
	}
	if !bytes.Equal(b, wt.Data) {
		t.Errorf("File contents %q, want %q", b, wt.Data)
	}
}
