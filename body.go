package zipflow

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// flateFlushEvery is how much uncompressed input the deflated body writer
// accepts before flushing the encoder, bounding encoder memory on large
// entries.
const flateFlushEvery = 5 * 1024 * 1024

// bodyResult carries the values a body writer settles on close. The streamer
// folds them back into the entry before emitting the data descriptor.
type bodyResult struct {
	crc32            uint32
	compressedSize   uint64
	uncompressedSize uint64
}

// bodyWriter is the shared contract of the stored and deflated writers: they
// borrow the streamer's sink for one entry and report the entry totals on
// finish.
type bodyWriter interface {
	io.Writer
	finish() (bodyResult, error)
}

// storedWriter passes the body through verbatim, tracking CRC and length.
//
// It counts bytes itself rather than comparing sink positions, so it works
// over sinks that cannot report one.
type storedWriter struct {
	sink   io.Writer
	crc    *CRC32
	crcBuf *WriteBuffer
	n      uint64
}

func newStoredWriter(sink io.Writer) *storedWriter {
	crc := NewCRC32()
	return &storedWriter{
		sink:   sink,
		crc:    crc,
		crcBuf: NewWriteBuffer(crc, DefaultBufferSize),
	}
}

func (w *storedWriter) Write(p []byte) (int, error) {
	n, err := w.sink.Write(p)
	w.n += uint64(n)
	w.crcBuf.Write(p[:n]) // CRC32 writes cannot fail
	return n, err
}

func (w *storedWriter) finish() (bodyResult, error) {
	w.crcBuf.Flush()
	return bodyResult{
		crc32:            w.crc.Sum32(),
		compressedSize:   w.n,
		uncompressedSize: w.n,
	}, nil
}

// deflateWriter compresses the body with raw DEFLATE (no zlib header) as it
// is written, tracking CRC and length of the uncompressed input and length
// of the compressed output.
type deflateWriter struct {
	compressed *countWriter // compressed bytes emitted for this entry
	fw         *flate.Writer
	crc        *CRC32
	crcBuf     *WriteBuffer
	n          uint64 // uncompressed input
	sinceFlush uint64
}

func newDeflateWriter(sink io.Writer, level int) (*deflateWriter, error) {
	compressed := &countWriter{w: sink}
	fw, err := flate.NewWriter(compressed, level)
	if err != nil {
		return nil, fmt.Errorf("zipflow: %w", err)
	}
	crc := NewCRC32()
	return &deflateWriter{
		compressed: compressed,
		fw:         fw,
		crc:        crc,
		crcBuf:     NewWriteBuffer(crc, DefaultBufferSize),
	}, nil
}

func (w *deflateWriter) Write(p []byte) (int, error) {
	n, err := w.fw.Write(p)
	w.n += uint64(n)
	w.sinceFlush += uint64(n)
	w.crcBuf.Write(p[:n])
	if err != nil {
		return n, err
	}
	if w.sinceFlush >= flateFlushEvery {
		w.sinceFlush = 0
		if err := w.fw.Flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (w *deflateWriter) finish() (bodyResult, error) {
	// Close drains the encoder and writes the final block; it does not
	// close the underlying sink.
	if err := w.fw.Close(); err != nil {
		return bodyResult{}, err
	}
	w.crcBuf.Flush()
	return bodyResult{
		crc32:            w.crc.Sum32(),
		compressedSize:   uint64(w.compressed.count),
		uncompressedSize: w.n,
	}, nil
}
