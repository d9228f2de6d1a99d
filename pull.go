package zipflow

import (
	"errors"
	"io"
	"sync"
)

var errChunksClosed = errors.New("zipflow: chunk stream closed")

// Chunks is a lazy sequence of archive byte chunks, produced on demand by
// StreamChunks.
type Chunks struct {
	ch   chan []byte
	errc chan error
	done chan struct{}
	once sync.Once

	finished bool
	err      error
}

// StreamChunks inverts the push model of the Streamer: build receives a
// streamer and writes the archive as usual, while the returned Chunks hands
// the produced bytes out as chunks of at least minChunkSize bytes (the final
// chunk may be shorter). The archive is produced lazily, one chunk ahead of
// the consumer at most.
//
// build must not retain the streamer; the streamer's Close is called by
// StreamChunks after build returns nil. If minChunkSize is not positive,
// DefaultBufferSize is used.
func StreamChunks(minChunkSize int, build func(*Streamer) error) *Chunks {
	if minChunkSize <= 0 {
		minChunkSize = DefaultBufferSize
	}
	c := &Chunks{
		ch:   make(chan []byte),
		errc: make(chan error, 1),
		done: make(chan struct{}),
	}
	go func() {
		sink := &chunkSink{c: c, min: minChunkSize}
		s := NewStreamer(sink)
		err := build(s)
		if err == nil {
			err = s.Close()
		}
		if err == nil {
			err = sink.flush()
		}
		c.errc <- err
		close(c.ch)
	}()
	return c
}

// Next returns the next chunk of the archive. After the final chunk it
// returns io.EOF, or the error that terminated the stream. The returned
// slice is owned by the caller.
func (c *Chunks) Next() ([]byte, error) {
	if c.finished {
		if c.err != nil {
			return nil, c.err
		}
		return nil, io.EOF
	}
	select {
	case <-c.done:
		// abandoned by Close: hand out nothing more
		c.finished = true
		c.err = errChunksClosed
		return nil, c.err
	default:
	}
	chunk, ok := <-c.ch
	if ok {
		return chunk, nil
	}
	c.finished = true
	c.err = <-c.errc
	if c.err != nil {
		return nil, c.err
	}
	return nil, io.EOF
}

// Close abandons the stream. Outstanding work is discarded and the producing
// goroutine unwinds through its normal error path. Close may be called at
// any time, including after the stream is exhausted.
func (c *Chunks) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// chunkSink buffers streamer output until a chunk is due and hands it to the
// consumer, blocking the producer until the consumer asks for more.
type chunkSink struct {
	c   *Chunks
	min int
	buf []byte
}

func (k *chunkSink) Write(p []byte) (int, error) {
	k.buf = append(k.buf, p...)
	if len(k.buf) >= k.min {
		if err := k.send(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (k *chunkSink) send() error {
	select {
	case k.c.ch <- k.buf:
		k.buf = nil
		return nil
	case <-k.c.done:
		return errChunksClosed
	}
}

func (k *chunkSink) flush() error {
	if len(k.buf) == 0 {
		return nil
	}
	return k.send()
}
