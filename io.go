package zipflow

import "io"

// countWriter wraps the user-provided sink and counts bytes written to it.
//
// The count is the only notion of archive offset: the sink itself is never
// asked for its position, so pipes and sockets work. Once a write fails the
// error is sticky and every later write returns it, which poisons the
// streamer without further calls reaching the sink.
type countWriter struct {
	w     io.Writer
	count int64
	err   error
}

func (w *countWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.w.Write(p)
	w.count += int64(n)
	if err != nil {
		w.err = err
	}
	return n, err
}
