package zipflow

import "io"

// Estimator predicts the exact byte size of an archive from entry metadata
// alone, so a Content-Length can be sent before any bytes are produced.
//
// It mirrors the Streamer's add surface for entries whose sizes are known in
// advance and applies the same Zip64, name encoding and record layout rules;
// internally it runs the same record encoders against a counting sink, so the
// predicted size is the size the Streamer produces for the same inputs.
// Entries with unknown sizes cannot be estimated.
type Estimator struct {
	// Comment is the archive comment the streamer will be given, if any.
	Comment string

	cw  countWriter
	dir []*Entry
}

// NewEstimator returns an empty Estimator.
func NewEstimator() *Estimator {
	return &Estimator{cw: countWriter{w: io.Discard}}
}

func (est *Estimator) newEntry(name string, method uint16) (*Entry, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if len(name) > uint16max {
		return nil, ErrLongName
	}
	return &Entry{
		Name:     name,
		Method:   method,
		Modified: minDosTime, // mtime does not change record sizes
		offset:   uint64(est.cw.count),
	}, nil
}

func (est *Estimator) add(e *Entry, bodySize uint64) error {
	if err := writeLocalHeader(&est.cw, e); err != nil {
		return err
	}
	est.cw.count += int64(bodySize)
	est.dir = append(est.dir, e)
	return nil
}

// AddStoredEntry accounts for a stored entry of the given size.
func (est *Estimator) AddStoredEntry(name string, size uint64) error {
	e, err := est.newEntry(name, Store)
	if err != nil {
		return err
	}
	e.CompressedSize64 = size
	e.UncompressedSize64 = size
	return est.add(e, size)
}

// AddDeflatedEntry accounts for a deflated entry with the given sizes.
func (est *Estimator) AddDeflatedEntry(name string, uncompressedSize, compressedSize uint64) error {
	e, err := est.newEntry(name, Deflate)
	if err != nil {
		return err
	}
	e.CompressedSize64 = compressedSize
	e.UncompressedSize64 = uncompressedSize
	return est.add(e, compressedSize)
}

// AddEmptyDirectory accounts for a directory entry. A "/" is appended to the
// name if not already present.
func (est *Estimator) AddEmptyDirectory(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if name[len(name)-1] != '/' {
		name += "/"
	}
	e, err := est.newEntry(name, Store)
	if err != nil {
		return err
	}
	return est.add(e, 0)
}

// Size returns the byte size of the archive the Streamer produces for the
// entries added so far. The estimator stays usable; more entries may be
// added afterwards.
func (est *Estimator) Size() (uint64, error) {
	cw := countWriter{w: io.Discard, count: est.cw.count}
	if err := writeTrailer(&cw, est.dir, est.Comment, nil); err != nil {
		return 0, err
	}
	return uint64(cw.count), nil
}
