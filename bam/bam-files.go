// lazybam: a low-level toolkit for lazily scanning and rewriting BAM files.
// Copyright (c) 2020-2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/exascience/lazybam/blob/master/LICENSE.txt>.

package bam

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/exascience/lazybam/internal"
	"github.com/exascience/lazybam/utils/bgzf"
)

// A Reader presents the records of a BAM stream as a forward-only
// sequence of raw byte slices. It is not safe for concurrent use; use
// one Reader per goroutine.
type Reader struct {
	rc     io.Closer
	bgzf   *bgzf.Reader
	hdr    *Header
	buf    [4]byte
	closed bool
}

// NewReader wraps an io.Reader producing a BGZF-compressed BAM stream
// and parses its header section. It does not take ownership of the
// underlying reader.
func NewReader(r io.Reader) (*Reader, error) {
	bz, err := bgzf.NewReader(r)
	if err != nil {
		return nil, err
	}
	hdr, err := ParseHeader(bz)
	if err != nil {
		return nil, err
	}
	return &Reader{bgzf: bz, hdr: hdr}, nil
}

// Open opens the named BAM file for reading. Close releases the file
// handle.
func Open(name string) (*Reader, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	reader, err := NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w when opening %v", err, name)
	}
	reader.rc = file
	return reader, nil
}

// Header returns the header parsed when the Reader was created.
func (r *Reader) Header() *Header {
	return r.hdr
}

// Read returns the next raw record. The returned slice is freshly
// allocated and owned by the caller. At a clean end of stream Read
// returns io.EOF; a stream that ends inside a length prefix or a
// record body fails with ErrTruncatedRecord.
func (r *Reader) Read() (Record, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}
	if _, err := io.ReadFull(r.bgzf, r.buf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: incomplete record length prefix", ErrTruncatedRecord)
		}
		return nil, err
	}
	size := int32(binary.LittleEndian.Uint32(r.buf[:]))
	if size < readNameIndex {
		return nil, fmt.Errorf("%w: record length %d smaller than the 32-byte core", ErrTruncatedRecord, size)
	}
	rec := make(Record, size)
	if _, err := io.ReadFull(r.bgzf, rec); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: stream ends inside a %d-byte record", ErrTruncatedRecord, size)
		}
		return nil, err
	}
	return rec, nil
}

// Close releases the BGZF reader and, when the Reader was created by
// Open, the file handle.
func (r *Reader) Close() error {
	if r.closed {
		return ErrReaderClosed
	}
	r.closed = true
	err := r.bgzf.Close()
	if r.rc != nil {
		if nerr := r.rc.Close(); err == nil {
			err = nerr
		}
	}
	return err
}

// A Writer appends a header and raw records to a new BGZF-compressed
// BAM stream. Records pass through unmodified; the Writer only adds
// their length prefixes. It is not safe for concurrent use.
type Writer struct {
	wc          io.Closer
	bgzf        *bgzf.Writer
	wroteHeader bool
	closed      bool
	buf         [4]byte
}

// NewWriter returns a Writer on the given io.Writer. It does not take
// ownership of the underlying writer. The compression level is passed
// through to the BGZF layer.
func NewWriter(w io.Writer, level int) *Writer {
	return &Writer{bgzf: bgzf.NewWriter(w, level)}
}

// Create creates the named BAM file for writing. Close releases the
// file handle.
func Create(name string, level int) (*Writer, error) {
	file, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	writer := NewWriter(file, level)
	writer.wc = file
	return writer, nil
}

// WriteHeader writes the header section. It must be called exactly
// once, before the first WriteRecord.
func (w *Writer) WriteHeader(hdr *Header) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.wroteHeader {
		return fmt.Errorf("header written twice to a BAM writer")
	}
	out := internal.ReserveByteBuffer()
	out = hdr.Format(out)
	_, err := w.bgzf.Write(out)
	internal.ReleaseByteBuffer(out)
	if err != nil {
		return err
	}
	w.wroteHeader = true
	return nil
}

// WriteRecord writes one raw record with its 4-byte length prefix.
func (w *Writer) WriteRecord(rec Record) error {
	if w.closed {
		return ErrWriterClosed
	}
	if !w.wroteHeader {
		return ErrNoHeader
	}
	binary.LittleEndian.PutUint32(w.buf[:], uint32(len(rec)))
	if _, err := w.bgzf.Write(w.buf[:]); err != nil {
		return err
	}
	_, err := w.bgzf.Write(rec)
	return err
}

// Close flushes the BGZF stream, writes its terminal block, and, when
// the Writer was created by Create, closes the file handle. Closing
// before WriteHeader still produces a well-formed empty BGZF stream.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	err := w.bgzf.Close()
	if w.wc != nil {
		if nerr := w.wc.Close(); err == nil {
			err = nerr
		}
	}
	return err
}
