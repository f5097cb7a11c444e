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

// Package bgzf reads and writes the BGZF block-compression format used
// by BAM files. Each block is an independent gzip member of at most
// 65536 uncompressed bytes, so that a stream can be decoded block by
// block. Readers and writers are strictly sequential and synchronous;
// a single instance must not be used from multiple goroutines.
package bgzf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/exascience/lazybam/internal"
)

// MaxBlockSize is the maximum uncompressed size of a BGZF block.
const MaxBlockSize = 65536

// writeBlockSize is the uncompressed payload size at which the Writer
// flushes a block. The BSIZE field stores the total member size minus
// one in 16 bits, and DEFLATE expands incompressible input, so blocks
// are cut below the format maximum to leave room for the worst-case
// expansion plus the member framing. This is the same payload size
// htslib uses.
const writeBlockSize = 0xff00

// bgzfEOF is the fixed empty block that marks a well-formed end of a
// BGZF stream. See http://samtools.github.io/hts-specs/SAMv1.pdf -
// Section 4.1.2.
var bgzfEOF = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x1b, 0x00,
	0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

var (
	// ErrReaderClosed is returned when reading from a closed Reader.
	ErrReaderClosed = errors.New("read on a closed BGZF reader")

	// ErrWriterClosed is returned when writing to a closed Writer.
	ErrWriterClosed = errors.New("write on a closed BGZF writer")

	// ErrMissingEOF is returned when the underlying stream ends
	// without the empty terminal block, which indicates truncation.
	ErrMissingEOF = errors.New("truncated BGZF stream: missing EOF marker")
)

// A CorruptBlockError reports a block whose contents do not match its
// declared checksum or lengths. Offset is the position of the first
// byte of the block in the compressed stream.
type CorruptBlockError struct {
	Offset int64
	Reason string
}

func (e *CorruptBlockError) Error() string {
	return fmt.Sprintf("corrupt BGZF block at offset %d: %v", e.Offset, e.Reason)
}

// countingReader tracks how many compressed bytes have been consumed,
// so that errors can name the offset of the offending block. gzip
// needs the ReadByte method to avoid reading ahead of the member
// header.
type countingReader struct {
	r flate.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (n int, err error) {
	n, err = c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

// Reader decompresses a BGZF stream block by block and presents the
// concatenated uncompressed bytes as an io.Reader.
type Reader struct {
	cr          *countingReader
	gz          *gzip.Reader
	cdata       []byte
	block       []byte
	index       int
	blockOffset int64
	err         error
	closed      bool
}

var flateReaderPool sync.Pool

// NewReader returns a Reader for the given io.Reader. It fails if the
// input does not start with a gzip member header.
func NewReader(r io.Reader) (*Reader, error) {
	fr, ok := r.(flate.Reader)
	if !ok {
		fr = bufio.NewReader(r)
	}
	cr := &countingReader{r: fr}
	gz, err := gzip.NewReader(cr)
	if err != nil {
		return nil, fmt.Errorf("%v in bgzf.NewReader", err)
	}
	return &Reader{
		cr:    cr,
		gz:    gz,
		cdata: make([]byte, 0, MaxBlockSize),
		block: make([]byte, 0, MaxBlockSize),
	}, nil
}

// readBlock reads and decompresses the gzip member whose header the
// gzip reader has already parsed, then advances to the next member
// header. It returns io.EOF when the empty terminal block is observed,
// and ErrMissingEOF when the stream ends without one.
func (r *Reader) readBlock() error {
	offset := r.blockOffset
	extra := r.gz.Header.Extra
	bsize := -1
	var slen int
	for i := 0; i+4 <= len(extra); i += 4 + slen {
		slen = int(binary.LittleEndian.Uint16(extra[i+2 : i+4]))
		if extra[i] == 66 && extra[i+1] == 67 && slen == 2 {
			bsize = int(binary.LittleEndian.Uint16(extra[i+4 : i+6]))
			break
		}
	}
	if bsize < 0 {
		return &CorruptBlockError{offset, "missing BC extra subfield in BGZF header"}
	}
	// The BSIZE field stores the total block size minus one; the
	// fixed gzip header is 12 bytes, the extra field follows it, and
	// the CRC-32/ISIZE trailer takes the final 8 bytes.
	clen := bsize - len(extra) - 19
	if clen < 0 {
		return &CorruptBlockError{offset, "declared block size smaller than its framing"}
	}
	if cap(r.cdata) < clen {
		r.cdata = make([]byte, clen)
	}
	r.cdata = r.cdata[:clen]
	if _, err := io.ReadFull(r.cr, r.cdata); err != nil {
		return &CorruptBlockError{offset, "short compressed payload"}
	}
	var tail [8]byte
	if _, err := io.ReadFull(r.cr, tail[:]); err != nil {
		return &CorruptBlockError{offset, "short block trailer"}
	}
	crc := binary.LittleEndian.Uint32(tail[0:4])
	isize := binary.LittleEndian.Uint32(tail[4:8])
	if isize > MaxBlockSize {
		return &CorruptBlockError{offset, fmt.Sprintf("declared uncompressed size %d exceeds the BGZF maximum", isize)}
	}

	if isize == 0 && crc == 0 && len(r.cdata) == 2 && r.cdata[0] == 3 && r.cdata[1] == 0 {
		// The empty terminal block; anything after it is not ours to read.
		return io.EOF
	}

	var fr io.ReadCloser
	if pooled := flateReaderPool.Get(); pooled == nil {
		fr = flate.NewReader(bytes.NewReader(r.cdata))
	} else {
		fr = pooled.(io.ReadCloser)
		if err := fr.(flate.Resetter).Reset(bytes.NewReader(r.cdata), nil); err != nil {
			fr = flate.NewReader(bytes.NewReader(r.cdata))
		}
	}
	r.block = r.block[:isize]
	r.index = 0
	if _, err := io.ReadFull(fr, r.block); err != nil {
		flateReaderPool.Put(fr)
		return &CorruptBlockError{offset, fmt.Sprintf("uncompressed payload shorter than the declared %d bytes", isize)}
	}
	if err := fr.Close(); err != nil {
		flateReaderPool.Put(fr)
		return &CorruptBlockError{offset, err.Error()}
	}
	flateReaderPool.Put(fr)
	if crc32.ChecksumIEEE(r.block) != crc {
		return &CorruptBlockError{offset, "CRC-32 mismatch for the uncompressed payload"}
	}

	// Advance to the next member header. The block just decoded is
	// intact either way, so problems here are reported only on the
	// next call.
	r.blockOffset = r.cr.n
	if err := r.gz.Reset(r.cr); err != nil {
		if err == io.EOF {
			// The stream ended on a non-empty block.
			r.err = ErrMissingEOF
		} else {
			r.err = fmt.Errorf("%v in BGZF block header at offset %d", err, r.blockOffset)
		}
	}
	return nil
}

// Read implements the corresponding method of io.Reader.
func (r *Reader) Read(p []byte) (n int, err error) {
	if r.closed {
		return 0, ErrReaderClosed
	}
	for r.index == len(r.block) {
		if r.err != nil {
			return 0, r.err
		}
		if err := r.readBlock(); err != nil {
			r.err = err
			return 0, err
		}
	}
	n = copy(p, r.block[r.index:])
	r.index += n
	return n, nil
}

// Close implements the corresponding method of io.Closer. It does not
// close the underlying reader.
func (r *Reader) Close() error {
	if r.closed {
		return ErrReaderClosed
	}
	r.closed = true
	return r.gz.Close()
}

// Writer compresses its input into a BGZF stream, emitting one block
// per writeBlockSize buffered bytes.
type Writer struct {
	w      io.Writer
	level  int
	block  []byte
	closed bool
}

var flateWriterPool sync.Pool

// NewWriter returns a Writer for the given io.Writer.
//
// Following zlib, levels range from 1 (BestSpeed) to 9
// (BestCompression). Level -1 (DefaultCompression) uses the default
// compression level, and level 0 (NoCompression) only adds the
// necessary DEFLATE framing.
func NewWriter(w io.Writer, level int) *Writer {
	return &Writer{
		w:     w,
		level: level,
		block: make([]byte, 0, writeBlockSize),
	}
}

// writeBlock compresses data into a single gzip member and writes it
// to the underlying writer in one call, so that a failed compression
// step never leaves a partial block behind.
func (w *Writer) writeBlock(data []byte) error {
	out := internal.ReserveByteBuffer()
	defer func() {
		internal.ReleaseByteBuffer(out)
	}()

	buf := bytes.NewBuffer(out)
	buf.Write([]byte{
		0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
		0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
		0x42, 0x43, 0x02, 0x00, 0x00, 0x00,
	})

	var fw *flate.Writer
	if pooled := flateWriterPool.Get(); pooled != nil {
		fw = pooled.(*flate.Writer)
		fw.Reset(buf)
	} else {
		var err error
		if fw, err = flate.NewWriter(buf, w.level); err != nil {
			return err
		}
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}
	flateWriterPool.Put(fw)

	out = buf.Bytes()
	index := len(out)
	out = append(out, 0, 0, 0, 0, 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(out[index:index+4], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint32(out[index+4:index+8], uint32(len(data)))
	binary.LittleEndian.PutUint16(out[16:18], uint16(len(out)-1))
	_, err := w.w.Write(out)
	return err
}

// Write implements the corresponding method of io.Writer.
func (w *Writer) Write(p []byte) (n int, err error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	n = len(p)
	for {
		blockIndex := len(w.block)
		newBlockLength := blockIndex + len(p)
		if newBlockLength >= writeBlockSize {
			w.block = w.block[:writeBlockSize]
			k := copy(w.block[blockIndex:], p)
			p = p[k:]
			if err := w.writeBlock(w.block); err != nil {
				w.block = w.block[:blockIndex]
				return n - len(p), err
			}
			w.block = w.block[:0]
		} else {
			w.block = w.block[:newBlockLength]
			copy(w.block[blockIndex:], p)
			return n, nil
		}
	}
}

// Flush compresses and writes out any buffered bytes as a block of
// their own.
func (w *Writer) Flush() error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(w.block) == 0 {
		return nil
	}
	if err := w.writeBlock(w.block); err != nil {
		return err
	}
	w.block = w.block[:0]
	return nil
}

// Close flushes any buffered bytes and writes the empty terminal
// block, even when no data was ever written, so that readers can
// distinguish a complete stream from a truncated one. It does not
// close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.Flush(); err != nil {
		return err
	}
	w.closed = true
	_, err := w.w.Write(bgzfEOF)
	return err
}
