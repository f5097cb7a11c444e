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
	"strconv"
)

// A Record is the raw bytes of one alignment record, without its
// 4-byte length prefix. Records are never mutated in place; a Reader
// hands out a fresh slice per record, and a Writer treats the slice as
// a pass-through blob.
type Record []byte

// Byte offsets of the fixed fields in the 32-byte core of an alignment
// record. See http://samtools.github.io/hts-specs/SAMv1.pdf - Section
// 4.2.
const (
	refIDIndex     = 0
	posIndex       = 4
	lReadNameIndex = posIndex + 4
	mapqIndex      = lReadNameIndex + 1
	binIndex       = mapqIndex + 1
	nCigarOpIndex  = binIndex + 2
	flagIndex      = nCigarOpIndex + 2
	lSeqIndex      = flagIndex + 2
	nextRefIDIndex = lSeqIndex + 4
	nextPosIndex   = nextRefIDIndex + 4
	tlenIndex      = nextPosIndex + 4
	readNameIndex  = tlenIndex + 4
)

// RefID returns the reference index, or -1 for an unmapped record.
func (rec Record) RefID() int32 {
	return int32(binary.LittleEndian.Uint32(rec[refIDIndex : refIDIndex+4]))
}

// Pos returns the 0-based leftmost mapping position.
func (rec Record) Pos() int32 {
	return int32(binary.LittleEndian.Uint32(rec[posIndex : posIndex+4]))
}

// ReadNameLen returns the length of the read name including its
// terminating NUL byte.
func (rec Record) ReadNameLen() int {
	return int(rec[lReadNameIndex])
}

// MapQ returns the mapping quality.
func (rec Record) MapQ() byte {
	return rec[mapqIndex]
}

// Bin returns the BAI index bin.
func (rec Record) Bin() uint16 {
	return binary.LittleEndian.Uint16(rec[binIndex : binIndex+2])
}

// CigarOpCount returns the number of cigar operations.
func (rec Record) CigarOpCount() int {
	return int(binary.LittleEndian.Uint16(rec[nCigarOpIndex : nCigarOpIndex+2]))
}

// Flag returns the flag bits.
func (rec Record) Flag() uint16 {
	return binary.LittleEndian.Uint16(rec[flagIndex : flagIndex+2])
}

// SeqLen returns the number of bases in the sequence.
func (rec Record) SeqLen() int {
	return int(int32(binary.LittleEndian.Uint32(rec[lSeqIndex : lSeqIndex+4])))
}

// NextRefID returns the reference index of the mate/next read, or -1.
func (rec Record) NextRefID() int32 {
	return int32(binary.LittleEndian.Uint32(rec[nextRefIDIndex : nextRefIDIndex+4]))
}

// NextPos returns the 0-based position of the mate/next read.
func (rec Record) NextPos() int32 {
	return int32(binary.LittleEndian.Uint32(rec[nextPosIndex : nextPosIndex+4]))
}

// TemplateLen returns the observed template length.
func (rec Record) TemplateLen() int32 {
	return int32(binary.LittleEndian.Uint32(rec[tlenIndex : tlenIndex+4]))
}

// HasFlag reports whether all bits of mask are set in the flag field.
func (rec Record) HasFlag(mask uint16) bool {
	return rec.Flag()&mask == mask
}

// A Layout holds the byte offsets of the variable-length regions of a
// record, derived once from the three length fields in the 32-byte
// core. All further region accessors take the layout as an explicit
// input, so that extracting several fields from the same record never
// re-derives the offsets.
type Layout struct {
	Name  int
	Cigar int
	Seq   int
	Qual  int
	Tags  int
}

// Layout computes the region offsets of the record and validates them
// against the record's total length. Offsets accumulate left to right:
// core(32), read name (including NUL), cigar (4 bytes per operation),
// sequence (4 bits per base, rounded up), quality (one byte per base),
// tags (remainder). Length fields that would run past the end of the
// record fail with ErrTruncatedRecord.
func (rec Record) Layout() (Layout, error) {
	if len(rec) < readNameIndex {
		return Layout{}, fmt.Errorf("%w: %d bytes left for the 32-byte core", ErrTruncatedRecord, len(rec))
	}
	lReadName := rec.ReadNameLen()
	if lReadName == 0 {
		return Layout{}, fmt.Errorf("%w: read name length 0 leaves no room for its terminator", ErrTruncatedRecord)
	}
	lSeq := rec.SeqLen()
	if lSeq < 0 {
		return Layout{}, fmt.Errorf("%w: negative sequence length %d", ErrTruncatedRecord, lSeq)
	}
	var l Layout
	l.Name = readNameIndex
	l.Cigar = l.Name + lReadName
	l.Seq = l.Cigar + 4*rec.CigarOpCount()
	l.Qual = l.Seq + (lSeq+1)/2
	l.Tags = l.Qual + lSeq
	if l.Tags > len(rec) {
		return Layout{}, fmt.Errorf("%w: regions end at byte %d in a %d-byte record", ErrTruncatedRecord, l.Tags, len(rec))
	}
	return l, nil
}

// ReadName returns the read name without its terminating NUL byte.
func (rec Record) ReadName(l Layout) []byte {
	return rec[l.Name : l.Cigar-1]
}

// RawCigar returns the cigar region, 4 bytes per operation.
func (rec Record) RawCigar(l Layout) []byte {
	return rec[l.Cigar:l.Seq]
}

// RawSeq returns the 4-bit packed sequence region.
func (rec Record) RawSeq(l Layout) []byte {
	return rec[l.Seq:l.Qual]
}

// RawQual returns the quality region, one byte per base.
func (rec Record) RawQual(l Layout) []byte {
	return rec[l.Qual:l.Tags]
}

// TagBytes returns the tag region, a sequence of type-length-value
// entries filling the remainder of the record.
func (rec Record) TagBytes(l Layout) []byte {
	return rec[l.Tags:]
}

var (
	seqBases = []byte("=ACMGRSVTWYHKDBN")
	cigarOps = []byte("MIDNSHP=X")
)

// DecodeSeq unpacks a raw 4-bit packed sequence region into its ASCII
// representation. seqLen is the record's sequence length field; the
// final half byte of an odd-length sequence is padding.
//
// This decoder and the two below are eager conveniences for display
// and debugging. Scanning code should keep operating on the raw
// regions.
func DecodeSeq(raw []byte, seqLen int) string {
	buf := make([]byte, 0, 2*len(raw))
	for _, b := range raw {
		buf = append(buf, seqBases[b>>4], seqBases[b&0xF])
	}
	if seqLen < len(buf) {
		buf = buf[:seqLen]
	}
	return string(buf)
}

// DecodeCigar renders a raw cigar region as SAM text, length digits
// followed by the operation code per operation. Operation codes the
// format does not define render as '?' rather than failing; this is a
// display helper and a malformed operation should not end a scan.
func DecodeCigar(raw []byte) string {
	buf := make([]byte, 0, 4*len(raw))
	for i := 0; i+4 <= len(raw); i += 4 {
		op := binary.LittleEndian.Uint32(raw[i : i+4])
		buf = strconv.AppendUint(buf, uint64(op>>4), 10)
		if c := op & 0xF; c < uint32(len(cigarOps)) {
			buf = append(buf, cigarOps[c])
		} else {
			buf = append(buf, '?')
		}
	}
	return string(buf)
}

// DecodeQual renders a raw quality region as phred+33 ASCII.
func DecodeQual(raw []byte) string {
	buf := make([]byte, len(raw))
	for i, q := range raw {
		buf[i] = q + 33
	}
	return string(buf)
}
