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
	"strings"

	"github.com/google/uuid"

	"github.com/exascience/lazybam/utils"
)

// bamMagic is the magic string for the BAM format. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
const bamMagic = "BAM\x01"

// A Reference is one entry of the reference table of a BAM header.
type Reference struct {
	Name   string
	Length int32
}

// A Header holds the textual SAM header and the reference table of a
// BAM stream. The reference table bytes are kept verbatim as read from
// the stream: downstream index files depend on byte-for-byte stable
// reference ordering, so rewriting a header never re-encodes them.
// Only the text (and its length prefix) changes, through AddProgram.
type Header struct {
	Text     string
	Refs     []Reference
	refBytes []byte
	refIDs   map[string]int32
}

func readInt32(reader io.Reader, buf *[4]byte, field string) (int32, error) {
	if _, err := io.ReadFull(reader, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: reading %v", ErrTruncatedHeader, field)
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// ParseHeader parses the complete header section of an uncompressed
// BAM stream: magic, text length, header text, and the reference
// table. The raw reference table bytes are captured so that Format can
// reproduce them byte for byte. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
func ParseHeader(reader io.Reader) (*Header, error) {
	var buf [4]byte
	if _, err := io.ReadFull(reader, buf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading magic", ErrTruncatedHeader)
	}
	if string(buf[:]) != bamMagic {
		return nil, ErrBadMagic
	}
	lText, err := readInt32(reader, &buf, "text length")
	if err != nil {
		return nil, err
	}
	if lText < 0 {
		return nil, fmt.Errorf("%w: negative text length %d", ErrTruncatedHeader, lText)
	}
	text := make([]byte, lText)
	if _, err := io.ReadFull(reader, text); err != nil {
		return nil, fmt.Errorf("%w: reading %d bytes of header text", ErrTruncatedHeader, lText)
	}
	// Some writers pad the text with NUL bytes beyond the terminator.
	for i, b := range text {
		if b == 0 {
			text = text[:i]
			break
		}
	}

	hdr := &Header{
		Text:   string(text),
		refIDs: make(map[string]int32),
	}
	nRef, err := readInt32(reader, &buf, "reference count")
	if err != nil {
		return nil, err
	}
	if nRef < 0 {
		return nil, fmt.Errorf("%w: negative reference count %d", ErrTruncatedHeader, nRef)
	}
	hdr.refBytes = append(hdr.refBytes, buf[:]...)
	name := make([]byte, 0, 256)
	for i := int32(0); i < nRef; i++ {
		lName, err := readInt32(reader, &buf, "reference name length")
		if err != nil {
			return nil, err
		}
		hdr.refBytes = append(hdr.refBytes, buf[:]...)
		if lName < 1 {
			return nil, fmt.Errorf("%w: reference name length %d", ErrTruncatedHeader, lName)
		}
		for cap(name) < int(lName) {
			name = append(name[:cap(name)], 0)
		}
		name = name[:lName]
		if _, err := io.ReadFull(reader, name); err != nil {
			return nil, fmt.Errorf("%w: reading reference name", ErrTruncatedHeader)
		}
		hdr.refBytes = append(hdr.refBytes, name...)
		lRef, err := readInt32(reader, &buf, "reference length")
		if err != nil {
			return nil, err
		}
		hdr.refBytes = append(hdr.refBytes, buf[:]...)
		ref := Reference{
			Name:   *utils.Intern(string(name[:len(name)-1])),
			Length: lRef,
		}
		if _, ok := hdr.refIDs[ref.Name]; ok {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateRef, ref.Name)
		}
		hdr.refIDs[ref.Name] = i
		hdr.Refs = append(hdr.Refs, ref)
	}
	return hdr, nil
}

// NewHeader builds a header from text and a reference table, encoding
// the reference bytes the way ParseHeader would have captured them.
func NewHeader(text string, refs []Reference) *Header {
	hdr := &Header{
		Text:   text,
		Refs:   refs,
		refIDs: make(map[string]int32),
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(refs)))
	hdr.refBytes = append(hdr.refBytes, buf[:]...)
	for i, ref := range refs {
		binary.LittleEndian.PutUint32(buf[:], uint32(len(ref.Name)+1))
		hdr.refBytes = append(hdr.refBytes, buf[:]...)
		hdr.refBytes = append(hdr.refBytes, ref.Name...)
		hdr.refBytes = append(hdr.refBytes, 0)
		binary.LittleEndian.PutUint32(buf[:], uint32(ref.Length))
		hdr.refBytes = append(hdr.refBytes, buf[:]...)
		hdr.refIDs[ref.Name] = int32(i)
	}
	return hdr
}

// RefByName returns the index of the named reference.
func (hdr *Header) RefByName(name string) (int32, bool) {
	id, ok := hdr.refIDs[name]
	return id, ok
}

// RefName returns the name of the reference with the given index, or
// "*" for indices outside the table (-1 marks an unmapped record).
func (hdr *Header) RefName(id int32) string {
	if id < 0 || int(id) >= len(hdr.Refs) {
		return "*"
	}
	return hdr.Refs[id].Name
}

// A Program describes one invocation of a tool for the @PG chain of a
// header. An empty ID gets a freshly generated uuid. PriorID overrides
// the computed predecessor in the @PG chain; when empty, the chain
// tail of the current header text is used. All fields are recorded as
// given; the header is free text by format definition, so no field is
// validated or rewritten.
type Program struct {
	ID          string
	Name        string
	Version     string
	CommandLine string
	Description string
	PriorID     string
}

// lastProgramID returns the ID of the @PG record that no other record
// names as its predecessor, or "" when the text has no @PG records.
func (hdr *Header) lastProgramID() string {
	var ids []string
	prior := make(map[string]bool)
	for _, line := range strings.Split(hdr.Text, "\n") {
		if !strings.HasPrefix(line, "@PG") {
			continue
		}
		for _, field := range strings.Split(line, "\t") {
			if strings.HasPrefix(field, "ID:") {
				ids = append(ids, field[3:])
			} else if strings.HasPrefix(field, "PP:") {
				prior[field[3:]] = true
			}
		}
	}
	for _, id := range ids {
		if !prior[id] {
			return id
		}
	}
	return ""
}

// AddProgram appends one @PG line describing the given program to the
// header text and returns the ID it recorded. The reference table is
// left untouched. Uniqueness of a caller-supplied ID is the caller's
// responsibility.
func (hdr *Header) AddProgram(pg Program) string {
	id := pg.ID
	if id == "" {
		id = uuid.New().String()
	}
	var line strings.Builder
	line.WriteString("@PG\tID:")
	line.WriteString(id)
	if pg.Name != "" {
		line.WriteString("\tPN:")
		line.WriteString(pg.Name)
	}
	if pg.Version != "" {
		line.WriteString("\tVN:")
		line.WriteString(pg.Version)
	}
	if pg.CommandLine != "" {
		line.WriteString("\tCL:")
		line.WriteString(pg.CommandLine)
	}
	if pg.Description != "" {
		line.WriteString("\tDS:")
		line.WriteString(pg.Description)
	}
	prior := pg.PriorID
	if prior == "" {
		prior = hdr.lastProgramID()
	}
	if prior != "" {
		line.WriteString("\tPP:")
		line.WriteString(prior)
	}
	if hdr.Text != "" && !strings.HasSuffix(hdr.Text, "\n") {
		hdr.Text += "\n"
	}
	hdr.Text += line.String() + "\n"
	return id
}

// Format appends the encoded header section to out and returns the
// result: magic, the recomputed text length prefix, the text, and the
// captured reference table bytes unchanged.
func (hdr *Header) Format(out []byte) []byte {
	out = append(out, bamMagic...)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(hdr.Text)))
	out = append(out, buf[:]...)
	out = append(out, hdr.Text...)
	out = append(out, hdr.refBytes...)
	return out
}
