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
	"errors"
	"fmt"
)

var (
	// ErrBadMagic is returned when a stream does not start with the
	// "BAM\1" magic. The stream is unusable.
	ErrBadMagic = errors.New("invalid BAM magic")

	// ErrTruncatedHeader is returned when the header section ends
	// before a length field is satisfied.
	ErrTruncatedHeader = errors.New("truncated BAM header")

	// ErrTruncatedRecord is returned when a record's length fields
	// demand more bytes than the stream or the record provides.
	ErrTruncatedRecord = errors.New("truncated BAM record")

	// ErrDuplicateRef is returned when the reference table declares
	// the same name twice, which makes name/index lookups ambiguous.
	ErrDuplicateRef = errors.New("duplicate reference name in BAM header")

	// ErrReaderClosed is returned when reading from a closed Reader.
	ErrReaderClosed = errors.New("read on a closed BAM reader")

	// ErrWriterClosed is returned when writing to a closed Writer.
	ErrWriterClosed = errors.New("write on a closed BAM writer")

	// ErrNoHeader is returned when a record is written before the
	// header section.
	ErrNoHeader = errors.New("BAM record written before the header")
)

// An AmbiguousTagError reports a tag region that contains more than
// one entry with the same name. The format assumes tag names are
// unique per record but does not enforce it, so a lookup cannot pick
// either value silently.
type AmbiguousTagError struct {
	Tag string
}

func (e *AmbiguousTagError) Error() string {
	return fmt.Sprintf("more than one %v tag in a BAM alignment record", e.Tag)
}

// A BadTagTypeError reports a tag entry whose type code is not defined
// by the format, or a typed lookup that met a value of another type.
type BadTagTypeError struct {
	Tag  string
	Type byte
}

func (e *BadTagTypeError) Error() string {
	return fmt.Sprintf("invalid type %q for tag %v in a BAM alignment record", e.Type, e.Tag)
}
