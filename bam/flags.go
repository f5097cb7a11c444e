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

// Flag bits in a BAM alignment record. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 1.4.2.
const (
	Multiple      = 0x1
	Proper        = 0x2
	Unmapped      = 0x4
	NextUnmapped  = 0x8
	Reversed      = 0x10
	NextReversed  = 0x20
	First         = 0x40
	Last          = 0x80
	Secondary     = 0x100
	QCFailed      = 0x200
	Duplicate     = 0x400
	Supplementary = 0x800
)

// FlagNames maps symbolic flag names to their bitmask values. The map
// is read-only after initialization.
var FlagNames = map[string]uint16{
	"paired":        Multiple,
	"aligned":       Proper,
	"unmapped":      Unmapped,
	"pair_unmapped": NextUnmapped,
	"reversed":      Reversed,
	"pair_reversed": NextReversed,
	"forward":       First,
	"reverse":       Last,
	"secondary":     Secondary,
	"qc_fail":       QCFailed,
	"duplicate":     Duplicate,
	"supplementary": Supplementary,
}
