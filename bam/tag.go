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
	"math"

	"github.com/bits-and-blooms/bitset"
)

// A ByteArray is the decoded value of an H (hex string) tag.
type ByteArray []byte

// tagFieldParser is the signature for all parsers for typed tag values
// in alignment records. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.4.
type tagFieldParser func(tags []byte, index int) (value interface{}, newIndex int, err error)

func parseTagChar(tags []byte, index int) (interface{}, int, error) {
	if index+1 > len(tags) {
		return nil, 0, fmt.Errorf("%w: A tag value missing", ErrTruncatedRecord)
	}
	return tags[index], index + 1, nil
}

func parseTagI8(tags []byte, index int) (interface{}, int, error) {
	if index+1 > len(tags) {
		return nil, 0, fmt.Errorf("%w: c tag value missing", ErrTruncatedRecord)
	}
	return int64(int8(tags[index])), index + 1, nil
}

func parseTagU8(tags []byte, index int) (interface{}, int, error) {
	if index+1 > len(tags) {
		return nil, 0, fmt.Errorf("%w: C tag value missing", ErrTruncatedRecord)
	}
	return int64(tags[index]), index + 1, nil
}

func parseTagI16(tags []byte, index int) (interface{}, int, error) {
	if index+2 > len(tags) {
		return nil, 0, fmt.Errorf("%w: s tag value missing", ErrTruncatedRecord)
	}
	return int64(int16(binary.LittleEndian.Uint16(tags[index : index+2]))), index + 2, nil
}

func parseTagU16(tags []byte, index int) (interface{}, int, error) {
	if index+2 > len(tags) {
		return nil, 0, fmt.Errorf("%w: S tag value missing", ErrTruncatedRecord)
	}
	return int64(binary.LittleEndian.Uint16(tags[index : index+2])), index + 2, nil
}

func parseTagI32(tags []byte, index int) (interface{}, int, error) {
	if index+4 > len(tags) {
		return nil, 0, fmt.Errorf("%w: i tag value missing", ErrTruncatedRecord)
	}
	return int64(int32(binary.LittleEndian.Uint32(tags[index : index+4]))), index + 4, nil
}

func parseTagU32(tags []byte, index int) (interface{}, int, error) {
	if index+4 > len(tags) {
		return nil, 0, fmt.Errorf("%w: I tag value missing", ErrTruncatedRecord)
	}
	return int64(binary.LittleEndian.Uint32(tags[index : index+4])), index + 4, nil
}

func parseTagFloat(tags []byte, index int) (interface{}, int, error) {
	if index+4 > len(tags) {
		return nil, 0, fmt.Errorf("%w: f tag value missing", ErrTruncatedRecord)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(tags[index : index+4])), index + 4, nil
}

func parseTagString(tags []byte, index int) (interface{}, int, error) {
	for end := index; end < len(tags); end++ {
		if tags[end] == 0 {
			return string(tags[index:end]), end + 1, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: missing NUL byte in a Z tag value", ErrTruncatedRecord)
}

func parseTagByteArray(tags []byte, index int) (interface{}, int, error) {
	for end := index; end < len(tags); end++ {
		if tags[end] == 0 {
			if (end-index)&1 != 0 {
				return nil, 0, fmt.Errorf("%w: odd number of digits in an H tag value", ErrTruncatedRecord)
			}
			result := ByteArray(make([]byte, 0, (end-index)>>1))
			for i := index; i < end; i += 2 {
				hi, ok1 := hexDigit(tags[i])
				lo, ok2 := hexDigit(tags[i+1])
				if !ok1 || !ok2 {
					return nil, 0, fmt.Errorf("%w: invalid digit in an H tag value", ErrTruncatedRecord)
				}
				result = append(result, hi<<4|lo)
			}
			return result, end + 1, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: missing NUL byte in an H tag value", ErrTruncatedRecord)
}

func hexDigit(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	default:
		return 0, false
	}
}

// tagElementSizes gives the element width for each B array subtype.
var tagElementSizes = map[byte]int{'c': 1, 'C': 1, 's': 2, 'S': 2, 'i': 4, 'I': 4, 'f': 4}

func parseTagNumericArray(tags []byte, index int) (interface{}, int, error) {
	if index+5 > len(tags) {
		return nil, 0, fmt.Errorf("%w: B tag header missing", ErrTruncatedRecord)
	}
	ntype := tags[index]
	index++
	count := int(int32(binary.LittleEndian.Uint32(tags[index : index+4])))
	index += 4
	size, ok := tagElementSizes[ntype]
	if !ok {
		return nil, 0, &BadTagTypeError{Tag: "B", Type: ntype}
	}
	if count < 0 || index+count*size > len(tags) {
		return nil, 0, fmt.Errorf("%w: B tag array of %d %q elements overruns the tag region", ErrTruncatedRecord, count, ntype)
	}
	switch ntype {
	case 'c':
		result := make([]int8, count)
		for i := 0; i < count; i++ {
			result[i] = int8(tags[index+i])
		}
		return result, index + count, nil
	case 'C':
		result := make([]uint8, count)
		copy(result, tags[index:index+count])
		return result, index + count, nil
	case 's':
		result := make([]int16, count)
		for i, j := 0, 0; i < count; i, j = i+1, j+2 {
			result[i] = int16(binary.LittleEndian.Uint16(tags[index+j : index+j+2]))
		}
		return result, index + (count << 1), nil
	case 'S':
		result := make([]uint16, count)
		for i, j := 0, 0; i < count; i, j = i+1, j+2 {
			result[i] = binary.LittleEndian.Uint16(tags[index+j : index+j+2])
		}
		return result, index + (count << 1), nil
	case 'i':
		result := make([]int32, count)
		for i, j := 0, 0; i < count; i, j = i+1, j+4 {
			result[i] = int32(binary.LittleEndian.Uint32(tags[index+j : index+j+4]))
		}
		return result, index + (count << 2), nil
	case 'I':
		result := make([]uint32, count)
		for i, j := 0, 0; i < count; i, j = i+1, j+4 {
			result[i] = binary.LittleEndian.Uint32(tags[index+j : index+j+4])
		}
		return result, index + (count << 2), nil
	default: // 'f'
		result := make([]float32, count)
		for i, j := 0, 0; i < count; i, j = i+1, j+4 {
			result[i] = math.Float32frombits(binary.LittleEndian.Uint32(tags[index+j : index+j+4]))
		}
		return result, index + (count << 2), nil
	}
}

var tagFieldParsers = map[byte]tagFieldParser{
	'A': parseTagChar,
	'c': parseTagI8,
	'C': parseTagU8,
	's': parseTagI16,
	'S': parseTagU16,
	'i': parseTagI32,
	'I': parseTagU32,
	'f': parseTagFloat,
	'Z': parseTagString,
	'H': parseTagByteArray,
	'B': parseTagNumericArray,
}

// tagFieldSizes gives the fixed payload width of scalar tag types; 0
// marks the self-describing types (Z, H, B).
var tagFieldSizes = map[byte]int{
	'A': 1, 'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4, 'f': 4,
}

// skipTagValue advances index past one tag value without decoding it.
func skipTagValue(tags []byte, tag string, code byte, index int) (int, error) {
	if size, ok := tagFieldSizes[code]; ok {
		if index+size > len(tags) {
			return 0, fmt.Errorf("%w: %v tag value missing", ErrTruncatedRecord, tag)
		}
		return index + size, nil
	}
	switch code {
	case 'Z', 'H':
		for end := index; end < len(tags); end++ {
			if tags[end] == 0 {
				return end + 1, nil
			}
		}
		return 0, fmt.Errorf("%w: missing NUL byte in a %v tag value", ErrTruncatedRecord, tag)
	case 'B':
		if index+5 > len(tags) {
			return 0, fmt.Errorf("%w: B tag header missing", ErrTruncatedRecord)
		}
		size, ok := tagElementSizes[tags[index]]
		if !ok {
			return 0, &BadTagTypeError{Tag: tag, Type: tags[index]}
		}
		count := int(int32(binary.LittleEndian.Uint32(tags[index+1 : index+5])))
		next := index + 5 + count*size
		if count < 0 || next > len(tags) {
			return 0, fmt.Errorf("%w: B tag array overruns the tag region", ErrTruncatedRecord)
		}
		return next, nil
	default:
		return 0, &BadTagTypeError{Tag: tag, Type: code}
	}
}

// GetTag scans a tag region for the entry with the given two-character
// name and returns its decoded value. Entries with other names are
// skipped without decoding. An absent tag is not an error; found
// reports whether the tag was present. A second entry with the same
// name fails with AmbiguousTagError, so the scan always runs to the
// end of the region.
//
// Integer types (c, C, s, S, i, I) decode to int64, f to float32, A to
// byte, Z to string, H to ByteArray, and B to a slice of its element
// type.
func GetTag(tags []byte, name string) (value interface{}, found bool, err error) {
	if len(name) != 2 {
		return nil, false, fmt.Errorf("tag name %q is not two characters", name)
	}
	for index := 0; index < len(tags); {
		if index+3 > len(tags) {
			return nil, false, fmt.Errorf("%w: incomplete tag header at byte %d of the tag region", ErrTruncatedRecord, index)
		}
		tag := tags[index : index+2]
		code := tags[index+2]
		index += 3
		if tag[0] == name[0] && tag[1] == name[1] {
			if found {
				return nil, false, &AmbiguousTagError{Tag: name}
			}
			parser, ok := tagFieldParsers[code]
			if !ok {
				return nil, false, &BadTagTypeError{Tag: name, Type: code}
			}
			if value, index, err = parser(tags, index); err != nil {
				return nil, false, err
			}
			found = true
		} else {
			if index, err = skipTagValue(tags, string(tag), code, index); err != nil {
				return nil, false, err
			}
		}
	}
	return value, found, nil
}

// GetIntTag returns the value of an integer tag, or def when the tag
// is absent. A tag with a non-integer type fails with
// BadTagTypeError.
func GetIntTag(tags []byte, name string, def int64) (int64, error) {
	value, found, err := GetTag(tags, name)
	if err != nil {
		return def, err
	}
	if !found {
		return def, nil
	}
	i, ok := value.(int64)
	if !ok {
		return def, &BadTagTypeError{Tag: name, Type: tagTypeOf(value)}
	}
	return i, nil
}

// GetStringTag returns the value of a Z tag, or def when the tag is
// absent.
func GetStringTag(tags []byte, name string, def string) (string, error) {
	value, found, err := GetTag(tags, name)
	if err != nil {
		return def, err
	}
	if !found {
		return def, nil
	}
	s, ok := value.(string)
	if !ok {
		return def, &BadTagTypeError{Tag: name, Type: tagTypeOf(value)}
	}
	return s, nil
}

// GetFloatTag returns the value of an f tag, or def when the tag is
// absent.
func GetFloatTag(tags []byte, name string, def float32) (float32, error) {
	value, found, err := GetTag(tags, name)
	if err != nil {
		return def, err
	}
	if !found {
		return def, nil
	}
	f, ok := value.(float32)
	if !ok {
		return def, &BadTagTypeError{Tag: name, Type: tagTypeOf(value)}
	}
	return f, nil
}

// tagTypeOf maps a decoded value back to a type code for error
// reporting.
func tagTypeOf(value interface{}) byte {
	switch value.(type) {
	case byte:
		return 'A'
	case int64:
		return 'i'
	case float32:
		return 'f'
	case string:
		return 'Z'
	case ByteArray:
		return 'H'
	default:
		return 'B'
	}
}

// A TagEntry is one decoded entry of a tag region.
type TagEntry struct {
	Tag   string
	Type  byte
	Value interface{}
}

// ScanTags decodes every entry of a tag region in order. A duplicate
// tag name fails with AmbiguousTagError; duplicates are tracked in a
// bitset over the 16-bit tag name space.
//
// This decodes the whole region eagerly and is meant for inspection
// and reporting; record scans that need a single value should use
// GetTag.
func ScanTags(tags []byte) ([]TagEntry, error) {
	var entries []TagEntry
	seen := bitset.New(1 << 16)
	for index := 0; index < len(tags); {
		if index+3 > len(tags) {
			return nil, fmt.Errorf("%w: incomplete tag header at byte %d of the tag region", ErrTruncatedRecord, index)
		}
		tag := string(tags[index : index+2])
		code := tags[index+2]
		index += 3
		key := uint(tags[index-3])<<8 | uint(tags[index-2])
		if seen.Test(key) {
			return nil, &AmbiguousTagError{Tag: tag}
		}
		seen.Set(key)
		parser, ok := tagFieldParsers[code]
		if !ok {
			return nil, &BadTagTypeError{Tag: tag, Type: code}
		}
		value, newIndex, err := parser(tags, index)
		if err != nil {
			return nil, err
		}
		entries = append(entries, TagEntry{Tag: tag, Type: code, Value: value})
		index = newIndex
	}
	return entries, nil
}
