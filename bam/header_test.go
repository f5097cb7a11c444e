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
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
)

const headerText = "@HD\tVN:1.6\tSO:coordinate\n@SQ\tSN:chr1\tLN:1000\n@SQ\tSN:chr2\tLN:500\n"

var headerRefs = []Reference{
	{Name: "chr1", Length: 1000},
	{Name: "chr2", Length: 500},
}

func TestHeaderRoundTrip(t *testing.T) {
	encoded := NewHeader(headerText, headerRefs).Format(nil)
	hdr, err := ParseHeader(bytes.NewReader(encoded))
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Text != headerText {
		t.Errorf("text: got %q", hdr.Text)
	}
	if !reflect.DeepEqual(hdr.Refs, headerRefs) {
		t.Errorf("references: got %v", hdr.Refs)
	}
	if id, ok := hdr.RefByName("chr2"); !ok || id != 1 {
		t.Errorf("RefByName(chr2): got %d, %v", id, ok)
	}
	if _, ok := hdr.RefByName("chrM"); ok {
		t.Error("RefByName(chrM) found a reference")
	}
	if hdr.RefName(0) != "chr1" {
		t.Errorf("RefName(0): got %q", hdr.RefName(0))
	}
	if hdr.RefName(-1) != "*" || hdr.RefName(2) != "*" {
		t.Error("out-of-range reference index did not map to *")
	}
	if !bytes.Equal(hdr.Format(nil), encoded) {
		t.Error("reformatting a parsed header changed its bytes")
	}
}

func TestParseHeaderPaddedText(t *testing.T) {
	padded := headerText + "\x00\x00\x00"
	encoded := NewHeader(padded, headerRefs).Format(nil)
	hdr, err := ParseHeader(bytes.NewReader(encoded))
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Text != headerText {
		t.Errorf("NUL padding survived: got %q", hdr.Text)
	}
}

func TestParseHeaderBadMagic(t *testing.T) {
	encoded := NewHeader(headerText, headerRefs).Format(nil)
	encoded[0] = 'S'
	if _, err := ParseHeader(bytes.NewReader(encoded)); err != ErrBadMagic {
		t.Errorf("got %v", err)
	}
}

func TestParseHeaderTruncated(t *testing.T) {
	encoded := NewHeader(headerText, headerRefs).Format(nil)
	for _, cut := range []int{0, 2, 4, 6, 8 + len(headerText)/2, len(encoded) - 2} {
		_, err := ParseHeader(bytes.NewReader(encoded[:cut]))
		if !errors.Is(err, ErrTruncatedHeader) {
			t.Errorf("cut at %d: got %v", cut, err)
		}
	}
}

func TestParseHeaderDuplicateRef(t *testing.T) {
	refs := []Reference{{Name: "chr1", Length: 1000}, {Name: "chr1", Length: 500}}
	encoded := NewHeader(headerText, refs).Format(nil)
	if _, err := ParseHeader(bytes.NewReader(encoded)); !errors.Is(err, ErrDuplicateRef) {
		t.Errorf("got %v", err)
	}
}

func TestAddProgram(t *testing.T) {
	hdr := NewHeader("@HD\tVN:1.6\n@PG\tID:bwa\tPN:bwa\n", headerRefs)
	refsBefore := append([]byte(nil), hdr.refBytes...)

	id := hdr.AddProgram(Program{
		ID:          "mytool",
		Name:        "mytool",
		Version:     "1.0",
		CommandLine: "mytool run",
	})
	if id != "mytool" {
		t.Errorf("returned ID %q", id)
	}
	want := "@PG\tID:mytool\tPN:mytool\tVN:1.0\tCL:mytool run\tPP:bwa\n"
	if !strings.HasSuffix(hdr.Text, want) {
		t.Errorf("text ends with %q", hdr.Text)
	}
	if !bytes.Equal(hdr.refBytes, refsBefore) {
		t.Error("AddProgram touched the reference table bytes")
	}

	// The next addition chains onto the record just added, not onto the
	// original tail.
	hdr.AddProgram(Program{ID: "second"})
	if !strings.HasSuffix(hdr.Text, "@PG\tID:second\tPP:mytool\n") {
		t.Errorf("second chain entry wrong: %q", hdr.Text)
	}
}

func TestAddProgramGeneratedID(t *testing.T) {
	hdr := NewHeader("", nil)
	id := hdr.AddProgram(Program{Name: "mytool"})
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("generated ID %q is not a uuid: %v", id, err)
	}
	if !strings.Contains(hdr.Text, "ID:"+id) {
		t.Errorf("generated ID missing from text %q", hdr.Text)
	}
	// No @PG record existed, so no PP field is recorded.
	if strings.Contains(hdr.Text, "PP:") {
		t.Errorf("unexpected predecessor in %q", hdr.Text)
	}
}

func TestAddProgramExplicitPrior(t *testing.T) {
	hdr := NewHeader("@PG\tID:bwa\n@PG\tID:sort\tPP:bwa\n", nil)
	hdr.AddProgram(Program{ID: "branch", PriorID: "bwa"})
	if !strings.HasSuffix(hdr.Text, "@PG\tID:branch\tPP:bwa\n") {
		t.Errorf("explicit predecessor ignored: %q", hdr.Text)
	}
}
