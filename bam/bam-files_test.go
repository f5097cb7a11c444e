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
	"encoding/binary"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/exascience/lazybam/utils/bgzf"
)

func testRecords(t *testing.T) []Record {
	t.Helper()
	return []Record{
		buildRecord(t, "read1", 0, 99, 60, Multiple|First,
			[]uint32{4 << 4}, "ACGT", []byte{30, 30, 30, 30},
			appendTag(nil, "AS", 'C', 100)),
		buildRecord(t, "read2", 1, 200, 0, Unmapped,
			nil, "", nil, nil),
	}
}

func writeStream(t *testing.T, hdr *Header, records []Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, -1)
	if err := w.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	for _, rec := range records {
		if err := w.WriteRecord(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func readStream(t *testing.T, stream []byte) (*Header, []Record) {
	t.Helper()
	r, err := NewReader(bytes.NewReader(stream))
	if err != nil {
		t.Fatal(err)
	}
	var records []Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, rec)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	return r.Header(), records
}

func TestReadWriteRoundTrip(t *testing.T) {
	records := testRecords(t)
	stream := writeStream(t, NewHeader(headerText, headerRefs), records)

	hdr, result := readStream(t, stream)
	if hdr.Text != headerText {
		t.Errorf("header text: got %q", hdr.Text)
	}
	if len(result) != len(records) {
		t.Fatalf("got %d records", len(result))
	}
	for i := range records {
		if !bytes.Equal(result[i], records[i]) {
			t.Errorf("record %d changed across the round trip", i)
		}
	}
	if hdr.RefName(result[0].RefID()) != "chr1" {
		t.Errorf("record 0 maps to %q", hdr.RefName(result[0].RefID()))
	}
	if result[0].Pos() != 99 {
		t.Errorf("record 0 position: got %d", result[0].Pos())
	}
}

// TestRewriteStream is the pass-through rewrite this package exists
// for: read a stream, stamp the header, and write the records back
// untouched.
func TestRewriteStream(t *testing.T) {
	records := testRecords(t)
	stream := writeStream(t, NewHeader(headerText, headerRefs), records)

	r, err := NewReader(bytes.NewReader(stream))
	if err != nil {
		t.Fatal(err)
	}
	hdr := r.Header()
	hdr.AddProgram(Program{ID: "rewrite", Name: "mytool"})

	var out bytes.Buffer
	w := NewWriter(&out, 1)
	if err := w.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if err := w.WriteRecord(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	hdr2, result := readStream(t, out.Bytes())
	if !strings.Contains(hdr2.Text, "@PG\tID:rewrite") {
		t.Errorf("rewritten header lost the @PG line: %q", hdr2.Text)
	}
	if !bytes.Equal(hdr2.refBytes, hdr.refBytes) {
		t.Error("rewriting changed the reference table bytes")
	}
	if len(result) != len(records) {
		t.Fatalf("got %d records", len(result))
	}
	for i := range records {
		if !bytes.Equal(result[i], records[i]) {
			t.Errorf("record %d changed across the rewrite", i)
		}
	}
}

func TestWriterStateErrors(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, -1)
	if err := w.WriteRecord(testRecords(t)[0]); err != ErrNoHeader {
		t.Errorf("record before header: got %v", err)
	}
	hdr := NewHeader(headerText, headerRefs)
	if err := w.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteHeader(hdr); err == nil {
		t.Error("second WriteHeader succeeded")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRecord(testRecords(t)[0]); err != ErrWriterClosed {
		t.Errorf("record after Close: got %v", err)
	}
	if err := w.Close(); err != ErrWriterClosed {
		t.Errorf("second Close: got %v", err)
	}
}

func TestReaderStateErrors(t *testing.T) {
	stream := writeStream(t, NewHeader(headerText, headerRefs), nil)
	r, err := NewReader(bytes.NewReader(stream))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read(); err != ErrReaderClosed {
		t.Errorf("Read after Close: got %v", err)
	}
	if err := r.Close(); err != ErrReaderClosed {
		t.Errorf("second Close: got %v", err)
	}
}

func TestOpenCreate(t *testing.T) {
	name := filepath.Join(t.TempDir(), "test.bam")
	records := testRecords(t)

	w, err := Create(name, -1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteHeader(NewHeader(headerText, headerRefs)); err != nil {
		t.Fatal(err)
	}
	for _, rec := range records {
		if err := w.WriteRecord(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(name)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rec, records[0]) {
		t.Error("record read from file differs")
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.bam")); err == nil {
		t.Error("opening a missing file succeeded")
	}
}

// rawStream compresses hand-built uncompressed BAM bytes, for streams
// a Writer refuses to produce.
func rawStream(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := bgzf.NewWriter(&buf, -1)
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadTruncatedPrefix(t *testing.T) {
	payload := NewHeader(headerText, headerRefs).Format(nil)
	payload = append(payload, 0x28, 0x00) // half a length prefix

	r, err := NewReader(bytes.NewReader(rawStream(t, payload)))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Read(); !errors.Is(err, ErrTruncatedRecord) {
		t.Errorf("got %v", err)
	}
}

func TestReadTruncatedBody(t *testing.T) {
	payload := NewHeader(headerText, headerRefs).Format(nil)
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], 40)
	payload = append(payload, prefix[:]...)
	payload = append(payload, make([]byte, 20)...) // 20 of the declared 40 bytes

	r, err := NewReader(bytes.NewReader(rawStream(t, payload)))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Read(); !errors.Is(err, ErrTruncatedRecord) {
		t.Errorf("got %v", err)
	}
}

func TestReadUndersizedRecord(t *testing.T) {
	payload := NewHeader(headerText, headerRefs).Format(nil)
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], 10) // smaller than the fixed core
	payload = append(payload, prefix[:]...)
	payload = append(payload, make([]byte, 10)...)

	r, err := NewReader(bytes.NewReader(rawStream(t, payload)))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Read(); !errors.Is(err, ErrTruncatedRecord) {
		t.Errorf("got %v", err)
	}
}
