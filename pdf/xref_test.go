// seehuhn.de/go/pdfunlock - remove restrictions from PDF files
// Copyright (C) 2025  Jochen Voss <voss@seehuhn.de>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeXRefStream(t *testing.T) {
	xref := map[uint32]*xRefEntry{
		3: {Pos: 1234},
	}
	data := []byte{
		0, 0x00, 0x00, 0xff,
		1, 0x00, 0x10, 0x00,
		2, 0x00, 0x05, 0x02,
		1, 0x00, 0x99, 0x00, // 3, already known
		7, 0x00, 0x00, 0x00, // unknown type
	}
	err := decodeXRefStream(xref, data, []int{1, 2, 1}, []xRefSubSection{{0, 5}})
	if err != nil {
		t.Fatal(err)
	}
	expected := map[uint32]*xRefEntry{
		0: {Pos: -1, Generation: 255},
		1: {Pos: 16},
		2: {InStream: NewReference(5, 0), Pos: 2},
		3: {Pos: 1234},
	}
	if d := cmp.Diff(expected, xref); d != "" {
		t.Error(d)
	}
}

func TestDecodeXRefStreamDefaultType(t *testing.T) {
	xref := map[uint32]*xRefEntry{}
	data := []byte{0x00, 0x20, 0x00, 0x00, 0x30, 0x01}
	err := decodeXRefStream(xref, data, []int{0, 2, 1}, []xRefSubSection{{7, 1}, {10, 1}})
	if err != nil {
		t.Fatal(err)
	}
	expected := map[uint32]*xRefEntry{
		7:  {Pos: 0x20},
		10: {Pos: 0x30, Generation: 1},
	}
	if d := cmp.Diff(expected, xref); d != "" {
		t.Error(d)
	}
}

func TestDecodeXRefStreamShort(t *testing.T) {
	xref := map[uint32]*xRefEntry{}
	data := []byte{1, 0, 0, 1, 0, 0}
	err := decodeXRefStream(xref, data, []int{1, 2, 0}, []xRefSubSection{{0, 3}})
	if !errors.Is(err, ErrBrokenXRef) {
		t.Errorf("expected ErrBrokenXRef, got %v", err)
	}
}

func TestCheckXRefStreamDict(t *testing.T) {
	cases := []struct {
		dict Dict
		ok   bool
		ss   []xRefSubSection
	}{
		{Dict{"Size": Integer(4), "W": Array{Integer(1), Integer(2), Integer(1)}},
			true, []xRefSubSection{{0, 4}}},
		{Dict{"Size": Integer(9), "W": Array{Integer(1), Integer(2), Integer(1)},
			"Index": Array{Integer(0), Integer(1), Integer(5), Integer(3)}},
			true, []xRefSubSection{{0, 1}, {5, 3}}},
		{Dict{"W": Array{Integer(1), Integer(2), Integer(1)}}, false, nil},
		{Dict{"Size": Integer(4), "W": Array{Integer(1), Integer(2)}}, false, nil},
		{Dict{"Size": Integer(4), "W": Array{Integer(1), Integer(9), Integer(1)}}, false, nil},
		{Dict{"Size": Integer(4), "W": Array{Integer(1), Integer(2), Integer(1)},
			"Index": Array{Integer(0)}}, false, nil},
	}
	for i, test := range cases {
		_, ss, err := checkXRefStreamDict(test.dict)
		if (err == nil) != test.ok {
			t.Errorf("%d: unexpected error %v", i, err)
			continue
		}
		if d := cmp.Diff(test.ss, ss); d != "" {
			t.Errorf("%d: %s", i, d)
		}
	}
}

func TestXRefStreamListsItself(t *testing.T) {
	data := writeTestDoc(t, V1_7, nil)
	xref, trailer, err := readXRef(data, nil)
	if err != nil {
		t.Fatal(err)
	}

	// 5 objects, followed by the xref stream
	entry := xref[6]
	if entry.IsFree() {
		t.Fatal("xref stream is missing from the table")
	}
	if !bytes.HasPrefix(data[entry.Pos:], []byte("6 0 obj")) {
		t.Errorf("wrong xref stream offset %d", entry.Pos)
	}
	if trailer["Size"] != Integer(7) {
		t.Errorf("wrong /Size %s", Format(trailer["Size"]))
	}
	if !xref[0].IsFree() {
		t.Error("object 0 is not free")
	}
}

func TestXRefTableFormat(t *testing.T) {
	data := writeTestDoc(t, V1_7, &WriterOptions{XRefTable: true})
	idx := bytes.LastIndex(data, []byte("xref\n0 6\n"))
	if idx < 0 {
		t.Fatal("xref table not found")
	}
	entries := data[idx+9:]
	if !bytes.HasPrefix(entries, []byte("0000000000 65535 f\r\n")) {
		t.Errorf("wrong first entry %q", entries[:20])
	}
	for i := 1; i < 6; i++ {
		line := entries[20*i : 20*i+20]
		var offs, gen int
		var tp byte
		_, err := fmt.Sscanf(string(line), "%d %d %c", &offs, &gen, &tp)
		if err != nil || tp != 'n' || gen != 0 {
			t.Errorf("wrong entry %q", line)
			continue
		}
		if !bytes.HasPrefix(data[offs:], fmt.Appendf(nil, "%d 0 obj", i)) {
			t.Errorf("entry %d points to the wrong place", i)
		}
	}
}

func TestBadPrev(t *testing.T) {
	data := buildPDF(simpleObjects, simpleTrailer+" /Prev 999999")
	_, _, err := readXRef(data, nil)
	if !errors.Is(err, ErrBrokenXRef) {
		t.Errorf("expected ErrBrokenXRef, got %v", err)
	}

	// the reader falls back to scanning the file
	doc, err := Open(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Repaired() {
		t.Error("file was not repaired")
	}
}
