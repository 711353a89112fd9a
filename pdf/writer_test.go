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
	"io"
	"testing"
)

func TestWriterAlloc(t *testing.T) {
	w, err := NewWriter(io.Discard, V1_7, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := uint32(1); i <= 3; i++ {
		ref := w.Alloc()
		if ref != NewReference(i, 0) {
			t.Errorf("got %s, want %d", ref, i)
		}
	}
}

func TestWriterErrors(t *testing.T) {
	w, err := NewWriter(io.Discard, V1_7, nil)
	if err != nil {
		t.Fatal(err)
	}
	ref := w.Alloc()

	if err := w.Put(NewReference(5, 0), Integer(1)); err == nil {
		t.Error("unallocated reference accepted")
	}
	if err := w.Put(ref, Dict{"Type": Name("Catalog")}); err != nil {
		t.Fatal(err)
	}
	if err := w.Put(ref, Integer(2)); err == nil {
		t.Error("duplicate object accepted")
	}
	if err := w.Close(Dict{}); err == nil {
		t.Error("missing /Root accepted")
	}
	if err := w.Close(Dict{"Root": ref}); err != nil {
		t.Fatal(err)
	}
	if err := w.Put(w.Alloc(), Integer(3)); err == nil {
		t.Error("write after close accepted")
	}

	if _, err := NewWriter(io.Discard, Version(0), nil); err == nil {
		t.Error("invalid version accepted")
	}
}

func TestWriterID(t *testing.T) {
	id := []byte("0123456789abcdef")
	a := writeTestDoc(t, V1_7, &WriterOptions{ID: id})
	b := writeTestDoc(t, V1_4, &WriterOptions{ID: id})

	docA, err := Open(a, nil)
	if err != nil {
		t.Fatal(err)
	}
	docB, err := Open(b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(docA.ID[0], id) || !bytes.Equal(docB.ID[0], id) {
		t.Errorf("wrong permanent IDs %x %x", docA.ID[0], docB.ID[0])
	}
	if bytes.Equal(docA.ID[1], docB.ID[1]) {
		t.Error("changing ID is the same for different files")
	}

	// the output is deterministic
	c := writeTestDoc(t, V1_7, &WriterOptions{ID: id})
	if !bytes.Equal(a, c) {
		t.Error("output is not deterministic")
	}
}

func TestWriterHeader(t *testing.T) {
	data := writeTestDoc(t, V1_4, nil)
	if !bytes.HasPrefix(data, []byte("%PDF-1.4\n%\x80\x80\x80\x80\n")) {
		t.Errorf("wrong header %q", data[:16])
	}
	if !bytes.HasSuffix(data, []byte("%%EOF\n")) {
		t.Error("missing end-of-file marker")
	}
	if bytes.Contains(data, []byte("/Type /XRef")) {
		t.Error("xref stream used for PDF 1.4")
	}
}

func TestWriterFreeObject(t *testing.T) {
	buf := &bytes.Buffer{}
	w, err := NewWriter(buf, V1_7, &WriterOptions{XRefTable: true})
	if err != nil {
		t.Fatal(err)
	}
	catalog := w.Alloc()
	unused := w.Alloc()
	err = w.Put(unused, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = w.Put(catalog, Dict{"Type": Name("Catalog"), "Extra": unused})
	if err != nil {
		t.Fatal(err)
	}
	err = w.Close(Dict{"Root": catalog})
	if err != nil {
		t.Fatal(err)
	}

	doc, err := Open(buf.Bytes(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !doc.xref[unused.Number()].IsFree() {
		t.Error("object is not marked as free")
	}
	obj, err := doc.Get(unused)
	if obj != nil || err != nil {
		t.Errorf("got %s, %v", Format(obj), err)
	}
}

func TestWriterEncryptKeepsInput(t *testing.T) {
	buf := &bytes.Buffer{}
	w, err := NewWriter(buf, V1_7, &WriterOptions{Encryption: EncryptAES_128})
	if err != nil {
		t.Fatal(err)
	}
	catalog := w.Alloc()
	title := String("plain")
	dict := Dict{"Type": Name("Catalog"), "Title": title, "Arr": Array{title}}
	err = w.Put(catalog, dict)
	if err != nil {
		t.Fatal(err)
	}
	err = w.Close(Dict{"Root": catalog})
	if err != nil {
		t.Fatal(err)
	}

	if string(dict["Title"].(String)) != "plain" || string(dict["Arr"].(Array)[0].(String)) != "plain" {
		t.Error("input object was modified")
	}
	if bytes.Contains(buf.Bytes(), []byte("plain")) {
		t.Error("string was not encrypted")
	}

	doc, err := Open(buf.Bytes(), nil)
	if err != nil {
		t.Fatal(err)
	}
	cat, err := doc.Catalog()
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := cat["Title"].(String); string(s) != "plain" {
		t.Errorf("wrong title %q", s)
	}
	if len(doc.ID) != 2 || len(doc.ID[0]) != 16 {
		t.Errorf("wrong ID %x", doc.ID)
	}
}
