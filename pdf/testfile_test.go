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
	"fmt"
	"testing"
)

const testContent = "BT /F1 12 Tf 72 720 Td (Hello World) Tj ET"

// writeTestDoc writes a one-page document using a [Writer].  The page
// content is flate-compressed, the /Info dictionary has a /Title.
func writeTestDoc(t *testing.T, ver Version, opt *WriterOptions) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	w, err := NewWriter(buf, ver, opt)
	if err != nil {
		t.Fatal(err)
	}

	catalogRef := w.Alloc()
	pagesRef := w.Alloc()
	pageRef := w.Alloc()
	contentRef := w.Alloc()
	infoRef := w.Alloc()

	compressed, err := FlateEncode([]byte(testContent))
	if err != nil {
		t.Fatal(err)
	}
	objects := []struct {
		ref Reference
		obj Object
	}{
		{catalogRef, Dict{"Type": Name("Catalog"), "Pages": pagesRef}},
		{pagesRef, Dict{
			"Type":     Name("Pages"),
			"Kids":     Array{pageRef},
			"Count":    Integer(1),
			"MediaBox": Array{Integer(0), Integer(0), Integer(612), Integer(792)},
		}},
		{pageRef, Dict{
			"Type":     Name("Page"),
			"Parent":   pagesRef,
			"Contents": contentRef,
		}},
		{contentRef, &Stream{
			Dict: Dict{"Filter": Name("FlateDecode")},
			Raw:  compressed,
		}},
		{infoRef, Dict{"Title": String("Test Document")}},
	}
	for _, o := range objects {
		err = w.Put(o.ref, o.obj)
		if err != nil {
			t.Fatal(err)
		}
	}

	err = w.Close(Dict{"Root": catalogRef, "Info": infoRef})
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// buildPDF assembles a PDF file with a classic cross-reference table.
// objs[i] is the body of object i+1; empty strings give free entries.
// The trailer string is inserted into the trailer dictionary.
func buildPDF(objs []string, trailer string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n%\x80\x80\x80\x80\n")
	offs := make([]int, len(objs))
	for i, body := range objs {
		if body == "" {
			offs[i] = -1
			continue
		}
		offs[i] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xrefPos := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, o := range offs {
		if o < 0 {
			buf.WriteString("0000000000 00001 f \n")
		} else {
			fmt.Fprintf(buf, "%010d 00000 n \n", o)
		}
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n",
		len(objs)+1, trailer, xrefPos)
	return buf.Bytes()
}

// simpleObjects are the bodies of a minimal document for [buildPDF].
var simpleObjects = []string{
	"<< /Type /Catalog /Pages 2 0 R >>",
	"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
	"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] >>",
	"<< /Title (Simple) >>",
}

const simpleTrailer = "/Root 1 0 R /Info 4 0 R"
