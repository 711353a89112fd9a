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
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestRoundTrip(t *testing.T) {
	for _, ver := range []Version{V1_4, V1_7, V2_0} {
		for _, table := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s-%t", ver, table), func(t *testing.T) {
				data := writeTestDoc(t, ver, &WriterOptions{XRefTable: table})
				doc, err := Open(data, nil)
				if err != nil {
					t.Fatal(err)
				}
				if doc.Version != ver {
					t.Errorf("wrong version %s", doc.Version)
				}
				if len(doc.ID) != 2 {
					t.Errorf("wrong ID %x", doc.ID)
				}
				if doc.Repaired() {
					t.Error("file was repaired")
				}
				if w := doc.Warnings(); len(w) > 0 {
					t.Errorf("unexpected warnings %v", w)
				}

				catalog, err := doc.Catalog()
				if err != nil {
					t.Fatal(err)
				}
				if catalog["Type"] != Name("Catalog") {
					t.Errorf("wrong catalog %s", Format(catalog))
				}
				pages, err := GetDict(doc, catalog["Pages"])
				if err != nil {
					t.Fatal(err)
				}
				kids, err := GetArray(doc, pages["Kids"])
				if err != nil || len(kids) != 1 {
					t.Fatalf("wrong /Kids %s (%v)", Format(kids), err)
				}
				page, err := GetDict(doc, kids[0])
				if err != nil {
					t.Fatal(err)
				}
				stm, err := GetStream(doc, page["Contents"])
				if err != nil {
					t.Fatal(err)
				}
				content, err := doc.DecodeStream(stm)
				if err != nil {
					t.Fatal(err)
				}
				if string(content) != testContent {
					t.Errorf("wrong content %q", content)
				}

				info, err := GetDict(doc, doc.Trailer()["Info"])
				if err != nil {
					t.Fatal(err)
				}
				if title, _ := info["Title"].(String); string(title) != "Test Document" {
					t.Errorf("wrong title %q", title)
				}
			})
		}
	}
}

func TestDanglingReference(t *testing.T) {
	objs := append([]string{}, simpleObjects...)
	objs = append(objs, "")
	data := buildPDF(objs, simpleTrailer)

	doc, err := Open(data, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, ref := range []Reference{
		NewReference(5, 0),  // free
		NewReference(99, 0), // missing
		NewReference(1, 3),  // wrong generation
	} {
		obj, err := doc.Get(ref)
		if err != nil || obj != nil {
			t.Errorf("%s: got %s, %v", ref, Format(obj), err)
		}
	}

	count := 0
	for _, w := range doc.Warnings() {
		if errors.Is(w.Err, ErrDanglingReference) {
			count++
		}
	}
	if count != 3 {
		t.Errorf("expected 3 dangling references, got %d", count)
	}
}

func TestIncrementalUpdate(t *testing.T) {
	base := buildPDF(simpleObjects, simpleTrailer)
	oldXRef, err := findXRef(base)
	if err != nil {
		t.Fatal(err)
	}

	buf := bytes.NewBuffer(base)
	objPos := buf.Len()
	buf.WriteString("4 0 obj\n<< /Title (Updated) >>\nendobj\n")
	xrefPos := buf.Len()
	fmt.Fprintf(buf, "xref\n4 1\n%010d 00000 n \n", objPos)
	fmt.Fprintf(buf, "trailer\n<< /Size 5 /Root 1 0 R /Info 4 0 R /Prev %d >>\n", oldXRef)
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefPos)

	doc, err := Open(buf.Bytes(), nil)
	if err != nil {
		t.Fatal(err)
	}
	info, err := GetDict(doc, doc.Trailer()["Info"])
	if err != nil {
		t.Fatal(err)
	}
	if title, _ := info["Title"].(String); string(title) != "Updated" {
		t.Errorf("wrong title %q", title)
	}

	// objects from the older section are still found
	page, err := GetDict(doc, NewReference(3, 0))
	if err != nil || page["Type"] != Name("Page") {
		t.Errorf("wrong page %s (%v)", Format(page), err)
	}
}

func TestPrevLoop(t *testing.T) {
	base := buildPDF(simpleObjects, simpleTrailer)

	buf := bytes.NewBuffer(base)
	xrefPos := buf.Len()
	buf.WriteString("xref\n0 1\n0000000000 65535 f \n")
	fmt.Fprintf(buf, "trailer\n<< /Size 5 /Root 1 0 R /Prev %d >>\n", xrefPos)
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefPos)

	doc, err := Open(buf.Bytes(), nil)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range doc.Warnings() {
		if strings.Contains(w.Err.Error(), "loop") {
			found = true
		}
	}
	if !found {
		t.Errorf("no warning about the /Prev loop: %v", doc.Warnings())
	}

	// objects missing from the xref table are located by scanning
	catalog, err := doc.Catalog()
	if err != nil || catalog["Type"] != Name("Catalog") {
		t.Errorf("wrong catalog %s (%v)", Format(catalog), err)
	}
}

func TestOffByOneSubsection(t *testing.T) {
	data := buildPDF(simpleObjects, simpleTrailer)
	data = bytes.Replace(data, []byte("xref\n0 5\n"), []byte("xref\n1 5\n"), 1)

	doc, err := Open(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Repaired() {
		t.Error("file was repaired")
	}
	for i := range 4 {
		entry := doc.xref[uint32(i+1)]
		if entry.IsFree() {
			t.Errorf("object %d is missing", i+1)
			continue
		}
		if !bytes.HasPrefix(data[entry.Pos:], fmt.Appendf(nil, "%d 0 obj", i+1)) {
			t.Errorf("wrong offset %d for object %d", entry.Pos, i+1)
		}
	}
}

func TestCatalogVersion(t *testing.T) {
	objs := append([]string{}, simpleObjects...)
	objs[0] = "<< /Type /Catalog /Pages 2 0 R /Version /2.0 >>"
	data := buildPDF(objs, simpleTrailer)

	doc, err := Open(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != V2_0 {
		t.Errorf("wrong version %s", doc.Version)
	}
}

func TestResolve(t *testing.T) {
	objs := append([]string{}, simpleObjects...)
	objs = append(objs,
		"6 0 R",
		"42",
		"8 0 R",
		"7 0 R",
		"<< /Length 10 0 R >>\nstream\nabcdef\nendstream",
		"6",
		"3.7",
	)
	data := buildPDF(objs, simpleTrailer)
	doc, err := Open(data, nil)
	if err != nil {
		t.Fatal(err)
	}

	x, err := GetInteger(doc, NewReference(5, 0))
	if err != nil || x != 42 {
		t.Errorf("got %d, %v", x, err)
	}

	obj, err := doc.Resolve(NewReference(7, 0))
	if err != nil || obj != nil {
		t.Errorf("reference cycle: got %s, %v", Format(obj), err)
	}
	hasCycleWarning := false
	for _, w := range doc.Warnings() {
		if errors.Is(w.Err, errCircularRef) && w.Ref == NewReference(7, 0) {
			hasCycleWarning = true
		}
	}
	if !hasCycleWarning {
		t.Error("reference cycle not recorded as a warning")
	}

	// Other Getters report the cycle as an error.
	objects := mapGetter{
		NewReference(1, 0): NewReference(2, 0),
		NewReference(2, 0): NewReference(1, 0),
	}
	_, err = Resolve(objects, NewReference(1, 0))
	var e *MalformedFileError
	if !errors.As(err, &e) {
		t.Errorf("expected error for reference cycle, got %v", err)
	}

	stm, err := GetStream(doc, NewReference(9, 0))
	if err != nil {
		t.Fatal(err)
	}
	body, err := doc.DecodeStream(stm)
	if err != nil || string(body) != "abcdef" {
		t.Errorf("got %q, %v", body, err)
	}

	x, err = GetInteger(doc, NewReference(11, 0))
	if err != nil || x != 3 {
		t.Errorf("got %d, %v", x, err)
	}

	_, err = GetDict(doc, NewReference(6, 0))
	if err == nil {
		t.Error("expected type error")
	}
	_, err = GetArray(doc, NewReference(1, 0))
	if err == nil {
		t.Error("expected type error")
	}
	name, err := GetName(doc, Name("X"))
	if err != nil || name != "X" {
		t.Errorf("got %q, %v", name, err)
	}
	null, err := GetStream(doc, nil)
	if err != nil || null != nil {
		t.Errorf("got %v, %v", null, err)
	}
}

func TestConcurrentGet(t *testing.T) {
	data := writeTestDoc(t, V1_7, nil)
	for _, cacheSize := range []int{-1, 0, 2} {
		doc, err := Open(data, &ReaderOptions{CacheSize: cacheSize})
		if err != nil {
			t.Fatal(err)
		}

		g := &errgroup.Group{}
		for i := range 40 {
			ref := NewReference(uint32(i%5+1), 0)
			g.Go(func() error {
				obj, err := doc.Get(ref)
				if err != nil {
					return err
				}
				if obj == nil {
					return fmt.Errorf("%s is missing", ref)
				}
				return nil
			})
		}
		err = g.Wait()
		if err != nil {
			t.Errorf("cache size %d: %v", cacheSize, err)
		}
	}
}

type mapGetter map[Reference]Object

func (m mapGetter) Get(ref Reference) (Object, error) {
	return m[ref], nil
}
