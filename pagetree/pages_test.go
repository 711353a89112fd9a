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

package pagetree_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"seehuhn.de/go/pdfunlock/pagetree"
	"seehuhn.de/go/pdfunlock/pdf"
)

// makeDoc writes objs as objects 1, 2, ... of a new file and opens the
// result.  Object 1 is the document catalog, nil entries become free
// objects.
func makeDoc(t *testing.T, objs ...pdf.Object) *pdf.Document {
	t.Helper()

	buf := &bytes.Buffer{}
	w, err := pdf.NewWriter(buf, pdf.V1_7, nil)
	if err != nil {
		t.Fatal(err)
	}
	refs := make([]pdf.Reference, len(objs))
	for i := range objs {
		refs[i] = w.Alloc()
	}
	for i, obj := range objs {
		err := w.Put(refs[i], obj)
		if err != nil {
			t.Fatal(err)
		}
	}
	err = w.Close(pdf.Dict{"Root": refs[0]})
	if err != nil {
		t.Fatal(err)
	}

	doc, err := pdf.Open(buf.Bytes(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func ref(n uint32) pdf.Reference {
	return pdf.NewReference(n, 0)
}

func rect(x1, y1, x2, y2 int) pdf.Array {
	return pdf.Array{pdf.Integer(x1), pdf.Integer(y1), pdf.Integer(x2), pdf.Integer(y2)}
}

func content(s string) *pdf.Stream {
	return &pdf.Stream{Dict: pdf.Dict{}, Raw: []byte(s)}
}

func hasWarning(doc *pdf.Document, target error) bool {
	for _, w := range doc.Warnings() {
		if errors.Is(w.Err, target) {
			return true
		}
	}
	return false
}

func TestInheritance(t *testing.T) {
	a4 := rect(0, 0, 595, 842)
	a5 := rect(0, 0, 420, 595)
	font := pdf.Dict{"Font": pdf.Dict{"F1": ref(8)}}
	doc := makeDoc(t,
		pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": ref(2)},
		pdf.Dict{
			"Type":      pdf.Name("Pages"),
			"Kids":      pdf.Array{ref(3), ref(4)},
			"Count":     pdf.Integer(2),
			"MediaBox":  a4,
			"Resources": font,
			"Rotate":    pdf.Integer(90),
		},
		pdf.Dict{
			"Type":     pdf.Name("Pages"),
			"Parent":   ref(2),
			"Kids":     pdf.Array{ref(5)},
			"Count":    pdf.Integer(1),
			"MediaBox": a5,
		},
		pdf.Dict{
			"Type":     pdf.Name("Page"),
			"Parent":   ref(2),
			"Contents": ref(6),
			"Rotate":   pdf.Integer(-90),
			"CropBox":  rect(10, 10, 500, 800),
		},
		pdf.Dict{
			"Type":     pdf.Name("Page"),
			"Parent":   ref(3),
			"Contents": pdf.Array{ref(6), ref(7)},
		},
		content("0 0 m 10 10 l S"),
		content("q Q"),
		pdf.Dict{"Type": pdf.Name("Font"), "Subtype": pdf.Name("Type1"), "BaseFont": pdf.Name("Helvetica")},
	)

	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}

	p0 := pages[0]
	if p0.Index != 0 || p0.Ref != ref(5) {
		t.Errorf("page 0: index %d, ref %s", p0.Index, p0.Ref)
	}
	if d := cmp.Diff(a5, p0.MediaBox); d != "" {
		t.Errorf("page 0 MediaBox (-want +got):\n%s", d)
	}
	if p0.Rotate != 90 {
		t.Errorf("page 0 Rotate = %d, want 90", p0.Rotate)
	}
	if d := cmp.Diff(font, p0.Resources); d != "" {
		t.Errorf("page 0 Resources (-want +got):\n%s", d)
	}
	if d := cmp.Diff([]pdf.Reference{ref(6), ref(7)}, p0.Contents); d != "" {
		t.Errorf("page 0 Contents (-want +got):\n%s", d)
	}
	if p0.CropBox != nil {
		t.Errorf("page 0 has CropBox %v", p0.CropBox)
	}

	p1 := pages[1]
	if p1.Index != 1 || p1.Ref != ref(4) {
		t.Errorf("page 1: index %d, ref %s", p1.Index, p1.Ref)
	}
	if d := cmp.Diff(a4, p1.MediaBox); d != "" {
		t.Errorf("page 1 MediaBox (-want +got):\n%s", d)
	}
	if p1.Rotate != 270 {
		t.Errorf("page 1 Rotate = %d, want 270", p1.Rotate)
	}
	if d := cmp.Diff([]pdf.Reference{ref(6)}, p1.Contents); d != "" {
		t.Errorf("page 1 Contents (-want +got):\n%s", d)
	}

	// The inherited values are copied into the page dictionary.
	wantDict := pdf.Dict{
		"Type":      pdf.Name("Page"),
		"Parent":    ref(2),
		"Contents":  ref(6),
		"Rotate":    pdf.Integer(270),
		"CropBox":   rect(10, 10, 500, 800),
		"MediaBox":  a4,
		"Resources": font,
	}
	if d := cmp.Diff(wantDict, p1.Dict); d != "" {
		t.Errorf("page 1 Dict (-want +got):\n%s", d)
	}
}

func TestDefaultMediaBox(t *testing.T) {
	doc := makeDoc(t,
		pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": ref(2)},
		pdf.Dict{"Type": pdf.Name("Pages"), "Kids": pdf.Array{ref(3)}, "Count": pdf.Integer(1)},
		pdf.Dict{"Type": pdf.Name("Page"), "Parent": ref(2)},
	)

	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	if d := cmp.Diff(pagetree.DefaultMediaBox, pages[0].MediaBox); d != "" {
		t.Errorf("MediaBox (-want +got):\n%s", d)
	}
	found := false
	for _, w := range doc.Warnings() {
		if strings.Contains(w.Err.Error(), "MediaBox") {
			found = true
		}
	}
	if !found {
		t.Error("no warning for missing MediaBox")
	}
}

func TestCyclicPageTree(t *testing.T) {
	type testCase struct {
		name string
		objs []pdf.Object
	}
	cases := []testCase{
		{
			name: "self",
			objs: []pdf.Object{
				pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": ref(2)},
				pdf.Dict{"Type": pdf.Name("Pages"), "Kids": pdf.Array{ref(2)}},
			},
		},
		{
			name: "grandparent",
			objs: []pdf.Object{
				pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": ref(2)},
				pdf.Dict{"Type": pdf.Name("Pages"), "Kids": pdf.Array{ref(3), ref(4)}},
				pdf.Dict{"Type": pdf.Name("Page"), "MediaBox": rect(0, 0, 100, 100)},
				pdf.Dict{"Type": pdf.Name("Pages"), "Kids": pdf.Array{ref(5)}},
				pdf.Dict{"Type": pdf.Name("Pages"), "Kids": pdf.Array{ref(2)}},
			},
		},
		{
			name: "untyped",
			objs: []pdf.Object{
				pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": ref(2)},
				pdf.Dict{"Kids": pdf.Array{ref(3)}},
				pdf.Dict{"Kids": pdf.Array{ref(2)}},
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			doc := makeDoc(t, c.objs...)
			_, err := pagetree.Pages(doc)
			if !errors.Is(err, pdf.ErrCyclicPageTree) {
				t.Fatalf("got error %v, want %v", err, pdf.ErrCyclicPageTree)
			}
			var pageErr *pdf.PageError
			if !errors.As(err, &pageErr) {
				t.Fatalf("error %v is not a PageError", err)
			}
			if pageErr.Ref == 0 {
				t.Error("PageError does not name the offending object")
			}
		})
	}
}

func TestSharedNode(t *testing.T) {
	// A node which appears twice, without forming a loop, is used once.
	doc := makeDoc(t,
		pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": ref(2)},
		pdf.Dict{"Type": pdf.Name("Pages"), "Kids": pdf.Array{ref(3), ref(4), ref(3)}},
		pdf.Dict{"Type": pdf.Name("Page"), "MediaBox": rect(0, 0, 100, 100)},
		pdf.Dict{"Type": pdf.Name("Page"), "MediaBox": rect(0, 0, 200, 200)},
	)
	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatal(err)
	}
	var got []pdf.Reference
	for _, p := range pages {
		got = append(got, p.Ref)
	}
	if d := cmp.Diff([]pdf.Reference{ref(3), ref(4)}, got); d != "" {
		t.Errorf("pages (-want +got):\n%s", d)
	}
}

func TestSharedResources(t *testing.T) {
	res := pdf.Dict{"ProcSet": pdf.Array{pdf.Name("PDF"), pdf.Name("Text")}}
	doc := makeDoc(t,
		pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": ref(2)},
		pdf.Dict{
			"Type":      pdf.Name("Pages"),
			"Kids":      pdf.Array{ref(3), ref(4)},
			"MediaBox":  rect(0, 0, 10, 10),
			"Resources": ref(5),
		},
		pdf.Dict{"Type": pdf.Name("Page"), "Resources": ref(5)},
		pdf.Dict{"Type": pdf.Name("Page")},
		res,
	)
	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range pages {
		if p.Dict["Resources"] != ref(5) {
			t.Errorf("page %d: /Resources = %v, want %s", i, p.Dict["Resources"], ref(5))
		}
		if d := cmp.Diff(res, p.Resources); d != "" {
			t.Errorf("page %d Resources (-want +got):\n%s", i, d)
		}
	}
}

func TestUntypedNodes(t *testing.T) {
	doc := makeDoc(t,
		pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": ref(2)},
		pdf.Dict{"Kids": pdf.Array{ref(3), ref(4)}, "MediaBox": rect(0, 0, 10, 10)},
		pdf.Dict{"Kids": pdf.Array{ref(5)}},
		pdf.Dict{"Contents": ref(6)},
		pdf.Dict{},
		content("q Q"),
	)
	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatal(err)
	}
	var got []pdf.Reference
	for _, p := range pages {
		got = append(got, p.Ref)
	}
	if d := cmp.Diff([]pdf.Reference{ref(5), ref(4)}, got); d != "" {
		t.Errorf("pages (-want +got):\n%s", d)
	}
}

func TestBrokenContents(t *testing.T) {
	doc := makeDoc(t,
		pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": ref(2)},
		pdf.Dict{"Type": pdf.Name("Pages"), "Kids": pdf.Array{ref(3), ref(4)}, "MediaBox": rect(0, 0, 10, 10)},
		pdf.Dict{"Type": pdf.Name("Page"), "Contents": pdf.Array{ref(5), ref(6), ref(7), pdf.Integer(1)}},
		pdf.Dict{"Type": pdf.Name("Page"), "Contents": ref(6)},
		content("q Q"),
		nil,
		pdf.Dict{"Not": pdf.Name("AStream")},
	)
	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}

	if d := cmp.Diff([]pdf.Reference{ref(5)}, pages[0].Contents); d != "" {
		t.Errorf("page 0 Contents (-want +got):\n%s", d)
	}
	if pages[0].Dict["Contents"] != ref(5) {
		t.Errorf("page 0 /Contents = %v", pages[0].Dict["Contents"])
	}
	if len(pages[1].Contents) != 0 {
		t.Errorf("page 1 Contents = %v", pages[1].Contents)
	}
	if _, ok := pages[1].Dict["Contents"]; ok {
		t.Error("page 1 still has /Contents")
	}
	if !hasWarning(doc, pdf.ErrDanglingReference) {
		t.Error("dangling content stream not reported")
	}
}

func TestMissingKid(t *testing.T) {
	doc := makeDoc(t,
		pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": ref(2)},
		pdf.Dict{"Type": pdf.Name("Pages"), "Kids": pdf.Array{ref(3), ref(4)}, "MediaBox": rect(0, 0, 10, 10)},
		nil,
		pdf.Dict{"Type": pdf.Name("Page")},
	)
	pages, err := pagetree.Pages(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 || pages[0].Ref != ref(4) || pages[0].Index != 0 {
		t.Errorf("unexpected pages %v", pages)
	}
	if !hasWarning(doc, pdf.ErrDanglingReference) {
		t.Error("missing kid not reported")
	}
}

func TestRotate(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 0},
		{90, 90},
		{-90, 270},
		{450, 90},
		{-270, 90},
		{180, 180},
		{720, 0},
		{45, 0},
		{100, 90},
	}
	for _, c := range cases {
		doc := makeDoc(t,
			pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": ref(2)},
			pdf.Dict{"Type": pdf.Name("Pages"), "Kids": pdf.Array{ref(3)}, "MediaBox": rect(0, 0, 10, 10)},
			pdf.Dict{"Type": pdf.Name("Page"), "Rotate": pdf.Integer(c.in)},
		)
		pages, err := pagetree.Pages(doc)
		if err != nil {
			t.Fatal(err)
		}
		if pages[0].Rotate != c.want {
			t.Errorf("Rotate %d: got %d, want %d", c.in, pages[0].Rotate, c.want)
		}
	}
}

func TestNoPages(t *testing.T) {
	doc := makeDoc(t,
		pdf.Dict{"Type": pdf.Name("Catalog")},
	)
	_, err := pagetree.Pages(doc)
	var pageErr *pdf.PageError
	if !errors.As(err, &pageErr) {
		t.Errorf("got %v, want a PageError", err)
	}
}
