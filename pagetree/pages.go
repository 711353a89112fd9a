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

// Package pagetree reads and writes PDF page trees.
//
// [Pages] flattens the page tree of a document into a list of pages, with
// all inheritable attributes resolved.  [Writer] builds a new, balanced
// page tree for a list of pages.
package pagetree

import (
	"errors"
	"fmt"

	"seehuhn.de/go/pdfunlock/pdf"
)

// Page is a leaf of the page tree.
type Page struct {
	// Index is the zero-based position of the page in the document.
	Index int

	// Ref is the page object, or 0 if the page dictionary is stored
	// directly in the /Kids array of its parent.
	Ref pdf.Reference

	// Dict is a copy of the page dictionary, with the inherited
	// attributes filled in and /Contents replaced by the valid entries
	// from Contents.
	Dict pdf.Dict

	MediaBox  pdf.Array
	CropBox   pdf.Array
	Rotate    int
	Resources pdf.Dict

	// Contents lists the content streams of the page, in order.
	Contents []pdf.Reference
}

// DefaultMediaBox is used for pages which don't specify a media box.
var DefaultMediaBox = pdf.Array{
	pdf.Integer(0), pdf.Integer(0), pdf.Integer(612), pdf.Integer(792),
}

// inherited holds the inheritable page attributes of an intermediate node.
type inherited struct {
	resources pdf.Dict

	// resourcesObj is the /Resources entry as found in the file, so that
	// resource dictionaries shared by reference stay shared.
	resourcesObj pdf.Object

	mediaBox pdf.Array
	cropBox  pdf.Array
	rotate   pdf.Object
}

type walker struct {
	doc   *pdf.Document
	pages []*Page

	// seen contains all nodes visited so far, onPath the ancestors of the
	// node currently being visited.
	seen   map[pdf.Reference]bool
	onPath map[pdf.Reference]bool
}

// Pages returns all pages of the document, in depth-first, left-to-right
// order of the page tree.
//
// Broken kids and content streams are skipped, and are recorded as
// warnings in doc.  A loop in the page tree gives an error which wraps
// [pdf.ErrCyclicPageTree].
func Pages(doc *pdf.Document) ([]*Page, error) {
	catalog, err := doc.Catalog()
	if err != nil {
		return nil, &pdf.PageError{Index: -1, Err: err}
	}
	if catalog == nil {
		return nil, &pdf.PageError{Index: -1, Err: errNoCatalog}
	}

	w := &walker{
		doc:    doc,
		seen:   make(map[pdf.Reference]bool),
		onPath: make(map[pdf.Reference]bool),
	}
	root := catalog["Pages"]
	if root == nil {
		return nil, &pdf.PageError{Index: -1, Err: errNoPages}
	}
	err = w.visit(root, &inherited{})
	if err != nil {
		return nil, err
	}
	return w.pages, nil
}

func (w *walker) visit(obj pdf.Object, parent *inherited) error {
	ref, isRef := obj.(pdf.Reference)
	if isRef {
		if w.onPath[ref] {
			return &pdf.PageError{Index: -1, Ref: ref, Err: pdf.ErrCyclicPageTree}
		}
		if w.seen[ref] {
			w.doc.AddWarning(pdf.Warning{Pos: -1, Ref: ref, Err: errDuplicateNode})
			return nil
		}
		w.seen[ref] = true
	}

	node, err := pdf.Resolve(w.doc, obj)
	if err != nil {
		return &pdf.PageError{Index: -1, Ref: ref, Err: err}
	}
	dict, ok := node.(pdf.Dict)
	if !ok {
		// Missing objects have already been reported by the document.
		if node != nil {
			w.doc.AddWarning(pdf.Warning{
				Pos: -1,
				Ref: ref,
				Err: fmt.Errorf("page tree node has type %T", node),
			})
		}
		return nil
	}

	attr, err := w.inherit(dict, parent)
	if err != nil {
		return &pdf.PageError{Index: -1, Ref: ref, Err: err}
	}

	if !isIntermediate(dict) {
		return w.addPage(ref, dict, attr)
	}

	kids, err := pdf.GetArray(w.doc, dict["Kids"])
	if err != nil {
		return &pdf.PageError{Index: -1, Ref: ref, Err: err}
	}
	if isRef {
		w.onPath[ref] = true
		defer delete(w.onPath, ref)
	}
	for _, kid := range kids {
		err := w.visit(kid, attr)
		if err != nil {
			return err
		}
	}
	return nil
}

// isIntermediate decides whether a page tree node is a /Pages node.  Nodes
// without a /Type entry are classified by the presence of /Kids.
func isIntermediate(dict pdf.Dict) bool {
	switch dict["Type"] {
	case pdf.Name("Pages"):
		return true
	case pdf.Name("Page"):
		return false
	default:
		_, hasKids := dict["Kids"]
		return hasKids
	}
}

func (w *walker) inherit(dict pdf.Dict, parent *inherited) (*inherited, error) {
	res := *parent
	if obj, ok := dict["Resources"]; ok {
		resources, err := pdf.GetDict(w.doc, obj)
		if err != nil {
			return nil, fmt.Errorf("/Resources: %w", err)
		}
		res.resources = resources
		res.resourcesObj = obj
		if resources == nil {
			res.resourcesObj = nil
		}
	}
	if obj, ok := dict["MediaBox"]; ok {
		box, err := w.getRect(obj)
		if err != nil {
			return nil, fmt.Errorf("/MediaBox: %w", err)
		}
		res.mediaBox = box
	}
	if obj, ok := dict["CropBox"]; ok {
		box, err := w.getRect(obj)
		if err != nil {
			return nil, fmt.Errorf("/CropBox: %w", err)
		}
		res.cropBox = box
	}
	if obj, ok := dict["Rotate"]; ok {
		res.rotate = obj
	}
	return &res, nil
}

// getRect resolves a rectangle.  References inside the array are resolved
// as well, so that the result can be used without access to the document.
func (w *walker) getRect(obj pdf.Object) (pdf.Array, error) {
	a, err := pdf.GetArray(w.doc, obj)
	if err != nil || a == nil {
		return nil, err
	}
	if len(a) != 4 {
		return nil, fmt.Errorf("rectangle has %d elements", len(a))
	}
	res := make(pdf.Array, 4)
	for i, x := range a {
		x, err := pdf.Resolve(w.doc, x)
		if err != nil {
			return nil, err
		}
		switch x.(type) {
		case pdf.Integer, pdf.Real:
			res[i] = x
		default:
			return nil, fmt.Errorf("invalid rectangle coordinate %s", pdf.Format(x))
		}
	}
	return res, nil
}

func (w *walker) addPage(ref pdf.Reference, dict pdf.Dict, attr *inherited) error {
	page := &Page{
		Index:     len(w.pages),
		Ref:       ref,
		Dict:      dict.Clone(),
		Resources: attr.resources,
		MediaBox:  attr.mediaBox,
		CropBox:   attr.cropBox,
	}

	if page.MediaBox == nil {
		w.doc.AddWarning(pdf.Warning{Pos: -1, Ref: ref, Err: errNoMediaBox})
		page.MediaBox = DefaultMediaBox
	}
	page.Dict["MediaBox"] = page.MediaBox
	if page.CropBox != nil {
		page.Dict["CropBox"] = page.CropBox
	}
	if attr.resourcesObj != nil {
		page.Dict["Resources"] = attr.resourcesObj
	} else {
		delete(page.Dict, "Resources")
	}

	rotate, err := w.rotation(ref, attr.rotate)
	if err != nil {
		return &pdf.PageError{Index: page.Index, Ref: ref, Err: err}
	}
	page.Rotate = rotate
	if rotate != 0 {
		page.Dict["Rotate"] = pdf.Integer(rotate)
	} else {
		delete(page.Dict, "Rotate")
	}

	contents, err := w.contents(ref, dict["Contents"])
	if err != nil {
		return &pdf.PageError{Index: page.Index, Ref: ref, Err: err}
	}
	page.Contents = contents
	switch len(contents) {
	case 0:
		delete(page.Dict, "Contents")
	case 1:
		page.Dict["Contents"] = contents[0]
	default:
		a := make(pdf.Array, len(contents))
		for i, c := range contents {
			a[i] = c
		}
		page.Dict["Contents"] = a
	}

	w.pages = append(w.pages, page)
	return nil
}

// rotation normalises a /Rotate value to one of 0, 90, 180 and 270.
func (w *walker) rotation(ref pdf.Reference, obj pdf.Object) (int, error) {
	if obj == nil {
		return 0, nil
	}
	r, err := pdf.GetInteger(w.doc, obj)
	if err != nil {
		return 0, fmt.Errorf("/Rotate: %w", err)
	}
	rot := int(r % 360)
	if rot < 0 {
		rot += 360
	}
	if rot%90 != 0 {
		w.doc.AddWarning(pdf.Warning{
			Pos: -1,
			Ref: ref,
			Err: fmt.Errorf("invalid /Rotate %d", r),
		})
		rot -= rot % 90
	}
	return rot, nil
}

// contents returns the references of the content streams of a page.
// Entries which don't resolve to a stream are dropped.
func (w *walker) contents(ref pdf.Reference, obj pdf.Object) ([]pdf.Reference, error) {
	var candidates pdf.Array
	if r, isRef := obj.(pdf.Reference); isRef {
		x, err := w.doc.Get(r)
		if err != nil {
			return nil, err
		}
		switch x := x.(type) {
		case *pdf.Stream:
			return []pdf.Reference{r}, nil
		case pdf.Array:
			candidates = x
		case nil:
			return nil, nil
		default:
			w.doc.AddWarning(pdf.Warning{Pos: -1, Ref: r, Err: errBadContents})
			return nil, nil
		}
	} else if a, isArray := obj.(pdf.Array); isArray {
		candidates = a
	} else if obj != nil {
		w.doc.AddWarning(pdf.Warning{Pos: -1, Ref: ref, Err: errBadContents})
		return nil, nil
	}

	var res []pdf.Reference
	for _, c := range candidates {
		r, isRef := c.(pdf.Reference)
		if !isRef {
			w.doc.AddWarning(pdf.Warning{Pos: -1, Ref: ref, Err: errBadContents})
			continue
		}
		x, err := w.doc.Get(r)
		if err != nil {
			return nil, err
		}
		if _, isStream := x.(*pdf.Stream); isStream {
			res = append(res, r)
		} else if x != nil {
			w.doc.AddWarning(pdf.Warning{Pos: -1, Ref: r, Err: errBadContents})
		}
	}
	return res, nil
}

var (
	errNoCatalog     = errors.New("document catalog not found")
	errNoPages       = errors.New("document catalog has no /Pages entry")
	errNoMediaBox    = errors.New("page has no /MediaBox, using US Letter")
	errDuplicateNode = errors.New("page tree node appears more than once")
	errBadContents   = errors.New("invalid content stream")
)
