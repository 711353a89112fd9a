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

package rewrite

import (
	"errors"
	"fmt"

	"seehuhn.de/go/pdfunlock/pdf"
)

// A Copier copies objects from a document to a new PDF file.  The Copier
// keeps track of the objects which have already been copied and makes sure
// that each object is copied only once.
//
// Indirect objects are allocated in the target file as needed, and
// references are translated accordingly.  References which resolve to null,
// and references to page tree nodes which have not been registered using
// [Copier.Redirect], are replaced by null.
type Copier struct {
	doc *pdf.Document
	w   *pdf.Writer

	// trans maps references in doc to references in w.  The value 0 marks
	// references which are written as null.
	trans map[pdf.Reference]pdf.Reference

	// compress causes streams without filters to be compressed.
	compress bool
}

// NewCopier creates a new Copier.
func NewCopier(w *pdf.Writer, doc *pdf.Document) *Copier {
	return &Copier{
		doc:   doc,
		w:     w,
		trans: make(map[pdf.Reference]pdf.Reference),
	}
}

// Copy copies an object from the source document to the target file,
// recursively.  The result is nil if obj resolves to null.
func (c *Copier) Copy(obj pdf.Object) (pdf.Object, error) {
	switch x := obj.(type) {
	case pdf.Dict:
		return c.CopyDict(x)
	case pdf.Array:
		return c.CopyArray(x)
	case *pdf.Stream:
		return c.copyStream(0, x)
	case pdf.Reference:
		return c.CopyReference(x)
	default:
		return obj, nil
	}
}

// CopyDict copies a dictionary.  Entries which become null are omitted.
func (c *Copier) CopyDict(obj pdf.Dict) (pdf.Dict, error) {
	res := make(pdf.Dict, len(obj))
	for key, val := range obj {
		repl, err := c.Copy(val)
		if err != nil {
			return nil, err
		}
		if repl != nil {
			res[key] = repl
		}
	}
	return res, nil
}

// CopyArray copies an array.  Elements which become null are kept as null,
// so that the positions of all other elements are unchanged.
func (c *Copier) CopyArray(obj pdf.Array) (pdf.Array, error) {
	res := make(pdf.Array, len(obj))
	for i, val := range obj {
		repl, err := c.Copy(val)
		if err != nil {
			return nil, err
		}
		res[i] = repl
	}
	return res, nil
}

// CopyReference copies an indirect object.  The result is either a
// reference in the target file, or nil.
func (c *Copier) CopyReference(ref pdf.Reference) (pdf.Object, error) {
	if newRef, ok := c.trans[ref]; ok {
		if newRef == 0 {
			return nil, nil
		}
		return newRef, nil
	}

	val, err := pdf.Resolve(c.doc, ref)
	var malformed *pdf.MalformedFileError
	if errors.As(err, &malformed) {
		// A broken object only affects the references to it.
		c.doc.AddWarning(pdf.Warning{Pos: -1, Ref: ref, Err: err})
		val, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	if val == nil || isPageTreeNode(val) {
		c.trans[ref] = 0
		return nil, nil
	}

	newRef := c.w.Alloc()
	c.trans[ref] = newRef
	var trans pdf.Object
	if stm, isStream := val.(*pdf.Stream); isStream {
		trans, err = c.copyStream(ref, stm)
	} else {
		trans, err = c.Copy(val)
	}
	if err != nil {
		return nil, err
	}
	err = c.w.Put(newRef, trans)
	if err != nil {
		return nil, err
	}
	return newRef, nil
}

// Redirect makes references to origRef in the source document point to
// newRef in the target file.
func (c *Copier) Redirect(origRef, newRef pdf.Reference) {
	c.trans[origRef] = newRef
}

func isPageTreeNode(obj pdf.Object) bool {
	dict, ok := obj.(pdf.Dict)
	if !ok {
		return false
	}
	tp := dict["Type"]
	return tp == pdf.Name("Page") || tp == pdf.Name("Pages")
}

// copyStream copies the stream object ref.  Data which was stored in
// encrypted form is decoded and compressed again, all other data is copied
// as it is.  Filters which cannot be decoded are reported as warnings.
func (c *Copier) copyStream(ref pdf.Reference, x *pdf.Stream) (*pdf.Stream, error) {
	dict := x.Dict.Clone()
	delete(dict, "Length")
	removeCryptFilter(dict)

	var unsupported []pdf.Name
	for _, f := range c.doc.Filters(x) {
		if !f.IsSupported() && f.Name != "Crypt" {
			unsupported = append(unsupported, f.Name)
		}
	}
	if len(unsupported) > 0 {
		c.doc.AddWarning(pdf.Warning{
			Pos: -1,
			Ref: ref,
			Err: fmt.Errorf("%w %v, data copied unchanged", pdf.ErrUnsupportedFilter, unsupported),
		})
	}

	raw := x.Raw
	_, hasFilter := dict["Filter"]
	if len(unsupported) == 0 && (x.WasDecrypted() || c.compress && !hasFilter) {
		data, err := c.doc.DecodeStream(x)
		if err == nil {
			raw, err = pdf.FlateEncode(data)
			if err != nil {
				return nil, err
			}
			dict["Filter"] = pdf.Name("FlateDecode")
			delete(dict, "DecodeParms")
			delete(dict, "DL")
		} else {
			// The decrypted data is valid with the original filters.
			c.doc.AddWarning(pdf.Warning{Pos: -1, Ref: ref, Err: err})
		}
	}

	newDict, err := c.CopyDict(dict)
	if err != nil {
		return nil, err
	}
	return &pdf.Stream{Dict: newDict, Raw: raw}, nil
}

// removeCryptFilter removes /Crypt entries from the filter pipeline of a
// stream dictionary.
func removeCryptFilter(dict pdf.Dict) {
	switch f := dict["Filter"].(type) {
	case pdf.Name:
		if f == "Crypt" {
			delete(dict, "Filter")
			delete(dict, "DecodeParms")
		}
	case pdf.Array:
		parms, _ := dict["DecodeParms"].(pdf.Array)
		var filters, newParms pdf.Array
		for i, name := range f {
			if name == pdf.Name("Crypt") {
				continue
			}
			filters = append(filters, name)
			if i < len(parms) {
				newParms = append(newParms, parms[i])
			} else {
				newParms = append(newParms, nil)
			}
		}
		if len(filters) == len(f) {
			return
		}
		if len(filters) == 0 {
			delete(dict, "Filter")
			delete(dict, "DecodeParms")
			return
		}
		dict["Filter"] = filters
		if parms != nil {
			dict["DecodeParms"] = newParms
		}
	}
}
