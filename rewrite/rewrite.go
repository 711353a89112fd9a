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

// Package rewrite writes a selection of pages of a PDF document to a new,
// unencrypted PDF file.
package rewrite

import (
	"fmt"
	"io"

	"seehuhn.de/go/pdfunlock/pagetree"
	"seehuhn.de/go/pdfunlock/pdf"
)

// Options controls the output of [Rewrite].
type Options struct {
	// XRefTable forces a classic cross-reference table, even if the
	// document version allows for cross-reference streams.
	XRefTable bool

	// Compress causes streams without filters to be compressed using the
	// FlateDecode filter.
	Compress bool
}

// Rewrite writes the given pages of doc to w, in the given order.  The
// result has a new page tree and a new document catalog, and is not
// encrypted.  The document information dictionary is copied; all other
// entries of the original catalog are dropped.
//
// All objects reachable from the pages are copied exactly once.  Stream
// data which was decrypted is compressed again, the data of all other
// streams is copied without decoding it.
//
// If doc is encrypted and could not be decrypted, the error wraps
// [pdf.ErrUnsupportedEncryption] and nothing is written to w.
func Rewrite(doc *pdf.Document, pages []*pagetree.Page, w io.Writer, opt *Options) error {
	if opt == nil {
		opt = &Options{}
	}

	sec := pdf.Inspect(doc)
	if sec.Err != nil && sec.RequiresDecryption {
		return sec.Err
	}

	out, err := pdf.NewWriter(w, doc.Version, &pdf.WriterOptions{
		XRefTable: opt.XRefTable,
	})
	if err != nil {
		return err
	}

	catalogRef := out.Alloc()
	c := NewCopier(out, doc)
	c.compress = opt.Compress

	// All selected pages are allocated first, so that links between them
	// are kept.
	newRefs := make([]pdf.Reference, len(pages))
	for i, page := range pages {
		newRefs[i] = out.Alloc()
		if page.Ref == 0 {
			continue
		}
		if _, seen := c.trans[page.Ref]; !seen {
			c.Redirect(page.Ref, newRefs[i])
		}
	}

	tree := pagetree.NewWriter(out)
	for i, page := range pages {
		dict := page.Dict.Clone()
		delete(dict, "Parent")
		dict["Type"] = pdf.Name("Page")
		newDict, err := c.CopyDict(dict)
		if err != nil {
			return &pdf.PageError{Index: page.Index, Ref: page.Ref, Err: err}
		}
		err = tree.AppendPage(newRefs[i], newDict)
		if err != nil {
			return err
		}
	}
	pagesRef, err := tree.Close()
	if err != nil {
		return err
	}

	err = out.Put(catalogRef, pdf.Dict{
		"Type":  pdf.Name("Catalog"),
		"Pages": pagesRef,
	})
	if err != nil {
		return err
	}

	trailer := pdf.Dict{
		"Root": catalogRef,
	}
	if info, err := pdf.GetDict(doc, doc.Trailer()["Info"]); err == nil && info != nil {
		infoRef := out.Alloc()
		newInfo, err := c.CopyDict(info)
		if err != nil {
			return fmt.Errorf("/Info: %w", err)
		}
		err = out.Put(infoRef, newInfo)
		if err != nil {
			return err
		}
		trailer["Info"] = infoRef
	}

	return out.Close(trailer)
}
