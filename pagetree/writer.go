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

package pagetree

import (
	"errors"

	"seehuhn.de/go/pdfunlock/pdf"
)

// maxDegree is the maximal number of children of a node in the page trees
// written by [Writer].
const maxDegree = 16

// Writer writes a page tree to a PDF file.  Pages are added using
// [Writer.AppendPage].  The page dictionaries are written when the tree is
// closed, once their /Parent entries are known.
type Writer struct {
	Out *pdf.Writer

	pages    []*nodeInfo
	isClosed bool
}

type nodeInfo struct {
	dict      pdf.Dict // a /Page or /Pages object
	ref       pdf.Reference
	pageCount pdf.Integer
}

// NewWriter creates a new page tree which adds pages to the PDF file w.
func NewWriter(w *pdf.Writer) *Writer {
	return &Writer{Out: w}
}

// AppendPage adds a page at the end of the tree.  The reference must have
// been allocated using the Alloc method of w.Out.  Any /Parent entry in
// dict is overwritten.
func (w *Writer) AppendPage(ref pdf.Reference, dict pdf.Dict) error {
	if w.isClosed {
		return errClosed
	}
	w.pages = append(w.pages, &nodeInfo{
		dict:      dict,
		ref:       ref,
		pageCount: 1,
	})
	return nil
}

// NumPages returns the number of pages added so far.
func (w *Writer) NumPages() int {
	return len(w.pages)
}

// Close writes all pages and the intermediate nodes of the tree, and
// returns the reference of the root node.  The root is always a /Pages
// node, even for documents with no or only one page.
func (w *Writer) Close() (pdf.Reference, error) {
	if w.isClosed {
		return 0, errClosed
	}
	w.isClosed = true

	nodes := w.pages
	for len(nodes) > maxDegree {
		var next []*nodeInfo
		for start := 0; start < len(nodes); start += maxDegree {
			end := min(start+maxDegree, len(nodes))
			if end-start == 1 {
				// A single leftover node moves up one level.
				next = append(next, nodes[start])
				continue
			}
			parent, err := w.mergeNodes(nodes[start:end])
			if err != nil {
				return 0, err
			}
			next = append(next, parent)
		}
		nodes = next
	}

	root, err := w.mergeNodes(nodes)
	if err != nil {
		return 0, err
	}
	err = w.Out.Put(root.ref, root.dict)
	if err != nil {
		return 0, err
	}
	return root.ref, nil
}

// mergeNodes writes the given nodes as children of a new /Pages node.  The
// new node itself is not yet written.
func (w *Writer) mergeNodes(children []*nodeInfo) (*nodeInfo, error) {
	parentRef := w.Out.Alloc()
	kids := make(pdf.Array, len(children))
	var pageCount pdf.Integer
	for i, node := range children {
		node.dict["Parent"] = parentRef
		err := w.Out.Put(node.ref, node.dict)
		if err != nil {
			return nil, err
		}
		kids[i] = node.ref
		pageCount += node.pageCount
	}

	parent := &nodeInfo{
		dict: pdf.Dict{
			"Type":  pdf.Name("Pages"),
			"Kids":  kids,
			"Count": pageCount,
		},
		ref:       parentRef,
		pageCount: pageCount,
	}
	return parent, nil
}

var errClosed = errors.New("page tree is closed")
