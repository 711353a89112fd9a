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
	"crypto/md5"
	"crypto/rand"
	"errors"
	"fmt"
	"hash"
	"io"
	"math/bits"
)

// WriterOptions allows to influence the output of a [Writer].
type WriterOptions struct {
	// ID is the permanent file identifier, i.e. the first element of the
	// /ID array.  If this is nil, a new identifier is generated.
	ID []byte

	// XRefTable forces a classic cross-reference table even for PDF
	// versions which support cross-reference streams.
	XRefTable bool

	// Encryption, if set, causes all strings and streams to be encrypted
	// using the standard security handler.
	Encryption      EncryptionMethod
	UserPassword    string
	OwnerPassword   string
	UserPermissions Perm
}

// Writer writes a new PDF file.  Objects are written in the order of the
// calls to [Writer.Put].  Close must be called to write the
// cross-reference information and the trailer.
type Writer struct {
	// Version is the PDF version of the file.
	Version Version

	w       *posWriter
	opt     WriterOptions
	nextRef uint32
	xref    map[uint32]*xRefEntry
	enc     *encryptInfo
}

// NewWriter prepares a PDF file for writing.
func NewWriter(w io.Writer, ver Version, opt *WriterOptions) (*Writer, error) {
	if ver < V1_0 || ver > V2_0 {
		return nil, errVersion
	}
	pdf := &Writer{
		Version: ver,

		w:       &posWriter{w: w, h: md5.New()},
		nextRef: 1,
		xref:    make(map[uint32]*xRefEntry),
	}
	if opt != nil {
		pdf.opt = *opt
	}

	if pdf.opt.Encryption != EncryptNone {
		if pdf.opt.ID == nil {
			pdf.opt.ID = make([]byte, 16)
			_, err := rand.Read(pdf.opt.ID)
			if err != nil {
				return nil, err
			}
		}
		enc, err := newEncryptInfo(pdf.opt.Encryption, pdf.opt.ID,
			pdf.opt.UserPassword, pdf.opt.OwnerPassword, pdf.opt.UserPermissions)
		if err != nil {
			return nil, err
		}
		pdf.enc = enc
	}

	_, err := fmt.Fprintf(pdf.w, "%%PDF-%s\n%%\x80\x80\x80\x80\n", ver)
	if err != nil {
		return nil, err
	}

	return pdf, nil
}

// Alloc allocates an object number for an indirect object.  Object numbers
// are assigned densely, starting at 1.
func (pdf *Writer) Alloc() Reference {
	res := NewReference(pdf.nextRef, 0)
	pdf.nextRef++
	return res
}

// Put writes obj as the indirect object ref.  The reference must have been
// obtained from [Writer.Alloc].  A nil object is not written and the
// reference is marked as free, so that references to it resolve to null.
func (pdf *Writer) Put(ref Reference, obj Object) error {
	if pdf.w == nil {
		return errors.New("writer already closed")
	}
	num := ref.Number()
	if num == 0 || num >= pdf.nextRef {
		return fmt.Errorf("reference %s was not allocated", ref)
	}
	if _, seen := pdf.xref[num]; seen {
		return fmt.Errorf("object %s already written", ref)
	}

	if obj == nil {
		pdf.xref[num] = &xRefEntry{Pos: -1}
		return nil
	}

	if pdf.enc != nil {
		var err error
		obj, err = pdf.enc.encryptObject(ref, obj)
		if err != nil {
			return err
		}
	}
	return pdf.put(ref, obj)
}

func (pdf *Writer) put(ref Reference, obj Object) error {
	num := ref.Number()
	pos := pdf.w.pos
	_, err := fmt.Fprintf(pdf.w, "%d %d obj\n", num, ref.Generation())
	if err != nil {
		return err
	}
	err = obj.PDF(pdf.w)
	if err != nil {
		return err
	}
	_, err = pdf.w.Write([]byte("\nendobj\n"))
	if err != nil {
		return err
	}

	pdf.xref[num] = &xRefEntry{Pos: pos, Generation: ref.Generation()}
	return nil
}

// Close writes the cross-reference information and the trailer.  The
// trailer must contain the /Root entry; /Size, /ID and /Encrypt are set by
// the writer.
func (pdf *Writer) Close(trailer Dict) error {
	if pdf.w == nil {
		return errors.New("writer already closed")
	}
	if _, ok := trailer["Root"].(Reference); !ok {
		return errors.New("missing /Root")
	}

	xRefDict := trailer.Clone()
	delete(xRefDict, "Encrypt")
	delete(xRefDict, "Prev")
	delete(xRefDict, "XRefStm")

	// The second part of the ID changes whenever the file contents change.
	sum := pdf.w.h.Sum(nil)
	first := pdf.opt.ID
	if first == nil {
		first = sum
	}
	xRefDict["ID"] = Array{String(first), String(sum)}

	if pdf.enc != nil {
		encRef := pdf.Alloc()
		err := pdf.put(encRef, pdf.enc.AsDict())
		if err != nil {
			return err
		}
		xRefDict["Encrypt"] = encRef
	}

	var err error
	if pdf.Version < V1_5 || pdf.opt.XRefTable {
		err = pdf.writeXRefTable(xRefDict)
	} else {
		err = pdf.writeXRefStream(xRefDict)
	}
	if err != nil {
		return err
	}

	// Make sure we don't accidentally write beyond the end of file.
	pdf.w = nil
	return nil
}

func (pdf *Writer) writeXRefTable(xRefDict Dict) error {
	xRefPos := pdf.w.pos
	xRefDict["Size"] = Integer(pdf.nextRef)

	_, err := fmt.Fprintf(pdf.w, "xref\n0 %d\n", pdf.nextRef)
	if err != nil {
		return err
	}
	for i := range pdf.nextRef {
		entry := pdf.xref[i]
		if !entry.IsFree() {
			_, err = fmt.Fprintf(pdf.w, "%010d %05d n\r\n",
				entry.Pos, entry.Generation)
		} else {
			_, err = pdf.w.Write([]byte("0000000000 65535 f\r\n"))
		}
		if err != nil {
			return err
		}
	}

	_, err = pdf.w.Write([]byte("trailer\n"))
	if err != nil {
		return err
	}
	err = xRefDict.PDF(pdf.w)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(pdf.w, "\nstartxref\n%d\n%%%%EOF\n", xRefPos)
	return err
}

func (pdf *Writer) writeXRefStream(xRefDict Dict) error {
	// The xref stream lists itself.
	ref := pdf.Alloc()
	xRefPos := pdf.w.pos
	pdf.xref[ref.Number()] = &xRefEntry{Pos: xRefPos}

	xRefDict["Type"] = Name("XRef")
	xRefDict["Size"] = Integer(pdf.nextRef)

	maxField2 := int64(0)
	maxField3 := uint16(0)
	for i := range pdf.nextRef {
		entry := pdf.xref[i]
		if entry.IsFree() {
			continue
		}
		maxField2 = max(maxField2, entry.Pos)
		maxField3 = max(maxField3, entry.Generation)
	}
	w2 := max((bits.Len64(uint64(maxField2))+7)/8, 1)
	w3 := (bits.Len16(maxField3) + 7) / 8
	xRefDict["W"] = Array{Integer(1), Integer(w2), Integer(w3)}

	data := &bytes.Buffer{}
	for i := range pdf.nextRef {
		entry := pdf.xref[i]
		if entry.IsFree() {
			data.WriteByte(0)
			encodeInt(data, 0, w2)
			encodeInt(data, 0, w3)
		} else {
			data.WriteByte(1)
			encodeInt(data, uint64(entry.Pos), w2)
			encodeInt(data, uint64(entry.Generation), w3)
		}
	}

	compressed, err := FlateEncode(data.Bytes())
	if err != nil {
		return err
	}
	xRefDict["Filter"] = Name("FlateDecode")
	stream := &Stream{Dict: xRefDict, Raw: compressed}

	_, err = fmt.Fprintf(pdf.w, "%d 0 obj\n", ref.Number())
	if err != nil {
		return err
	}
	err = stream.PDF(pdf.w)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(pdf.w, "\nendobj\nstartxref\n%d\n%%%%EOF\n", xRefPos)
	return err
}

func encodeInt(data *bytes.Buffer, x uint64, w int) {
	for i := w - 1; i >= 0; i-- {
		data.WriteByte(byte(x >> (i * 8)))
	}
}

type posWriter struct {
	w   io.Writer
	h   hash.Hash
	pos int64
}

func (w *posWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.h.Write(p[:n])
	w.pos += int64(n)
	return n, err
}
