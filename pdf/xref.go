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
	"math"
	"strconv"
)

// maxXRefSections limits the number of cross-reference sections which are
// read when following the /Prev chain.
const maxXRefSections = 1024

type xRefEntry struct {
	// InStream is the object stream which contains the object, or 0 if the
	// object is stored directly in the file.
	InStream Reference

	// Pos is the byte offset of the object in the file, or the index of the
	// object within the object stream.  Pos is -1 for free entries.
	Pos int64

	Generation uint16
}

// IsFree reports whether the entry describes a free object.
func (entry *xRefEntry) IsFree() bool {
	return entry == nil || entry.Pos < 0
}

// findXRef locates the "startxref" line at the end of the file and returns
// the byte offset of the cross-reference section it points to.
func findXRef(data []byte) (int64, error) {
	pos := bytes.LastIndex(data, []byte("startxref"))
	if pos < 0 {
		return 0, &MalformedFileError{
			Pos: -1,
			Err: fmt.Errorf("%w: startxref not found", ErrBrokenXRef),
		}
	}

	p := NewParser(data, nil, nil)
	p.lex.SetPos(int64(pos) + 9)
	xRefPos, err := p.readInteger()
	if err != nil {
		return 0, &MalformedFileError{
			Pos: int64(pos),
			Err: fmt.Errorf("%w: %w", ErrBrokenXRef, err),
		}
	}
	if xRefPos <= 0 || int64(xRefPos) >= int64(len(data)) {
		return 0, &MalformedFileError{
			Pos: int64(pos),
			Err: fmt.Errorf("%w: invalid xref position %d", ErrBrokenXRef, xRefPos),
		}
	}

	return int64(xRefPos), nil
}

// readXRef reads all cross-reference sections of a file, starting with the
// one given by "startxref" and following the /Prev chain.  Entries from
// newer sections take precedence over entries for the same object number
// in older sections.
func readXRef(data []byte, warn func(Warning)) (map[uint32]*xRefEntry, Dict, error) {
	start, err := findXRef(data)
	if err != nil {
		return nil, nil, err
	}

	xref := make(map[uint32]*xRefEntry)
	trailer := Dict{}
	seen := make(map[int64]bool)
	for count := 0; ; count++ {
		if seen[start] {
			if warn != nil {
				warn(Warning{Pos: start, Err: errors.New("loop in /Prev chain")})
			}
			break
		}
		if count >= maxXRefSections {
			return nil, nil, &MalformedFileError{
				Pos: start,
				Err: fmt.Errorf("%w: more than %d xref sections", ErrBrokenXRef, maxXRefSections),
			}
		}
		seen[start] = true

		section := make(map[uint32]*xRefEntry)
		dict, err := readXRefSection(data, start, section)
		if err != nil {
			return nil, nil, err
		}

		if xRefStm, ok := dict["XRefStm"]; ok {
			// hybrid file: the xref stream lists the objects which are
			// stored in object streams
			zStart, ok := xRefStm.(Integer)
			if !ok || zStart <= 0 || int64(zStart) >= int64(len(data)) {
				return nil, nil, &MalformedFileError{
					Pos: start,
					Err: fmt.Errorf("%w: invalid /XRefStm %s", ErrBrokenXRef, Format(xRefStm)),
				}
			}
			streamSection := make(map[uint32]*xRefEntry)
			_, err = readXRefStream(data, int64(zStart), streamSection)
			if err != nil {
				return nil, nil, err
			}
			for num, entry := range streamSection {
				if section[num].IsFree() {
					section[num] = entry
				}
			}
		}

		for num, entry := range section {
			if _, ok := xref[num]; !ok {
				xref[num] = entry
			}
		}

		for _, key := range []Name{"Root", "Encrypt", "Info", "ID", "Size"} {
			if _, ok := trailer[key]; ok {
				continue
			}
			if val, ok := dict[key]; ok {
				trailer[key] = val
			}
		}

		prev := dict["Prev"]
		if prev == nil {
			break
		}
		prevStart, ok := prev.(Integer)
		if !ok || prevStart <= 0 || int64(prevStart) >= int64(len(data)) {
			return nil, nil, &MalformedFileError{
				Pos: start,
				Err: fmt.Errorf("%w: invalid /Prev value %s", ErrBrokenXRef, Format(prev)),
			}
		}
		start = int64(prevStart)
	}

	return xref, trailer, nil
}

// readXRefSection reads one cross-reference section, either a table or a
// stream, into xref and returns the corresponding trailer dictionary.
func readXRefSection(data []byte, start int64, xref map[uint32]*xRefEntry) (Dict, error) {
	lex := NewLexer(data)
	lex.SetPos(start)
	lex.SkipWhiteSpace()
	if bytes.HasPrefix(data[lex.Pos():], []byte("xref")) {
		return readXRefTable(data, lex.Pos(), xref)
	}
	return readXRefStream(data, lex.Pos(), xref)
}

// readXRefTable reads a classic cross-reference table, starting at the
// "xref" keyword.
func readXRefTable(data []byte, start int64, xref map[uint32]*xRefEntry) (Dict, error) {
	p := NewParser(data, nil, nil)
	p.lex.SetPos(start + 4)

	for {
		tok, err := p.next()
		if err != nil {
			return nil, wrapXRef(err)
		}
		if tok.Is(TokKeyword, "trailer") {
			break
		}
		if tok.Kind != TokInteger {
			return nil, &MalformedFileError{
				Pos: tok.Pos,
				Err: fmt.Errorf("%w: unexpected %s in xref table", ErrBrokenXRef, tok.Kind),
			}
		}
		first, err1 := strconv.ParseInt(string(tok.Value), 10, 64)
		count, err2 := p.readInteger()
		if err1 != nil || err2 != nil || first < 0 || count < 0 || first+int64(count) > math.MaxUint32 {
			return nil, &MalformedFileError{
				Pos: tok.Pos,
				Err: fmt.Errorf("%w: invalid xref subsection header", ErrBrokenXRef),
			}
		}

		err = decodeXRefSection(p, xref, first, int64(count))
		if err != nil {
			return nil, err
		}
	}

	obj, err := p.readObject(0)
	if err != nil {
		return nil, wrapXRef(err)
	}
	dict, ok := obj.(Dict)
	if !ok {
		return nil, &MalformedFileError{
			Pos: p.Pos(),
			Err: fmt.Errorf("%w: invalid trailer dictionary", ErrBrokenXRef),
		}
	}
	return dict, nil
}

// decodeXRefSection reads the entries of one subsection of an xref table.
// Entries are read as tokens, so that non-standard line endings are
// tolerated.
func decodeXRefSection(p *Parser, xref map[uint32]*xRefEntry, first, count int64) error {
	for i := int64(0); i < count; i++ {
		pos := p.Pos()
		offs, err := p.readInteger()
		if err != nil {
			return wrapXRef(err)
		}
		gen, err := p.readInteger()
		if err != nil {
			return wrapXRef(err)
		}
		tok, err := p.next()
		if err != nil {
			return wrapXRef(err)
		}

		// A common error: the first subsection starts at 1 instead of 0,
		// but still contains the entry for the free object 0.
		if i == 0 && first == 1 && offs == 0 && gen == 65535 && tok.Is(TokKeyword, "f") {
			first = 0
		}

		// fix a common error in some PDF files
		if gen == 65536 && tok.Is(TokKeyword, "f") {
			gen = 65535
		}
		if offs < 0 || gen < 0 || gen > 65535 {
			return &MalformedFileError{
				Pos: pos,
				Err: fmt.Errorf("%w: invalid xref entry", ErrBrokenXRef),
			}
		}

		num := uint32(first + i)
		if _, ok := xref[num]; ok {
			continue
		}
		switch {
		case tok.Is(TokKeyword, "f"):
			xref[num] = &xRefEntry{
				Pos:        -1,
				Generation: uint16(gen),
			}
		case tok.Is(TokKeyword, "n"):
			xref[num] = &xRefEntry{
				Pos:        int64(offs),
				Generation: uint16(gen),
			}
		default:
			return &MalformedFileError{
				Pos: tok.Pos,
				Err: fmt.Errorf("%w: malformed xref table", ErrBrokenXRef),
			}
		}
	}
	return nil
}

// readXRefStream reads a cross-reference stream at the given position.
func readXRefStream(data []byte, start int64, xref map[uint32]*xRefEntry) (Dict, error) {
	p := NewParser(data, nil, nil)
	_, obj, err := p.ParseIndirectAt(start)
	if err != nil {
		return nil, wrapXRef(err)
	}
	stream, ok := obj.(*Stream)
	if !ok {
		return nil, &MalformedFileError{
			Pos: start,
			Err: fmt.Errorf("%w: invalid xref stream", ErrBrokenXRef),
		}
	}
	dict := stream.Dict

	w, ss, err := checkXRefStreamDict(dict)
	if err != nil {
		return nil, &MalformedFileError{Pos: start, Err: err}
	}
	decoded, err := applyFilters(stream.Raw, streamFilters(dict, nil))
	if err != nil {
		return nil, &MalformedFileError{
			Pos: start,
			Err: fmt.Errorf("%w: %w", ErrBrokenXRef, err),
		}
	}
	err = decodeXRefStream(xref, decoded, w, ss)
	if err != nil {
		return nil, &MalformedFileError{Pos: start, Err: err}
	}

	return dict, nil
}

type xRefSubSection struct {
	Start, Size int64
}

func checkXRefStreamDict(dict Dict) ([]int, []xRefSubSection, error) {
	size, ok := dict["Size"].(Integer)
	if !ok || size < 0 || size > math.MaxUint32 {
		return nil, nil, fmt.Errorf("%w: invalid /Size in xref stream", ErrBrokenXRef)
	}
	W, ok := dict["W"].(Array)
	if !ok || len(W) < 3 {
		return nil, nil, fmt.Errorf("%w: invalid /W in xref stream", ErrBrokenXRef)
	}
	var w []int
	for i, Wi := range W {
		wi, ok := Wi.(Integer)
		if !ok || wi < 0 || i < 3 && wi > 8 {
			return nil, nil, fmt.Errorf("%w: invalid /W in xref stream", ErrBrokenXRef)
		}
		w = append(w, int(wi))
	}

	var ss []xRefSubSection
	switch Index := dict["Index"].(type) {
	case nil:
		ss = append(ss, xRefSubSection{0, int64(size)})
	case Array:
		if len(Index)%2 != 0 {
			return nil, nil, fmt.Errorf("%w: invalid /Index in xref stream", ErrBrokenXRef)
		}
		for i := 0; i < len(Index); i += 2 {
			start, ok1 := Index[i].(Integer)
			n, ok2 := Index[i+1].(Integer)
			if !ok1 || !ok2 || start < 0 || n < 0 || start+n > math.MaxUint32 {
				return nil, nil, fmt.Errorf("%w: invalid /Index in xref stream", ErrBrokenXRef)
			}
			ss = append(ss, xRefSubSection{int64(start), int64(n)})
		}
	default:
		return nil, nil, fmt.Errorf("%w: invalid /Index in xref stream", ErrBrokenXRef)
	}
	return w, ss, nil
}

func decodeXRefStream(xref map[uint32]*xRefEntry, data []byte, w []int, ss []xRefSubSection) error {
	wTotal := 0
	for _, wi := range w {
		wTotal += wi
	}
	if wTotal == 0 {
		return fmt.Errorf("%w: empty xref stream entries", ErrBrokenXRef)
	}

	w0 := w[0]
	w1 := w[1]
	w2 := w[2]
	for _, sec := range ss {
		if sec.Size > int64(len(data)/wTotal) {
			return fmt.Errorf("%w: xref stream data too short", ErrBrokenXRef)
		}
		for i := sec.Start; i < sec.Start+sec.Size; i++ {
			buf := data[:wTotal]
			data = data[wTotal:]

			num := uint32(i)
			if _, ok := xref[num]; ok {
				continue
			}

			tp := decodeInt(buf[:w0])
			if w0 == 0 {
				tp = 1
			}
			a := decodeInt(buf[w0 : w0+w1])
			b := decodeInt(buf[w0+w1 : w0+w1+w2])
			switch tp {
			case 0:
				// free object: a = next free object,
				// b = generation number for reuse
				xref[num] = &xRefEntry{
					Pos:        -1,
					Generation: uint16(b),
				}
			case 1:
				// a = byte offset, b = generation number
				xref[num] = &xRefEntry{
					Pos:        a,
					Generation: uint16(b),
				}
			case 2:
				// a = object number of the object stream,
				// b = index within the stream
				if a < 0 || a > math.MaxUint32 {
					continue
				}
				xref[num] = &xRefEntry{
					InStream: NewReference(uint32(a), 0),
					Pos:      b,
				}
			default:
				// Unknown types are treated as references to the null
				// object.
			}
		}
	}
	return nil
}

func decodeInt(buf []byte) (res int64) {
	for _, x := range buf {
		res = res<<8 | int64(x)
	}
	return res
}

// wrapXRef marks errors found while reading cross-reference information.
func wrapXRef(err error) error {
	if errors.Is(err, ErrBrokenXRef) {
		return err
	}
	if e, ok := err.(*MalformedFileError); ok {
		return &MalformedFileError{
			Pos: e.Pos,
			Ref: e.Ref,
			Err: fmt.Errorf("%w: %w", ErrBrokenXRef, e.Err),
		}
	}
	return &MalformedFileError{
		Pos: -1,
		Err: fmt.Errorf("%w: %w", ErrBrokenXRef, err),
	}
}
