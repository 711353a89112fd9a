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
	"errors"
	"fmt"
	"math"
	"strconv"
)

// MaxDepth is the maximal nesting depth of arrays and dictionaries.
const MaxDepth = 64

// A Parser reads PDF objects from an in-memory PDF file.
type Parser struct {
	lex *Lexer

	// getInt is used to find the value of /Length entries in stream
	// dictionaries, which may be indirect references.
	getInt func(Object) (Integer, error)

	warn func(Warning)
}

// NewParser creates a new parser for data.  The function getInt is used to
// resolve the /Length of streams; if it is nil, only direct lengths are
// used.  Non-fatal problems are reported via warn, if it is not nil.
func NewParser(data []byte, getInt func(Object) (Integer, error), warn func(Warning)) *Parser {
	return &Parser{
		lex:    NewLexer(data),
		getInt: getInt,
		warn:   warn,
	}
}

// ParseObject parses a single direct object from buf.
func ParseObject(buf []byte) (Object, error) {
	p := NewParser(buf, nil, nil)
	obj, err := p.ParseObjectAt(0)
	if err != nil {
		return nil, err
	}
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokEOF {
		return nil, errAt(tok.Pos, fmt.Errorf("unexpected %s after object", tok.Kind))
	}
	return obj, nil
}

// Pos returns the current byte offset of the parser.
func (p *Parser) Pos() int64 {
	return p.lex.Pos()
}

// ParseObjectAt parses exactly one object, starting at the given byte
// offset.  Indirect references are returned as [Reference] values,
// without being resolved.
func (p *Parser) ParseObjectAt(pos int64) (Object, error) {
	p.lex.SetPos(pos)
	return p.readObject(0)
}

// ParseIndirectAt parses an indirect object of the form "N G obj ... endobj"
// at the given byte offset.
func (p *Parser) ParseIndirectAt(pos int64) (Reference, Object, error) {
	p.lex.SetPos(pos)

	number, err := p.readInteger()
	if err != nil {
		return 0, nil, err
	}
	generation, err := p.readInteger()
	if err != nil {
		return 0, nil, err
	}
	if number < 0 || number > math.MaxUint32 || generation < 0 || generation > math.MaxUint16 {
		return 0, nil, errAt(pos, fmt.Errorf("invalid object id %d %d", number, generation))
	}
	ref := NewReference(uint32(number), uint16(generation))

	tok, err := p.next()
	if err != nil {
		return 0, nil, err
	}
	if !tok.Is(TokKeyword, "obj") {
		return 0, nil, &MalformedFileError{
			Pos: tok.Pos,
			Ref: ref,
			Err: fmt.Errorf("expected \"obj\" but found %q", tok.Value),
		}
	}

	obj, err := p.readObject(0)
	if err != nil {
		if e, ok := err.(*MalformedFileError); ok && e.Ref == 0 {
			e.Ref = ref
		}
		return 0, nil, err
	}

	save := p.lex.Pos()
	tok, err = p.next()
	if err != nil || !tok.Is(TokKeyword, "endobj") {
		p.lex.SetPos(save)
		p.report(Warning{
			Pos: save,
			Ref: ref,
			Err: errors.New("missing endobj"),
		})
	}

	return ref, obj, nil
}

// next returns the next token, skipping comments.
func (p *Parser) next() (Token, error) {
	for {
		tok, err := p.lex.Next()
		if err != nil {
			return tok, err
		}
		if tok.Kind != TokComment {
			return tok, nil
		}
	}
}

func (p *Parser) readInteger() (Integer, error) {
	tok, err := p.next()
	if err != nil {
		return 0, err
	}
	if tok.Kind != TokInteger {
		return 0, errAt(tok.Pos, fmt.Errorf("expected integer but found %s", tok.Kind))
	}
	x, err := strconv.ParseInt(string(tok.Value), 10, 64)
	if err != nil {
		return 0, errAt(tok.Pos, err)
	}
	return Integer(x), nil
}

func (p *Parser) readObject(depth int) (Object, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}

	switch tok.Kind {
	case TokEOF:
		return nil, &MalformedFileError{
			Pos: tok.Pos,
			Err: fmt.Errorf("%w: unexpected end of input", ErrMalformedToken),
		}
	case TokInteger:
		x, err := strconv.ParseInt(string(tok.Value), 10, 64)
		if err != nil {
			// out of range; PDF readers treat this as a real number
			f, _ := strconv.ParseFloat(string(tok.Value), 64)
			return Real(f), nil
		}
		if ref, ok := p.tryReference(x); ok {
			return ref, nil
		}
		return Integer(x), nil
	case TokReal:
		x, err := strconv.ParseFloat(string(tok.Value), 64)
		if err != nil {
			return nil, errAt(tok.Pos, err)
		}
		return Real(x), nil
	case TokString, TokHexString:
		return String(tok.Value), nil
	case TokName:
		return Name(tok.Value), nil
	case TokKeyword:
		switch string(tok.Value) {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		case "null":
			return nil, nil
		}
	case TokDelimiter:
		switch string(tok.Value) {
		case "[":
			if depth >= MaxDepth {
				return nil, &MalformedFileError{Pos: tok.Pos, Err: ErrStructureTooDeep}
			}
			return p.readArray(tok.Pos, depth+1)
		case "<<":
			if depth >= MaxDepth {
				return nil, &MalformedFileError{Pos: tok.Pos, Err: ErrStructureTooDeep}
			}
			dict, err := p.readDict(tok.Pos, depth+1)
			if err != nil {
				return nil, err
			}

			// check whether this is the start of a stream
			save := p.lex.Pos()
			tok, err := p.next()
			if err == nil && tok.Is(TokKeyword, "stream") {
				return p.readStreamData(dict)
			}
			p.lex.SetPos(save)
			return dict, nil
		}
	}
	return nil, errAt(tok.Pos, fmt.Errorf("unexpected %s %q", tok.Kind, tok.Value))
}

// tryReference checks whether the integer just read is the start of
// an "N G R" reference.  If not, the input position is left unchanged.
func (p *Parser) tryReference(number int64) (Reference, bool) {
	save := p.lex.Pos()
	tok, err := p.next()
	if err == nil && tok.Kind == TokInteger {
		gen, err := strconv.ParseInt(string(tok.Value), 10, 64)
		tok, err2 := p.next()
		if err == nil && err2 == nil && tok.Is(TokKeyword, "R") &&
			number >= 0 && number <= math.MaxUint32 &&
			gen >= 0 && gen <= math.MaxUint16 {
			return NewReference(uint32(number), uint16(gen)), true
		}
	}
	p.lex.SetPos(save)
	return 0, false
}

// readArray reads an array, starting after the opening "[".
func (p *Parser) readArray(start int64, depth int) (Array, error) {
	var array Array
	for {
		save := p.lex.Pos()
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if tok.Is(TokDelimiter, "]") {
			return array, nil
		}
		if tok.Kind == TokEOF {
			return nil, &MalformedFileError{
				Pos: start,
				Err: fmt.Errorf("%w: unterminated array", ErrMalformedToken),
			}
		}
		p.lex.SetPos(save)

		obj, err := p.readObject(depth)
		if err != nil {
			return nil, err
		}
		array = append(array, obj)
	}
}

// readDict reads a dictionary, starting after the opening "<<".
func (p *Parser) readDict(start int64, depth int) (Dict, error) {
	dict := Dict{}
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		switch {
		case tok.Is(TokDelimiter, ">>"):
			return dict, nil
		case tok.Kind == TokEOF:
			return nil, &MalformedFileError{
				Pos: start,
				Err: fmt.Errorf("%w: unterminated dictionary", ErrMalformedToken),
			}
		case tok.Kind != TokName:
			return nil, errAt(tok.Pos, fmt.Errorf("expected dictionary key but found %s", tok.Kind))
		}
		key := Name(tok.Value)

		val, err := p.readObject(depth)
		if err != nil {
			return nil, err
		}
		if val != nil {
			dict[key] = val
		}
	}
}

// readStreamData reads the data of a stream, starting after the
// "stream" keyword.
func (p *Parser) readStreamData(dict Dict) (*Stream, error) {
	start := p.lex.Pos()

	length := int64(-1)
	if lengthObj, ok := dict["Length"]; ok {
		if x, isInt := lengthObj.(Integer); isInt {
			length = int64(x)
		} else if p.getInt != nil {
			x, err := p.getInt(lengthObj)
			if err == nil {
				length = int64(x)
			}
		}
	}

	data, ok, err := p.lex.StreamData(length)
	if err != nil {
		return nil, err
	}
	if !ok {
		p.report(Warning{
			Pos: start,
			Err: fmt.Errorf("invalid stream /Length %s", Format(dict["Length"])),
		})
	}

	return &Stream{
		Dict: dict,
		Raw:  data,
	}, nil
}

func (p *Parser) report(w Warning) {
	if p.warn != nil {
		p.warn(w)
	}
}
