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
)

// TokenKind describes the lexical class of a [Token].
type TokenKind int

// These are the token kinds returned by [Lexer.Next].
const (
	TokEOF       TokenKind = iota
	TokDelimiter           // [ ] << >> { }
	TokKeyword             // obj, endobj, stream, R, true, null, ...
	TokInteger
	TokReal
	TokString    // literal string, Value holds the decoded bytes
	TokHexString // hex string, Value holds the decoded bytes
	TokName      // Value holds the decoded name, without the slash
	TokComment
)

func (k TokenKind) String() string {
	switch k {
	case TokEOF:
		return "EOF"
	case TokDelimiter:
		return "delimiter"
	case TokKeyword:
		return "keyword"
	case TokInteger:
		return "integer"
	case TokReal:
		return "real"
	case TokString:
		return "string"
	case TokHexString:
		return "hex string"
	case TokName:
		return "name"
	case TokComment:
		return "comment"
	default:
		return fmt.Sprintf("TokenKind(%d)", int(k))
	}
}

// A Token is a lexical unit of PDF syntax.
type Token struct {
	Kind TokenKind

	// Pos is the byte offset of the first byte of the token.
	Pos int64

	// Value is the raw text of delimiters, keywords, numbers and comments,
	// and the decoded contents of strings and names.
	Value []byte
}

// Is reports whether the token is the given delimiter or keyword.
func (t Token) Is(kind TokenKind, val string) bool {
	return t.Kind == kind && string(t.Value) == val
}

func (t Token) String() string {
	return fmt.Sprintf("%s %q at %d", t.Kind, t.Value, t.Pos)
}

// A Lexer splits PDF data into tokens.  The lexer operates on an in-memory
// copy of the file and can be restarted at any byte offset using
// [Lexer.SetPos].
type Lexer struct {
	data []byte
	pos  int
}

// NewLexer returns a lexer which starts at the beginning of data.
func NewLexer(data []byte) *Lexer {
	return &Lexer{data: data}
}

// Pos returns the current byte offset.
func (l *Lexer) Pos() int64 {
	return int64(l.pos)
}

// SetPos moves the lexer to the given byte offset.
func (l *Lexer) SetPos(pos int64) {
	if pos < 0 {
		pos = 0
	} else if pos > int64(len(l.data)) {
		pos = int64(len(l.data))
	}
	l.pos = int(pos)
}

// SkipWhiteSpace advances past white space and comments.
func (l *Lexer) SkipWhiteSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\r' && l.data[l.pos] != '\n' {
				l.pos++
			}
		} else if isSpace[c] {
			l.pos++
		} else {
			return
		}
	}
}

// Next returns the next token.  White space is skipped, comments are
// returned as [TokComment] tokens.  At the end of the input, a token of kind
// [TokEOF] is returned.
func (l *Lexer) Next() (Token, error) {
	for l.pos < len(l.data) && isSpace[l.data[l.pos]] {
		l.pos++
	}
	start := l.pos
	if start >= len(l.data) {
		return Token{Kind: TokEOF, Pos: int64(start)}, nil
	}

	c := l.data[start]
	switch c {
	case '%':
		for l.pos < len(l.data) && l.data[l.pos] != '\r' && l.data[l.pos] != '\n' {
			l.pos++
		}
		return l.token(TokComment, start), nil
	case '[', ']', '{', '}':
		l.pos++
		return l.token(TokDelimiter, start), nil
	case '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			l.pos += 2
			return l.token(TokDelimiter, start), nil
		}
		l.pos++
		return l.readHexString(start)
	case '>':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '>' {
			l.pos += 2
			return l.token(TokDelimiter, start), nil
		}
		l.pos++
		return Token{}, l.malformed(start, "unexpected '>'")
	case ')':
		l.pos++
		return Token{}, l.malformed(start, "unexpected ')'")
	case '(':
		l.pos++
		return l.readLiteralString(start)
	case '/':
		l.pos++
		return l.readName(start), nil
	}

	for l.pos < len(l.data) && !isSpace[l.data[l.pos]] && !isDelimiter[l.data[l.pos]] {
		l.pos++
	}
	tok := l.token(TokKeyword, start)
	if kind, ok := numberKind(tok.Value); ok {
		tok.Kind = kind
	}
	return tok, nil
}

func (l *Lexer) token(kind TokenKind, start int) Token {
	return Token{
		Kind:  kind,
		Pos:   int64(start),
		Value: l.data[start:l.pos],
	}
}

func (l *Lexer) malformed(pos int, msg string) error {
	return &MalformedFileError{
		Pos: int64(pos),
		Err: fmt.Errorf("%w: %s", ErrMalformedToken, msg),
	}
}

// numberKind checks whether buf has the form of a PDF number.
func numberKind(buf []byte) (TokenKind, bool) {
	if len(buf) == 0 {
		return 0, false
	}
	i := 0
	if buf[0] == '+' || buf[0] == '-' {
		i++
	}
	digits := 0
	dots := 0
	for ; i < len(buf); i++ {
		c := buf[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
		default:
			return 0, false
		}
	}
	if digits == 0 || dots > 1 {
		return 0, false
	}
	if dots == 1 {
		return TokReal, true
	}
	return TokInteger, true
}

// readLiteralString reads a ()-delimited string, starting after the opening
// bracket.
func (l *Lexer) readLiteralString(start int) (Token, error) {
	var res []byte
	level := 0
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.data) {
				return Token{}, l.malformed(start, "unterminated string")
			}
			c = l.data[l.pos]
			l.pos++
			switch c {
			case 'n':
				res = append(res, '\n')
			case 'r':
				res = append(res, '\r')
			case 't':
				res = append(res, '\t')
			case 'b':
				res = append(res, '\b')
			case 'f':
				res = append(res, '\f')
			case '\r':
				// line continuation
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
				// line continuation
			case '0', '1', '2', '3', '4', '5', '6', '7':
				val := c - '0'
				for k := 0; k < 2 && l.pos < len(l.data); k++ {
					d := l.data[l.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val*8 + (d - '0')
					l.pos++
				}
				res = append(res, val)
			default:
				// includes \( \) and \\
				res = append(res, c)
			}
		case '\r':
			if l.pos < len(l.data) && l.data[l.pos] == '\n' {
				l.pos++
			}
			res = append(res, '\n')
		case '(':
			level++
			res = append(res, c)
		case ')':
			if level == 0 {
				return Token{Kind: TokString, Pos: int64(start), Value: res}, nil
			}
			level--
			res = append(res, c)
		default:
			res = append(res, c)
		}
	}
	return Token{}, l.malformed(start, "unterminated string")
}

// readHexString reads a <>-delimited string, starting after the opening
// angle bracket.
func (l *Lexer) readHexString(start int) (Token, error) {
	var res []byte
	var hexVal byte
	first := true
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++

		var d byte
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case c == '>':
			if !first {
				res = append(res, hexVal<<4)
			}
			return Token{Kind: TokHexString, Pos: int64(start), Value: res}, nil
		case isSpace[c]:
			continue
		default:
			return Token{}, l.malformed(l.pos-1, fmt.Sprintf("invalid character %q in hex string", c))
		}
		if first {
			hexVal = d
		} else {
			res = append(res, hexVal<<4|d)
		}
		first = !first
	}
	return Token{}, l.malformed(start, "unterminated hex string")
}

// readName reads a name, starting after the slash.
func (l *Lexer) readName(start int) Token {
	var res []byte
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isSpace[c] || isDelimiter[c] {
			break
		}
		l.pos++
		if c == '#' && l.pos+1 < len(l.data) {
			hi, ok1 := hexDigit(l.data[l.pos])
			lo, ok2 := hexDigit(l.data[l.pos+1])
			if ok1 && ok2 {
				res = append(res, hi<<4|lo)
				l.pos += 2
				continue
			}
		}
		res = append(res, c)
	}
	return Token{Kind: TokName, Pos: int64(start), Value: res}
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// StreamData returns the data of a stream, starting immediately after the
// "stream" keyword.  If length is non-negative and is followed by the
// "endstream" keyword, exactly length bytes are returned.  Otherwise, the
// data extends to the next "endstream" keyword and ok is false.
// The lexer is positioned after "endstream".
func (l *Lexer) StreamData(length int64) (data []byte, ok bool, err error) {
	// The keyword "stream" is followed by CRLF or LF.  Some writers
	// use a single CR or add spaces.
	for l.pos < len(l.data) && (l.data[l.pos] == ' ' || l.data[l.pos] == '\t') {
		l.pos++
	}
	if l.pos < len(l.data) && l.data[l.pos] == '\r' {
		l.pos++
	}
	if l.pos < len(l.data) && l.data[l.pos] == '\n' {
		l.pos++
	}
	start := l.pos

	if length >= 0 && int64(start)+length <= int64(len(l.data)) {
		end := start + int(length)
		l.pos = end
		l.SkipWhiteSpace()
		if bytes.HasPrefix(l.data[l.pos:], endstream) {
			l.pos += len(endstream)
			return l.data[start:end], true, nil
		}
	}

	idx := bytes.Index(l.data[start:], endstream)
	if idx < 0 {
		l.pos = start
		return nil, false, l.malformed(start, "missing endstream")
	}
	end := start + idx
	l.pos = end + len(endstream)
	if end > start && l.data[end-1] == '\n' {
		end--
	}
	if end > start && l.data[end-1] == '\r' {
		end--
	}
	return l.data[start:end], false, nil
}

var endstream = []byte("endstream")

var (
	isSpace = [256]bool{
		0:  true,
		9:  true,
		10: true,
		12: true,
		13: true,
		32: true,
	}
	isDelimiter = [256]bool{
		'(': true,
		')': true,
		'<': true,
		'>': true,
		'[': true,
		']': true,
		'{': true,
		'}': true,
		'/': true,
		'%': true,
	}
)
