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

// Package asciihex implements the ASCIIHexDecode filter.
package asciihex

import (
	"bufio"
	"fmt"
	"io"
)

// Decode decodes data that has been encoded in ASCII hexadecimal form.
// Decoding stops at the end-of-data marker ">".  A missing marker at the
// end of input is tolerated.
func Decode(r io.Reader) io.Reader {
	return &reader{r: bufio.NewReader(r)}
}

type reader struct {
	r    *bufio.Reader
	err  error
	high byte
	half bool
}

func (r *reader) Read(p []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}

readLoop:
	for n < len(p) {
		c, err := r.r.ReadByte()
		if err != nil {
			r.err = err
			if r.half {
				p[n] = r.high << 4
				n++
				r.half = false
			}
			break readLoop
		}

		var b byte
		switch c {
		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			b = c - '0'
		case 'A', 'B', 'C', 'D', 'E', 'F':
			b = c - 'A' + 10
		case 'a', 'b', 'c', 'd', 'e', 'f':
			b = c - 'a' + 10

		case 0, 9, 10, 12, 13, 32: // white-space
			continue readLoop

		case '>': // end of data
			if r.half {
				p[n] = r.high << 4
				n++
				r.half = false
			}
			r.err = io.EOF
			break readLoop

		default:
			r.err = fmt.Errorf("invalid hex character: %q", c)
			break readLoop
		}

		if r.half {
			p[n] = r.high<<4 | b
			n++
			r.half = false
		} else {
			r.high = b
			r.half = true
		}
	}

	if n > 0 && r.err == io.EOF {
		return n, nil
	}
	return n, r.err
}
