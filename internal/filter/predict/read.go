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

package predict

import (
	"errors"
	"io"
)

// NewReader returns a reader which undoes the predictor described by p on
// the data read from r.  For predictor 1, r is returned unchanged.
func NewReader(r io.Reader, p *Params) (io.Reader, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Predictor == 1 {
		return r, nil
	}

	res := &reader{
		r:      r,
		params: p,
		cur:    make([]byte, p.bytesPerRow()),
	}
	if p.Predictor >= 10 {
		res.prev = make([]byte, p.bytesPerRow())
		res.in = make([]byte, p.bytesPerRow()+1) // +1 for the tag byte
	} else {
		res.in = make([]byte, p.bytesPerRow())
	}
	return res, nil
}

type reader struct {
	r      io.Reader
	params *Params

	in      []byte // encoded row
	cur     []byte // decoded row
	prev    []byte // previous decoded row (PNG only)
	pending []byte // decoded data not yet returned
	err     error
}

// Read implements the [io.Reader] interface.
func (r *reader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) > 0 {
			k := copy(p[n:], r.pending)
			r.pending = r.pending[k:]
			n += k
			continue
		}
		if r.err != nil {
			break
		}

		k, err := io.ReadFull(r.r, r.in)
		if err == io.ErrUnexpectedEOF {
			// A truncated last row is decoded as far as possible.
			err = io.EOF
		}
		if k == 0 {
			r.err = err
			continue
		}
		r.err = err

		var row []byte
		if r.params.Predictor == 2 {
			row = r.decodeTIFF(r.in[:k])
		} else {
			row, err = r.decodePNG(r.in[:k])
			if err != nil {
				r.err = err
				break
			}
		}
		r.pending = row
	}

	if n > 0 {
		return n, nil
	}
	return 0, r.err
}

// decodeTIFF undoes horizontal differencing.  Each component is stored as
// the difference to the same component of the previous sample.
func (r *reader) decodeTIFF(in []byte) []byte {
	row := r.cur[:len(in)]
	copy(row, in)

	bpc := r.params.BitsPerComponent
	colors := r.params.Colors
	n := len(row) * 8 / bpc
	n -= n % colors
	switch bpc {
	case 8:
		for i := colors; i < n; i++ {
			row[i] += row[i-colors]
		}
	case 16:
		for i := colors; i < n; i++ {
			a := uint16(row[2*i])<<8 | uint16(row[2*i+1])
			b := uint16(row[2*(i-colors)])<<8 | uint16(row[2*(i-colors)+1])
			a += b
			row[2*i] = byte(a >> 8)
			row[2*i+1] = byte(a)
		}
	default:
		mask := uint(1)<<bpc - 1
		for i := colors; i < n; i++ {
			v := (getBits(row, i, bpc) + getBits(row, i-colors, bpc)) & mask
			setBits(row, i, bpc, v)
		}
	}
	return row
}

func getBits(row []byte, i, bpc int) uint {
	bit := i * bpc
	shift := 8 - bpc - bit%8
	return uint(row[bit/8]>>shift) & (1<<bpc - 1)
}

func setBits(row []byte, i, bpc int, v uint) {
	bit := i * bpc
	shift := 8 - bpc - bit%8
	mask := byte((1<<bpc - 1) << shift)
	row[bit/8] = row[bit/8]&^mask | byte(v<<shift)&mask
}

// decodePNG decodes one row encoded with a PNG filter.  The first byte
// of the row selects the algorithm.
func (r *reader) decodePNG(in []byte) ([]byte, error) {
	algorithm := in[0]
	data := in[1:]
	row := r.cur[:len(data)]
	prev := r.prev
	bpp := r.params.bytesPerPixel()

	for i, x := range data {
		var left, up, upLeft byte
		if i >= bpp {
			left = row[i-bpp]
			upLeft = prev[i-bpp]
		}
		up = prev[i]

		var pred byte
		switch algorithm {
		case 0: // None
		case 1: // Sub
			pred = left
		case 2: // Up
			pred = up
		case 3: // Average
			pred = byte((int(left) + int(up)) / 2)
		case 4: // Paeth
			pred = paeth(left, up, upLeft)
		default:
			return nil, errInvalidTag
		}
		row[i] = x + pred
	}

	copy(prev, row)
	return row, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

var errInvalidTag = errors.New("invalid PNG predictor tag")
