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
	"io"

	"github.com/hhrutter/lzw"
	"github.com/klauspost/compress/zlib"

	"seehuhn.de/go/pdfunlock/ascii85"
	"seehuhn.de/go/pdfunlock/internal/filter/asciihex"
	"seehuhn.de/go/pdfunlock/internal/filter/predict"
	"seehuhn.de/go/pdfunlock/internal/filter/runlength"
)

// Filter is one step of the filter pipeline of a stream.
type Filter struct {
	Name  Name
	Parms Dict
}

// filterNames returns the filter names given in a /Filter entry.
func filterNames(obj Object) []Name {
	switch f := obj.(type) {
	case Name:
		return []Name{f}
	case Array:
		var res []Name
		for _, x := range f {
			if name, ok := x.(Name); ok {
				res = append(res, name)
			}
		}
		return res
	default:
		return nil
	}
}

// canonicalFilter maps abbreviated filter names, which may be used in
// inline images, to the full names.
var canonicalFilter = map[Name]Name{
	"AHx": "ASCIIHexDecode",
	"A85": "ASCII85Decode",
	"Fl":  "FlateDecode",
	"LZW": "LZWDecode",
	"RL":  "RunLengthDecode",
	"CCF": "CCITTFaxDecode",
	"DCT": "DCTDecode",
}

// IsSupported reports whether the filter can be decoded.
func (f Filter) IsSupported() bool {
	switch f.Name {
	case "FlateDecode", "LZWDecode", "ASCIIHexDecode", "ASCII85Decode", "RunLengthDecode":
		return true
	default:
		return false
	}
}

// Decode applies the filter to data.  Filters which are not supported
// give an error wrapping [ErrUnsupportedFilter].
func (f Filter) Decode(data []byte) ([]byte, error) {
	var r io.Reader
	switch f.Name {
	case "FlateDecode":
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("FlateDecode: %w", err)
		}
		defer zr.Close()
		r, err = f.predictor(truncatedOK{zr})
		if err != nil {
			return nil, err
		}
	case "LZWDecode":
		earlyChange := true
		if ec, ok := f.Parms["EarlyChange"].(Integer); ok {
			earlyChange = ec != 0
		}
		lr := lzw.NewReader(bytes.NewReader(data), earlyChange)
		defer lr.Close()
		var err error
		r, err = f.predictor(truncatedOK{lr})
		if err != nil {
			return nil, err
		}
	case "ASCIIHexDecode":
		r = asciihex.Decode(bytes.NewReader(data))
	case "ASCII85Decode":
		r = ascii85.Decode(bytes.NewReader(data))
	case "RunLengthDecode":
		res, err := runlength.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("RunLengthDecode: %w", err)
		}
		return res, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedFilter, f.Name)
	}

	res, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	return res, nil
}

func (f Filter) predictor(r io.Reader) (io.Reader, error) {
	p := predict.DefaultParams()
	if f.Parms != nil {
		for key, ptr := range map[Name]*int{
			"Predictor":        &p.Predictor,
			"Colors":           &p.Colors,
			"BitsPerComponent": &p.BitsPerComponent,
			"Columns":          &p.Columns,
		} {
			if val, ok := f.Parms[key].(Integer); ok {
				*ptr = int(val)
			}
		}
	}
	r, err := predict.NewReader(r, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedFilter, f.Name, err)
	}
	return r, nil
}

// truncatedOK turns the error for a truncated deflate stream into io.EOF.
// Many PDF writers omit the final checksum.
type truncatedOK struct {
	r io.Reader
}

func (t truncatedOK) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

// streamFilters returns the filter pipeline of a stream.  If resolve is not
// nil, it is used to resolve indirect /Filter and /DecodeParms entries.
func streamFilters(dict Dict, resolve func(Object) (Object, error)) []Filter {
	get := func(obj Object) Object {
		if resolve == nil {
			return obj
		}
		res, err := resolve(obj)
		if err != nil {
			return nil
		}
		return res
	}

	var names []Name
	switch f := get(dict["Filter"]).(type) {
	case Name:
		names = []Name{f}
	case Array:
		for _, x := range f {
			if name, ok := get(x).(Name); ok {
				names = append(names, name)
			}
		}
	}
	if len(names) == 0 {
		return nil
	}

	parms := get(dict["DecodeParms"])
	res := make([]Filter, len(names))
	for i, name := range names {
		if full, ok := canonicalFilter[name]; ok {
			name = full
		}
		res[i].Name = name
		switch p := parms.(type) {
		case Dict:
			if i == 0 {
				res[i].Parms = p
			}
		case Array:
			if i < len(p) {
				res[i].Parms, _ = get(p[i]).(Dict)
			}
		}
	}
	return res
}

// applyFilters decodes data by applying all filters in order.
func applyFilters(data []byte, filters []Filter) ([]byte, error) {
	for _, f := range filters {
		var err error
		data, err = f.Decode(data)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// FlateEncode compresses data using the zlib format, for use with the
// FlateDecode filter.
func FlateEncode(data []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw, err := zlib.NewWriterLevel(buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	_, err = zw.Write(data)
	if err != nil {
		return nil, err
	}
	err = zw.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
