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

// Package runlength implements the RunLengthDecode filter.
package runlength

import "errors"

// eod marks the end of the encoded data.
const eod = 128

// Decode expands run-length encoded data.  Decoding stops at the
// end-of-data marker; a missing marker is tolerated.
func Decode(data []byte) ([]byte, error) {
	res := make([]byte, 0, 2*len(data))
	for pos := 0; pos < len(data); {
		length := data[pos]
		pos++
		switch {
		case length == eod:
			return res, nil

		case length < eod:
			count := int(length) + 1 // 1, ..., 128
			if pos+count > len(data) {
				return res, errTruncated
			}
			res = append(res, data[pos:pos+count]...)
			pos += count

		default:
			count := 257 - int(length) // 2, ..., 128
			if pos >= len(data) {
				return res, errTruncated
			}
			value := data[pos]
			pos++
			for range count {
				res = append(res, value)
			}
		}
	}
	return res, nil
}

var errTruncated = errors.New("truncated run-length data")
