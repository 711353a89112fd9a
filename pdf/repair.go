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

import "regexp"

// repairResult is the outcome of a linear scan over a PDF file, used when
// the cross-reference information is broken.
type repairResult struct {
	xref    map[uint32]*xRefEntry
	trailer Dict

	// catalog is the last document catalog found in the file, preferring
	// catalogs which have a /Pages entry.
	catalog Reference

	// objStms lists the object streams found in the file, in file order.
	objStms []Reference
}

// scanObjects reconstructs cross-reference information by scanning the
// file for "N G obj" markers.  If an object occurs more than once, the
// later occurrence wins, since incremental updates are appended to the
// file.  The trailer is assembled from "trailer" dictionaries and
// cross-reference stream dictionaries, newest first.
func scanObjects(data []byte) *repairResult {
	res := &repairResult{
		xref: make(map[uint32]*xRefEntry),
	}

	p := NewParser(data, nil, nil)
	var trailers []Dict
	catalogHasPages := false
	var end int64
	for _, m := range markerRegexp.FindAllSubmatchIndex(data, -1) {
		if m[2] >= 0 {
			pos := int64(m[2])
			if pos < end {
				// inside the previous object, e.g. in stream data
				continue
			}
			ref, obj, err := p.ParseIndirectAt(pos)
			if err != nil {
				continue
			}
			end = p.Pos()
			res.xref[ref.Number()] = &xRefEntry{
				Pos:        pos,
				Generation: ref.Generation(),
			}

			switch obj := obj.(type) {
			case Dict:
				if obj["Type"] == Name("Catalog") {
					_, hasPages := obj["Pages"]
					if hasPages || !catalogHasPages {
						res.catalog = ref
						catalogHasPages = hasPages
					}
				}
			case *Stream:
				switch obj.Dict["Type"] {
				case Name("ObjStm"):
					if _, hasFirst := obj.Dict["First"]; hasFirst {
						res.objStms = append(res.objStms, ref)
					}
				case Name("XRef"):
					trailers = append(trailers, obj.Dict)
				}
			}
		} else if m[6] >= 0 {
			pos := int64(m[7])
			if pos < end {
				continue
			}
			obj, err := p.ParseObjectAt(pos)
			if err != nil {
				continue
			}
			end = p.Pos()
			if dict, ok := obj.(Dict); ok {
				trailers = append(trailers, dict)
			}
		}
	}

	trailer := Dict{}
	for i := len(trailers) - 1; i >= 0; i-- {
		for _, key := range []Name{"Root", "Encrypt", "Info", "ID"} {
			if _, ok := trailer[key]; ok {
				continue
			}
			if val, ok := trailers[i][key]; ok {
				trailer[key] = val
			}
		}
	}
	if _, hasRoot := trailer["Root"]; !hasRoot && res.catalog != 0 {
		trailer["Root"] = res.catalog
	}
	res.trailer = trailer

	return res
}

var (
	whiteSpacePat = `[\000\011\014 ]*`
	objectPat     = `([0-9]{1,10})[\000\011\014\r\n ]+([0-9]{1,5})[\000\011\014\r\n ]+obj`
	markerPat     = `(?:\A|[\r\n])` + whiteSpacePat + `(?:` + objectPat + `|(trailer))\b`
	markerRegexp  = regexp.MustCompile(markerPat)
)
