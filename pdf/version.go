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
)

// Version represent the version of PDF standard used in a file.
type Version int

// PDF versions supported by this library.
const (
	_ Version = iota
	V1_0
	V1_1
	V1_2
	V1_3
	V1_4
	V1_5
	V1_6
	V1_7
	V2_0
)

// ParseVersion parses a PDF version string.
func ParseVersion(verString string) (Version, error) {
	switch verString {
	case "1.0":
		return V1_0, nil
	case "1.1":
		return V1_1, nil
	case "1.2":
		return V1_2, nil
	case "1.3":
		return V1_3, nil
	case "1.4":
		return V1_4, nil
	case "1.5":
		return V1_5, nil
	case "1.6":
		return V1_6, nil
	case "1.7":
		return V1_7, nil
	case "2.0":
		return V2_0, nil
	}
	return 0, errVersion
}

func (ver Version) String() string {
	if ver >= V1_0 && ver <= V1_7 {
		return fmt.Sprintf("1.%d", ver-V1_0)
	} else if ver == V2_0 {
		return "2.0"
	}
	return fmt.Sprintf("Version(%d)", int(ver))
}

// headerSearchLimit is how far into the file we look for the "%PDF-"
// header.  Some files have junk before the header.
const headerSearchLimit = 1024

// readHeaderVersion finds the "%PDF-x.y" header and returns the version
// together with the offset of the header.
func readHeaderVersion(data []byte) (Version, int64, error) {
	head := data[:min(len(data), headerSearchLimit)]
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return 0, 0, &MalformedFileError{Pos: 0, Err: errNoHeader}
	}
	rest := data[idx+5:]
	if len(rest) < 3 {
		return 0, 0, &MalformedFileError{Pos: int64(idx), Err: errVersion}
	}
	ver, err := ParseVersion(string(rest[:3]))
	if err != nil {
		return 0, 0, &MalformedFileError{Pos: int64(idx), Err: err}
	}
	return ver, int64(idx), nil
}

var (
	errNoHeader = errors.New("PDF header not found")
	errVersion  = errors.New("unsupported PDF version")
)
