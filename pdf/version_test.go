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
	"testing"
)

func TestVersionString(t *testing.T) {
	for ver := V1_0; ver <= V2_0; ver++ {
		s := ver.String()
		back, err := ParseVersion(s)
		if err != nil || back != ver {
			t.Errorf("%s: got %s, %v", s, back, err)
		}
	}
	if _, err := ParseVersion("1.8"); err == nil {
		t.Error("invalid version accepted")
	}
}

func TestReadHeaderVersion(t *testing.T) {
	cases := []struct {
		in  string
		ver Version
		pos int64
		err error
	}{
		{"%PDF-1.7\n", V1_7, 0, nil},
		{"%PDF-1.0", V1_0, 0, nil},
		{"junk\r\n%PDF-2.0\n", V2_0, 6, nil},
		{"%PDF-1.9\n", 0, 0, errVersion},
		{"%PDF-1", 0, 0, errVersion},
		{"%!PS-Adobe-3.0\n", 0, 0, errNoHeader},
		{"", 0, 0, errNoHeader},
	}
	for _, test := range cases {
		ver, pos, err := readHeaderVersion([]byte(test.in))
		if !errors.Is(err, test.err) {
			t.Errorf("%q: got error %v, want %v", test.in, err, test.err)
			continue
		}
		if test.err != nil {
			continue
		}
		if ver != test.ver || pos != test.pos {
			t.Errorf("%q: got %s at %d", test.in, ver, pos)
		}
	}
}
