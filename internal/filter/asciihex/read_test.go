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

package asciihex

import (
	"bytes"
	"io"
	"testing"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{">", ""},
		{"414243>", "ABC"},
		{"41 42\n43>", "ABC"},
		{"4142434>", "ABC@"},
		{"6a6B>ignored", "jk"},
		{"414243", "ABC"},
		{"", ""},
	}
	for _, test := range cases {
		out, err := io.ReadAll(Decode(bytes.NewReader([]byte(test.in))))
		if err != nil {
			t.Errorf("%q: %v", test.in, err)
			continue
		}
		if string(out) != test.out {
			t.Errorf("%q: got %q, want %q", test.in, out, test.out)
		}
	}
}

func TestInvalid(t *testing.T) {
	_, err := io.ReadAll(Decode(bytes.NewReader([]byte("41x2>"))))
	if err == nil {
		t.Error("expected an error")
	}
}
