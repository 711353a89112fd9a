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

package pdfunlock

// Operations which can fail for a file.
const (
	OpRead   = "read"
	OpUnlock = "unlock"
	OpWrite  = "write"
	OpDelete = "delete"
)

// FileError records a failure to unlock a file, together with the step
// which failed and the file concerned.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (err *FileError) Error() string {
	return err.Op + " " + err.Path + ": " + err.Err.Error()
}

func (err *FileError) Unwrap() error {
	return err.Err
}
