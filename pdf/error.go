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
	"fmt"
	"strconv"
	"strings"
)

// The following errors classify what went wrong while reading a PDF file.
// They are never returned directly, but are wrapped in one of the error
// types below, which carry the location of the problem.  Use [errors.Is]
// to test for them.
var (
	// ErrMalformedToken indicates a lexical error, for example an
	// unterminated string at the end of the input.
	ErrMalformedToken = errors.New("malformed token")

	// ErrStructureTooDeep indicates that arrays and dictionaries are
	// nested more deeply than [MaxDepth].
	ErrStructureTooDeep = errors.New("structure too deep")

	// ErrBrokenXRef indicates that the cross-reference information
	// could not be read, even after trying to reconstruct it.
	ErrBrokenXRef = errors.New("broken cross-reference table")

	// ErrCyclicPageTree indicates a loop in the /Kids entries of the
	// page tree.
	ErrCyclicPageTree = errors.New("cyclic page tree")

	// ErrUnsupportedFilter indicates that stream data uses a filter
	// which cannot be decoded.  This never aborts processing: the
	// stream data is passed through unchanged.
	ErrUnsupportedFilter = errors.New("unsupported filter")

	// ErrUnsupportedEncryption indicates that the document is encrypted
	// and the file key could not be obtained.
	ErrUnsupportedEncryption = errors.New("unsupported encryption")

	// ErrDanglingReference indicates a reference to an object which does
	// not exist.  Such references are treated as null.
	ErrDanglingReference = errors.New("dangling reference")
)

// MalformedFileError indicates that a PDF file could not be parsed.
type MalformedFileError struct {
	// Pos is the byte offset of the problem, or -1 if unknown.
	Pos int64

	// Ref is the object where the problem occurred, or 0 if unknown.
	Ref Reference

	Err error
}

func (err *MalformedFileError) Error() string {
	middle := ""
	if err.Err != nil {
		middle = ": " + err.Err.Error()
	}
	var tail []string
	if err.Ref != 0 {
		tail = append(tail, "in object "+err.Ref.String())
	}
	if err.Pos >= 0 {
		tail = append(tail, "at byte "+strconv.FormatInt(err.Pos, 10))
	}
	res := "not a valid PDF file" + middle
	if len(tail) > 0 {
		res += " (" + strings.Join(tail, ", ") + ")"
	}
	return res
}

func (err *MalformedFileError) Unwrap() error {
	return err.Err
}

func errAt(pos int64, err error) error {
	return &MalformedFileError{Pos: pos, Err: err}
}

// PageError is used for problems which concern a specific page of a
// document.
type PageError struct {
	// Index is the zero-based position of the page in the document, or -1
	// if the problem was found before the page could be numbered.
	Index int
	Ref   Reference
	Err   error
}

func (err *PageError) Error() string {
	var loc string
	if err.Index >= 0 {
		loc = "page " + strconv.Itoa(err.Index+1)
	} else {
		loc = "page tree"
	}
	if err.Ref != 0 {
		loc += " (" + err.Ref.String() + ")"
	}
	return loc + ": " + err.Err.Error()
}

func (err *PageError) Unwrap() error {
	return err.Err
}

// AuthenticationError indicates that none of the available passwords
// could unlock the document with the given ID.
type AuthenticationError struct {
	ID []byte
}

func (err *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for document ID %x", err.ID)
}

// Unwrap makes failed authentication match [ErrUnsupportedEncryption].
func (err *AuthenticationError) Unwrap() error {
	return ErrUnsupportedEncryption
}

// Warning describes a non-fatal problem found while reading a document.
type Warning struct {
	Pos int64
	Ref Reference
	Err error
}

func (w Warning) String() string {
	res := &MalformedFileError{Pos: w.Pos, Ref: w.Ref, Err: w.Err}
	if inner, ok := w.Err.(*MalformedFileError); ok {
		res.Err = inner.Err
		if res.Pos < 0 {
			res.Pos = inner.Pos
		}
		if res.Ref == 0 {
			res.Ref = inner.Ref
		}
	}
	return res.Error()
}

type wrappedError struct {
	Loc []string
	Err error
}

func (err *wrappedError) Error() string {
	parts := make([]string, 0, len(err.Loc)+1)
	for i := len(err.Loc) - 1; i >= 0; i-- {
		parts = append(parts, err.Loc[i])
	}
	parts = append(parts, err.Err.Error())
	return strings.Join(parts, ": ")
}

func (err *wrappedError) Unwrap() error {
	return err.Err
}

// wrap adds location information to an error.
func wrap(err error, loc string) error {
	if err == nil {
		return nil
	}
	if w, ok := err.(*wrappedError); ok {
		w.Loc = append(w.Loc, loc)
		return w
	}
	return &wrappedError{
		Loc: []string{loc},
		Err: err,
	}
}

var (
	errCorrupted       = errors.New("corrupted ciphertext")
	errInvalidPassword = errors.New("invalid password")
)
