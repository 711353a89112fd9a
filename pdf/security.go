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
	"slices"
	"strings"
)

// PermissionSet describes the security settings of a document.
type PermissionSet struct {
	// Encrypted is true if the trailer has an /Encrypt entry.
	Encrypted bool

	// Filter is the name of the security handler, V the version of the
	// encryption algorithm and R the revision of the standard security
	// handler.  R is zero for other security handlers.
	Filter Name
	V, R   int

	// P is the raw permission value from the encryption dictionary, and
	// Perm the decoded permissions for user access.
	P    int32
	Perm Perm

	// StringFilter and StreamFilter describe the crypt filters used for
	// strings and streams, e.g. "AES-128" or "Identity".
	StringFilter, StreamFilter string

	// RequiresDecryption is true if strings or streams are stored
	// encrypted and must be decrypted before they can be written to an
	// unencrypted file.
	RequiresDecryption bool

	// MetadataOnly is true if the document carries permission flags, but
	// the content is not actually encrypted.
	MetadataOnly bool

	// DerivedKey is the file encryption key, if authentication succeeded.
	DerivedKey []byte

	// OwnerAuthenticated is true if the owner password was found.
	OwnerAuthenticated bool

	// Err gives the reason why the document cannot be decrypted, or nil.
	Err error
}

// Inspect returns the security settings of a document.
func Inspect(doc *Document) *PermissionSet {
	res := &PermissionSet{
		Perm: PermAll,
	}
	if doc.enc == nil && doc.encErr == nil {
		return res
	}

	res.Encrypted = true
	res.Err = doc.encErr
	res.RequiresDecryption = doc.RequiresDecryption()
	res.MetadataOnly = !res.RequiresDecryption && doc.encErr == nil
	res.DerivedKey = doc.DerivedKey()

	enc := doc.enc
	if enc == nil {
		return res
	}
	res.Filter = enc.Filter
	res.V = enc.V
	res.StringFilter = filterDesc(enc.strF)
	res.StreamFilter = filterDesc(enc.stmF)
	if sec := enc.sec; sec != nil {
		res.R = sec.R
		res.P = int32(sec.P)
		res.Perm = stdSecPToPerm(sec.R, sec.P)
		res.OwnerAuthenticated = sec.ownerAuthenticated
	}
	return res
}

func filterDesc(cf *cryptFilter) string {
	if cf == nil {
		return "Identity"
	}
	return cf.String()
}

// RequiresDecryption reports whether strings or streams of the document
// are stored in encrypted form.
func (d *Document) RequiresDecryption() bool {
	if d.enc == nil {
		// An encryption dictionary we could not read is assumed to
		// encrypt everything.
		return d.encErr != nil
	}
	if !d.enc.filtersKnown {
		return true
	}
	return d.enc.strF != nil || d.enc.stmF != nil || d.enc.efF != nil
}

// DerivedKey returns the file encryption key, or nil if the document is
// not encrypted or no valid password was found.
func (d *Document) DerivedKey() []byte {
	if d.enc == nil || d.enc.sec == nil || d.enc.sec.key == nil {
		return nil
	}
	return slices.Clone(d.enc.sec.key)
}

// Perm describes which operations are permitted when accessing the document
// with User access (but not Owner access).  The user can always view the
// document.
//
// This library just reports the permissions as specified in the PDF file.
// Unlocking a document removes all restrictions.
type Perm int

const (
	// PermCopy allows to extract text and graphics.
	PermCopy Perm = 1 << iota

	// PermPrintDegraded allows printing of a low-level representation of the
	// appearance, possibly of degraded quality.
	PermPrintDegraded

	// PermPrint allows printing a representation from which a faithful digital
	// copy of the PDF content could be generated.  This implies
	// PermPrintDegraded.
	PermPrint

	// PermForms allows to fill in form fields, including signature fields.
	PermForms

	// PermAnnotate allows to add or modify text annotations. This implies
	// PermForms.
	PermAnnotate

	// PermAssemble allows to insert, rotate, or delete pages and to create
	// bookmarks or thumbnail images.
	PermAssemble

	// PermModify allows to modify the document.  This implies PermAssemble.
	PermModify

	permNext

	// PermAll gives the user all permissions, making User access equivalent to
	// Owner access.
	PermAll = permNext - 1
)

var permNames = []struct {
	perm Perm
	name string
}{
	{PermCopy, "copy"},
	{PermPrintDegraded, "print-degraded"},
	{PermPrint, "print"},
	{PermForms, "forms"},
	{PermAnnotate, "annotate"},
	{PermAssemble, "assemble"},
	{PermModify, "modify"},
}

func (perm Perm) String() string {
	if perm == PermAll {
		return "all"
	}
	var parts []string
	for _, p := range permNames {
		if perm&p.perm != 0 {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Denied returns the names of the operations which are not permitted.
func (perm Perm) Denied() []string {
	var res []string
	for _, p := range permNames {
		if perm&p.perm == 0 {
			res = append(res, p.name)
		}
	}
	return res
}

func stdSecPToPerm(R int, P uint32) Perm {
	perm := PermAll
	if R == 2 {
		if P&(1<<(3-1)) == 0 {
			perm &= ^(PermPrint | PermPrintDegraded)
		}
	} else if R >= 3 {
		// bit 3 | 12
		//     0 | 0 -> neither full nor degraded printing
		//     0 | 1 -> full printing
		//     1 | 0 -> only degraded printing (full printing forbidden)
		//     1 | 1 -> full printing
		if P&(1<<(3-1)) == 0 && P&(1<<(12-1)) == 0 {
			perm &= ^(PermPrint | PermPrintDegraded)
		} else if P&(1<<(3-1)) != 0 && P&(1<<(12-1)) == 0 {
			perm &= ^PermPrint
		}
	}

	// bit 4 | 11
	//     0 | 0 -> no modifications, no assembly
	//     0 | 1 -> no modifications, assembly allowed
	//     1 | x -> modifications allowed, assembly allowed
	if P&(1<<(4-1)) == 0 {
		perm &= ^PermModify
		if P&(1<<(11-1)) == 0 {
			perm &= ^PermAssemble
		}
	}

	if P&(1<<(5-1)) == 0 {
		perm &= ^PermCopy
	}

	// bit 6 | 9
	//     0 | 0 -> no annotations, don't fill form fields
	//     0 | 1 -> no annotations, fill form fields
	//     1 | x -> annotations allowed, fill form fields
	if P&(1<<(6-1)) == 0 {
		perm &= ^PermAnnotate
		if P&(1<<(9-1)) == 0 {
			perm &= ^PermForms
		}
	}

	return perm
}
