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
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ReaderOptions provides additional information for opening a PDF file.
type ReaderOptions struct {
	// Passwords are tried, after the empty password, to decrypt
	// encrypted documents.
	Passwords []string

	// ReadPassword, if not nil, is called to ask for more passwords when
	// none of the given passwords worked.
	ReadPassword ReadPwdFunc

	// CacheSize is the number of objects kept in memory.  If this is zero,
	// a default value is used.  Negative values disable the cache.
	CacheSize int

	// Strict disables the reconstruction of broken cross-reference
	// tables.
	Strict bool
}

const defaultCacheSize = 1000

// A Getter can retrieve indirect objects.
type Getter interface {
	Get(ref Reference) (Object, error)
}

// Document is a PDF file opened for reading.  The data of the file is held
// in memory and must not be modified while the Document is in use.
//
// The methods of a Document are safe for concurrent use.  Objects returned
// by the Document may be shared between callers and must not be modified.
type Document struct {
	// Version is the PDF version used in this file.  This is specified in
	// the initial comment at the start of the file, and may be overridden by
	// the /Version entry in the document catalog.
	Version Version

	// ID is the file identifier, or nil if the file does not specify one.
	ID [][]byte

	data    []byte
	xref    map[uint32]*xRefEntry
	trailer Dict

	// repaired is true if the cross-reference table was reconstructed by
	// scanning the file.
	repaired bool

	enc    *encryptInfo
	encErr error
	encRef Reference

	cache *lruCache

	objStmGroup   singleflight.Group
	objStmDecodes atomic.Int64

	mu       sync.Mutex
	objStms  map[uint32]*objStmResult
	warnings []Warning

	repairOnce sync.Once
	repairRes  *repairResult
}

// Open reads the structure of a PDF file.  Objects are loaded on demand,
// when they are first accessed.
//
// Encrypted documents can be opened even if no valid password is known, so
// that their security settings can be inspected.  In this case, all
// attempts to decode stream data fail with an error wrapping
// [ErrUnsupportedEncryption].
func Open(data []byte, opt *ReaderOptions) (*Document, error) {
	if opt == nil {
		opt = &ReaderOptions{}
	}
	cacheSize := opt.CacheSize
	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}

	d := &Document{
		data:    data,
		cache:   newCache(cacheSize),
		objStms: make(map[uint32]*objStmResult),
	}

	version, headerPos, err := readHeaderVersion(data)
	if errors.Is(err, errVersion) {
		d.warn(Warning{Pos: headerPos, Err: err})
		version = V1_7
	} else if err != nil {
		return nil, err
	}
	d.Version = version

	xref, trailer, err := readXRef(data, d.warn)
	if err != nil {
		if opt.Strict {
			return nil, err
		}
		d.warn(Warning{Pos: -1, Err: err})
		res := d.scanned()
		if _, hasRoot := res.trailer["Root"]; !hasRoot {
			return nil, &MalformedFileError{
				Pos: -1,
				Err: fmt.Errorf("%w: no document catalog found", ErrBrokenXRef),
			}
		}
		xref = maps.Clone(res.xref)
		trailer = res.trailer
		d.repaired = true
	}
	d.xref = xref
	d.trailer = trailer

	if ID, ok := trailer["ID"].(Array); ok && len(ID) >= 2 {
		for i := range 2 {
			s, ok := ID[i].(String)
			if !ok {
				break
			}
			d.ID = append(d.ID, []byte(s))
		}
		if len(d.ID) != 2 {
			d.ID = nil
		}
	}

	if encObj, ok := trailer["Encrypt"]; ok {
		d.setupSecurity(encObj, opt)
	}

	if d.repaired {
		d.addObjStmMembers(d.scanned().objStms)
	}

	catalog, err := d.findCatalog()
	if err != nil {
		return nil, err
	}

	if ver, ok := catalog["Version"].(Name); ok {
		v, err := ParseVersion(string(ver))
		if err == nil && v > d.Version {
			d.Version = v
		}
	}

	return d, nil
}

// setupSecurity reads the encryption dictionary and tries to find the
// file encryption key.  Problems are recorded in d.encErr.
func (d *Document) setupSecurity(encObj Object, opt *ReaderOptions) {
	if ref, ok := encObj.(Reference); ok {
		d.encRef = ref
	}
	encDict, err := GetDict(d, encObj)
	if encDict == nil && err == nil {
		err = errors.New("missing encryption dictionary")
	}
	if err != nil {
		d.encErr = fmt.Errorf("%w: %w", ErrUnsupportedEncryption, err)
		return
	}

	var ID []byte
	if len(d.ID) == 2 {
		ID = d.ID[0]
	}
	enc, err := parseEncryptDict(encDict, ID)
	d.enc = enc
	if err != nil {
		if d.RequiresDecryption() {
			d.encErr = fmt.Errorf("%w: %w", ErrUnsupportedEncryption, err)
		} else {
			d.warn(Warning{Pos: -1, Ref: d.encRef, Err: err})
		}
		return
	}
	if !d.RequiresDecryption() {
		return
	}
	if ID == nil {
		d.warn(Warning{Pos: -1, Err: errors.New("encrypted document without /ID")})
	}

	_, err = enc.sec.authenticate(opt.Passwords, opt.ReadPassword)
	if err != nil {
		d.encErr = err
	}
}

// findCatalog returns the document catalog.  If the /Root entry of the
// trailer is unusable, a catalog found by scanning the file is used.
func (d *Document) findCatalog() (Dict, error) {
	catalog, err := GetDict(d, d.trailer["Root"])
	if err == nil && catalog != nil {
		return catalog, nil
	}

	if d.encErr != nil {
		return nil, d.encErr
	}
	if !d.repaired {
		res := d.scanned()
		if res.catalog != 0 {
			catalog, err2 := GetDict(d, res.catalog)
			if err2 == nil && catalog != nil {
				d.warn(Warning{Pos: -1, Ref: res.catalog, Err: errors.New("using catalog found by scanning the file")})
				d.trailer["Root"] = res.catalog
				return catalog, nil
			}
		}
	}
	if err == nil {
		err = errors.New("missing document catalog")
	}
	return nil, &MalformedFileError{
		Pos: -1,
		Err: fmt.Errorf("%w: %w", ErrBrokenXRef, err),
	}
}

// scanned returns the result of the linear scan over the file.  The scan
// is performed on first use.
func (d *Document) scanned() *repairResult {
	d.repairOnce.Do(func() {
		d.repairRes = scanObjects(d.data)
	})
	return d.repairRes
}

// addObjStmMembers adds the objects contained in object streams to a
// reconstructed cross-reference table.  Objects found directly in the file
// take precedence.
func (d *Document) addObjStmMembers(objStms []Reference) {
	for _, ref := range objStms {
		stm, err := d.objectStream(ref)
		if err != nil {
			d.warn(Warning{Pos: -1, Ref: ref, Err: err})
			continue
		}
		for i, num := range stm.numbers {
			if _, ok := d.xref[num]; ok {
				continue
			}
			d.xref[num] = &xRefEntry{
				InStream: ref,
				Pos:      int64(i),
			}
		}
	}
}

// Trailer returns a copy of the trailer dictionary.
func (d *Document) Trailer() Dict {
	return d.trailer.Clone()
}

// Catalog returns the document catalog.
func (d *Document) Catalog() (Dict, error) {
	return GetDict(d, d.trailer["Root"])
}

// Repaired reports whether the cross-reference information had to be
// reconstructed by scanning the file.
func (d *Document) Repaired() bool {
	return d.repaired
}

// Warnings returns the non-fatal problems found so far.
func (d *Document) Warnings() []Warning {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.warnings)
}

// AddWarning records a non-fatal problem found by code which interprets
// the document, for example while walking the page tree.
func (d *Document) AddWarning(w Warning) {
	d.warn(w)
}

func (d *Document) warn(w Warning) {
	d.mu.Lock()
	d.warnings = append(d.warnings, w)
	d.mu.Unlock()
}

// Get reads an indirect object.  References to missing objects resolve to
// nil and are recorded as warnings wrapping [ErrDanglingReference].
func (d *Document) Get(ref Reference) (Object, error) {
	return d.get(ref, true)
}

func (d *Document) get(ref Reference, allowObjStm bool) (Object, error) {
	if obj, ok := d.cache.Get(ref); ok {
		return obj, nil
	}

	entry := d.xref[ref.Number()]
	if entry == nil && !d.repaired {
		entry = d.scanned().xref[ref.Number()]
	}
	if entry.IsFree() || entry.InStream == 0 && entry.Generation != ref.Generation() {
		return d.dangling(ref, -1, nil)
	}

	var obj Object
	if entry.InStream != 0 {
		if !allowObjStm {
			return nil, &MalformedFileError{
				Pos: -1,
				Ref: ref,
				Err: errors.New("object streams inside object streams not allowed"),
			}
		}
		if ref.Generation() != 0 {
			return d.dangling(ref, -1, nil)
		}
		stm, err := d.objectStream(entry.InStream)
		if err != nil {
			return d.dangling(ref, -1, err)
		}
		var ok bool
		obj, ok = stm.lookup(ref.Number(), entry.Pos)
		if !ok {
			return d.dangling(ref, -1, nil)
		}
	} else {
		var err error
		obj, err = d.readDirect(ref, entry.Pos)
		if err != nil && !d.repaired {
			// The xref entry may point to the wrong place.
			alt := d.scanned().xref[ref.Number()]
			if alt != nil && alt.Pos != entry.Pos && alt.Generation == ref.Generation() {
				obj, err = d.readDirect(ref, alt.Pos)
			}
		}
		if err != nil {
			return d.dangling(ref, entry.Pos, err)
		}

		obj, err = d.decrypt(ref, obj)
		if err != nil {
			return d.dangling(ref, entry.Pos, err)
		}
	}

	d.cache.Put(ref, obj)
	return obj, nil
}

// readDirect reads the indirect object ref at the given byte offset.
func (d *Document) readDirect(ref Reference, pos int64) (Object, error) {
	if pos < 0 || pos >= int64(len(d.data)) {
		return nil, &MalformedFileError{
			Pos: pos,
			Ref: ref,
			Err: errors.New("object offset out of range"),
		}
	}

	warn := func(w Warning) {
		if w.Ref == 0 {
			w.Ref = ref
		}
		d.warn(w)
	}
	p := NewParser(d.data, d.lengthInt, warn)
	fileRef, obj, err := p.ParseIndirectAt(pos)
	if err != nil {
		return nil, err
	}
	if fileRef != ref {
		return nil, &MalformedFileError{
			Pos: pos,
			Ref: ref,
			Err: fmt.Errorf("found %s instead", fileRef),
		}
	}
	return obj, nil
}

// dangling records a reference which cannot be resolved.  The object is
// treated as null.
func (d *Document) dangling(ref Reference, pos int64, err error) (Object, error) {
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDanglingReference, err)
	} else {
		err = ErrDanglingReference
	}
	d.warn(Warning{Pos: pos, Ref: ref, Err: err})
	d.cache.Put(ref, nil)
	return nil, nil
}

// lengthInt resolves /Length entries of streams.  Only objects stored
// directly in the file are considered, so that reading a stream never
// requires decoding an object stream.
func (d *Document) lengthInt(obj Object) (Integer, error) {
	ref, ok := obj.(Reference)
	if !ok {
		return 0, errors.New("invalid /Length")
	}
	if x, ok := d.cache.Get(ref); ok {
		if i, ok := x.(Integer); ok {
			return i, nil
		}
	}
	entry := d.xref[ref.Number()]
	if entry.IsFree() || entry.InStream != 0 {
		return 0, errors.New("invalid /Length")
	}
	p := NewParser(d.data, nil, nil)
	fileRef, x, err := p.ParseIndirectAt(entry.Pos)
	if err != nil {
		return 0, err
	}
	i, ok := x.(Integer)
	if fileRef != ref || !ok {
		return 0, errors.New("invalid /Length")
	}
	return i, nil
}

// decrypt decrypts the strings and the stream data of an object read from
// the file.  If no key is available, the object is returned unchanged.
func (d *Document) decrypt(ref Reference, obj Object) (Object, error) {
	if d.enc == nil || d.enc.sec == nil || d.encErr != nil || ref == d.encRef {
		return obj, nil
	}

	switch x := obj.(type) {
	case *Stream:
		if x.Dict["Type"] == Name("XRef") {
			return obj, nil
		}
		dict, err := d.decryptStrings(ref, x.Dict)
		if err != nil {
			return nil, err
		}
		cf := d.streamCryptFilter(x.Dict)
		if cf == nil {
			return &Stream{Dict: dict.(Dict), Raw: x.Raw}, nil
		}
		raw, err := d.enc.decryptBytes(cf, ref, x.Raw)
		if err != nil {
			return nil, &MalformedFileError{Pos: -1, Ref: ref, Err: err}
		}
		return &Stream{Dict: dict.(Dict), Raw: raw, decrypted: true}, nil
	default:
		return d.decryptStrings(ref, obj)
	}
}

// decryptStrings decrypts all strings inside obj.  Containers are modified
// in place, since they are freshly parsed.
func (d *Document) decryptStrings(ref Reference, obj Object) (Object, error) {
	cf := d.enc.strF
	if cf == nil {
		return obj, nil
	}

	switch x := obj.(type) {
	case String:
		res, err := d.enc.decryptBytes(cf, ref, x)
		if err != nil {
			d.warn(Warning{Pos: -1, Ref: ref, Err: fmt.Errorf("cannot decrypt string: %w", err)})
			return String(nil), nil
		}
		return String(res), nil
	case Array:
		for i, elem := range x {
			val, err := d.decryptStrings(ref, elem)
			if err != nil {
				return nil, err
			}
			x[i] = val
		}
		return x, nil
	case Dict:
		isSig := x["Type"] == Name("Sig") || x["Type"] == Name("DocTimeStamp")
		for key, elem := range x {
			if isSig && key == "Contents" {
				// signature values are not encrypted
				continue
			}
			val, err := d.decryptStrings(ref, elem)
			if err != nil {
				return nil, err
			}
			x[key] = val
		}
		return x, nil
	default:
		return obj, nil
	}
}

// streamCryptFilter returns the crypt filter which applies to a stream
// with the given dictionary, or nil if the stream is not encrypted.
func (d *Document) streamCryptFilter(dict Dict) *cryptFilter {
	if d.enc == nil {
		return nil
	}
	if d.enc.sec != nil && d.enc.sec.unencryptedMetaData && dict["Type"] == Name("Metadata") {
		return nil
	}

	filters := streamFilters(dict, nil)
	if len(filters) > 0 && filters[0].Name == "Crypt" {
		name := Name("Identity")
		if n, ok := filters[0].Parms["Name"].(Name); ok {
			name = n
		}
		cf, err := getCryptFilter(name, d.enc.cf)
		if err != nil {
			return d.enc.stmF
		}
		return cf
	}

	if dict["Type"] == Name("EmbeddedFile") {
		return d.enc.efF
	}
	return d.enc.stmF
}

// needsKey reports whether stream data with the given dictionary is stored
// encrypted, but no key is available to decrypt it.
func (d *Document) needsKey(dict Dict) bool {
	if d.encErr == nil {
		return false
	}
	if d.enc == nil || !d.enc.filtersKnown {
		return true
	}
	return d.streamCryptFilter(dict) != nil
}

// Filters returns the filter pipeline of a stream read from this document.
// Indirect /Filter and /DecodeParms entries are resolved.
func (d *Document) Filters(stm *Stream) []Filter {
	resolve := func(obj Object) (Object, error) {
		return Resolve(d, obj)
	}
	return streamFilters(stm.Dict, resolve)
}

// DecodeStream returns the decoded data of a stream read from this
// document.  All filters are applied.  If one of the filters is not
// supported, the error wraps [ErrUnsupportedFilter].
func (d *Document) DecodeStream(stm *Stream) ([]byte, error) {
	return d.decodeStream(stm, true)
}

func (d *Document) decodeStream(stm *Stream, allowObjStm bool) ([]byte, error) {
	if !stm.decrypted && d.needsKey(stm.Dict) {
		return nil, d.encErr
	}

	resolve := func(obj Object) (Object, error) {
		ref, ok := obj.(Reference)
		if !ok {
			return obj, nil
		}
		return d.get(ref, allowObjStm)
	}
	var filters []Filter
	for _, f := range streamFilters(stm.Dict, resolve) {
		if f.Name != "Crypt" {
			filters = append(filters, f)
		}
	}
	return applyFilters(stm.Raw, filters)
}

// Resolve resolves references to indirect objects, see [Resolve].
func (d *Document) Resolve(obj Object) (Object, error) {
	return Resolve(d, obj)
}

// Resolve resolves references to indirect objects.  Chains of references
// are followed.  If obj is not a reference, it is returned unchanged.
//
// A chain which loops back onto itself, or which is too long, gives an
// error.  If r is a [Document], the problem is recorded as a warning
// instead and the chain resolves to null.
func Resolve(r Getter, obj Object) (Object, error) {
	var seen []Reference
	for {
		ref, isRef := obj.(Reference)
		if !isRef {
			return obj, nil
		}
		if slices.Contains(seen, ref) || len(seen) >= maxRefChain {
			if d, ok := r.(*Document); ok {
				d.warn(Warning{Pos: -1, Ref: seen[0], Err: errCircularRef})
				return nil, nil
			}
			return nil, &MalformedFileError{
				Pos: -1,
				Ref: ref,
				Err: errCircularRef,
			}
		}
		seen = append(seen, ref)

		var err error
		obj, err = r.Get(ref)
		if err != nil {
			return nil, err
		}
	}
}

// GetDict resolves references to indirect objects and makes sure the
// resulting object is a dictionary.  Null objects are returned as nil.
func GetDict(r Getter, obj Object) (Dict, error) {
	obj, err := Resolve(r, obj)
	if err != nil || obj == nil {
		return nil, err
	}
	x, ok := obj.(Dict)
	if !ok {
		return nil, errWrongType("Dict", obj)
	}
	return x, nil
}

// GetArray resolves references to indirect objects and makes sure the
// resulting object is an array.  Null objects are returned as nil.
func GetArray(r Getter, obj Object) (Array, error) {
	obj, err := Resolve(r, obj)
	if err != nil || obj == nil {
		return nil, err
	}
	x, ok := obj.(Array)
	if !ok {
		return nil, errWrongType("Array", obj)
	}
	return x, nil
}

// GetName resolves references to indirect objects and makes sure the
// resulting object is a name.
func GetName(r Getter, obj Object) (Name, error) {
	obj, err := Resolve(r, obj)
	if err != nil || obj == nil {
		return "", err
	}
	x, ok := obj.(Name)
	if !ok {
		return "", errWrongType("Name", obj)
	}
	return x, nil
}

// GetInteger resolves references to indirect objects and makes sure the
// resulting object is an integer.
func GetInteger(r Getter, obj Object) (Integer, error) {
	obj, err := Resolve(r, obj)
	if err != nil || obj == nil {
		return 0, err
	}
	switch x := obj.(type) {
	case Integer:
		return x, nil
	case Real:
		return Integer(x), nil
	default:
		return 0, errWrongType("Integer", obj)
	}
}

// GetStream resolves references to indirect objects and makes sure the
// resulting object is a stream.  Null objects are returned as nil.
func GetStream(r Getter, obj Object) (*Stream, error) {
	obj, err := Resolve(r, obj)
	if err != nil || obj == nil {
		return nil, err
	}
	x, ok := obj.(*Stream)
	if !ok {
		return nil, errWrongType("Stream", obj)
	}
	return x, nil
}

const maxRefChain = 16

var errCircularRef = errors.New("circular reference")

func errWrongType(expected string, obj Object) error {
	return &MalformedFileError{
		Pos: -1,
		Err: fmt.Errorf("wrong type %T (expected %s)", obj, expected),
	}
}
