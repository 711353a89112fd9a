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
)

// maxObjStmObjects limits the number of objects in one object stream.
const maxObjStmObjects = 100000

// objStm holds the decoded contents of an object stream.
type objStm struct {
	numbers []uint32
	objects []Object
}

// lookup returns the object with the given number.  The index from the
// cross-reference entry is tried first.
func (s *objStm) lookup(number uint32, idx int64) (Object, bool) {
	if idx >= 0 && idx < int64(len(s.numbers)) && s.numbers[idx] == number {
		return s.objects[idx], true
	}
	for i, n := range s.numbers {
		if n == number {
			return s.objects[i], true
		}
	}
	return nil, false
}

// objectStream returns the decoded contents of the object stream ref.
// The stream is decoded at most once: concurrent callers asking for the
// same stream wait for the first caller to finish decoding.
func (d *Document) objectStream(ref Reference) (*objStm, error) {
	num := ref.Number()

	d.mu.Lock()
	res, ok := d.objStms[num]
	d.mu.Unlock()
	if ok {
		return res.stm, res.err
	}

	v, err, _ := d.objStmGroup.Do(strconv.FormatUint(uint64(num), 10), func() (any, error) {
		d.mu.Lock()
		res, ok := d.objStms[num]
		d.mu.Unlock()
		if ok {
			return res.stm, res.err
		}

		stm, err := d.decodeObjStm(ref)

		d.mu.Lock()
		d.objStms[num] = &objStmResult{stm: stm, err: err}
		d.mu.Unlock()

		return stm, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*objStm), nil
}

type objStmResult struct {
	stm *objStm
	err error
}

// decodeObjStm reads and decodes an object stream.  Objects inside object
// streams are not resolved here, so that decoding never waits for another
// object stream.
func (d *Document) decodeObjStm(ref Reference) (*objStm, error) {
	d.objStmDecodes.Add(1)

	obj, err := d.get(ref, false)
	if err != nil {
		return nil, err
	}
	stream, ok := obj.(*Stream)
	if !ok {
		return nil, &MalformedFileError{
			Pos: -1,
			Ref: ref,
			Err: errors.New("object stream is not a stream"),
		}
	}

	N, ok := stream.Dict["N"].(Integer)
	if !ok || N < 0 || N > maxObjStmObjects {
		return nil, &MalformedFileError{
			Pos: -1,
			Ref: ref,
			Err: errors.New("no valid /N for ObjStm"),
		}
	}
	n := int(N)
	first, ok := stream.Dict["First"].(Integer)
	if !ok || first < 0 {
		return nil, &MalformedFileError{
			Pos: -1,
			Ref: ref,
			Err: errors.New("no valid /First for ObjStm"),
		}
	}

	data, err := d.decodeStream(stream, false)
	if err != nil {
		return nil, wrap(err, "object stream "+ref.String())
	}
	if int64(first) > int64(len(data)) {
		return nil, &MalformedFileError{
			Pos: -1,
			Ref: ref,
			Err: fmt.Errorf("/First %d exceeds stream length %d", first, len(data)),
		}
	}

	p := NewParser(data[:first], nil, nil)
	res := &objStm{
		numbers: make([]uint32, 0, n),
		objects: make([]Object, 0, n),
	}
	offsets := make([]int64, 0, n)
	for range n {
		no, err := p.readInteger()
		if err != nil {
			return nil, &MalformedFileError{Pos: -1, Ref: ref, Err: err}
		}
		offs, err := p.readInteger()
		if err != nil {
			return nil, &MalformedFileError{Pos: -1, Ref: ref, Err: err}
		}
		if no < 0 || no > 1<<32-1 || offs < 0 || int64(first)+int64(offs) >= int64(len(data)) {
			return nil, &MalformedFileError{
				Pos: -1,
				Ref: ref,
				Err: fmt.Errorf("invalid ObjStm entry %d %d", no, offs),
			}
		}
		res.numbers = append(res.numbers, uint32(no))
		offsets = append(offsets, int64(first)+int64(offs))
	}

	p = NewParser(data, nil, nil)
	for i, offs := range offsets {
		obj, err := p.ParseObjectAt(offs)
		if err != nil {
			d.warn(Warning{
				Pos: -1,
				Ref: NewReference(res.numbers[i], 0),
				Err: wrap(err, "in object stream "+ref.String()),
			})
			obj = nil
		}
		if _, isStream := obj.(*Stream); isStream {
			obj = nil
		}
		res.objects = append(res.objects, obj)
	}

	return res, nil
}
