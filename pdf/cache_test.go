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

import "testing"

func TestLRUCache(t *testing.T) {
	cache := newCache(12)
	cache.Put(NewReference(100, 0), Integer(100))
	cache.Put(NewReference(101, 0), Integer(101))
	cache.Put(NewReference(102, 0), Integer(102))
	obj, ok := cache.Get(NewReference(100, 0))
	if !ok || obj != Integer(100) {
		t.Errorf("Get(100) = %v, %t", obj, ok)
	}
	// 101 is now the oldest entry and drops out below

	if obj, ok := cache.Get(NewReference(0, 0)); ok || obj != nil {
		t.Errorf("unexpected hit: %v", obj)
	}

	for i := range 25 {
		x := i % 10
		key := NewReference(uint32(x), 0)
		val := Integer(x)

		obj, ok := cache.Get(key)
		if ok != (i >= 10) {
			t.Fatalf("step %d: hit=%t", i, ok)
		}
		if ok {
			if obj != val {
				t.Errorf("step %d: got %v, want %v", i, obj, val)
			}
		} else {
			cache.Put(key, val)
		}
	}

	for _, tc := range []struct {
		num  uint32
		want bool
	}{
		{100, true},
		{101, false},
		{102, true},
	} {
		_, ok := cache.Get(NewReference(tc.num, 0))
		if ok != tc.want {
			t.Errorf("object %d: hit=%t, want %t", tc.num, ok, tc.want)
		}
	}
}

func TestLRUCacheDisabled(t *testing.T) {
	cache := newCache(0)
	cache.Put(NewReference(1, 0), Integer(1))
	if _, ok := cache.Get(NewReference(1, 0)); ok {
		t.Error("zero-capacity cache stored an object")
	}
}
