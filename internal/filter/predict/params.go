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

// Package predict undoes the TIFF and PNG predictors which may be applied
// to data before FlateDecode compression.  In PDF files this is mostly used
// for cross-reference streams.
package predict

import (
	"errors"
	"fmt"
)

const maxColumns = 1 << 20

// Params are the predictor parameters from a /DecodeParms dictionary.
type Params struct {
	// Colors is the number of color components per sample.
	Colors int

	// BitsPerComponent is the number of bits per color component.
	// Valid values are 1, 2, 4, 8, and 16.
	BitsPerComponent int

	// Columns is the number of samples per row.
	Columns int

	// Predictor is the prediction algorithm:
	//   1: no prediction
	//   2: TIFF horizontal differencing
	//  10-15: PNG predictors, the algorithm is chosen per row
	Predictor int
}

// DefaultParams returns the parameter values which apply when a
// /DecodeParms dictionary omits an entry.
func DefaultParams() *Params {
	return &Params{
		Colors:           1,
		BitsPerComponent: 8,
		Columns:          1,
		Predictor:        1,
	}
}

// Validate checks whether the parameters can be used.
func (p *Params) Validate() error {
	if p.Predictor == 1 {
		return nil
	}

	if p.Colors < 1 || p.Colors > 256 {
		return errors.New("invalid Colors value")
	}
	switch p.BitsPerComponent {
	case 1, 2, 4, 8, 16:
		// pass
	default:
		return fmt.Errorf("invalid BitsPerComponent %d", p.BitsPerComponent)
	}
	bitsPerPixel := p.Colors * p.BitsPerComponent
	maxCols := min(maxColumns, (1<<31-1)/bitsPerPixel)
	if p.Columns < 1 || p.Columns > maxCols {
		return errors.New("invalid Columns value")
	}

	switch p.Predictor {
	case 2, 10, 11, 12, 13, 14, 15:
		// pass
	default:
		return fmt.Errorf("unsupported predictor %d", p.Predictor)
	}
	return nil
}

func (p *Params) bitsPerPixel() int {
	return p.Colors * p.BitsPerComponent
}

func (p *Params) bytesPerRow() int {
	return (p.bitsPerPixel()*p.Columns + 7) / 8
}

// bytesPerPixel is the distance used by the PNG predictors, at least 1.
func (p *Params) bytesPerPixel() int {
	return (p.bitsPerPixel() + 7) / 8
}
