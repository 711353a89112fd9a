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

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// FileResult is the outcome of unlocking one file in a [Batch].
type FileResult struct {
	// Path is the input file.
	Path string

	// Output is the unlocked file, or the empty string if the file could
	// not be unlocked.
	Output string

	// Err is nil on success, and a [*FileError] otherwise.
	Err error
}

// Batch unlocks all files in paths, using up to opt.Jobs goroutines.  The
// result has one entry for every input file, in the same order.  A failure
// for one file does not affect the other files.
//
// If ctx is cancelled, files which have not been started yet are skipped.
// Their entries have an error wrapping ctx.Err().  Files which are
// already being processed are completed.
func Batch(ctx context.Context, paths []string, opt *Options) []FileResult {
	if opt == nil {
		opt = &Options{}
	}
	logger := opt.logger()
	jobs := opt.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	res := make([]FileResult, len(paths))
	var g errgroup.Group
	g.SetLimit(jobs)
	for i, path := range paths {
		res[i].Path = path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				res[i].Err = &FileError{Path: path, Op: OpRead, Err: err}
				return nil
			}
			out, err := UnlockFile(path, opt)
			res[i].Output = out
			if err != nil {
				res[i].Err = err
				logger.Error("cannot unlock file", "file", path, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range res {
		if r.Err != nil {
			failed++
		}
	}
	logger.Debug("batch finished", "files", len(paths), "failed", failed)
	return res
}
