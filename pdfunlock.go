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

// Package pdfunlock removes the copy, print and edit restrictions from PDF
// files.
//
// Every file is read completely, its page tree is resolved and all pages
// are written to a new, unencrypted PDF file.  Encrypted files can be
// processed when they open with the empty password, or when one of the
// passwords in [Options] is correct.
package pdfunlock

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"seehuhn.de/go/pdfunlock/pagetree"
	"seehuhn.de/go/pdfunlock/pdf"
	"seehuhn.de/go/pdfunlock/rewrite"
)

// DefaultFormat is the default name template for unlocked files.
const DefaultFormat = "[name] (Unlocked).pdf"

// Options configures the unlocking of PDF files.
type Options struct {
	// Format is the name template for unlocked files.  The string "[name]"
	// is replaced by the name of the input file, without directory and
	// extension.  Unlocked files are written to the directory of the input
	// file.  If Format is empty, [DefaultFormat] is used.
	Format string

	// Delete causes input files to be deleted after they have been
	// unlocked successfully.
	Delete bool

	// Passwords are tried for encrypted files which cannot be opened with
	// the empty password.
	Passwords []string

	// ReadPassword, if not nil, is called when none of the passwords
	// worked.  When used with [Batch], calls for different files may
	// happen concurrently.
	ReadPassword pdf.ReadPwdFunc

	// Jobs is the maximal number of files processed in parallel by
	// [Batch].  If this is zero, runtime.GOMAXPROCS(0) is used.
	Jobs int

	// Compress causes uncompressed streams to be compressed.
	Compress bool

	// XRefTable forces a classic cross-reference table in the output.
	XRefTable bool

	// Strict disables the reconstruction of damaged files.
	Strict bool

	// Logger receives progress messages and the problems found in the
	// input files.  If this is nil, slog.Default() is used.
	Logger *slog.Logger
}

func (opt *Options) logger() *slog.Logger {
	if opt == nil || opt.Logger == nil {
		return slog.Default()
	}
	return opt.Logger
}

// Process removes all restrictions from the PDF file in data, and returns
// the unlocked file.  All pages are rewritten, even if the file has no
// restrictions.
func Process(data []byte, opt *Options) ([]byte, error) {
	return process(data, opt, opt.logger())
}

func process(data []byte, opt *Options, logger *slog.Logger) ([]byte, error) {
	if opt == nil {
		opt = &Options{}
	}

	doc, err := pdf.Open(data, &pdf.ReaderOptions{
		Passwords:    opt.Passwords,
		ReadPassword: opt.ReadPassword,
		Strict:       opt.Strict,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, w := range doc.Warnings() {
			logger.Warn("damaged input", "problem", w.String())
		}
	}()

	sec := pdf.Inspect(doc)
	if sec.Err != nil && sec.RequiresDecryption {
		return nil, sec.Err
	}
	if sec.Encrypted {
		logger.Debug("security settings",
			"filter", sec.Filter,
			"V", sec.V,
			"R", sec.R,
			"strings", sec.StringFilter,
			"streams", sec.StreamFilter,
			"denied", sec.Perm.Denied(),
			"owner", sec.OwnerAuthenticated)
	}
	if doc.Repaired() {
		logger.Info("cross-reference table reconstructed")
	}

	pages, err := pagetree.Pages(doc)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	err = rewrite.Rewrite(doc, pages, buf, &rewrite.Options{
		XRefTable: opt.XRefTable,
		Compress:  opt.Compress,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("rewritten",
		"version", doc.Version.String(),
		"pages", len(pages),
		"bytes", buf.Len())
	return buf.Bytes(), nil
}

// OutputPath returns the name of the unlocked file for the input file
// path.  See [Options.Format].
func OutputPath(path, format string) string {
	if format == "" {
		format = DefaultFormat
	}
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(path), strings.ReplaceAll(format, "[name]", name))
}

// UnlockFile removes all restrictions from the PDF file at path.  The
// result is written to the file given by [OutputPath], which is returned.
//
// The output file is only created once the file has been processed
// successfully.  If opt.Delete is set, the input file is deleted
// afterwards, unless the output has replaced it.
//
// Errors are of type [*FileError].
func UnlockFile(path string, opt *Options) (string, error) {
	if opt == nil {
		opt = &Options{}
	}
	logger := opt.logger().With("file", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &FileError{Path: path, Op: OpRead, Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", &FileError{Path: path, Op: OpRead, Err: err}
	}

	out, err := process(data, opt, logger)
	if err != nil {
		return "", &FileError{Path: path, Op: OpUnlock, Err: err}
	}

	outPath := OutputPath(path, opt.Format)
	err = writeFileAtomic(outPath, out, info.Mode().Perm())
	if err != nil {
		return "", &FileError{Path: outPath, Op: OpWrite, Err: err}
	}

	if opt.Delete {
		replaced := false
		if outInfo, err := os.Stat(outPath); err == nil {
			// After the rename, path may refer to the output file.
			inInfo, err := os.Stat(path)
			replaced = err == nil && os.SameFile(inInfo, outInfo)
		}
		if replaced {
			logger.Info("input replaced by output, not deleted")
		} else {
			err = os.Remove(path)
			if err != nil {
				return outPath, &FileError{Path: path, Op: OpDelete, Err: err}
			}
		}
	}

	logger.Info("unlocked", "output", outPath)
	return outPath, nil
}

// writeFileAtomic writes data to a temporary file in the directory of
// name, and renames it to name once all data is on disk.  On failure the
// temporary file is removed, so that no partial output remains.
func writeFileAtomic(name string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".pdfunlock-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	_, err = tmp.Write(data)
	if err != nil {
		return err
	}
	err = tmp.Sync()
	if err != nil {
		return err
	}
	err = tmp.Chmod(perm)
	if err != nil {
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}
