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

// Pdfunlock removes copy, print and edit restrictions from PDF files.
//
// Usage:
//
//	pdfunlock [flags] file.pdf...
//
// For every input file, an unlocked copy is written to the same directory.
// The name of the copy is given by the -f flag, where "[name]" stands for
// the name of the input file without extension.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/term"

	"seehuhn.de/go/pdfunlock"
)

const maxPromptTries = 3

func main() {
	opt := &pdfunlock.Options{}

	flag.StringVar(&opt.Format, "f", pdfunlock.DefaultFormat, "`template` for the names of unlocked files")
	flag.StringVar(&opt.Format, "format", pdfunlock.DefaultFormat, "same as -f")
	flag.BoolVar(&opt.Delete, "d", false, "delete input files after unlocking them")
	flag.BoolVar(&opt.Delete, "delete", false, "same as -d")
	flag.Func("p", "try `password` for encrypted files (can be repeated)", func(s string) error {
		opt.Passwords = append(opt.Passwords, s)
		return nil
	})
	ask := flag.Bool("ask", false, "ask for passwords on the terminal")
	flag.IntVar(&opt.Jobs, "j", 0, "number of files to process in parallel")
	flag.BoolVar(&opt.Compress, "compress", false, "compress uncompressed streams")
	flag.BoolVar(&opt.XRefTable, "xref-table", false, "write a classic cross-reference table")
	flag.BoolVar(&opt.Strict, "strict", false, "don't try to repair damaged files")
	verbose := flag.Bool("v", false, "show details about every file")
	quiet := flag.Bool("q", false, "only report errors")
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "usage: %s [flags] file.pdf...\n\n", os.Args[0])
		fmt.Fprintln(out, "Remove copy, print and edit restrictions from PDF files.")
		fmt.Fprintln(out)
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	} else if *quiet {
		level = slog.LevelError
	}
	opt.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if *ask {
		opt.ReadPassword = terminalPrompt()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	failed := 0
	for _, res := range pdfunlock.Batch(ctx, files, opt) {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		stop()
		os.Exit(1)
	}
}

// terminalPrompt returns a function which reads passwords from the
// terminal.  Prompts for different files are never interleaved.
func terminalPrompt() func(ID []byte, try int) string {
	var mu sync.Mutex
	fd := int(os.Stdin.Fd())
	return func(ID []byte, try int) string {
		if try >= maxPromptTries || !term.IsTerminal(fd) {
			return ""
		}

		mu.Lock()
		defer mu.Unlock()

		if try == 0 {
			fmt.Fprintf(os.Stderr, "password for document %s: ", shortID(ID))
		} else {
			fmt.Fprint(os.Stderr, "wrong password, try again: ")
		}
		passwd, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return ""
		}
		return string(passwd)
	}
}

func shortID(ID []byte) string {
	if len(ID) > 8 {
		ID = ID[:8]
	}
	return hex.EncodeToString(ID)
}
