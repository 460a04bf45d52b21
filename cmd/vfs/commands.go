// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/CleverCloud/Quercus-sub014/lib/cmd"
	"github.com/CleverCloud/Quercus-sub014/lib/config"
	"github.com/CleverCloud/Quercus-sub014/lib/vfsenv"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ctxlog"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/version"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

// command holds the state shared by the subcommands: parsed flags,
// the environment, and the error reported on exit.
type command struct {
	prog   string
	flags  *pflag.FlagSet
	loader *config.Loader
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	env    *vfsenv.Env
}

func newCommand(prog string, stdin io.Reader, stdout, stderr io.Writer) *command {
	c := &command{
		prog:   prog,
		flags:  pflag.NewFlagSet(prog, pflag.ContinueOnError),
		loader: config.NewLoader(stdin, ctxlog.New(stderr, "text", "info")),
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
	c.loader.SetupFlags(c.flags)
	return c
}

// setup parses args and builds the environment. If ok is false, the
// command should exit with code.
func (c *command) setup(args []string, positional string, minArgs, maxArgs int) (ok bool, code int) {
	if ok, code := cmd.ParseFlags(c.flags, c.prog, args, positional, c.stderr); !ok {
		return false, code
	}
	if n := c.flags.NArg(); n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		fmt.Fprintf(c.stderr, "Usage: %s [options] %s\n", c.prog, positional)
		return false, 2
	}
	cfg, err := c.loader.Load()
	if err != nil {
		fmt.Fprintf(c.stderr, "%s: %s\n", c.prog, err)
		return false, 1
	}
	logger := ctxlog.New(c.stderr, cfg.Logging.Format, cfg.Logging.Level)
	c.env, err = vfsenv.New(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(c.stderr, "%s: %s\n", c.prog, err)
		return false, 1
	}
	return true, 0
}

// finish closes the environment and reports err.
func (c *command) finish(err error) int {
	if cerr := c.env.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(c.stderr, "%s: %s\n", c.prog, err)
		return 1
	}
	return 0
}

func (c *command) lookup(userPath string) (*vfs.Path, error) {
	return c.env.Lookup(userPath)
}

func versionCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%s %s\n", filepath.Base(strings.Fields(prog)[0]), version.String())
	return 0
}

func catCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := newCommand(prog, stdin, stdout, stderr)
	if ok, code := c.setup(args, "url [url...]", 1, -1); !ok {
		return code
	}
	var err error
	for _, arg := range c.flags.Args() {
		if err = c.cat(arg); err != nil {
			break
		}
	}
	return c.finish(err)
}

func (c *command) cat(userPath string) error {
	rs, err := c.env.OpenRead(userPath)
	if err != nil {
		return err
	}
	defer rs.Close()
	_, err = rs.WriteTo(c.stdout)
	return err
}

func lsCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := newCommand(prog, stdin, stdout, stderr)
	long := c.flags.BoolP("long", "l", false, "show type, size and modification time")
	if ok, code := c.setup(args, "[url]", 0, 1); !ok {
		return code
	}
	dir := c.env.Pwd()
	var err error
	if c.flags.NArg() > 0 {
		dir, err = c.lookup(c.flags.Arg(0))
		if err != nil {
			return c.finish(err)
		}
	}
	if !*long {
		names, err := dir.List()
		if err != nil {
			return c.finish(err)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(c.stdout, name)
		}
		return c.finish(nil)
	}
	children, err := dir.ListPaths()
	if err != nil {
		return c.finish(err)
	}
	for _, child := range children {
		fi, err := child.Stat()
		if err != nil {
			fmt.Fprintf(c.stdout, "%-9s %10s %-20s %s\n", "?", "?", "?", child.Tail())
			continue
		}
		fmt.Fprintf(c.stdout, "%-9s %10s %-20s %s\n", fi.Type, sizeString(fi), fi.ModTime.UTC().Format(time.RFC3339), child.Tail())
	}
	return c.finish(nil)
}

func sizeString(fi vfs.FileInfo) string {
	if fi.Type != vfs.TypeFile || fi.Size < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(fi.Size))
}

func statCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := newCommand(prog, stdin, stdout, stderr)
	if ok, code := c.setup(args, "url", 1, 1); !ok {
		return code
	}
	p, err := c.lookup(c.flags.Arg(0))
	if err != nil {
		return c.finish(err)
	}
	fi, err := p.Stat()
	if err != nil {
		return c.finish(err)
	}
	fmt.Fprintf(c.stdout, "URL: %s\n", p.URL())
	fmt.Fprintf(c.stdout, "Type: %s\n", fi.Type)
	if fi.Type == vfs.TypeFile && fi.Size >= 0 {
		fmt.Fprintf(c.stdout, "Size: %d (%s)\n", fi.Size, humanize.IBytes(uint64(fi.Size)))
	}
	if !fi.ModTime.IsZero() {
		fmt.Fprintf(c.stdout, "Modified: %s (%s)\n", fi.ModTime.UTC().Format(time.RFC3339), humanize.Time(fi.ModTime))
	}
	fmt.Fprintf(c.stdout, "Readable: %v\n", p.CanRead())
	fmt.Fprintf(c.stdout, "Writable: %v\n", p.CanWrite())
	fmt.Fprintf(c.stdout, "Native: %s\n", p.NativePath())
	return c.finish(nil)
}

func cpCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := newCommand(prog, stdin, stdout, stderr)
	verbose := c.flags.BoolP("verbose", "v", false, "report the number of bytes copied")
	if ok, code := c.setup(args, "src dst", 2, 2); !ok {
		return code
	}
	rs, err := c.env.OpenRead(c.flags.Arg(0))
	if err != nil {
		return c.finish(err)
	}
	ws, err := c.env.OpenWrite(c.flags.Arg(1))
	if err != nil {
		rs.Close()
		return c.finish(err)
	}
	n, err := rs.WriteTo(ws)
	if cerr := ws.Close(); err == nil {
		err = cerr
	}
	rs.Close()
	if err == nil && *verbose {
		fmt.Fprintf(c.stderr, "%s: copied %s\n", prog, humanize.IBytes(uint64(n)))
	}
	return c.finish(err)
}

func putCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := newCommand(prog, stdin, stdout, stderr)
	appendMode := c.flags.BoolP("append", "a", false, "append instead of replacing")
	if ok, code := c.setup(args, "url", 1, 1); !ok {
		return code
	}
	var ws *vfs.WriteStream
	var err error
	if *appendMode {
		ws, err = c.env.OpenAppend(c.flags.Arg(0))
	} else {
		ws, err = c.env.OpenWrite(c.flags.Arg(0))
	}
	if err != nil {
		return c.finish(err)
	}
	_, err = ws.ReadFrom(stdin)
	if cerr := ws.Close(); err == nil {
		err = cerr
	}
	return c.finish(err)
}

func mkdirCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := newCommand(prog, stdin, stdout, stderr)
	parents := c.flags.BoolP("parents", "p", false, "create missing parents")
	if ok, code := c.setup(args, "url", 1, 1); !ok {
		return code
	}
	p, err := c.lookup(c.flags.Arg(0))
	if err != nil {
		return c.finish(err)
	}
	if *parents {
		err = p.Mkdirs()
	} else {
		err = p.Mkdir()
	}
	return c.finish(err)
}

func rmCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := newCommand(prog, stdin, stdout, stderr)
	recursive := c.flags.BoolP("recursive", "r", false, "remove directories and their contents")
	if ok, code := c.setup(args, "url", 1, 1); !ok {
		return code
	}
	p, err := c.lookup(c.flags.Arg(0))
	if err != nil {
		return c.finish(err)
	}
	if *recursive {
		err = p.RemoveAll()
	} else {
		err = p.Remove()
	}
	return c.finish(err)
}
