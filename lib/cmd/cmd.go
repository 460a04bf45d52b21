// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package cmd defines a RunFunc type, representing a process that can
// be invoked from a command line.
package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

// A RunFunc runs a command with the given args, and returns an exit
// code.
type RunFunc func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int

// Multi returns a RunFunc that dispatches on its first argument: the
// remaining args are passed to the RunFunc registered under that
// name in m. "help", "-h" and "--help" list the available commands
// on stdout unless m has its own entry for them.
//
// Example:
//
//	os.Exit(Multi(map[string]RunFunc{
//		"echo": func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
//			fmt.Fprintln(stdout, strings.Join(args, " "))
//			return 0
//		},
//	})("vfs", []string{"echo", "hi"}, os.Stdin, os.Stdout, os.Stderr))
func Multi(m map[string]RunFunc) RunFunc {
	return func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
		if len(args) == 0 {
			fmt.Fprintf(stderr, "usage: %s command [args]\n", prog)
			listCommands(stderr, m)
			return 2
		}
		name := args[0]
		if run, ok := m[name]; ok {
			return run(prog+" "+name, args[1:], stdin, stdout, stderr)
		}
		switch name {
		case "help", "-h", "--help":
			fmt.Fprintf(stdout, "usage: %s command [args]\n", prog)
			listCommands(stdout, m)
			return 0
		}
		fmt.Fprintf(stderr, "unrecognized command %q\n", name)
		listCommands(stderr, m)
		return 2
	}
}

// listCommands prints the sorted command names. Names starting with
// "-" are alternate spellings like "--version" and are not listed.
func listCommands(w io.Writer, m map[string]RunFunc) {
	names := make([]string, 0, len(m))
	for name := range m {
		if !strings.HasPrefix(name, "-") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	fmt.Fprintf(w, "\nAvailable commands:\n")
	for _, name := range names {
		fmt.Fprintf(w, "    %s\n", name)
	}
}

// WithLateSubcommand wraps a RunFunc by skipping over some known
// flags to find a subcommand, and moving that subcommand to the front
// of the args before calling the wrapped RunFunc. For example:
//
//	// Translate [     --config foo.yml cat memory:/x]
//	//        to [cat  --config foo.yml     memory:/x]
//	WithLateSubcommand(fn, []string{"config"}, nil)
func WithLateSubcommand(run RunFunc, argFlags, boolFlags []string) RunFunc {
	return func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
		flags := pflag.NewFlagSet(prog, pflag.ContinueOnError)
		flags.SetInterspersed(false)
		flags.ParseErrorsWhitelist.UnknownFlags = true
		for _, arg := range argFlags {
			flags.String(arg, "", "")
		}
		for _, arg := range boolFlags {
			flags.Bool(arg, false, "")
		}
		// Errors are reported by the subcommand, which parses
		// the same args again.
		flags.SetOutput(io.Discard)
		flags.Usage = func() {}
		flags.Parse(args)
		if flags.NArg() > 0 {
			flagargs := len(args) - flags.NArg()
			newargs := make([]string, len(args))
			newargs[0] = args[flagargs]
			copy(newargs[1:flagargs+1], args[:flagargs])
			copy(newargs[flagargs+1:], args[flagargs+1:])
			args = newargs
		}
		return run(prog, args, stdin, stdout, stderr)
	}
}
