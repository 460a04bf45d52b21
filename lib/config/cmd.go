// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"

	"github.com/CleverCloud/Quercus-sub014/lib/cmd"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ctxlog"
	"github.com/ghodss/yaml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// loadForCommand parses a --config flag from args and loads the
// configuration, logging warnings to logger. If ok is false the
// command should exit with code; any error has been reported on
// stderr.
func loadForCommand(prog string, args []string, stdin io.Reader, stderr io.Writer, logger *logrus.Logger) (cfg *Config, ok bool, code int) {
	loader := NewLoader(stdin, logger)
	flags := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	loader.SetupFlags(flags)
	if ok, code := cmd.ParseFlags(flags, prog, args, "", stderr); !ok {
		return nil, false, code
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return nil, false, 1
	}
	return cfg, true, 0
}

var DumpCommand dumpCommand

type dumpCommand struct{}

// RunCommand prints the effective configuration as YAML.
func (dumpCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, ok, code := loadForCommand(prog, args, stdin, stderr, ctxlog.New(stderr, "text", "info"))
	if !ok {
		return code
	}
	out, err := yaml.Marshal(cfg)
	if err == nil {
		_, err = stdout.Write(out)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

var CheckCommand checkCommand

type checkCommand struct{}

// RunCommand loads the configuration and exits 1 if it is invalid or
// has unknown entries.
func (checkCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logger := ctxlog.New(stderr, "text", "info")
	warnings := &warningCounter{}
	logger.AddHook(warnings)
	if _, ok, code := loadForCommand(prog, args, stdin, stderr, logger); !ok {
		return code
	}
	if warnings.n > 0 {
		return 1
	}
	return 0
}

// warningCounter is a logrus hook that counts warnings.
type warningCounter struct {
	n int
}

func (wc *warningCounter) Levels() []logrus.Level {
	return []logrus.Level{logrus.WarnLevel}
}

func (wc *warningCounter) Fire(*logrus.Entry) error {
	wc.n++
	return nil
}

var DumpDefaultsCommand defaultsCommand

type defaultsCommand struct{}

// RunCommand prints the default configuration, with comments.
func (defaultsCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if _, err := stdout.Write(DefaultYAML); err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}
