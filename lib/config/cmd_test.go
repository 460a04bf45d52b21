// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"

	"github.com/ghodss/yaml"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&CommandSuite{})

type CommandSuite struct{}

func (s *CommandSuite) TestDump(c *check.C) {
	var stdout, stderr bytes.Buffer
	in := bytes.NewBufferString("Pwd: memory:/work\n")
	code := DumpCommand.RunCommand("config-dump", []string{"--config", "-"}, in, &stdout, &stderr)
	c.Check(code, check.Equals, 0)
	c.Check(stderr.String(), check.Equals, "")
	var cfg Config
	c.Assert(yaml.Unmarshal(stdout.Bytes(), &cfg), check.IsNil)
	c.Check(cfg.Pwd, check.Equals, "memory:/work")
	c.Check(cfg.Buffers.Capacity, check.Equals, 32)
}

func (s *CommandSuite) TestCheck(c *check.C) {
	var stdout, stderr bytes.Buffer
	code := CheckCommand.RunCommand("config-check", []string{"--config=-"}, bytes.NewBufferString("Pwd: memory:/\n"), &stdout, &stderr)
	c.Check(code, check.Equals, 0)
	c.Check(stderr.String(), check.Equals, "")

	stderr.Reset()
	code = CheckCommand.RunCommand("config-check", []string{"--config=-"}, bytes.NewBufferString("Pdw: memory:/\n"), &stdout, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*unknown config entry: Pdw.*`)

	stderr.Reset()
	code = CheckCommand.RunCommand("config-check", []string{"--config=-"}, bytes.NewBufferString("Logging: {Level: loud}\n"), &stdout, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*Logging.Level.*`)

	code = CheckCommand.RunCommand("config-check", []string{"extra"}, nil, &stdout, &stderr)
	c.Check(code, check.Equals, 2)
}

func (s *CommandSuite) TestDumpDefaults(c *check.C) {
	var stdout, stderr bytes.Buffer
	code := DumpDefaultsCommand.RunCommand("config-defaults", nil, nil, &stdout, &stderr)
	c.Check(code, check.Equals, 0)
	c.Check(stdout.String(), check.Equals, string(DefaultYAML))
}
