// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Command vfs reads, writes and inspects paths in any scheme the vfs
// environment supports.
package main

import (
	"os"

	"github.com/CleverCloud/Quercus-sub014/lib/cmd"
	"github.com/CleverCloud/Quercus-sub014/lib/config"
)

var handler = cmd.Multi(map[string]cmd.RunFunc{
	"version":   versionCommand,
	"--version": versionCommand,

	"cat":   catCommand,
	"cp":    cpCommand,
	"ls":    lsCommand,
	"mkdir": mkdirCommand,
	"put":   putCommand,
	"rm":    rmCommand,
	"stat":  statCommand,

	"config-check":    config.CheckCommand.RunCommand,
	"config-defaults": config.DumpDefaultsCommand.RunCommand,
	"config-dump":     config.DumpCommand.RunCommand,
})

// entrypoint accepts --config before the subcommand name.
var entrypoint = cmd.WithLateSubcommand(handler, []string{"config"}, nil)

func main() {
	os.Exit(entrypoint(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
