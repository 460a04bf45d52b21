// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package version reports the release number of the running program.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is assigned at link time with
// -ldflags "-X github.com/CleverCloud/Quercus-sub014/sdk/go/version.Version=1.2.3".
var Version string

// GetVersion returns the release number assigned at link time, or
// the main module version recorded in the build info, or "dev".
func GetVersion() string {
	if Version != "" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return "dev"
}

// String returns the release number followed by the Go version,
// e.g. "1.2.3 (go1.22.1)".
func String() string {
	return fmt.Sprintf("%s (%s)", GetVersion(), runtime.Version())
}
