// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	_ "embed"
)

// DefaultYAML is the default configuration. Site configuration is
// loaded on top of it.
//
//go:embed config.default.yml
var DefaultYAML []byte
