// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ctxlog"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/ghodss/yaml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// DefaultConfigFile is read when no other file is given. It is not an
// error for it to be missing.
const DefaultConfigFile = "/etc/vfs/config.yml"

// Loader reads a configuration file on top of the defaults.
type Loader struct {
	// Path is the file to load. "-" means Stdin. Empty means
	// $VFS_CONFIG, or DefaultConfigFile if that is not set.
	Path   string
	Stdin  io.Reader
	Logger logrus.FieldLogger
}

// NewLoader returns a loader that logs warnings to logger.
func NewLoader(stdin io.Reader, logger logrus.FieldLogger) *Loader {
	return &Loader{Stdin: stdin, Logger: ctxlog.Or(logger)}
}

// SetupFlags adds a --config flag that sets ldr.Path.
func (ldr *Loader) SetupFlags(flagset *pflag.FlagSet) {
	flagset.StringVar(&ldr.Path, "config", ldr.Path, "configuration `file` (\"-\" for stdin)")
}

// Load returns the defaults overlaid with the configuration file, and
// checks the result.
func (ldr *Loader) Load() (*Config, error) {
	buf, err := ldr.read()
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if len(buf) > 0 {
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, err
		}
		if err := ldr.checkKeys(buf); err != nil {
			return nil, err
		}
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal(DefaultYAML, &cfg); err != nil {
		panic(fmt.Sprintf("bug: cannot load default config: %s", err))
	}
	return &cfg
}

func (ldr *Loader) read() ([]byte, error) {
	path, required := ldr.Path, true
	if path == "" {
		path = os.Getenv("VFS_CONFIG")
	}
	if path == "" {
		path, required = DefaultConfigFile, false
	}
	if path == "-" {
		if ldr.Stdin == nil {
			return nil, errors.New("config file is \"-\" but there is no stdin")
		}
		return io.ReadAll(ldr.Stdin)
	}
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) && !required {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return buf, nil
}

// checkKeys warns about entries in buf that do not correspond to any
// default entry.
func (ldr *Loader) checkKeys(buf []byte) error {
	var expected, supplied map[string]interface{}
	if err := yaml.Unmarshal(DefaultYAML, &expected); err != nil {
		return err
	}
	if err := yaml.Unmarshal(buf, &supplied); err != nil {
		return err
	}
	ldr.logExtraKeys(expected, supplied, "")
	return nil
}

func (ldr *Loader) logExtraKeys(expected, supplied map[string]interface{}, prefix string) {
	keys := make([]string, 0, len(supplied))
	for k := range supplied {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vexp, ok := expected[k]
		if !ok {
			suggestion := ""
			for ek := range expected {
				if strings.EqualFold(k, ek) {
					suggestion = fmt.Sprintf(" (did you mean %q?)", prefix+ek)
				}
			}
			ldr.Logger.Warnf("unknown config entry: %s%s%s", prefix, k, suggestion)
			continue
		}
		if k == "Mounts" {
			// keys are paths, not config entries
			continue
		}
		vsupp, ok := supplied[k].(map[string]interface{})
		if !ok {
			continue
		}
		if vexp, ok := vexp.(map[string]interface{}); ok {
			ldr.logExtraKeys(vexp, vsupp, prefix+k+".")
		}
	}
}

// Check returns an error describing the first invalid entry in cfg.
func (cfg *Config) Check() error {
	b := cfg.Buffers
	if b.Capacity < 0 {
		return fmt.Errorf("Buffers.Capacity must not be negative")
	}
	if b.SmallSize <= 0 || b.StandardSize < b.SmallSize || b.LargeSize < b.StandardSize {
		return fmt.Errorf("Buffers sizes must be positive and ordered SmallSize <= StandardSize <= LargeSize (have %d, %d, %d)", b.SmallSize, b.StandardSize, b.LargeSize)
	}
	for name, d := range map[string]Duration{
		"HTTP.ConnectTimeout":  cfg.HTTP.ConnectTimeout,
		"HTTP.ReadTimeout":     cfg.HTTP.ReadTimeout,
		"HTTP.KeepAliveWindow": cfg.HTTP.KeepAliveWindow,
		"HTTP.MetadataTTL":     cfg.HTTP.MetadataTTL,
		"Jar.CheckInterval":    cfg.Jar.CheckInterval,
		"TCP.ConnectTimeout":   cfg.TCP.ConnectTimeout,
		"TCP.ReadTimeout":      cfg.TCP.ReadTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if _, err := logrus.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("Logging.Level: %w", err)
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("Logging.Format %q is not supported (use text or json)", cfg.Logging.Format)
	}
	for path, url := range cfg.Mounts {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("Mounts: path %q is not absolute", path)
		}
		if _, _, ok := vfs.ScanScheme(url); !ok {
			return fmt.Errorf("Mounts: %q: target %q is not a URL", path, url)
		}
	}
	for i, entry := range cfg.SearchPath {
		if entry == "" {
			return fmt.Errorf("SearchPath[%d] is empty", i)
		}
	}
	return nil
}
