// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the complete configuration of a vfs environment.
type Config struct {
	Buffers struct {
		Capacity     int
		SmallSize    ByteSize
		StandardSize ByteSize
		LargeSize    ByteSize
	}
	HTTP struct {
		ConnectTimeout     Duration
		ReadTimeout        Duration
		KeepAliveWindow    Duration
		DisableKeepAlive   bool
		MetadataTTL        Duration
		MetadataCacheSize  int
		UserAgent          string
		InsecureSkipVerify bool
	}
	Jar struct {
		CheckInterval    Duration
		EntryCacheSize   int
		ArchiveCacheSize int
	}
	TCP struct {
		ConnectTimeout Duration
		ReadTimeout    Duration
		NoDelay        bool
	}
	Blob struct {
		Dir      string
		Compress bool
	}
	Memory struct {
		Enable bool
	}
	Mounts     map[string]string
	SearchPath []string
	Pwd        string
	Logging    struct {
		Level  string
		Format string
	}
}

// Duration is time.Duration but looks like "12s" in JSON and YAML,
// rather than a number of nanoseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		dur, err := time.ParseDuration(s)
		*d = Duration(dur)
		return err
	}
	return fmt.Errorf("duration must be given as a string like \"600s\" or \"1h30m\"")
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize is a size in bytes, given either as a number or as a
// string with a unit like "64KiB" or "1.5 MB".
type ByteSize int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *ByteSize) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || data[0] != '"' {
		var i int64
		if err := json.Unmarshal(data, &i); err != nil {
			return err
		}
		*n = ByteSize(i)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if v > math.MaxInt64 {
		return fmt.Errorf("size %q overflows int64", s)
	}
	*n = ByteSize(v)
	return nil
}

// String returns the size with a binary unit, like "64 KiB".
func (n ByteSize) String() string {
	if n < 0 {
		return fmt.Sprintf("%d B", int64(n))
	}
	return humanize.IBytes(uint64(n))
}

// Int returns n as an int.
func (n ByteSize) Int() int {
	return int(n)
}
