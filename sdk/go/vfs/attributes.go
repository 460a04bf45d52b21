// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"strconv"
	"time"
)

// Well-known attribute names passed at lookup time.
const (
	AttrHost          = "host"           // virtual host override
	AttrSocketTimeout = "socket-timeout" // integer milliseconds
	AttrNoDelay       = "no-delay"       // boolean
	AttrMethod        = "method"         // HTTP verb override
)

// Attributes is an open string-keyed map carried by a Path.
type Attributes map[string]string

// Merge returns a copy of a overlaid with b. It returns nil if both
// are empty.
func (a Attributes) Merge(b Attributes) Attributes {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	m := make(Attributes, len(a)+len(b))
	for k, v := range a {
		m[k] = v
	}
	for k, v := range b {
		m[k] = v
	}
	return m
}

func (a Attributes) Get(name string) (string, bool) {
	v, ok := a[name]
	return v, ok
}

func (a Attributes) Host() string   { return a[AttrHost] }
func (a Attributes) Method() string { return a[AttrMethod] }

// SocketTimeout returns the socket-timeout attribute. Plain integers
// are milliseconds; Go duration strings are also accepted. It returns
// 0 if the attribute is absent or invalid.
func (a Attributes) SocketTimeout() time.Duration {
	v, ok := a[AttrSocketTimeout]
	if !ok {
		return 0
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return 0
}

// NoDelay returns the no-delay attribute and whether it was set.
func (a Attributes) NoDelay() (noDelay, ok bool) {
	v, present := a[AttrNoDelay]
	if !present {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
