// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"sort"
	"sync"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/tempbuf"
)

// SchemeMap maps scheme names to backends. It is safe for concurrent
// use; it is normally populated at startup and read afterwards.
type SchemeMap struct {
	mtx   sync.RWMutex
	m     map[string]FS
	pools *tempbuf.Pools
}

// NewSchemeMap returns an empty map whose streams use the default
// buffer pools.
func NewSchemeMap() *SchemeMap {
	return &SchemeMap{m: map[string]FS{}}
}

// Get returns the backend registered for scheme.
func (sm *SchemeMap) Get(scheme string) (FS, bool) {
	if sm == nil {
		return nil, false
	}
	sm.mtx.RLock()
	defer sm.mtx.RUnlock()
	fs, ok := sm.m[scheme]
	return fs, ok
}

// Put registers fs for scheme, replacing any previous entry.
func (sm *SchemeMap) Put(scheme string, fs FS) {
	sm.mtx.Lock()
	defer sm.mtx.Unlock()
	sm.m[scheme] = fs
}

func (sm *SchemeMap) Remove(scheme string) {
	sm.mtx.Lock()
	defer sm.mtx.Unlock()
	delete(sm.m, scheme)
}

// Copy returns an independent map with the same entries and pools.
func (sm *SchemeMap) Copy() *SchemeMap {
	sm.mtx.RLock()
	defer sm.mtx.RUnlock()
	cp := &SchemeMap{m: make(map[string]FS, len(sm.m)), pools: sm.pools}
	for k, v := range sm.m {
		cp.m[k] = v
	}
	return cp
}

// Schemes returns the registered scheme names, sorted.
func (sm *SchemeMap) Schemes() []string {
	sm.mtx.RLock()
	defer sm.mtx.RUnlock()
	names := make([]string, 0, len(sm.m))
	for k := range sm.m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SetPools sets the buffer pools used by streams opened on paths
// from this map.
func (sm *SchemeMap) SetPools(pools *tempbuf.Pools) {
	sm.mtx.Lock()
	defer sm.mtx.Unlock()
	sm.pools = pools
}

// Pools returns the buffer pools for streams.
func (sm *SchemeMap) Pools() *tempbuf.Pools {
	if sm == nil {
		return tempbuf.Default()
	}
	sm.mtx.RLock()
	defer sm.mtx.RUnlock()
	if sm.pools == nil {
		return tempbuf.Default()
	}
	return sm.pools
}

// Root returns the root path of scheme.
func (sm *SchemeMap) Root(scheme string) (*Path, error) {
	fs, ok := sm.Get(scheme)
	if !ok {
		return nil, ioerr.UnknownScheme(scheme + ":")
	}
	return NewPath(fs, sm, "/"), nil
}

// Lookup resolves an absolute URL ("scheme:rest").
func (sm *SchemeMap) Lookup(url string, attrs Attributes) (*Path, error) {
	scheme, _, ok := ScanScheme(url)
	if !ok {
		return nil, ioerr.UnknownScheme(url)
	}
	if _, ok := sm.Get(scheme); !ok {
		return nil, ioerr.UnknownScheme(url)
	}
	return NewPath(deadFS{}, sm, "/").Lookup(url, attrs)
}
