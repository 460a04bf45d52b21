// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package jarfs exposes entries of zip (and jar) archives as the
// "jar" scheme: jar:<container-url>!/<entry>.
//
// Entry metadata is cached per archive, and the archive's backing
// file is re-checked for changes at most once per CheckInterval. A
// change empties the entry cache and retires the open archive handle,
// which is closed once the last stream reading from it is closed.
package jarfs

import (
	"sync"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/clock"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ctxlog"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCheckInterval    = 100 * time.Millisecond
	DefaultEntryCacheSize   = 64
	DefaultArchiveCacheSize = 256
)

type Config struct {
	// CheckInterval is how long a fingerprint check of the backing
	// file stays valid.
	CheckInterval time.Duration
	// EntryCacheSize bounds the per-archive entry metadata cache.
	EntryCacheSize int
	// ArchiveCacheSize bounds the number of archives tracked by a
	// Cache. Evicted archives have their handles closed.
	ArchiveCacheSize int

	Clock      clock.Clock
	Logger     logrus.FieldLogger
	Registerer prometheus.Registerer
}

// Cache tracks the archives opened through one jar scheme.
type Cache struct {
	cfg    Config
	clock  clock.Clock
	logger logrus.FieldLogger
	fs     *FS

	mtx  sync.Mutex
	jars *lru.Cache

	opens         prometheus.Counter
	invalidations prometheus.Counter
	lookups       *prometheus.CounterVec
}

// NewCache returns an empty cache.
func NewCache(cfg Config) *Cache {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.EntryCacheSize <= 0 {
		cfg.EntryCacheSize = DefaultEntryCacheSize
	}
	if cfg.ArchiveCacheSize <= 0 {
		cfg.ArchiveCacheSize = DefaultArchiveCacheSize
	}
	c := &Cache{
		cfg:    cfg,
		clock:  clock.Or(cfg.Clock),
		logger: ctxlog.Or(cfg.Logger),
	}
	c.fs = &FS{cache: c}
	jars, err := lru.NewWithEvict(cfg.ArchiveCacheSize, func(key, value interface{}) {
		c.logger.WithField("Archive", key).Debug("jar evicted from archive cache")
		value.(*Jar).Close()
	})
	if err != nil {
		panic(err)
	}
	c.jars = jars
	c.setupMetrics(cfg.Registerer)
	return c
}

func (c *Cache) setupMetrics(reg prometheus.Registerer) {
	c.opens = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vfs",
		Subsystem: "jar",
		Name:      "archive_opens_total",
		Help:      "Number of times an archive handle was opened.",
	})
	c.invalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vfs",
		Subsystem: "jar",
		Name:      "invalidations_total",
		Help:      "Number of times a change to a backing file emptied an entry cache.",
	})
	c.lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vfs",
		Subsystem: "jar",
		Name:      "entry_lookups_total",
		Help:      "Entry metadata lookups, by result (hit, miss).",
	}, []string{"result"})
	if reg != nil {
		reg.MustRegister(c.opens, c.invalidations, c.lookups)
	}
}

// FS returns the jar scheme backend using this cache.
func (c *Cache) FS() *FS { return c.fs }

// Jar returns the archive stored at backing, adding it to the cache
// if needed.
func (c *Cache) Jar(backing *vfs.Path) *Jar {
	key := backing.URL()
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if j, ok := c.jars.Get(key); ok {
		return j.(*Jar)
	}
	j := newJar(c, backing)
	c.jars.Add(key, j)
	return j
}

// Get returns the cached archive for backing, if there is one.
func (c *Cache) Get(backing *vfs.Path) (*Jar, bool) {
	j, ok := c.jars.Get(backing.URL())
	if !ok {
		return nil, false
	}
	return j.(*Jar), true
}

// Len returns the number of cached archives.
func (c *Cache) Len() int { return c.jars.Len() }

// ClearCache closes every cached archive handle. Entry metadata is
// kept.
func (c *Cache) ClearCache() {
	for _, key := range c.jars.Keys() {
		if j, ok := c.jars.Peek(key); ok {
			j.(*Jar).ClearCache()
		}
	}
}

// Close forgets every archive and closes their handles.
func (c *Cache) Close() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.jars.Purge()
	return nil
}
