// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package httpfs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/hashicorp/golang-lru"
)

type cachedMetadata struct {
	mtx     sync.Mutex
	expire  time.Time
	exists  bool
	modTime time.Time
	length  int64
}

type metadataCache struct {
	mtx     sync.Mutex
	entries *lru.TwoQueueCache
}

func newMetadataCache(size int) *metadataCache {
	entries, err := lru.New2Q(size)
	if err != nil {
		panic(err)
	}
	return &metadataCache{entries: entries}
}

// entry returns the (possibly expired) entry for key, adding an
// empty one if needed.
func (mc *metadataCache) entry(key string) *cachedMetadata {
	mc.mtx.Lock()
	defer mc.mtx.Unlock()
	if ent, ok := mc.entries.Get(key); ok {
		return ent.(*cachedMetadata)
	}
	ent := &cachedMetadata{}
	mc.entries.Add(key, ent)
	return ent
}

func (mc *metadataCache) purge() {
	mc.entries.Purge()
}

// stat returns p's metadata, probing with HEAD if the cached copy is
// older than the metadata TTL. A failed probe is cached as "does not
// exist".
func (c *Client) stat(h *Host, p *vfs.Path) (vfs.FileInfo, error) {
	ent := c.meta.entry(h.url(p.Path(), p.Query()))
	ent.mtx.Lock()
	defer ent.mtx.Unlock()
	now := c.clock.Now()
	if now.Before(ent.expire) {
		c.probes.WithLabelValues("hit").Inc()
	} else {
		c.probes.WithLabelValues("probe").Inc()
		c.probe(h, p, ent)
		ent.expire = now.Add(c.cfg.MetadataTTL)
	}
	if !ent.exists {
		return vfs.FileInfo{}, ioerr.NotFound("stat", p.URL())
	}
	fi := vfs.FileInfo{
		Name:    p.Tail(),
		Type:    vfs.TypeFile,
		Size:    ent.length,
		ModTime: ent.modTime,
	}
	if strings.HasSuffix(p.Path(), "/") {
		fi.Type = vfs.TypeDir
	}
	return fi, nil
}

func (c *Client) probe(h *Host, p *vfs.Path, ent *cachedMetadata) {
	ent.exists, ent.modTime, ent.length = false, time.Time{}, 0
	s, err := h.Open(p)
	if err != nil {
		c.logger.WithError(err).WithField("url", p.URL()).Debug("metadata probe failed")
		return
	}
	defer s.Close()
	s.SetHead(true)
	status, err := s.Status()
	if err != nil {
		c.logger.WithError(err).WithField("url", p.URL()).Debug("metadata probe failed")
		return
	}
	if status != http.StatusOK {
		return
	}
	ent.exists = true
	if lm, ok := s.Attribute("last-modified"); ok {
		if t, err := http.ParseTime(lm); err == nil {
			ent.modTime = t
		}
	}
	if cl, ok := s.Attribute("content-length"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64); err == nil {
			ent.length = n
		}
	}
}

// PurgeMetadata discards all cached metadata.
func (c *Client) PurgeMetadata() {
	c.meta.purge()
}
