// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package blobfs is a persistent path store (the "blob" scheme).
// File content is stored once per blake3 digest under
// Dir/blobs/xx/yyyy..., optionally zstd compressed, and the mapping
// from paths to digests is kept in a CBOR index file.
package blobfs

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/clock"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ctxlog"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/tempbuf"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const indexVersion = 1

var (
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrFileExists        = errors.New("file exists")
	ErrNotAFile          = errors.New("not a file")
	ErrNotADirectory     = errors.New("not a directory")
)

type Config struct {
	// Dir holds the index file and the blobs directory. It is
	// created if needed.
	Dir string
	// Compress stores new blobs zstd compressed, unless compression
	// does not make them smaller.
	Compress bool

	Clock      clock.Clock
	Logger     logrus.FieldLogger
	Registerer prometheus.Registerer
	// Pools supplies buffers for pending writes.
	Pools *tempbuf.Pools
}

type indexEntry struct {
	Digest     string    `cbor:"digest"`
	Size       int64     `cbor:"size"`
	ModTime    time.Time `cbor:"mtime"`
	Compressed bool      `cbor:"zstd,omitempty"`
}

type indexFile struct {
	Version int                   `cbor:"version"`
	Entries map[string]indexEntry `cbor:"entries"`
	Dirs    map[string]time.Time  `cbor:"dirs"`
}

// Store is a blob store opened on a directory. It implements vfs.FS.
type Store struct {
	cfg    Config
	clock  clock.Clock
	logger logrus.FieldLogger
	pools  *tempbuf.Pools

	// gcMtx is held for reading while a blob is written and its
	// index entry added, and for writing by GC.
	gcMtx sync.RWMutex

	mtx     sync.Mutex
	entries map[string]indexEntry
	dirs    map[string]time.Time
	dirty   bool
	closed  bool

	bytesStored  prometheus.Counter
	deduplicated prometheus.Counter
	keys         prometheus.Gauge
}

// Open loads the store in cfg.Dir, creating an empty one if there is
// no index yet.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, ioerr.Errorf(ioerr.KindNotFound, "open", "", "blob store directory not configured")
	}
	s := &Store{
		cfg:     cfg,
		clock:   clock.Or(cfg.Clock),
		logger:  ctxlog.Or(cfg.Logger).WithField("BlobDir", cfg.Dir),
		pools:   cfg.Pools,
		entries: map[string]indexEntry{},
		dirs:    map[string]time.Time{},
	}
	if s.pools == nil {
		s.pools = tempbuf.Default()
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, "blobs"), 0755); err != nil {
		return nil, ioerr.FromOS("open", cfg.Dir, err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.setupMetrics(cfg.Registerer)
	s.keys.Set(float64(len(s.entries)))
	s.logger.WithField("Entries", len(s.entries)).Info("opened blob store")
	return s, nil
}

func (s *Store) setupMetrics(reg prometheus.Registerer) {
	s.bytesStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vfs",
		Subsystem: "blob",
		Name:      "stored_bytes_total",
		Help:      "Bytes written to new blob files, after compression.",
	})
	s.deduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vfs",
		Subsystem: "blob",
		Name:      "deduplicated_writes_total",
		Help:      "Writes whose content was already stored.",
	})
	s.keys = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vfs",
		Subsystem: "blob",
		Name:      "entries",
		Help:      "Number of files in the index.",
	})
	if reg != nil {
		reg.MustRegister(s.bytesStored, s.deduplicated, s.keys)
	}
}

func (s *Store) indexPath() string {
	return filepath.Join(s.cfg.Dir, "index.cbor")
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return ioerr.FromOS("load index", s.indexPath(), err)
	}
	var idx indexFile
	if err := decMode.Unmarshal(data, &idx); err != nil {
		return ioerr.New(ioerr.KindProtocolViolation, "load index", s.indexPath(), err)
	}
	if idx.Version != indexVersion {
		return ioerr.Errorf(ioerr.KindProtocolViolation, "load index", s.indexPath(), "unsupported index version %d", idx.Version)
	}
	if idx.Entries != nil {
		s.entries = idx.Entries
	}
	if idx.Dirs != nil {
		s.dirs = idx.Dirs
	}
	return nil
}

// saveLocked writes the index to a temp file and renames it into
// place.
func (s *Store) saveLocked() error {
	s.dirty = true
	data, err := encMode.Marshal(indexFile{
		Version: indexVersion,
		Entries: s.entries,
		Dirs:    s.dirs,
	})
	if err != nil {
		return ioerr.New(ioerr.KindIOFailure, "save index", s.indexPath(), err)
	}
	if err := writeFileAtomic(s.indexPath(), data); err != nil {
		return ioerr.FromOS("save index", s.indexPath(), err)
	}
	s.dirty = false
	s.keys.Set(float64(len(s.entries)))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "tmp")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Sync writes the index if an earlier save failed.
func (s *Store) Sync() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !s.dirty {
		return nil
	}
	return s.saveLocked()
}

// Close syncs the index. Further operations fail.
func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.dirty {
		return s.saveLocked()
	}
	return nil
}

func (s *Store) checkOpenLocked(op, url string) error {
	if s.closed {
		return ioerr.Closed(op, url)
	}
	return nil
}

// Root returns the root directory of the store.
func (s *Store) Root(schemes *vfs.SchemeMap) *vfs.Path {
	return vfs.NewPath(s, schemes, "/")
}

// Keys returns the paths of all stored files, sorted.
func (s *Store) Keys() []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) blobPath(digest string, compressed bool) string {
	name := filepath.Join(s.cfg.Dir, "blobs", digest[:2], digest[2:])
	if compressed {
		name += ".zst"
	}
	return name
}

// isDirLocked reports whether p is the root, an explicit directory,
// or a prefix of a stored path.
func (s *Store) isDirLocked(p string) bool {
	if p == "/" {
		return true
	}
	if _, ok := s.dirs[p]; ok {
		return true
	}
	prefix := p + "/"
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func (s *Store) hasChildrenLocked(p string) bool {
	prefix := strings.TrimSuffix(p, "/") + "/"
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	for k := range s.dirs {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// GC deletes blob files that no index entry refers to, along with
// leftover temp files. It returns the number of files deleted.
func (s *Store) GC() (int, error) {
	s.gcMtx.Lock()
	defer s.gcMtx.Unlock()
	s.mtx.Lock()
	live := make(map[string]bool, len(s.entries))
	for _, ent := range s.entries {
		live[s.blobPath(ent.Digest, ent.Compressed)] = true
	}
	s.mtx.Unlock()

	deleted := 0
	var freed int64
	root := filepath.Join(s.cfg.Dir, "blobs")
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || live[path] {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			freed += fi.Size()
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		deleted++
		return nil
	})
	s.logger.WithFields(logrus.Fields{
		"Deleted": deleted,
		"Freed":   freed,
	}).Info("blob store garbage collection finished")
	if err != nil {
		return deleted, ioerr.FromOS("gc", root, err)
	}
	return deleted, nil
}
