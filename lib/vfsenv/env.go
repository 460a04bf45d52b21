// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package vfsenv assembles the standard backends into one
// environment: a scheme map with every built-in scheme registered, a
// root tree with the configured bind mounts, an optional merge search
// root, and a current directory.
package vfsenv

import (
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/CleverCloud/Quercus-sub014/lib/config"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ctxlog"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/tempbuf"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/bindfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/blobfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/httpfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/jarfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/localfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/memfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/mergefs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/namingfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/tcpfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Env is a configured set of backends. Its methods are safe for
// concurrent use.
type Env struct {
	cfg     *config.Config
	logger  logrus.FieldLogger
	pools   *tempbuf.Pools
	schemes *vfs.SchemeMap

	local  *localfs.FS
	memory *memfs.FS
	jars   *jarfs.Cache
	http   *httpfs.Client
	blob   *blobfs.Store
	naming *namingfs.FS
	mounts *bindfs.FS

	root   *vfs.Path
	search *vfs.Path

	mtx    sync.RWMutex
	pwd    *vfs.Path
	closed bool
}

// New returns an environment built from cfg. A nil cfg means the
// defaults. A nil logger means a new logger configured by
// cfg.Logging. A nil reg means no metrics.
func New(cfg *config.Config, logger logrus.FieldLogger, reg prometheus.Registerer) (*Env, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = ctxlog.New(os.Stderr, cfg.Logging.Format, cfg.Logging.Level)
	}
	env := &Env{
		cfg:     cfg,
		logger:  logger,
		schemes: vfs.NewSchemeMap(),
	}

	b := cfg.Buffers
	env.pools = tempbuf.NewPools([3]int{b.SmallSize.Int(), b.StandardSize.Int(), b.LargeSize.Int()}, b.Capacity, reg)
	env.pools.SetLogger(logger)
	env.schemes.SetPools(env.pools)

	env.local = localfs.New(localfs.Config{Registerer: reg})
	env.schemes.Put("file", env.local)

	if cfg.Memory.Enable {
		env.memory = memfs.New()
		env.schemes.Put("memory", env.memory)
	}

	env.schemes.Put("merge", mergefs.New())

	env.jars = jarfs.NewCache(jarfs.Config{
		CheckInterval:    cfg.Jar.CheckInterval.Duration(),
		EntryCacheSize:   cfg.Jar.EntryCacheSize,
		ArchiveCacheSize: cfg.Jar.ArchiveCacheSize,
		Logger:           logger,
		Registerer:       reg,
	})
	env.schemes.Put("jar", env.jars.FS())

	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify}
	env.http = httpfs.NewClient(httpfs.Config{
		ConnectTimeout:    cfg.HTTP.ConnectTimeout.Duration(),
		ReadTimeout:       cfg.HTTP.ReadTimeout.Duration(),
		DisableKeepAlive:  cfg.HTTP.DisableKeepAlive,
		KeepAliveWindow:   cfg.HTTP.KeepAliveWindow.Duration(),
		MetadataTTL:       cfg.HTTP.MetadataTTL.Duration(),
		MetadataCacheSize: cfg.HTTP.MetadataCacheSize,
		UserAgent:         cfg.HTTP.UserAgent,
		TLS:               tlsConfig,
		Logger:            logger,
		Registerer:        reg,
		Pools:             env.pools,
	})
	env.schemes.Put("http", env.http.FS(false))
	env.schemes.Put("https", env.http.FS(true))

	tcfg := tcpfs.Config{
		ConnectTimeout: cfg.TCP.ConnectTimeout.Duration(),
		ReadTimeout:    cfg.TCP.ReadTimeout.Duration(),
		NoDelay:        cfg.TCP.NoDelay,
		TLS:            tlsConfig,
		Logger:         logger,
	}
	env.schemes.Put("tcp", tcpfs.New(tcfg))
	env.schemes.Put("tcps", tcpfs.NewTLS(tcfg))

	env.naming = namingfs.New()
	env.schemes.Put("naming", env.naming)

	if cfg.Blob.Dir != "" {
		store, err := blobfs.Open(blobfs.Config{
			Dir:        cfg.Blob.Dir,
			Compress:   cfg.Blob.Compress,
			Logger:     logger,
			Registerer: reg,
			Pools:      env.pools,
		})
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("opening blob store: %w", err)
		}
		env.blob = store
		env.schemes.Put("blob", store)
	}

	if err := env.setupRoot(); err != nil {
		env.Close()
		return nil, err
	}
	if err := env.setupSearchPath(); err != nil {
		env.Close()
		return nil, err
	}
	if err := env.setupPwd(); err != nil {
		env.Close()
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"Schemes": env.schemes.Schemes(),
		"Pwd":     env.Pwd().URL(),
	}).Debug("vfs environment ready")
	return env, nil
}

// setupRoot builds the root tree: the local filesystem, overlaid
// with the configured mounts.
func (env *Env) setupRoot() error {
	root := vfs.NewPath(env.local, env.schemes, "/")
	if len(env.cfg.Mounts) == 0 {
		env.root = root
		return nil
	}
	env.mounts = bindfs.New(root)
	paths := make([]string, 0, len(env.cfg.Mounts))
	for path := range env.cfg.Mounts {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		url := env.cfg.Mounts[path]
		target, err := env.schemes.Lookup(url, nil)
		if err != nil {
			return fmt.Errorf("mount %s: %w", path, err)
		}
		env.mounts.Bind(path, target)
		env.logger.WithFields(logrus.Fields{"Path": path, "Target": target.URL()}).Debug("mounted")
	}
	env.root = env.mounts.Root(env.schemes)
	return nil
}

func (env *Env) setupSearchPath() error {
	if len(env.cfg.SearchPath) == 0 {
		return nil
	}
	var paths []*vfs.Path
	for _, entry := range env.cfg.SearchPath {
		p, err := env.root.Lookup(entry, nil)
		if err != nil {
			return fmt.Errorf("search path entry %q: %w", entry, err)
		}
		paths = append(paths, p)
	}
	env.search = mergefs.New(paths...).Root(env.schemes)
	return nil
}

func (env *Env) setupPwd() error {
	if env.cfg.Pwd != "" {
		p, err := env.root.Lookup(env.cfg.Pwd, nil)
		if err != nil {
			return fmt.Errorf("Pwd: %w", err)
		}
		env.pwd = p
		return nil
	}
	wd, err := os.Getwd()
	if err != nil {
		env.logger.WithError(err).Warn("cannot get working directory, using /")
		env.pwd = env.root
		return nil
	}
	env.pwd = env.root.LookupOrDead(wd)
	return nil
}

// Config returns the configuration the environment was built from.
func (env *Env) Config() *config.Config { return env.cfg }

// Schemes returns the scheme map.
func (env *Env) Schemes() *vfs.SchemeMap { return env.schemes }

// Pools returns the buffer pools used by streams.
func (env *Env) Pools() *tempbuf.Pools { return env.pools }

// Root returns the root of the local tree, with mounts applied.
func (env *Env) Root() *vfs.Path { return env.root }

// SearchRoot returns the merge root built from the search path, or
// nil if no search path is configured.
func (env *Env) SearchRoot() *vfs.Path { return env.search }

// Mounts returns the bind overlay, or nil if no mounts are
// configured.
func (env *Env) Mounts() *bindfs.FS { return env.mounts }

func (env *Env) Memory() *memfs.FS          { return env.memory }
func (env *Env) Jars() *jarfs.Cache         { return env.jars }
func (env *Env) HTTP() *httpfs.Client       { return env.http }
func (env *Env) Blob() *blobfs.Store        { return env.blob }
func (env *Env) Naming() *namingfs.FS       { return env.naming }
func (env *Env) Logger() logrus.FieldLogger { return env.logger }

// Pwd returns the current directory.
func (env *Env) Pwd() *vfs.Path {
	env.mtx.RLock()
	defer env.mtx.RUnlock()
	return env.pwd
}

// SetPwd sets the current directory.
func (env *Env) SetPwd(p *vfs.Path) {
	env.mtx.Lock()
	defer env.mtx.Unlock()
	env.pwd = p
}

// Chdir resolves userPath against the current directory and makes
// it the current directory. The target must be a directory.
func (env *Env) Chdir(userPath string) error {
	p, err := env.Lookup(userPath)
	if err != nil {
		return err
	}
	if !p.IsDirectory() {
		return ioerr.NotFound("chdir", p.URL())
	}
	env.SetPwd(p)
	return nil
}

// Lookup resolves userPath against the current directory.
func (env *Env) Lookup(userPath string) (*vfs.Path, error) {
	return env.Pwd().Lookup(userPath, nil)
}

// LookupNative resolves a native filename in the local filesystem,
// bypassing mounts. A relative name is relative to the process
// working directory.
func (env *Env) LookupNative(name string) (*vfs.Path, error) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return nil, ioerr.FromOS("lookup", name, err)
	}
	return vfs.NewPath(env.local, env.schemes, "/").Lookup(abs, nil)
}

// OpenRead opens userPath for reading.
func (env *Env) OpenRead(userPath string) (*vfs.ReadStream, error) {
	p, err := env.Lookup(userPath)
	if err != nil {
		return nil, err
	}
	return p.OpenRead()
}

// OpenWrite opens userPath for writing, truncating it.
func (env *Env) OpenWrite(userPath string) (*vfs.WriteStream, error) {
	p, err := env.Lookup(userPath)
	if err != nil {
		return nil, err
	}
	return p.OpenWrite()
}

// OpenAppend opens userPath for appending.
func (env *Env) OpenAppend(userPath string) (*vfs.WriteStream, error) {
	p, err := env.Lookup(userPath)
	if err != nil {
		return nil, err
	}
	return p.OpenAppend()
}

// OpenReadWrite opens userPath for reading and writing.
func (env *Env) OpenReadWrite(userPath string) (*vfs.ReadStream, *vfs.WriteStream, error) {
	p, err := env.Lookup(userPath)
	if err != nil {
		return nil, nil, err
	}
	return p.OpenReadWrite()
}

// NewReader returns a buffered stream reading from r. If r is an
// io.Closer, closing the stream closes r.
func (env *Env) NewReader(r io.Reader) *vfs.ReadStream {
	src := &vfs.ReaderStream{R: r}
	if c, ok := r.(io.Closer); ok {
		src.C = c
	}
	return vfs.NewReadStream(src, env.pools.Get(tempbuf.Standard))
}

// NewWriter returns a buffered stream writing to w. If w is an
// io.Closer, closing the stream closes w.
func (env *Env) NewWriter(w io.Writer) *vfs.WriteStream {
	dst := &vfs.WriterStream{W: w}
	if c, ok := w.(io.Closer); ok {
		dst.C = c
	}
	return vfs.NewWriteStream(dst, env.pools.Get(tempbuf.Standard))
}

// Close releases the cached connections and archives, and flushes
// the blob index. Closing an environment twice is a no-op.
func (env *Env) Close() error {
	env.mtx.Lock()
	if env.closed {
		env.mtx.Unlock()
		return nil
	}
	env.closed = true
	env.mtx.Unlock()

	var firstErr error
	closeOne := func(name string, c interface{ Close() error }) {
		if err := c.Close(); err != nil {
			env.logger.WithError(err).Warnf("error closing %s", name)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if env.http != nil {
		closeOne("http client", env.http)
	}
	if env.jars != nil {
		closeOne("jar cache", env.jars)
	}
	if env.blob != nil {
		closeOne("blob store", env.blob)
	}
	return firstErr
}

var (
	defaultEnv  *Env
	defaultOnce sync.Once
)

// Default returns the process-wide environment, built from the
// default configuration on first use.
func Default() *Env {
	defaultOnce.Do(func() {
		env, err := New(nil, ctxlog.Or(nil), nil)
		if err != nil {
			panic(fmt.Sprintf("bug: default vfs environment: %s", err))
		}
		defaultEnv = env
	})
	return defaultEnv
}

// Lookup resolves userPath in the default environment.
func Lookup(userPath string) (*vfs.Path, error) {
	return Default().Lookup(userPath)
}
