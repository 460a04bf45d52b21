// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package httpfs is an HTTP/1.1 client exposed as the http and https
// schemes. Each open stream issues one request on first read (or
// close). Idle connections are kept in a single keep-alive slot, and
// HEAD probes for Stat are cached for a few seconds.
package httpfs

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/clock"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ctxlog"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/tempbuf"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/tcpfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	DefaultUserAgent         = "Mozilla/4.0 (compatible; Resin 1.0; JDK)"
	DefaultKeepAliveWindow   = 5 * time.Second
	DefaultMetadataTTL       = 5 * time.Second
	DefaultMetadataCacheSize = 1024
)

type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// DisableKeepAlive sends "Connection: close" on every request
	// and never reuses connections.
	DisableKeepAlive bool
	// A connection saved in the keep-alive slot is reused only if
	// it is taken out within KeepAliveWindow.
	KeepAliveWindow   time.Duration
	MetadataTTL       time.Duration
	MetadataCacheSize int
	UserAgent         string
	// TLS is the client configuration for https.
	TLS *tls.Config

	Clock      clock.Clock
	Logger     logrus.FieldLogger
	Registerer prometheus.Registerer
	// Pools supplies connection buffers and request body buffers.
	Pools *tempbuf.Pools
}

// Client holds the state shared by every http and https path it
// creates: the keep-alive slot, the metadata cache, and the dialers.
type Client struct {
	cfg    Config
	clock  clock.Clock
	logger logrus.FieldLogger
	pools  *tempbuf.Pools
	dialer [2]*tcpfs.FS // plain, TLS
	fs     [2]*FS
	meta   *metadataCache

	slotMtx sync.Mutex
	saved   *conn
	savedAt time.Time

	connections *prometheus.CounterVec
	probes      *prometheus.CounterVec
}

// NewClient returns a client with its own keep-alive slot and
// metadata cache.
func NewClient(cfg Config) *Client {
	if cfg.KeepAliveWindow <= 0 {
		cfg.KeepAliveWindow = DefaultKeepAliveWindow
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = DefaultMetadataTTL
	}
	if cfg.MetadataCacheSize <= 0 {
		cfg.MetadataCacheSize = DefaultMetadataCacheSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	c := &Client{
		cfg:    cfg,
		clock:  clock.Or(cfg.Clock),
		logger: ctxlog.Or(cfg.Logger),
		pools:  cfg.Pools,
	}
	if c.pools == nil {
		c.pools = tempbuf.Default()
	}
	tcfg := tcpfs.Config{
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		TLS:            cfg.TLS,
		Logger:         c.logger,
	}
	c.dialer[0] = tcpfs.New(tcfg)
	c.dialer[1] = tcpfs.NewTLS(tcfg)
	c.fs[0] = &FS{client: c}
	c.fs[1] = &FS{client: c, secure: true}
	c.meta = newMetadataCache(cfg.MetadataCacheSize)
	c.setupMetrics(cfg.Registerer)
	return c
}

func (c *Client) setupMetrics(reg prometheus.Registerer) {
	c.connections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vfs",
		Subsystem: "http",
		Name:      "connections_total",
		Help:      "Connections obtained for requests, by how they were obtained (new, reused, expired).",
	}, []string{"result"})
	c.probes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vfs",
		Subsystem: "http",
		Name:      "metadata_lookups_total",
		Help:      "Metadata cache lookups, by result (hit, probe).",
	}, []string{"result"})
	if reg != nil {
		reg.MustRegister(c.connections, c.probes)
	}
}

// FS returns the http (or, if secure, https) scheme root.
func (c *Client) FS(secure bool) *FS {
	if secure {
		return c.fs[1]
	}
	return c.fs[0]
}

// Root returns the root path of the given server.
func (c *Client) Root(schemes *vfs.SchemeMap, secure bool, host string, port int) *vfs.Path {
	return vfs.NewPath(c.FS(secure).host(host, port), schemes, "/")
}

type slotKey struct {
	host   string
	port   int
	secure bool
}

// conn is a connection with the buffered streams used to speak HTTP
// on it. It outlives the requests made on it.
type conn struct {
	key  slotKey
	sock *tcpfs.SocketStream
	rs   *vfs.ReadStream
	ws   *vfs.WriteStream
}

// close closes both halves and the socket.
func (cn *conn) close() error {
	return cn.rs.Close()
}

// connect takes the saved connection if it is for the same server
// and was saved within the keep-alive window; otherwise it dials.
func (c *Client) connect(ctx context.Context, key slotKey, attrs vfs.Attributes) (*conn, error) {
	c.slotMtx.Lock()
	saved, savedAt := c.saved, c.savedAt
	if saved != nil && saved.key == key {
		c.saved = nil
	} else {
		saved = nil
	}
	c.slotMtx.Unlock()

	if saved != nil {
		if c.clock.Now().Before(savedAt.Add(c.cfg.KeepAliveWindow)) {
			c.connections.WithLabelValues("reused").Inc()
			c.logger.WithField("host", key.host).Debug("reusing keep-alive connection")
			if t := attrs.SocketTimeout(); t > 0 {
				saved.sock.SetTimeout(t)
			}
			return saved, nil
		}
		c.connections.WithLabelValues("expired").Inc()
		if err := saved.close(); err != nil {
			c.logger.WithError(err).WithField("host", key.host).Debug("error closing expired keep-alive connection")
		}
	}

	dialer := c.dialer[0]
	if key.secure {
		dialer = c.dialer[1]
	}
	sock, err := dialer.Dial(ctx, key.host, key.port, attrs)
	if err != nil {
		return nil, err
	}
	c.connections.WithLabelValues("new").Inc()
	cn := &conn{key: key, sock: sock}
	cn.rs, cn.ws = vfs.ReadWritePair(sock, c.pools.Get(tempbuf.Standard))
	return cn, nil
}

// save puts cn in the keep-alive slot. A connection already in the
// slot is closed.
func (c *Client) save(cn *conn) {
	c.slotMtx.Lock()
	old := c.saved
	c.saved = cn
	c.savedAt = c.clock.Now()
	c.slotMtx.Unlock()
	if old != nil && old != cn {
		old.close()
	}
}

// Close closes the connection in the keep-alive slot, if any.
func (c *Client) Close() error {
	c.slotMtx.Lock()
	old := c.saved
	c.saved = nil
	c.slotMtx.Unlock()
	if old != nil {
		return old.close()
	}
	return nil
}
