// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package tcpfs provides raw socket paths: tcp://host:port and, over
// TLS, tcps://host:port. Opening a path connects; the stream reads
// and writes the connection.
package tcpfs

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ctxlog"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/sirupsen/logrus"
)

// Config holds the socket defaults. Per-path socket-timeout and
// no-delay attributes override ReadTimeout and NoDelay.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	NoDelay        bool
	// TLS is the client configuration for tcps. If ServerName is
	// empty, the host being dialed is used.
	TLS    *tls.Config
	Logger logrus.FieldLogger
}

// FS is the tcp or tcps scheme root.
type FS struct {
	cfg    Config
	secure bool
	logger logrus.FieldLogger
}

// New returns the plain tcp scheme.
func New(cfg Config) *FS {
	return &FS{cfg: cfg, logger: ctxlog.Or(cfg.Logger)}
}

// NewTLS returns the tcps scheme.
func NewTLS(cfg Config) *FS {
	fs := New(cfg)
	fs.secure = true
	return fs
}

func (fs *FS) Scheme() string {
	if fs.secure {
		return "tcps"
	}
	return "tcp"
}

// Endpoint is a host and port. Paths of a tcp scheme each belong to
// the Endpoint they name.
type Endpoint struct {
	fs   *FS
	Host string
	Port int
}

func (ep *Endpoint) Scheme() string { return ep.fs.Scheme() }

func (ep *Endpoint) Addr() string {
	return net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
}

// ParseHostPort splits "//host:port/rest" (the part of a URL after
// the scheme) into host, port and path. A missing port yields
// defaultPort; defaultPort < 0 makes it an error.
func ParseHostPort(rest string, defaultPort int) (host string, port int, path string, err error) {
	if !strings.HasPrefix(rest, "//") {
		return "", 0, "", ioerr.Errorf(ioerr.KindNotFound, "lookup", rest, "missing //host")
	}
	rest = rest[2:]
	authority := rest
	path = "/"
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		authority, path = rest[:i], rest[i:]
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
	}
	if i := strings.LastIndexByte(authority, '@'); i >= 0 {
		authority = authority[i+1:]
	}
	host, portStr := authority, ""
	if strings.HasPrefix(authority, "[") {
		// IPv6 literal
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", 0, "", ioerr.Errorf(ioerr.KindNotFound, "lookup", rest, "bad IPv6 address")
		}
		host = authority[1:end]
		portStr = strings.TrimPrefix(authority[end+1:], ":")
	} else if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		host, portStr = authority[:i], authority[i+1:]
	}
	if host == "" {
		return "", 0, "", ioerr.Errorf(ioerr.KindNotFound, "lookup", rest, "missing host")
	}
	if portStr == "" {
		if defaultPort < 0 {
			return "", 0, "", ioerr.Errorf(ioerr.KindNotFound, "lookup", rest, "missing port")
		}
		return host, defaultPort, path, nil
	}
	port, err = strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, "", ioerr.Errorf(ioerr.KindNotFound, "lookup", rest, "bad port %q", portStr)
	}
	return host, port, path, nil
}

// SchemeWalk parses "//host:port".
func (fs *FS) SchemeWalk(parent *vfs.Path, userPath, rest string, attrs vfs.Attributes) (*vfs.Path, error) {
	host, port, path, err := ParseHostPort(rest, -1)
	if err != nil {
		return nil, err
	}
	path, query := vfs.SplitQuery(path)
	ep := &Endpoint{fs: fs, Host: host, Port: port}
	return parent.Derive(ep, vfs.Normalize("/", path), userPath, query, attrs), nil
}

// Root returns the path for host:port.
func (fs *FS) Root(schemes *vfs.SchemeMap, host string, port int) *vfs.Path {
	return vfs.NewPath(&Endpoint{fs: fs, Host: host, Port: port}, schemes, "/")
}

func (fs *FS) Stat(p *vfs.Path) (vfs.FileInfo, error) {
	return vfs.FileInfo{}, ioerr.Unsupported("stat", p.URL())
}

func (fs *FS) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	return nil, ioerr.Unsupported("open", p.URL())
}

func (ep *Endpoint) URL(p *vfs.Path) string {
	return ep.Scheme() + "://" + ep.Addr()
}

// Stat describes the endpoint as a file of unknown length without
// connecting.
func (ep *Endpoint) Stat(p *vfs.Path) (vfs.FileInfo, error) {
	return vfs.FileInfo{Name: ep.Addr(), Type: vfs.TypeFile, Size: -1}, nil
}

func (ep *Endpoint) CanRead(p *vfs.Path) bool  { return true }
func (ep *Endpoint) CanWrite(p *vfs.Path) bool { return true }

func (ep *Endpoint) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	return ep.OpenReadWrite(p)
}

func (ep *Endpoint) OpenWrite(p *vfs.Path, append bool) (vfs.StreamImpl, error) {
	return ep.OpenReadWrite(p)
}

func (ep *Endpoint) OpenReadWrite(p *vfs.Path) (vfs.StreamImpl, error) {
	return ep.fs.Dial(context.Background(), ep.Host, ep.Port, p.Attributes())
}

// Dial connects to host:port, using TLS if this is the tcps scheme.
// The connect timeout bounds the TCP handshake and, for TLS, the TLS
// handshake.
func (fs *FS) Dial(ctx context.Context, host string, port int, attrs vfs.Attributes) (*SocketStream, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	url := fs.Scheme() + "://" + addr
	if fs.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fs.cfg.ConnectTimeout)
		defer cancel()
	}
	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if fs.secure {
		cfg := &tls.Config{}
		if fs.cfg.TLS != nil {
			cfg = fs.cfg.TLS.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: cfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		fs.logger.WithError(err).WithField("addr", addr).Debug("connect failed")
		return nil, ioerr.New(ioerr.KindIOFailure, "connect", url, err)
	}

	noDelay := fs.cfg.NoDelay
	if v, ok := attrs.NoDelay(); ok {
		noDelay = v
	}
	if tc, ok := underlyingTCP(conn); ok {
		tc.SetNoDelay(noDelay)
	}
	timeout := fs.cfg.ReadTimeout
	if t := attrs.SocketTimeout(); t > 0 {
		timeout = t
	}
	fs.logger.WithField("addr", addr).Debug("connected")
	return NewSocketStream(conn, url, timeout), nil
}

func underlyingTCP(conn net.Conn) (*net.TCPConn, bool) {
	if tc, ok := conn.(*tls.Conn); ok {
		conn = tc.NetConn()
	}
	tc, ok := conn.(*net.TCPConn)
	return tc, ok
}
