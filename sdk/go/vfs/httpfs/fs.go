// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package httpfs

import (
	"strconv"
	"strings"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/tcpfs"
)

// FS is the http or https scheme. Looking up "//host:port/path"
// yields a path on that server's Host.
type FS struct {
	client *Client
	secure bool
}

func (fs *FS) Scheme() string {
	if fs.secure {
		return "https"
	}
	return "http"
}

func (fs *FS) defaultPort() int {
	if fs.secure {
		return 443
	}
	return 80
}

func (fs *FS) host(name string, port int) *Host {
	if port == 0 {
		port = fs.defaultPort()
	}
	return &Host{fs: fs, name: name, port: port}
}

func (fs *FS) SchemeWalk(parent *vfs.Path, userPath, rest string, attrs vfs.Attributes) (*vfs.Path, error) {
	name, port, path, err := tcpfs.ParseHostPort(rest, fs.defaultPort())
	if err != nil {
		return nil, err
	}
	path, query := vfs.SplitQuery(path)
	return parent.Derive(fs.host(name, port), vfs.Normalize("/", path), userPath, query, attrs), nil
}

func (fs *FS) Stat(p *vfs.Path) (vfs.FileInfo, error) {
	return vfs.FileInfo{}, ioerr.Unsupported("stat", p.URL())
}

func (fs *FS) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	return nil, ioerr.Unsupported("open", p.URL())
}

// Host is one server. Every path on the server belongs to its Host.
type Host struct {
	fs   *FS
	name string
	port int
}

func (h *Host) Scheme() string { return h.fs.Scheme() }
func (h *Host) Name() string   { return h.name }
func (h *Host) Port() int      { return h.port }

func (h *Host) url(path, query string) string {
	var b strings.Builder
	b.WriteString(h.Scheme())
	b.WriteString("://")
	b.WriteString(h.name)
	if h.port != h.fs.defaultPort() {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(h.port))
	}
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String()
}

func (h *Host) URL(p *vfs.Path) string { return h.url(p.Path(), p.Query()) }

// Walk resolves userPath on this server. "//host..." names another
// server; a query string is split off.
func (h *Host) Walk(parent *vfs.Path, userPath string, attrs vfs.Attributes) (*vfs.Path, error) {
	if strings.HasPrefix(userPath, "//") {
		return h.fs.SchemeWalk(parent, userPath, userPath, attrs)
	}
	path, query := vfs.SplitQuery(userPath)
	if path == "" {
		path = "."
	}
	return parent.Derive(h, vfs.Normalize(parent.Path(), path), userPath, query, attrs), nil
}

func (h *Host) Stat(p *vfs.Path) (vfs.FileInfo, error) {
	return h.fs.client.stat(h, p)
}

// CanRead reports whether p is an existing file.
func (h *Host) CanRead(p *vfs.Path) bool {
	fi, err := h.Stat(p)
	return err == nil && fi.Type == vfs.TypeFile
}

func (h *Host) CanWrite(p *vfs.Path) bool { return false }

func (h *Host) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	return h.Open(p)
}

// OpenReadWrite opens a POST request: data written is sent as the
// request body when the response is first read.
func (h *Host) OpenReadWrite(p *vfs.Path) (vfs.StreamImpl, error) {
	s, err := h.Open(p)
	if err != nil {
		return nil, err
	}
	s.post = true
	return s, nil
}

// Open connects (or reuses a kept-alive connection) and returns a
// GET stream for p. Use the Stream's setters to change the request
// before the first read.
func (h *Host) Open(p *vfs.Path) (*Stream, error) {
	return h.fs.client.open(h, p)
}
