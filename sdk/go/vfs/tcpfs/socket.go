// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tcpfs

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
)

// SocketStream is a vfs.StreamImpl over a connection. Each read and
// write is bounded by the stream's timeout; a timeout is reported as
// an IOFailure.
type SocketStream struct {
	conn    net.Conn
	url     string
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// NewSocketStream wraps conn. A zero timeout means reads and writes
// may block indefinitely.
func NewSocketStream(conn net.Conn, url string, timeout time.Duration) *SocketStream {
	return &SocketStream{conn: conn, url: url, timeout: timeout}
}

// Conn returns the underlying connection.
func (s *SocketStream) Conn() net.Conn { return s.conn }

func (s *SocketStream) URL() string { return s.url }

func (s *SocketStream) Timeout() time.Duration { return s.timeout }

func (s *SocketStream) SetTimeout(d time.Duration) { s.timeout = d }

func (s *SocketStream) CanRead() bool  { return true }
func (s *SocketStream) CanWrite() bool { return true }

func (s *SocketStream) deadline() time.Time {
	if s.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.timeout)
}

func (s *SocketStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ioerr.Closed("read", s.url)
	}
	s.conn.SetReadDeadline(s.deadline())
	n, err := s.conn.Read(p)
	if err == io.EOF {
		return n, err
	}
	return n, s.translate("read", err)
}

func (s *SocketStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ioerr.Closed("write", s.url)
	}
	s.conn.SetWriteDeadline(s.deadline())
	n, err := s.conn.Write(p)
	return n, s.translate("write", err)
}

func (s *SocketStream) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if ioerr.IsTimeout(err) {
		return ioerr.New(ioerr.KindIOFailure, op, s.url, err)
	}
	return ioerr.FromOS(op, s.url, err)
}

// Attribute reports the local and remote addresses.
func (s *SocketStream) Attribute(name string) (string, bool) {
	switch name {
	case "remote-addr":
		return s.conn.RemoteAddr().String(), true
	case "local-addr":
		return s.conn.LocalAddr().String(), true
	}
	return "", false
}

func (s *SocketStream) SetAttribute(name, value string) error {
	return ioerr.Unsupported("set attribute "+name, s.url)
}

func (s *SocketStream) AttributeNames() []string {
	return []string{"local-addr", "remote-addr"}
}

// Close closes the connection. Later calls return the first result.
func (s *SocketStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
