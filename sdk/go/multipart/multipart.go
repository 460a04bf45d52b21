// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package multipart splits a MIME multipart body into its parts,
// reading the underlying stream incrementally.
package multipart

import (
	"bytes"
	"io"
	"mime"
	"strings"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/tempbuf"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
)

// Stream reads successive parts from src. Only one part can be read
// at a time: opening the next part skips whatever is left of the
// current one.
type Stream struct {
	src      *vfs.ReadStream
	boundary []byte
	// peekSize covers "\r\n--", the boundary, and one more byte to
	// check that the boundary is not the prefix of a longer token.
	peekSize int
	pool     *tempbuf.Pool

	started bool
	done    bool
	part    *partStream
	err     error

	headers map[string][]string
	names   []string
}

// New returns a parser for the parts of src delimited by boundary
// (the value of the Content-Type boundary parameter, without the
// leading "--").
func New(src *vfs.ReadStream, boundary string) *Stream {
	return &Stream{
		src:      src,
		boundary: []byte(boundary),
		peekSize: len(boundary) + 5,
		pool:     tempbuf.Default().Get(tempbuf.Standard),
		headers:  map[string][]string{},
	}
}

// BoundaryFromContentType returns the boundary parameter of a
// multipart content type.
func BoundaryFromContentType(contentType string) (string, bool) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return "", false
	}
	boundary, ok := params["boundary"]
	return boundary, ok && boundary != ""
}

// OpenRead returns a stream over the next part's content and makes
// its headers available. After the closing boundary it returns
// io.EOF.
func (m *Stream) OpenRead() (*vfs.ReadStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	if !m.started {
		m.started = true
		if err := m.skipPreamble(); err != nil {
			return nil, m.fail(err)
		}
	} else if m.part != nil && !m.part.ended {
		if err := m.part.drain(); err != nil {
			return nil, m.fail(err)
		}
	}
	m.part = nil
	m.headers = map[string][]string{}
	m.names = nil
	if m.done {
		return nil, io.EOF
	}
	if err := m.readHeaders(); err != nil {
		return nil, m.fail(err)
	}
	m.part = &partStream{m: m, atStart: true}
	return vfs.NewReadStream(m.part, m.pool), nil
}

// Done reports whether the closing boundary has been read.
func (m *Stream) Done() bool { return m.done }

func (m *Stream) fail(err error) error {
	m.err = err
	return err
}

// Header returns the first value of the named header of the current
// part. Names are case insensitive.
func (m *Stream) Header(name string) string {
	if vals := m.headers[strings.ToLower(name)]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Headers returns every value of the named header of the current
// part.
func (m *Stream) Headers(name string) []string {
	return m.headers[strings.ToLower(name)]
}

// HeaderNames returns the lower-cased header names of the current
// part, in order of first appearance.
func (m *Stream) HeaderNames() []string {
	return append([]string(nil), m.names...)
}

// skipPreamble discards everything up to and including the first
// boundary line.
func (m *Stream) skipPreamble() error {
	head, _ := m.src.Peek(2 + len(m.boundary) + 1)
	if n := m.matchBoundary(head); n > 0 {
		m.src.Skip(int64(n))
		return m.finishBoundaryLine()
	}
	discard := &partStream{m: m}
	if err := discard.drain(); err != nil {
		return err
	}
	return nil
}

// matchBoundary returns the length of "--boundary" if buf starts
// with it and it is followed by the end of the line, "--", or the
// end of the input.
func (m *Stream) matchBoundary(buf []byte) int {
	n := 2 + len(m.boundary)
	if len(buf) < n || buf[0] != '-' || buf[1] != '-' || !bytes.Equal(buf[2:n], m.boundary) {
		return 0
	}
	if len(buf) > n {
		switch buf[n] {
		case '-', '\r', '\n', ' ', '\t':
		default:
			return 0
		}
	}
	return n
}

// matchDelimiter returns the length of a line terminator followed by
// a boundary at the start of buf, or 0.
func (m *Stream) matchDelimiter(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	eol := 1
	if buf[0] == '\r' && len(buf) > 1 && buf[1] == '\n' {
		eol = 2
	}
	if n := m.matchBoundary(buf[eol:]); n > 0 {
		return eol + n
	}
	return 0
}

// finishBoundaryLine reads the rest of a boundary line, noting a
// closing "--".
func (m *Stream) finishBoundaryLine() error {
	if buf, _ := m.src.Peek(2); len(buf) == 2 && buf[0] == '-' && buf[1] == '-' {
		m.done = true
		m.src.Skip(2)
	}
	for {
		c, err := m.src.ReadByte()
		if err == io.EOF {
			if m.done {
				return nil
			}
			return ioerr.Errorf(ioerr.KindProtocolViolation, "read", m.url(), "multipart body ends in a boundary line")
		} else if err != nil {
			return err
		}
		if c == '\n' {
			return nil
		}
	}
}

func (m *Stream) readHeaders() error {
	var last string
	for {
		line, err := m.src.ReadLine()
		if err == io.EOF {
			return ioerr.Errorf(ioerr.KindProtocolViolation, "read", m.url(), "multipart body ends in part headers")
		} else if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		if (line[0] == ' ' || line[0] == '\t') && last != "" {
			vals := m.headers[last]
			vals[len(vals)-1] += " " + strings.TrimSpace(line)
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:colon]))
		if _, seen := m.headers[name]; !seen {
			m.names = append(m.names, name)
		}
		m.headers[name] = append(m.headers[name], strings.TrimSpace(line[colon+1:]))
		last = name
	}
}

func (m *Stream) url() string {
	if p := m.src.Path(); p != nil {
		return p.URL()
	}
	return "multipart"
}

// partStream reads one part's content, stopping before the line
// terminator that precedes the next boundary.
type partStream struct {
	vfs.NullStream
	m     *Stream
	ended bool
	// atStart allows an empty part whose boundary directly follows
	// the blank line ending the headers.
	atStart bool
}

func (ps *partStream) CanRead() bool { return true }

func (ps *partStream) Read(p []byte) (int, error) {
	if ps.ended {
		return 0, io.EOF
	}
	src := ps.m.src
	if ps.atStart {
		ps.atStart = false
		win, _ := src.Peek(ps.m.peekSize)
		if l := ps.m.matchBoundary(win); l > 0 {
			src.Skip(int64(l))
			return 0, ps.end()
		}
	}
	n := 0
	for n < len(p) {
		head, err := src.Peek(1)
		if len(head) == 0 {
			if n > 0 {
				return n, nil
			}
			if err == io.EOF {
				return 0, ioerr.Errorf(ioerr.KindProtocolViolation, "read", ps.m.url(), "multipart body has no closing boundary")
			}
			return 0, err
		}
		if c := head[0]; c == '\r' || c == '\n' {
			win, _ := src.Peek(ps.m.peekSize)
			if l := ps.m.matchDelimiter(win); l > 0 {
				src.Skip(int64(l))
				err := ps.end()
				if n > 0 && err == io.EOF {
					err = nil
				}
				return n, err
			}
			src.Skip(1)
			p[n] = c
			n++
			continue
		}
		// Copy buffered bytes up to the next line terminator.
		buf, _ := src.Peek(src.Buffered())
		if len(buf) > len(p)-n {
			buf = buf[:len(p)-n]
		}
		if i := bytes.IndexAny(buf, "\r\n"); i >= 0 {
			buf = buf[:i]
		}
		k, _ := src.Read(p[n : n+len(buf)])
		n += k
	}
	return n, nil
}

// end marks the part finished after its boundary has been consumed.
// It returns io.EOF, or the error reading the rest of the boundary
// line.
func (ps *partStream) end() error {
	ps.ended = true
	if err := ps.m.finishBoundaryLine(); err != nil {
		return err
	}
	return io.EOF
}

// drain discards the rest of the part.
func (ps *partStream) drain() error {
	var buf [512]byte
	for {
		_, err := ps.Read(buf[:])
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

func (ps *partStream) Close() error {
	if ps.ended {
		return nil
	}
	return ps.drain()
}
