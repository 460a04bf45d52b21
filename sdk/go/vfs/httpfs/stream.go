// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package httpfs

import (
	"context"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/tempbuf"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"golang.org/x/net/http/httpguts"
)

type state int

const (
	stateIdle state = iota
	stateRequestSent
	stateHeadersParsed
	stateBodyStreaming
	stateDone
	stateError
)

var stateNames = []string{"idle", "request sent", "headers parsed", "body streaming", "done", "error"}

func (s state) String() string { return stateNames[s] }

// Request headers managed by the stream itself. Caller-supplied
// values for these are not sent as-is.
var reserved = map[string]bool{
	"host":           true,
	"user-agent":     true,
	"content-length": true,
	"connection":     true,
}

type header struct {
	name, value string
}

// Stream is one HTTP request/response exchange. The request is sent
// on the first read, on the first response-attribute query, or on
// close, whichever comes first.
type Stream struct {
	client *Client
	host   *Host
	path   *vfs.Path
	conn   *conn

	method    string
	head      bool
	post      bool
	http10    bool
	keepAlive bool
	reqHeader []header
	body      *tempbuf.Stream

	state         state
	err           error
	status        int
	statusMessage string
	respHeader    map[string]string
	contentLength int64 // -1 if unknown
	chunked       bool
	chunkLeft     int64
	closed        bool
}

func (c *Client) open(h *Host, p *vfs.Path) (*Stream, error) {
	key := slotKey{host: h.name, port: h.port, secure: h.fs.secure}
	cn, err := c.connect(context.Background(), key, p.Attributes())
	if err != nil {
		return nil, err
	}
	s := &Stream{
		client:        c,
		host:          h,
		path:          p,
		conn:          cn,
		keepAlive:     !c.cfg.DisableKeepAlive,
		contentLength: -1,
	}
	if m := p.Attributes().Method(); m != "" {
		s.method = m
	}
	return s, nil
}

func (s *Stream) url() string { return s.path.URL() }

// Conn returns the underlying network connection.
func (s *Stream) Conn() net.Conn { return s.conn.sock.Conn() }

// State returns the stream's position in the request lifecycle.
func (s *Stream) State() string { return s.state.String() }

func (s *Stream) CanRead() bool  { return true }
func (s *Stream) CanWrite() bool { return s.post }

// SetMethod overrides the request method.
func (s *Stream) SetMethod(method string) { s.method = method }

// SetHead makes the request a HEAD request, replacing any method
// set earlier. The response has no body.
func (s *Stream) SetHead(head bool) {
	s.head = head
	if head {
		s.method = ""
	}
}

// SetHTTP10 sends an HTTP/1.0 request. The connection will not be
// kept alive.
func (s *Stream) SetHTTP10() { s.http10 = true }

// SetAttribute adds a request header. "method" and "socket-timeout"
// set the request method and the read timeout instead.
func (s *Stream) SetAttribute(name, value string) error {
	if s.state != stateIdle {
		return ioerr.Errorf(ioerr.KindProtocolViolation, "set header", s.url(), "request already sent")
	}
	switch strings.ToLower(name) {
	case vfs.AttrMethod:
		s.method = value
		return nil
	case vfs.AttrSocketTimeout:
		if t := (vfs.Attributes{vfs.AttrSocketTimeout: value}).SocketTimeout(); t > 0 {
			s.conn.sock.SetTimeout(t)
		}
		return nil
	}
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return ioerr.Errorf(ioerr.KindProtocolViolation, "set header", s.url(), "invalid header %q: %q", name, value)
	}
	s.reqHeader = append(s.reqHeader, header{name, value})
	return nil
}

func (s *Stream) requestHeader(name string) (string, bool) {
	for _, h := range s.reqHeader {
		if strings.EqualFold(h.name, name) {
			return h.value, true
		}
	}
	return "", false
}

// Attribute returns a response header (lower-cased name, repeated
// headers joined by "\n"), or the "status" and "status-message"
// pseudo-headers. It sends the request if necessary.
func (s *Stream) Attribute(name string) (string, bool) {
	if s.ensureResponse() != nil {
		return "", false
	}
	v, ok := s.respHeader[strings.ToLower(name)]
	return v, ok
}

// AttributeNames returns the names of the response headers, sorted.
func (s *Stream) AttributeNames() []string {
	if s.ensureResponse() != nil {
		return nil
	}
	names := make([]string, 0, len(s.respHeader))
	for name := range s.respHeader {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status sends the request if necessary and returns the response
// status code.
func (s *Stream) Status() (int, error) {
	if err := s.ensureResponse(); err != nil {
		return 0, err
	}
	return s.status, nil
}

// Write appends to the request body. Only POST streams accept data,
// and only before the request is sent.
func (s *Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ioerr.Closed("write", s.url())
	}
	if !s.post {
		return 0, ioerr.Unsupported("write", s.url())
	}
	if s.state != stateIdle {
		return 0, ioerr.Errorf(ioerr.KindProtocolViolation, "write", s.url(), "request already sent")
	}
	if s.body == nil {
		s.body = tempbuf.NewStream(s.client.pools.Get(tempbuf.Standard))
	}
	return s.body.Write(p)
}

// fail records err, which ends the exchange and rules out reusing the
// connection.
func (s *Stream) fail(err error) error {
	s.keepAlive = false
	s.state = stateError
	s.err = err
	return err
}

func (s *Stream) ensureResponse() error {
	if s.state == stateError {
		return s.err
	}
	if s.state >= stateHeadersParsed {
		return nil
	}
	if s.closed {
		return ioerr.Closed("read", s.url())
	}
	if err := s.sendRequest(); err != nil {
		return s.fail(err)
	}
	s.state = stateRequestSent
	if err := s.parseResponse(); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Stream) sendRequest() error {
	var length int64
	if s.body != nil {
		length = s.body.Len()
	}
	if declared, ok := s.requestHeader("content-length"); ok && s.post {
		n, err := strconv.ParseInt(strings.TrimSpace(declared), 10, 64)
		if err != nil {
			return ioerr.Errorf(ioerr.KindProtocolViolation, "send", s.url(), "invalid Content-Length %q", declared)
		}
		if n != length {
			return ioerr.Errorf(ioerr.KindProtocolViolation, "send", s.url(), "Content-Length=%d but body has %d bytes", n, length)
		}
	}
	ws := s.conn.ws
	method := s.method
	switch {
	case method != "":
	case s.head:
		method = "HEAD"
	case s.post:
		method = "POST"
	default:
		method = "GET"
	}
	if method == "HEAD" {
		s.head = true
	}
	if s.http10 {
		s.keepAlive = false
	}
	ws.WriteString(method)
	ws.WriteByte(' ')
	ws.WriteString(s.path.Path())
	if q := s.path.Query(); q != "" {
		ws.WriteByte('?')
		ws.WriteString(q)
	}
	if s.http10 {
		ws.WriteString(" HTTP/1.0\r\n")
	} else {
		ws.WriteString(" HTTP/1.1\r\nHost: ")
		if vhost := s.path.Attributes().Host(); vhost != "" {
			ws.WriteString(vhost)
		} else {
			ws.WriteString(s.host.name)
			if s.host.port != s.host.fs.defaultPort() {
				ws.WriteByte(':')
				ws.PrintInt(s.host.port)
			}
		}
		ws.WriteString("\r\n")
	}
	ws.WriteString("User-Agent: ")
	if ua, ok := s.requestHeader("user-agent"); ok {
		ws.WriteString(ua)
	} else {
		ws.WriteString(s.client.cfg.UserAgent)
	}
	ws.WriteString("\r\n")
	for _, h := range s.reqHeader {
		if reserved[strings.ToLower(h.name)] {
			continue
		}
		ws.WriteString(h.name)
		ws.WriteString(": ")
		ws.WriteString(h.value)
		ws.WriteString("\r\n")
	}
	if !s.keepAlive {
		ws.WriteString("Connection: close\r\n")
	}
	if s.post {
		ws.WriteString("Content-Length: ")
		ws.PrintInt64(length)
		ws.WriteString("\r\n")
	}
	ws.WriteString("\r\n")
	if s.body != nil {
		_, err := s.body.WriteTo(ws)
		s.body.Destroy()
		s.body = nil
		if err != nil {
			return err
		}
	}
	return ws.Flush()
}

func (s *Stream) readLine() (string, error) {
	line, err := s.conn.rs.ReadLine()
	if err == io.EOF {
		return "", ioerr.New(ioerr.KindIOFailure, "read response", s.url(), io.ErrUnexpectedEOF)
	}
	return line, err
}

// statusLine skips up to 10 blank lines and returns the next line.
func (s *Stream) statusLine() (string, error) {
	for i := 0; i < 10; i++ {
		line, err := s.readLine()
		if err != nil || line != "" {
			return line, err
		}
	}
	return "", ioerr.Errorf(ioerr.KindProtocolViolation, "read response", s.url(), "no status line")
}

// skipHeaders consumes a header block.
func (s *Stream) skipHeaders() error {
	for {
		line, err := s.readLine()
		if err != nil || line == "" {
			return err
		}
	}
}

func (s *Stream) parseResponse() error {
	line, err := s.statusLine()
	if err != nil {
		return err
	}
	if strings.HasPrefix(line, "HTTP/1.1 100") || strings.HasPrefix(line, "HTTP/1.0 100") {
		if err := s.skipHeaders(); err != nil {
			return err
		}
		if line, err = s.statusLine(); err != nil {
			return err
		}
	}

	proto, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimLeft(rest, " ")
	code, message, _ := strings.Cut(rest, " ")
	status, err := strconv.Atoi(code)
	if !strings.HasPrefix(proto, "HTTP/") || err != nil || len(code) != 3 {
		return ioerr.Errorf(ioerr.KindProtocolViolation, "read response", s.url(), "malformed status line %q", line)
	}
	s.status = status
	s.statusMessage = message
	if status != 200 || proto != "HTTP/1.1" {
		s.keepAlive = false
	}
	s.respHeader = map[string]string{
		"status":         code,
		"status-message": message,
	}

	for {
		line, err := s.readLine()
		if err != nil {
			return err
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			continue
		}
		value = strings.TrimLeft(value, " \t")
		switch name {
		case "content-length":
			n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil || n < 0 {
				return ioerr.Errorf(ioerr.KindProtocolViolation, "read response", s.url(), "invalid Content-Length %q", value)
			}
			s.contentLength = n
		case "connection":
			if strings.EqualFold(strings.TrimSpace(value), "close") {
				s.keepAlive = false
			}
		case "transfer-encoding":
			if strings.EqualFold(strings.TrimSpace(value), "chunked") {
				s.chunked = true
			}
		}
		if old, ok := s.respHeader[name]; ok {
			value = old + "\n" + value
		}
		s.respHeader[name] = value
	}
	s.state = stateHeadersParsed

	switch {
	case s.head, status == 204, status == 304, status/100 == 1:
		s.state = stateDone
	case s.chunked:
		s.contentLength = -1
	case s.contentLength == 0:
		s.state = stateDone
	case s.contentLength < 0:
		// body runs until the server closes the connection
		s.keepAlive = false
	}
	return nil
}

// Read returns response body data, sending the request first if
// necessary.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ioerr.Closed("read", s.url())
	}
	if err := s.ensureResponse(); err != nil {
		return 0, err
	}
	if s.state == stateDone {
		return 0, io.EOF
	}
	s.state = stateBodyStreaming
	n, err := s.readBody(p)
	if err != nil && err != io.EOF {
		return n, s.fail(err)
	}
	return n, err
}

func (s *Stream) readBody(p []byte) (int, error) {
	rs := s.conn.rs
	if s.chunked {
		if s.chunkLeft == 0 {
			size, err := s.chunkHeader()
			if err != nil {
				return 0, err
			}
			if size == 0 {
				if err := s.skipHeaders(); err != nil {
					return 0, err
				}
				s.state = stateDone
				return 0, io.EOF
			}
			s.chunkLeft = size
		}
		if int64(len(p)) > s.chunkLeft {
			p = p[:s.chunkLeft]
		}
		n, err := rs.Read(p)
		s.chunkLeft -= int64(n)
		if err == io.EOF {
			return n, ioerr.New(ioerr.KindIOFailure, "read", s.url(), io.ErrUnexpectedEOF)
		} else if err != nil {
			return n, err
		}
		if s.chunkLeft == 0 {
			if line, err := s.readLine(); err != nil {
				return n, err
			} else if line != "" {
				return n, ioerr.Errorf(ioerr.KindProtocolViolation, "read", s.url(), "missing CRLF after chunk")
			}
		}
		return n, nil
	}
	if s.contentLength < 0 {
		n, err := rs.Read(p)
		if err == io.EOF {
			s.state = stateDone
		}
		return n, err
	}
	if int64(len(p)) > s.contentLength {
		p = p[:s.contentLength]
	}
	n, err := rs.Read(p)
	s.contentLength -= int64(n)
	if err == io.EOF {
		return n, ioerr.New(ioerr.KindIOFailure, "read", s.url(), io.ErrUnexpectedEOF)
	} else if err != nil {
		return n, err
	}
	if s.contentLength == 0 {
		s.state = stateDone
	}
	return n, nil
}

// chunkHeader reads a chunk-size line ("1a3;ext=val") and returns the
// size.
func (s *Stream) chunkHeader() (int64, error) {
	line, err := s.readLine()
	if err != nil {
		return 0, err
	}
	size, _, _ := strings.Cut(line, ";")
	size = strings.TrimSpace(size)
	n, err := strconv.ParseInt(size, 16, 64)
	if err != nil || n < 0 {
		return 0, ioerr.Errorf(ioerr.KindProtocolViolation, "read", s.url(), "malformed chunk size %q", line)
	}
	return n, nil
}

// Available returns the number of body bytes known to be readable
// without blocking for the server: the rest of a Content-Length body,
// or whatever is buffered.
func (s *Stream) Available() int {
	if s.ensureResponse() != nil || s.state == stateDone {
		return 0
	}
	if s.contentLength > 0 && !s.chunked {
		return int(s.contentLength)
	}
	return s.conn.rs.Buffered()
}

// Close finishes the exchange. An unsent POST is sent. If the
// connection can be kept alive, the rest of the body is read and
// discarded and the connection goes to the keep-alive slot;
// otherwise it is closed.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	var err error
	switch {
	case s.state == stateIdle && s.post:
		err = s.ensureResponse()
	case s.state == stateIdle && s.keepAlive:
		// nothing was sent, so the connection is still clean
		s.state = stateDone
	}
	if s.keepAlive && s.state != stateError && s.state != stateDone {
		var buf [256]byte
		for {
			if _, rerr := s.Read(buf[:]); rerr != nil {
				break
			}
		}
	}
	if s.body != nil {
		s.body.Destroy()
		s.body = nil
	}
	s.closed = true
	if s.keepAlive && s.state == stateDone {
		s.client.save(s.conn)
		return err
	}
	if cerr := s.conn.close(); err == nil {
		err = cerr
	}
	return err
}
