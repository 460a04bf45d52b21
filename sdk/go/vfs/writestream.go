// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/tempbuf"
	"golang.org/x/text/encoding"
)

// WriteStream buffers writes to a StreamImpl in one pooled buffer.
// A full buffer is delivered to the backend in a single call.
//
// Write, WriteByte and WriteString emit bytes unchanged. The Print
// family encodes text with the stream's encoding, Latin1 by default;
// runes the encoding cannot represent become '?'.
type WriteStream struct {
	dst  StreamImpl
	path *Path

	buf  *tempbuf.Buffer
	data []byte
	n    int
	pos  int64
	err  error // sticky error from dst

	enc     *Encoding
	encoder *encoding.Encoder
	newline string
	digits  [20]byte

	closed bool
}

// NewWriteStream wraps dst with a buffer from pool. A nil pool means
// the default Standard pool.
func NewWriteStream(dst StreamImpl, pool *tempbuf.Pool) *WriteStream {
	if pool == nil {
		pool = tempbuf.Default().Get(tempbuf.Standard)
	}
	buf := pool.Allocate()
	return &WriteStream{dst: dst, buf: buf, data: buf.Data(), enc: Latin1, newline: "\n"}
}

func (ws *WriteStream) Path() *Path             { return ws.path }
func (ws *WriteStream) SetPath(p *Path)         { ws.path = p }
func (ws *WriteStream) Destination() StreamImpl { return ws.dst }

func (ws *WriteStream) url() string {
	if ws.path == nil {
		return ""
	}
	return ws.path.URL()
}

// Position returns the number of bytes written, including buffered
// bytes.
func (ws *WriteStream) Position() int64 { return ws.pos }

// Buffered returns the number of bytes not yet delivered.
func (ws *WriteStream) Buffered() int { return ws.n }

// SetEncoding selects the encoding for the Print family. An empty
// name selects Latin1.
func (ws *WriteStream) SetEncoding(name string) error {
	if name == "" {
		ws.enc, ws.encoder = Latin1, nil
		return nil
	}
	enc, err := LookupEncoding(name)
	if err != nil {
		return err
	}
	ws.enc = enc
	ws.encoder = nil
	if enc.kind == encGeneric {
		ws.encoder = encoding.ReplaceUnsupported(enc.enc.NewEncoder())
	}
	return nil
}

// Encoding returns the MIME name of the write encoding.
func (ws *WriteStream) Encoding() string { return ws.enc.name }

// SetNewline sets the line terminator used by Println.
func (ws *WriteStream) SetNewline(nl string) { ws.newline = nl }

func (ws *WriteStream) check(op string) error {
	if ws.closed {
		return ioerr.Closed(op, ws.url())
	}
	return ws.err
}

// flushBuffer delivers the buffered bytes to dst in one call.
func (ws *WriteStream) flushBuffer() error {
	if ws.n == 0 {
		return nil
	}
	n, err := ws.dst.Write(ws.data[:ws.n])
	if err == nil && n < ws.n {
		err = io.ErrShortWrite
	}
	ws.n = 0
	if err != nil {
		ws.err = err
	}
	return err
}

// Write implements io.Writer.
func (ws *WriteStream) Write(p []byte) (int, error) {
	if err := ws.check("write"); err != nil {
		return 0, err
	}
	total := 0
	for len(p) > 0 {
		if ws.n == len(ws.data) {
			if err := ws.flushBuffer(); err != nil {
				return total, err
			}
		}
		k := copy(ws.data[ws.n:], p)
		ws.n += k
		ws.pos += int64(k)
		total += k
		p = p[k:]
	}
	return total, nil
}

// WriteByte implements io.ByteWriter.
func (ws *WriteStream) WriteByte(c byte) error {
	if err := ws.check("write"); err != nil {
		return err
	}
	if ws.n == len(ws.data) {
		if err := ws.flushBuffer(); err != nil {
			return err
		}
	}
	ws.data[ws.n] = c
	ws.n++
	ws.pos++
	return nil
}

// WriteString implements io.StringWriter.
func (ws *WriteStream) WriteString(s string) (int, error) {
	if err := ws.check("write"); err != nil {
		return 0, err
	}
	total := 0
	for len(s) > 0 {
		if ws.n == len(ws.data) {
			if err := ws.flushBuffer(); err != nil {
				return total, err
			}
		}
		k := copy(ws.data[ws.n:], s)
		ws.n += k
		ws.pos += int64(k)
		total += k
		s = s[k:]
	}
	return total, nil
}

// ReadFrom implements io.ReaderFrom, reading directly into the
// buffer.
func (ws *WriteStream) ReadFrom(r io.Reader) (int64, error) {
	if err := ws.check("write"); err != nil {
		return 0, err
	}
	var total int64
	for {
		if ws.n == len(ws.data) {
			if err := ws.flushBuffer(); err != nil {
				return total, err
			}
		}
		k, err := r.Read(ws.data[ws.n:])
		ws.n += k
		ws.pos += int64(k)
		total += int64(k)
		if err == io.EOF {
			return total, nil
		} else if err != nil {
			return total, err
		}
	}
}

// Print writes s in the stream's encoding.
func (ws *WriteStream) Print(s string) error {
	switch ws.enc.kind {
	case encUTF8:
		_, err := ws.WriteString(s)
		return err
	case encLatin1:
		for i := 0; i < len(s); {
			c := s[i]
			if c < utf8.RuneSelf {
				i++
			} else {
				r, size := utf8.DecodeRuneInString(s[i:])
				i += size
				if r > 0xff {
					c = '?'
				} else {
					c = byte(r)
				}
			}
			if err := ws.WriteByte(c); err != nil {
				return err
			}
		}
		return nil
	}
	out, err := ws.encoder.String(s)
	if err != nil {
		return ioerr.New(ioerr.KindIOFailure, "encode", ws.url(), err)
	}
	_, err = ws.WriteString(out)
	return err
}

// PrintRune writes r in the stream's encoding.
func (ws *WriteStream) PrintRune(r rune) error {
	if r < utf8.RuneSelf && ws.enc.ascii {
		return ws.WriteByte(byte(r))
	}
	return ws.Print(string(r))
}

// Println prints s followed by the newline sequence.
func (ws *WriteStream) Println(s string) error {
	if err := ws.Print(s); err != nil {
		return err
	}
	return ws.Print(ws.newline)
}

// Printf formats with fmt and prints the result.
func (ws *WriteStream) Printf(format string, args ...interface{}) error {
	return ws.Print(fmt.Sprintf(format, args...))
}

// PrintBool prints "true" or "false".
func (ws *WriteStream) PrintBool(b bool) error {
	if b {
		return ws.printASCII("true")
	}
	return ws.printASCII("false")
}

// PrintInt prints the decimal representation of i.
func (ws *WriteStream) PrintInt(i int) error {
	return ws.PrintInt64(int64(i))
}

// PrintInt64 prints the decimal representation of i without
// allocating.
func (ws *WriteStream) PrintInt64(i int64) error {
	d := &ws.digits
	pos := len(d)
	u := uint64(i)
	if i < 0 {
		u = uint64(-i)
	}
	for u >= 10 {
		pos--
		d[pos] = byte('0' + u%10)
		u /= 10
	}
	pos--
	d[pos] = byte('0' + u)
	if i < 0 {
		pos--
		d[pos] = '-'
	}
	if ws.enc.ascii {
		_, err := ws.Write(d[pos:])
		return err
	}
	return ws.Print(string(d[pos:]))
}

func (ws *WriteStream) printASCII(s string) error {
	if ws.enc.ascii {
		_, err := ws.WriteString(s)
		return err
	}
	return ws.Print(s)
}

// Flush delivers buffered bytes and flushes the backend if it has
// its own buffering.
func (ws *WriteStream) Flush() error {
	if err := ws.check("flush"); err != nil {
		return err
	}
	if err := ws.flushBuffer(); err != nil {
		return err
	}
	if f, ok := ws.dst.(Flusher); ok {
		if err := f.Flush(); err != nil {
			ws.err = err
			return err
		}
	}
	return nil
}

// SetAttribute sets stream metadata, such as an HTTP request header.
func (ws *WriteStream) SetAttribute(name, value string) error {
	if err := ws.check("set attribute"); err != nil {
		return err
	}
	a, ok := ws.dst.(Attributer)
	if !ok {
		return ioerr.Unsupported("set attribute", ws.url())
	}
	return a.SetAttribute(name, value)
}

// Attribute returns stream metadata.
func (ws *WriteStream) Attribute(name string) (string, bool) {
	if a, ok := ws.dst.(Attributer); ok && !ws.closed {
		return a.Attribute(name)
	}
	return "", false
}

// Close flushes, releases the buffer and closes the backend. Closing
// twice is harmless.
func (ws *WriteStream) Close() error {
	if ws.closed {
		return nil
	}
	var err error
	if ws.err == nil {
		err = ws.flushBuffer()
	}
	ws.closed = true
	ws.buf.Free()
	ws.buf, ws.data = nil, nil
	if cerr := ws.dst.Close(); err == nil {
		err = cerr
	}
	return err
}
