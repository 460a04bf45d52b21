// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"bufio"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/tempbuf"
	"golang.org/x/text/transform"
)

// ReadStream buffers a StreamImpl with one pooled buffer and adds
// byte, rune and line reads. The buffer returns to its pool on Close.
//
// Byte-level reads (Read, ReadByte, ReadLine without an encoding) are
// transparent. Rune reads decode with the stream's encoding, Latin1
// if none was set. With an encoding other than UTF-8 or Latin1, rune
// reads go through a decoder that reads ahead; mixing them with byte
// reads is not supported.
type ReadStream struct {
	src     StreamImpl
	path    *Path
	sibling *WriteStream

	buf  *tempbuf.Buffer
	data []byte
	off  int
	end  int
	err  error // sticky error from src
	pos  int64 // bytes consumed by the caller

	enc     *Encoding
	decoder *bufio.Reader
	lastOp  byte // 'b' after a byte read, for UnreadByte

	closed             bool
	disableCloseSource bool
}

// NewReadStream wraps src with a buffer from pool. A nil pool means
// the default Standard pool.
func NewReadStream(src StreamImpl, pool *tempbuf.Pool) *ReadStream {
	if pool == nil {
		pool = tempbuf.Default().Get(tempbuf.Standard)
	}
	buf := pool.Allocate()
	return &ReadStream{src: src, buf: buf, data: buf.Data()}
}

// ReadWritePair returns buffered halves of a bidirectional stream.
// Reads flush the write half first; closing the read half closes both.
func ReadWritePair(s StreamImpl, pool *tempbuf.Pool) (*ReadStream, *WriteStream) {
	ws := NewWriteStream(s, pool)
	rs := NewReadStream(s, pool)
	rs.sibling = ws
	rs.disableCloseSource = true
	return rs, ws
}

// Path returns the path the stream was opened on, if any.
func (rs *ReadStream) Path() *Path { return rs.path }

// SetPath records the path for diagnostics.
func (rs *ReadStream) SetPath(p *Path) { rs.path = p }

// Source returns the underlying stream.
func (rs *ReadStream) Source() StreamImpl { return rs.src }

// Sibling returns the write half of a read/write pair, or nil.
func (rs *ReadStream) Sibling() *WriteStream { return rs.sibling }

// SetDisableCloseSource makes Close leave the underlying stream open.
func (rs *ReadStream) SetDisableCloseSource(disable bool) { rs.disableCloseSource = disable }

func (rs *ReadStream) url() string {
	if rs.path == nil {
		return ""
	}
	return rs.path.URL()
}

// fill reads more data into the buffer, shifting unread bytes to the
// front. It returns false at EOF or on error; the error is kept in
// rs.err.
func (rs *ReadStream) fill() bool {
	if rs.err != nil {
		return false
	}
	if rs.closed {
		rs.err = ioerr.Closed("read", rs.url())
		return false
	}
	if rs.sibling != nil {
		if err := rs.sibling.Flush(); err != nil {
			rs.err = err
			return false
		}
	}
	if rs.off > 0 {
		copy(rs.data, rs.data[rs.off:rs.end])
		rs.end -= rs.off
		rs.off = 0
	}
	if rs.end == len(rs.data) {
		return true
	}
	for tries := 0; tries < 100; tries++ {
		n, err := rs.src.Read(rs.data[rs.end:])
		rs.end += n
		if err != nil {
			rs.err = err
			return n > 0
		}
		if n > 0 {
			return true
		}
	}
	rs.err = io.ErrNoProgress
	return false
}

// readErr returns the error to report once the buffer is exhausted.
func (rs *ReadStream) readErr() error {
	if rs.err == nil || rs.err == io.EOF {
		return io.EOF
	}
	return rs.err
}

// Read implements io.Reader.
func (rs *ReadStream) Read(p []byte) (int, error) {
	if rs.closed {
		return 0, ioerr.Closed("read", rs.url())
	}
	if len(p) == 0 {
		return 0, nil
	}
	if rs.off == rs.end {
		rs.off, rs.end = 0, 0
		if len(p) >= len(rs.data) && rs.err == nil && rs.sibling == nil {
			n, err := rs.src.Read(p)
			rs.pos += int64(n)
			if err != nil {
				rs.err = err
				if n > 0 {
					err = nil
				} else if err != io.EOF {
					return 0, err
				}
			}
			rs.lastOp = 0
			return n, err
		}
		if !rs.fill() && rs.off == rs.end {
			return 0, rs.readErr()
		}
	}
	n := copy(p, rs.data[rs.off:rs.end])
	rs.off += n
	rs.pos += int64(n)
	rs.lastOp = 'b'
	return n, nil
}

// ReadFull reads exactly len(p) bytes unless EOF intervenes, in
// which case it returns io.ErrUnexpectedEOF (or io.EOF if nothing was
// read).
func (rs *ReadStream) ReadFull(p []byte) (int, error) {
	return io.ReadFull(rs, p)
}

// ReadByte implements io.ByteReader.
func (rs *ReadStream) ReadByte() (byte, error) {
	if rs.closed {
		return 0, ioerr.Closed("read", rs.url())
	}
	if rs.off == rs.end && !rs.fill() && rs.off == rs.end {
		return 0, rs.readErr()
	}
	c := rs.data[rs.off]
	rs.off++
	rs.pos++
	rs.lastOp = 'b'
	return c, nil
}

// UnreadByte pushes back the last byte read by ReadByte or Read.
func (rs *ReadStream) UnreadByte() error {
	if rs.lastOp != 'b' || rs.off == 0 {
		return ioerr.Errorf(ioerr.KindResourceMisuse, "unread", rs.url(), "no byte to unread")
	}
	rs.off--
	rs.pos--
	rs.lastOp = 0
	return nil
}

// Peek returns the next n bytes without consuming them. n must not
// exceed the buffer size. A short result comes with the error that
// stopped the fill.
func (rs *ReadStream) Peek(n int) ([]byte, error) {
	if rs.closed {
		return nil, ioerr.Closed("read", rs.url())
	}
	if n > len(rs.data) {
		n = len(rs.data)
	}
	for rs.end-rs.off < n {
		if !rs.fill() {
			break
		}
	}
	if rs.end-rs.off < n {
		return rs.data[rs.off:rs.end], rs.readErr()
	}
	return rs.data[rs.off : rs.off+n], nil
}

// Buffered returns the number of bytes readable without touching the
// source.
func (rs *ReadStream) Buffered() int { return rs.end - rs.off }

// Available returns a lower bound on the bytes readable without
// blocking, or -1 if unknown.
func (rs *ReadStream) Available() int {
	if n := rs.end - rs.off; n > 0 {
		return n
	}
	if a, ok := rs.src.(Availabler); ok {
		return a.Available()
	}
	return -1
}

// Position returns the number of bytes consumed.
func (rs *ReadStream) Position() int64 { return rs.pos }

// SetPosition seeks the source, discarding buffered data.
func (rs *ReadStream) SetPosition(pos int64) error {
	p, ok := rs.src.(Positioner)
	if !ok {
		return ioerr.Unsupported("seek", rs.url())
	}
	if err := p.SetPosition(pos); err != nil {
		return err
	}
	rs.off, rs.end, rs.err = 0, 0, nil
	rs.pos = pos
	rs.decoder = nil
	return nil
}

// Skip discards up to n bytes and returns the number skipped.
func (rs *ReadStream) Skip(n int64) (int64, error) {
	var skipped int64
	for skipped < n {
		if rs.off == rs.end && !rs.fill() && rs.off == rs.end {
			return skipped, rs.readErr()
		}
		k := int64(rs.end - rs.off)
		if k > n-skipped {
			k = n - skipped
		}
		rs.off += int(k)
		rs.pos += k
		skipped += k
	}
	return skipped, nil
}

// ReadInt32 reads a big-endian 4-byte integer.
func (rs *ReadStream) ReadInt32() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(rs, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

// ReadInt64 reads a big-endian 8-byte integer.
func (rs *ReadStream) ReadInt64() (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(rs, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

// SetEncoding selects the character encoding for rune and line
// reads. An empty name restores the transparent default.
func (rs *ReadStream) SetEncoding(name string) error {
	if name == "" {
		rs.enc = nil
		rs.decoder = nil
		return nil
	}
	enc, err := LookupEncoding(name)
	if err != nil {
		return err
	}
	rs.enc = enc
	rs.decoder = nil
	return nil
}

// Encoding returns the MIME name of the read encoding, or "" if none
// is set.
func (rs *ReadStream) Encoding() string {
	if rs.enc == nil {
		return ""
	}
	return rs.enc.name
}

// ReadRune implements io.RuneReader.
func (rs *ReadStream) ReadRune() (rune, int, error) {
	enc := rs.enc
	if enc == nil {
		enc = Latin1
	}
	switch enc.kind {
	case encLatin1:
		c, err := rs.ReadByte()
		rs.lastOp = 0
		return rune(c), 1, err
	case encUTF8:
		for rs.end-rs.off < utf8.UTFMax && !utf8.FullRune(rs.data[rs.off:rs.end]) {
			if !rs.fill() {
				break
			}
		}
		if rs.off == rs.end {
			return 0, 0, rs.readErr()
		}
		r, size := utf8.DecodeRune(rs.data[rs.off:rs.end])
		rs.off += size
		rs.pos += int64(size)
		rs.lastOp = 0
		return r, size, nil
	}
	if rs.decoder == nil {
		rs.decoder = bufio.NewReaderSize(transform.NewReader(rawReader{rs}, enc.enc.NewDecoder()), 64)
	}
	return rs.decoder.ReadRune()
}

// rawReader reads the buffered bytes of a ReadStream, for feeding a
// decoder.
type rawReader struct{ rs *ReadStream }

func (r rawReader) Read(p []byte) (int, error) { return r.rs.Read(p) }

// ReadLine returns the next line without its terminator. Lines end at
// "\n", "\r\n" or a bare "\r". At end of input it returns the final
// unterminated line, if any, and then io.EOF.
func (rs *ReadStream) ReadLine() (string, error) {
	if rs.closed {
		return "", ioerr.Closed("read", rs.url())
	}
	if rs.enc != nil && rs.enc.kind != encLatin1 {
		return rs.readLineRunes()
	}
	var line []byte
	for {
		if rs.off == rs.end && !rs.fill() && rs.off == rs.end {
			if line == nil {
				return "", rs.readErr()
			}
			return rs.decodeLatin1(line), nil
		}
		chunk := rs.data[rs.off:rs.end]
		for i, c := range chunk {
			if c != '\n' && c != '\r' {
				continue
			}
			line = append(line, chunk[:i]...)
			rs.off += i + 1
			rs.pos += int64(i + 1)
			if c == '\r' {
				rs.skipLF()
			}
			rs.lastOp = 0
			return rs.decodeLatin1(line), nil
		}
		line = append(line, chunk...)
		rs.pos += int64(len(chunk))
		rs.off = rs.end
	}
}

func (rs *ReadStream) decodeLatin1(line []byte) string {
	if rs.enc == nil {
		return string(line)
	}
	runes := make([]rune, len(line))
	for i, c := range line {
		runes[i] = rune(c)
	}
	return string(runes)
}

// skipLF consumes a '\n' following a '\r', if one is there.
func (rs *ReadStream) skipLF() {
	if rs.off == rs.end && !rs.fill() {
		return
	}
	if rs.off < rs.end && rs.data[rs.off] == '\n' {
		rs.off++
		rs.pos++
	}
}

func (rs *ReadStream) readLineRunes() (string, error) {
	var line []rune
	got := false
	for {
		r, _, err := rs.ReadRune()
		if err != nil {
			if !got {
				return "", err
			}
			if err == io.EOF {
				return string(line), nil
			}
			return string(line), err
		}
		got = true
		switch r {
		case '\n':
			return string(line), nil
		case '\r':
			if rs.decoder == nil {
				rs.skipLF()
			} else if next, _, err := rs.decoder.ReadRune(); err == nil && next != '\n' {
				rs.decoder.UnreadRune()
			}
			return string(line), nil
		}
		line = append(line, r)
	}
}

// ReadAll reads everything up to EOF.
func (rs *ReadStream) ReadAll() ([]byte, error) {
	return io.ReadAll(rs)
}

// ReadString reads everything up to EOF as a string, decoding with
// the stream's encoding if one is set.
func (rs *ReadStream) ReadString() (string, error) {
	if rs.enc == nil || rs.enc.kind == encUTF8 {
		b, err := io.ReadAll(rs)
		return string(b), err
	}
	var out []rune
	for {
		r, _, err := rs.ReadRune()
		if err == io.EOF {
			return string(out), nil
		} else if err != nil {
			return string(out), err
		}
		out = append(out, r)
	}
}

// WriteTo implements io.WriterTo.
func (rs *ReadStream) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		if rs.off == rs.end && !rs.fill() && rs.off == rs.end {
			if err := rs.readErr(); err != io.EOF {
				return total, err
			}
			return total, nil
		}
		n, err := w.Write(rs.data[rs.off:rs.end])
		rs.off += n
		rs.pos += int64(n)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}

// Attribute returns stream metadata, such as an HTTP response
// header.
func (rs *ReadStream) Attribute(name string) (string, bool) {
	if rs.closed {
		return "", false
	}
	if a, ok := rs.src.(Attributer); ok {
		return a.Attribute(name)
	}
	return "", false
}

// AttributeNames lists the stream's metadata keys.
func (rs *ReadStream) AttributeNames() []string {
	if a, ok := rs.src.(Attributer); ok && !rs.closed {
		return a.AttributeNames()
	}
	return nil
}

// Close releases the buffer and closes the source (or, for a
// read/write pair, the write half). Closing twice is harmless.
func (rs *ReadStream) Close() error {
	if rs.closed {
		return nil
	}
	rs.closed = true
	rs.buf.Free()
	rs.buf, rs.data = nil, nil
	rs.off, rs.end = 0, 0
	rs.decoder = nil
	if rs.sibling != nil {
		return rs.sibling.Close()
	}
	if rs.disableCloseSource {
		return nil
	}
	return rs.src.Close()
}
