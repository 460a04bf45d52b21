// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package ioerr defines the error kinds shared by every filesystem
// backend. Backend-specific failures are translated into an *Error
// at the backend boundary, so generic callers only need errors.Is
// against the kind sentinels.
package ioerr

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"syscall"
)

// A Kind classifies an Error.
type Kind int

const (
	// KindNotFound means a missing path or entry. Callers commonly
	// treat it as Exists()==false.
	KindNotFound Kind = iota + 1
	// KindIOFailure is a transport or disk failure.
	KindIOFailure
	// KindProtocolViolation is malformed input from a peer
	// (chunked framing, multipart boundaries) or an inconsistent
	// request (Content-Length mismatch).
	KindProtocolViolation
	// KindUnsupported means the backend does not implement the
	// requested capability.
	KindUnsupported
	// KindResourceMisuse is a programming error: double free of a
	// pooled buffer, use of a closed stream.
	KindResourceMisuse
)

var kindNames = map[Kind]string{
	KindNotFound:          "not found",
	KindIOFailure:         "I/O failure",
	KindProtocolViolation: "protocol violation",
	KindUnsupported:       "unsupported operation",
	KindResourceMisuse:    "resource misuse",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. An *Error matches the sentinel of its
// Kind.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrIOFailure         = &Error{Kind: KindIOFailure}
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation}
	ErrUnsupported       = &Error{Kind: KindUnsupported}
	ErrResourceMisuse    = &Error{Kind: KindResourceMisuse}

	// ErrUnknownScheme matches errors returned by lookups naming a
	// scheme that is not registered. They have KindNotFound.
	ErrUnknownScheme = &Error{Kind: KindNotFound, Err: errUnknownScheme}

	// ErrClosed matches errors returned when a closed stream is
	// used. They have KindResourceMisuse.
	ErrClosed = &Error{Kind: KindResourceMisuse, Err: errClosed}

	errUnknownScheme = errors.New("unknown scheme")
	errClosed        = errors.New("stream is closed")
)

// Error is the error type returned across backend boundaries.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "open", "stat", "read"
	Path string // URL or path of the resource, if known
	Err  error  // underlying error, may be nil
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Path != "" {
		s += ": " + e.Path
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind, the same
// unknown-scheme/closed sentinel, or (for KindNotFound) fs.ErrNotExist.
func (e *Error) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return e.Kind == KindNotFound
	case ErrUnknownScheme:
		return e.Err == errUnknownScheme
	case ErrClosed:
		return e.Err == errClosed
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// New returns an *Error of the given kind.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Errorf returns an *Error of the given kind with a formatted
// message as its underlying error.
func Errorf(kind Kind, op, path, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

// NotFound returns a KindNotFound error for path.
func NotFound(op, path string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Path: path}
}

// UnknownScheme returns the error for a lookup of url whose scheme
// is not registered.
func UnknownScheme(url string) *Error {
	return &Error{Kind: KindNotFound, Op: "lookup", Path: url, Err: errUnknownScheme}
}

// Closed returns the error for an operation on a closed stream.
func Closed(op, path string) *Error {
	return &Error{Kind: KindResourceMisuse, Op: op, Path: path, Err: errClosed}
}

// Unsupported returns a KindUnsupported error for op on path.
func Unsupported(op, path string) *Error {
	return &Error{Kind: KindUnsupported, Op: op, Path: path}
}

// KindOf returns the kind of err, or 0 if err is nil or not an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromOS translates an error returned by the os, net, or syscall
// packages into an *Error. Errors that are already *Error are
// returned unchanged; nil stays nil.
func FromOS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return &Error{Kind: KindNotFound, Op: op, Path: path, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &Error{Kind: KindIOFailure, Op: op, Path: path, Err: err}
	case errors.Is(err, syscall.EISDIR):
		return &Error{Kind: KindUnsupported, Op: op, Path: path, Err: err}
	case errors.Is(err, os.ErrClosed), errors.Is(err, net.ErrClosed):
		return &Error{Kind: KindResourceMisuse, Op: op, Path: path, Err: err}
	}
	return &Error{Kind: KindIOFailure, Op: op, Path: path, Err: err}
}

// IsTimeout reports whether err (or anything it wraps) is a network
// timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
