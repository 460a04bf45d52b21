// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import "strings"

// Normalize resolves raw against base and returns an absolute,
// slash-separated path with no empty, "." or ".." segments.
//
// If raw starts with "/" it is resolved against "/"; otherwise it is
// appended to base, which is treated as a directory. An empty raw
// yields base itself (normalized). ".." never climbs above "/": extra
// ".." segments are dropped. A trailing separator on the input is
// kept, so "dir/" stays distinguishable from "dir".
func Normalize(base, raw string) string {
	return NormalizeSep(base, raw, '/')
}

// NormalizeSep is like Normalize, but also accepts sep as a
// separator in raw and base. The result always uses "/".
func NormalizeSep(base, raw string, sep byte) string {
	isSep := func(c byte) bool { return c == '/' || c == sep }

	var full string
	switch {
	case raw == "":
		full = base
	case isSep(raw[0]):
		full = raw
	default:
		full = base + "/" + raw
	}

	trailing := len(full) > 0 && isSep(full[len(full)-1])
	segs := make([]string, 0, 8)
	start := 0
	for i := 0; i <= len(full); i++ {
		if i < len(full) && !isSep(full[i]) {
			continue
		}
		seg := full[start:i]
		start = i + 1
		switch seg {
		case "", ".":
			if i == len(full) && seg == "." {
				trailing = false
			}
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
			if i == len(full) {
				trailing = false
			}
		default:
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		return "/"
	}
	n := len(segs)
	for _, s := range segs {
		n += len(s)
	}
	if trailing {
		n++
	}
	var b strings.Builder
	b.Grow(n)
	for _, s := range segs {
		b.WriteByte('/')
		b.WriteString(s)
	}
	if trailing {
		b.WriteByte('/')
	}
	return b.String()
}

// ScanScheme returns the lower-cased scheme prefix of uri and the
// remainder after the colon. A scheme starts with a letter followed
// by letters, digits, '+', '-' or '.'. Single-letter prefixes are not
// schemes, so Windows drive letters resolve as paths.
func ScanScheme(uri string) (scheme, rest string, ok bool) {
	if uri == "" || !isAlpha(uri[0]) {
		return "", uri, false
	}
	for i := 1; i < len(uri); i++ {
		c := uri[i]
		if c == ':' {
			if i == 1 {
				return "", uri, false
			}
			return strings.ToLower(uri[:i]), uri[i+1:], true
		}
		if !isAlpha(c) && !('0' <= c && c <= '9') && c != '+' && c != '-' && c != '.' {
			break
		}
	}
	return "", uri, false
}

func isAlpha(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

// SplitQuery splits s at the first '?'.
func SplitQuery(s string) (path, query string) {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// Tail returns the last segment of a normalized path, or "" for "/".
func Tail(path string) string {
	path = strings.TrimSuffix(path, "/")
	return path[strings.LastIndexByte(path, '/')+1:]
}

// Dir returns the parent of a normalized path. The parent of "/" is
// "/".
func Dir(path string) string {
	path = strings.TrimSuffix(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/"
	}
	return path[:i]
}
