// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"strings"
	"sync"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"
)

type encKind int

const (
	encGeneric encKind = iota
	encUTF8
	encLatin1
)

// Encoding is a named character encoding used by streams to convert
// between runes and bytes.
type Encoding struct {
	name  string
	enc   encoding.Encoding
	kind  encKind
	ascii bool // ASCII bytes encode as themselves
}

// Name returns the canonical MIME name.
func (e *Encoding) Name() string { return e.name }

// Encoding returns the underlying transcoder.
func (e *Encoding) Encoding() encoding.Encoding { return e.enc }

func (e *Encoding) String() string { return e.name }

var (
	// UTF8 is the default encoding for readers and locale lookups.
	UTF8 = &Encoding{name: "utf-8", enc: unicode.UTF8, kind: encUTF8, ascii: true}
	// Latin1 maps each byte to the rune of the same value. It is the
	// default for writers.
	Latin1 = &Encoding{name: "ISO-8859-1", enc: charmap.ISO8859_1, kind: encLatin1, ascii: true}
)

var (
	registryMtx sync.RWMutex
	registry    = map[string]*Encoding{
		"utf-8":      UTF8,
		"ISO-8859-1": Latin1,
		"US-ASCII":   {name: "US-ASCII", enc: charmap.ISO8859_1, kind: encLatin1, ascii: true},
	}
)

// RegisterEncoding makes enc available under name (and its aliases)
// to LookupEncoding, overriding the built-in transcoder.
func RegisterEncoding(name string, enc encoding.Encoding) {
	mime := MimeName(name)
	e := newEncoding(mime, enc)
	registryMtx.Lock()
	defer registryMtx.Unlock()
	registry[mime] = e
}

// LookupEncoding returns the encoding for name, which may be any
// alias of a MIME charset name. It returns a KindUnsupported error
// for unknown names.
func LookupEncoding(name string) (*Encoding, error) {
	if name == "" {
		return Latin1, nil
	}
	mime := MimeName(name)
	registryMtx.RLock()
	e, ok := registry[mime]
	registryMtx.RUnlock()
	if ok {
		return e, nil
	}
	enc, err := ianaindex.MIME.Encoding(mime)
	if err != nil || enc == nil {
		enc, err = ianaindex.IANA.Encoding(mime)
	}
	if err != nil || enc == nil {
		return nil, ioerr.Errorf(ioerr.KindUnsupported, "encoding", "", "unsupported character encoding %q", name)
	}
	e = newEncoding(mime, enc)
	registryMtx.Lock()
	registry[mime] = e
	registryMtx.Unlock()
	return e, nil
}

func newEncoding(name string, enc encoding.Encoding) *Encoding {
	e := &Encoding{name: name, enc: enc}
	switch enc {
	case unicode.UTF8:
		e.kind = encUTF8
	case charmap.ISO8859_1:
		e.kind = encLatin1
	}
	if out, err := enc.NewEncoder().String("09azAZ-"); err == nil && out == "09azAZ-" {
		e.ascii = true
	}
	return e
}

// normalizeEncodingName upper-cases name and turns '_' into '-'.
func normalizeEncodingName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "_", "-"))
}

// MimeName returns the canonical MIME name for an encoding name or
// alias. Unknown names are returned normalized (upper case, '-' for
// '_').
func MimeName(name string) string {
	if name == "" {
		return ""
	}
	if v, ok := mimeAliases[name]; ok {
		return v
	}
	upper := normalizeEncodingName(name)
	if v, ok := mimeAliases[upper]; ok {
		return v
	}
	return upper
}

// MimeNameForLocale returns the conventional encoding for a locale
// such as "ja", "zh_TW" or "pt-BR". The default is "utf-8".
func MimeNameForLocale(locale string) string {
	if locale == "" {
		return "utf-8"
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return "utf-8"
	}
	base, _ := tag.Base()
	if region, conf := tag.Region(); conf == language.Exact {
		if v, ok := localeEncodings[base.String()+"_"+region.String()]; ok {
			return v
		}
	}
	if v, ok := localeEncodings[base.String()]; ok {
		return v
	}
	return "utf-8"
}

var mimeAliases = map[string]string{}

func addAliases(canonical string, aliases ...string) {
	mimeAliases[normalizeEncodingName(canonical)] = canonical
	for _, a := range aliases {
		mimeAliases[normalizeEncodingName(a)] = canonical
	}
}

func init() {
	addAliases("US-ASCII", "ANSI_X3.4-1968", "ISO-IR-6", "ISO_646.IRV:1991", "ASCII", "ISO646-US", "US", "IBM367", "CP367", "CSASCII")
	addAliases("ISO-8859-1", "ISO_8859-1:1987", "ISO-IR-100", "ISO_8859-1", "LATIN1", "L1", "IBM819", "CP819", "CSISOLATIN1", "ISO8859-1", "8859_1", "ISO8859_1", "WINDOWS-HACK")
	addAliases("ISO-8859-2", "ISO_8859-2:1987", "ISO-IR-101", "LATIN2", "L2", "CSISOLATIN2", "ISO8859-2")
	addAliases("ISO-8859-3", "ISO_8859-3:1988", "ISO-IR-109", "LATIN3", "L3", "CSISOLATIN3", "ISO8859-3")
	addAliases("ISO-8859-4", "ISO_8859-4:1988", "ISO-IR-110", "LATIN4", "L4", "CSISOLATIN4", "ISO8859-4")
	addAliases("ISO-8859-5", "ISO_8859-5:1988", "ISO-IR-144", "CYRILLIC", "CSISOLATINCYRILLIC", "ISO8859-5")
	addAliases("ISO-8859-6", "ISO_8859-6:1987", "ISO-IR-127", "ECMA-114", "ASMO-708", "ARABIC", "CSISOLATINARABIC", "ISO8859-6")
	addAliases("ISO-8859-7", "ISO_8859-7:1987", "ISO-IR-126", "ELOT_928", "ECMA-118", "GREEK", "GREEK8", "CSISOLATINGREEK", "ISO8859-7")
	addAliases("ISO-8859-8", "ISO_8859-8:1988", "ISO-IR-138", "HEBREW", "CSISOLATINHEBREW", "ISO8859-8")
	addAliases("ISO-8859-9", "ISO_8859-9:1989", "ISO-IR-148", "LATIN5", "L5", "CSISOLATIN5", "ISO8859-9")
	addAliases("ISO-8859-10", "ISO_8859-10:1992", "ISO-IR-157", "L6", "CSISOLATIN6", "LATIN6")
	addAliases("UTF-7", "UTF7")
	addAliases("utf-8", "UTF8")
	addAliases("utf-16", "UTF16")
	addAliases("UTF-16BE", "UTF16BE")
	addAliases("UTF-16LE", "UTF16LE")
	addAliases("Shift_JIS", "SHIFT-JIS", "CSSHIFTJIS", "SJIS", "MS_KANJI")
	addAliases("EUC-JP", "EUCJP", "EUC-JP-LINUX")
	addAliases("ISO-2022-JP", "CSISO2022JP", "JIS")
	addAliases("EUC-KR", "EUCKR", "CSEUCKR", "KS_C_5601-1987")
	addAliases("GB2312", "CSGB2312")
	addAliases("GBK", "CP936")
	addAliases("GB18030")
	addAliases("Big5", "BIG-5", "CSBIG5", "MS950")
	addAliases("KOI8-R", "KOI-8-R", "CSKOI8R")
	addAliases("KOI8-U")
	addAliases("macintosh", "MACROMAN", "MAC", "CSMACINTOSH")
	for _, cp := range []string{"037", "437", "850", "852", "855", "858", "860", "862", "863", "865", "866", "874", "1047", "1140",
		"1250", "1251", "1252", "1253", "1254", "1255", "1256", "1257", "1258"} {
		addAliases("windows-"+cp, "CP"+cp)
	}
}

// localeEncodings maps language (and language_REGION) codes to their
// conventional encodings.
var localeEncodings = map[string]string{
	"af": "ISO-8859-1", "sq": "ISO-8859-1", "ar": "ISO-8859-6", "eu": "ISO-8859-1",
	"bg": "ISO-8859-5", "be": "ISO-8859-5", "ca": "ISO-8859-1", "hr": "ISO-8859-2",
	"cs": "ISO-8859-2", "da": "ISO-8859-1", "nl": "ISO-8859-1", "en": "ISO-8859-1",
	"eo": "ISO-8859-3", "et": "ISO-8859-10", "fo": "ISO-8859-1", "fi": "ISO-8859-1",
	"fr": "ISO-8859-1", "gl": "ISO-8859-1", "de": "ISO-8859-1", "el": "ISO-8859-7",
	"he": "ISO-8859-8", "iw": "ISO-8859-8", "hu": "ISO-8859-2", "is": "ISO-8859-1",
	"ga": "ISO-8859-1", "it": "ISO-8859-1", "ja": "Shift_JIS", "lv": "ISO-8859-10",
	"lt": "ISO-8859-10", "mk": "ISO-8859-5", "mt": "ISO-8859-3", "no": "ISO-8859-1",
	"nb": "ISO-8859-1", "pl": "ISO-8859-2", "pt": "ISO-8859-1", "ro": "ISO-8859-2",
	"ru": "ISO-8859-5", "gd": "ISO-8859-1", "sr": "ISO-8859-5", "sk": "ISO-8859-2",
	"sl": "ISO-8859-2", "es": "ISO-8859-1", "sv": "ISO-8859-1", "tr": "ISO-8859-9",
	"uk": "ISO-8859-5", "ko": "EUC-KR", "zh": "GB2312", "zh_TW": "Big5",
}
