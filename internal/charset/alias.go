// Package charset normalises charset aliases, detects encoding from
// BOMs and byte statistics, decodes bytes under a named charset,
// repairs classic double-encoded UTF-8 artefacts, and decodes RFC 2047
// encoded-words and RFC 2231 extended parameters.
package charset

import "strings"

// The canonical charset names Normalize folds aliases into. Names
// outside this set pass through unchanged for last-chance detection
// by the underlying encoding libraries.
const (
	UTF8         = "utf-8"
	ISO88591     = "iso-8859-1"
	ISO885915    = "iso-8859-15"
	Windows1252  = "windows-1252"
	USASCII      = "us-ascii"
	MacRoman     = "mac-roman"
	UTF16BE      = "utf-16be"
	UTF16LE      = "utf-16le"
	UTF32        = "utf-32"
)

// aliases maps dozens of charset spellings seen in the wild onto the
// canonical set above.
var aliases = map[string]string{
	"utf8":          UTF8,
	"utf-8":         UTF8,
	"unicode-1-1-utf-8": UTF8,

	"latin1":     ISO88591,
	"latin-1":    ISO88591,
	"l1":         ISO88591,
	"iso8859-1":  ISO88591,
	"iso-8859-1": ISO88591,
	"iso_8859-1": ISO88591,
	"8859-1":     ISO88591,
	"cp819":      ISO88591,

	"latin9":      ISO885915,
	"latin-9":     ISO885915,
	"iso8859-15":  ISO885915,
	"iso-8859-15": ISO885915,

	"windows-1252": Windows1252,
	"windows1252":  Windows1252,
	"cp1252":       Windows1252,
	"x-cp1252":     Windows1252,
	"ansi_x3.4-1968": USASCII,
	"ascii":          USASCII,
	"us-ascii":       USASCII,

	"macintosh":  MacRoman,
	"mac-roman":  MacRoman,
	"x-mac-roman": MacRoman,

	"utf-16be":    UTF16BE,
	"utf16be":     UTF16BE,
	"unicodefffe": UTF16BE,

	"utf-16le": UTF16LE,
	"utf16le":  UTF16LE,
	"ucs-2le":  UTF16LE,

	"utf-32":  UTF32,
	"utf32":   UTF32,
}

// Normalize folds a declared charset name to its canonical spelling.
// Unknown names are returned lower-cased and trimmed, unchanged, so
// callers can still attempt last-chance detection/lookup against the
// wider ecosystem encoding tables.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Trim(name, `"'`)
	if canon, ok := aliases[name]; ok {
		return canon
	}
	return name
}
