package charset

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	msgcharset "github.com/emersion/go-message/charset"
	netcharset "golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// Decode converts raw bytes declared (or detected) to be in the given
// charset to a Go string (always valid UTF-8). It tries, in order:
// a leading BOM, the go-message charset registry (which covers the
// same ground as the declared name plus a handful of mail-specific
// aliases), then golang.org/x/text's htmlindex (the full WHATWG
// encoding set, covering GBK/Big5/Shift-JIS/etc.), and finally falls
// back to returning the bytes unmodified if nothing recognises the
// name. Mis-encoding repair is applied afterward by the
// caller when the declared charset was iso-8859-1 or windows-1252.
func Decode(data []byte, declared string) string {
	if bomName, n := DetectBOM(data); bomName != "" {
		declared = bomName
		data = data[n:]
	}

	name := Normalize(declared)
	if name == "" || name == UTF8 || name == USASCII {
		if utf8.Valid(data) {
			return string(data)
		}
		// Mislabelled as UTF-8/ASCII: fall through to statistical
		// detection rather than trusting the declaration.
		name = Detect(data)
	}

	if decoded, ok := decodeWithGoMessage(data, name); ok {
		return decoded
	}
	if decoded, ok := decodeWithHTMLIndex(data, name); ok {
		return decoded
	}
	return string(data)
}

func decodeWithGoMessage(data []byte, name string) (string, bool) {
	r, err := msgcharset.Reader(name, bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func decodeWithHTMLIndex(data []byte, name string) (string, bool) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// DetermineEncodingFallback is used when a textual part (typically
// text/html) declares no charset at all: it defers to
// golang.org/x/net/html/charset's DetermineEncoding, which combines a
// BOM check, a <meta charset> scan, and a statistical pass, before our
// own Detect is used as the last resort.
func DetermineEncodingFallback(data []byte, contentType string) string {
	_, name, _ := netcharset.DetermineEncoding(data, contentType)
	if name != "" {
		return Normalize(name)
	}
	return Detect(data)
}

// ExtractCharsetFromHTML looks for a charset declared in an HTML
// document's own <meta> tags, used as a fallback when the MIME
// Content-Type header omitted one.
func ExtractCharsetFromHTML(html []byte) string {
	search := html
	if len(search) > 1024 {
		search = search[:1024]
	}
	lower := strings.ToLower(string(search))
	if idx := strings.Index(lower, "charset="); idx >= 0 {
		rest := string(search[idx+len("charset="):])
		rest = strings.TrimLeft(rest, `"' `)
		end := strings.IndexAny(rest, `"' ;>`)
		if end < 0 {
			end = len(rest)
		}
		return rest[:end]
	}
	return ""
}
