// Package transferenc decodes MIME transfer encodings:
// quoted-printable (charset-aware, with a double-decode guard) and
// base64, plus 7bit/8bit/binary passthrough.
package transferenc

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/inboxcore/mailcore/internal/charset"
)

// Decode decodes raw according to the named transfer encoding. For
// quoted-printable and base64 text parts, the decoded bytes are
// interpreted under partCharset and returned as a UTF-8 string;
// attachments (isAttachment) are returned as raw bytes regardless of
// encoding, since binary content must never be charset-decoded.
func Decode(raw []byte, transferEncoding, partCharset string, isAttachment bool) (text string, data []byte, warning string) {
	enc := strings.ToLower(strings.TrimSpace(transferEncoding))
	switch enc {
	case "quoted-printable":
		data = decodeQuotedPrintable(raw, partCharset)
		if isAttachment {
			return "", data, ""
		}
		return interpretText(data, partCharset), data, ""
	case "base64":
		data = decodeBase64(raw)
		if isAttachment {
			return "", data, ""
		}
		return interpretText(data, partCharset), data, ""
	case "7bit", "8bit", "binary", "":
		data = raw
		if isAttachment {
			return "", data, ""
		}
		return interpretText(data, partCharset), data, ""
	default:
		// Unknown transfer encoding: pass through untouched and let the
		// caller record a DecodeWarning.
		return interpretText(raw, partCharset), raw, "unknown_transfer_encoding:" + enc
	}
}

func interpretText(data []byte, partCharset string) string {
	return charset.Decode(data, partCharset)
}

// qpTriggerRE matches any "=XX" hex escape, generalising beyond any
// single language's accented-letter set: any high-bit byte expressed
// in QP hex form is evidence of genuine quoted-printable content, not
// just umlaut-specific escapes.
var qpTriggerRE = regexp.MustCompile(`=[0-9A-Fa-f]{2}`)

// decodeQuotedPrintable removes soft line breaks and decodes =XX
// escapes. It guards against double-decoding: if the input already
// contains well-formed multi-byte UTF-8 and no QP trigger patterns at
// all, it is returned unchanged.
func decodeQuotedPrintable(raw []byte, partCharset string) []byte {
	if looksAlreadyDecoded(raw, partCharset) {
		return raw
	}

	reader := quotedprintable.NewReader(bytes.NewReader(normalizeSoftBreaks(raw)))
	decoded, err := io.ReadAll(reader)
	if err != nil {
		// quotedprintable.Reader stops at the first malformed escape;
		// keep whatever it managed to decode rather than discarding it.
		if len(decoded) > 0 {
			return decoded
		}
		return raw
	}
	return decoded
}

// normalizeSoftBreaks makes sure "=\n" (bare LF) is treated the same
// as "=\r\n" by quotedprintable.Reader, which only recognises the
// latter on some platforms' line-ending conventions in practice.
func normalizeSoftBreaks(raw []byte) []byte {
	if !bytes.Contains(raw, []byte("=\n")) {
		return raw
	}
	return bytes.ReplaceAll(raw, []byte("=\n"), []byte("=\r\n"))
}

func looksAlreadyDecoded(raw []byte, partCharset string) bool {
	if qpTriggerRE.Match(raw) {
		return false
	}
	canon := charset.Normalize(partCharset)
	if canon == charset.UTF8 || canon == "" {
		return hasWellFormedMultibyte(raw)
	}
	return false
}

func hasWellFormedMultibyte(raw []byte) bool {
	return utf8.Valid(raw) && containsHighBit(raw)
}

func containsHighBit(raw []byte) bool {
	for _, b := range raw {
		if b >= 0x80 {
			return true
		}
	}
	return false
}

func decodeBase64(raw []byte) []byte {
	cleaned := stripWhitespace(raw)
	decoded, err := base64.StdEncoding.DecodeString(string(cleaned))
	if err != nil {
		// Some servers/clients omit padding; retry with RawStdEncoding.
		if alt, altErr := base64.RawStdEncoding.DecodeString(string(cleaned)); altErr == nil {
			return alt
		}
		return raw
	}
	return decoded
}

func stripWhitespace(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			out = append(out, b)
		}
	}
	return out
}
