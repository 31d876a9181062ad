package charset

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
)

// encodedWordRE matches one RFC 2047 encoded-word: =?charset?enc?data?=
var encodedWordRE = regexp.MustCompile(`=\?([^?]+)\?([BbQq])\?([^?]*)\?=`)

// adjacentGapRE matches whitespace that sits only between two
// encoded-words, which RFC 2047 says must be removed rather than
// rendered as a literal space.
var adjacentGapRE = regexp.MustCompile(`(\?=)[ \t]+(=\?)`)

// DecodeEncodedWords decodes every RFC 2047 encoded-word in s, merging
// adjacent encoded-words (separated only by whitespace) without
// introducing a space between them, and iterates to a fixed point so
// nested/adjacent words are fully resolved.
func DecodeEncodedWords(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	for i := 0; i < 8; i++ { // bounded: real headers never nest this deep
		collapsed := adjacentGapRE.ReplaceAllString(s, "$1$2")
		next := encodedWordRE.ReplaceAllStringFunc(collapsed, decodeOneWord)
		if next == s {
			return next
		}
		s = next
	}
	return s
}

func decodeOneWord(match string) string {
	parts := encodedWordRE.FindStringSubmatch(match)
	if parts == nil {
		return match
	}
	charsetName, enc, data := parts[1], strings.ToUpper(parts[2]), parts[3]

	var raw []byte
	switch enc {
	case "B":
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return match
		}
		raw = decoded
	case "Q":
		raw = decodeQEncoding(data)
	default:
		return match
	}

	return Decode(raw, charsetName)
}

// decodeQEncoding implements RFC 2047 Q-encoding: '_' means 0x20, and
// each "=XX" is one raw byte given as hex. The raw byte sequence is
// then handed to Decode under the declared charset by the caller -
// never interpreted as Unicode code points directly.
func decodeQEncoding(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '_':
			out = append(out, ' ')
		case '=':
			if i+2 < len(s) {
				if b, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					out = append(out, byte(b))
					i += 2
					continue
				}
			}
			out = append(out, '=')
		default:
			out = append(out, s[i])
		}
	}
	return out
}
