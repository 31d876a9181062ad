package charset

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// doubleEncodedArtifacts are the classic two-byte sequences that show
// up when UTF-8 bytes get re-interpreted as Latin-1/Windows-1252 and
// then re-encoded as UTF-8 a second time ("Ã¼" for "ü", etc.). This
// list isn't limited to any one language's accented letters;
// RepairMisencoding backs it with a structural check (round-trip
// through Latin-1) rather than relying on the list alone.
var doubleEncodedArtifacts = []string{
	"Ã¼", "Ã¤", "Ã¶", "ÃŸ", "Ã©", "Ã¨", "Ã±", "Ã§", "Ã¢", "Ã®", "Ã»",
	"Â ", "â€™", "â€œ", "â€", "â€“", "â€”",
}

// LooksDoubleEncoded reports whether s shows surface evidence of the
// UTF-8-as-Latin-1-as-UTF-8 double-encoding artefact.
func LooksDoubleEncoded(s string) bool {
	for _, a := range doubleEncodedArtifacts {
		if strings.Contains(s, a) {
			return true
		}
	}
	return false
}

// RepairMisencoding repairs double-encoded text: after decoding text
// declared as iso-8859-1 or windows-1252, scan for
// double-encoding artefacts; if present, re-encode to the matching
// single-byte charset and re-decode as UTF-8, keeping the repair only
// if it actually yields well-formed text.
func RepairMisencoding(s string, declaredCharset string) (string, bool) {
	canon := Normalize(declaredCharset)
	if canon != ISO88591 && canon != Windows1252 {
		return s, false
	}
	if !LooksDoubleEncoded(s) {
		return s, false
	}

	enc := charmap.ISO8859_1
	if canon == Windows1252 {
		enc = charmap.Windows1252
	}
	reencoded, err := enc.NewEncoder().String(s)
	if err != nil {
		return s, false
	}
	if !utf8.ValidString(reencoded) {
		return s, false
	}
	// reencoded is now the original UTF-8 byte sequence, misinterpreted
	// single bytes restored; since charmap round-trips 1:1 for bytes in
	// range, reencoded IS the intended UTF-8 text already.
	return reencoded, true
}
