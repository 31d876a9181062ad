package charset

import "unicode/utf8"

// windows1252Only is the set of bytes 0x80-0x9F that Windows-1252
// maps to printable characters but that ISO-8859-1 leaves as C1 control
// codes. Their presence is a strong signal the bytes are Windows-1252,
// not plain Latin-1.
var windows1252Only = map[byte]bool{
	0x80: true,
	0x82: true, 0x83: true, 0x84: true, 0x85: true, 0x86: true, 0x87: true,
	0x88: true, 0x89: true, 0x8A: true, 0x8B: true, 0x8C: true,
	0x8E: true,
	0x91: true, 0x92: true, 0x93: true, 0x94: true, 0x95: true, 0x96: true,
	0x97: true, 0x98: true, 0x99: true, 0x9A: true, 0x9B: true, 0x9C: true,
	0x9E: true, 0x9F: true,
}

// hasMultibyteUTF8 reports whether data contains at least one rune
// encoded in more than one byte (i.e. genuinely non-ASCII content, as
// opposed to 7-bit text that happens to validate as UTF-8 trivially).
func hasMultibyteUTF8(data []byte) bool {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if size > 1 && r != utf8.RuneError {
			return true
		}
		i += size
		if size == 0 {
			break
		}
	}
	return false
}

// Detect performs statistical charset detection for when no charset
// is declared and no BOM is present: valid multibyte UTF-8 wins
// outright; otherwise a Windows-1252-only byte signals windows-1252;
// otherwise assume iso-8859-1.
func Detect(data []byte) string {
	if utf8.Valid(data) && hasMultibyteUTF8(data) {
		return UTF8
	}
	for _, b := range data {
		if windows1252Only[b] {
			return Windows1252
		}
	}
	return ISO88591
}

// DetectDeclaredOrStatistical resolves the charset to actually decode
// with: a BOM always wins, then the declared charset (normalised), and
// only when neither is present does it fall back to Detect.
func DetectDeclaredOrStatistical(data []byte, declared string) (name string, bomLen int) {
	if name, bomLen := DetectBOM(data); name != "" {
		return name, bomLen
	}
	if declared != "" {
		return Normalize(declared), 0
	}
	return Detect(data), 0
}
