package charset

import "bytes"

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF32   = []byte{0x00, 0x00, 0xFE, 0xFF}
)

// DetectBOM inspects the leading bytes of data for a byte-order mark
// and returns the canonical charset name it implies, plus the number
// of leading bytes the BOM occupies (to be stripped before decoding).
// Only the big-endian UTF-32 BOM (00 00 FE FF) is recognised; it is
// checked first, before the shorter two- and three-byte marks.
func DetectBOM(data []byte) (name string, bomLen int) {
	if bytes.HasPrefix(data, bomUTF32) {
		return UTF32, len(bomUTF32)
	}
	if bytes.HasPrefix(data, bomUTF8) {
		return UTF8, len(bomUTF8)
	}
	if bytes.HasPrefix(data, bomUTF16BE) {
		return UTF16BE, len(bomUTF16BE)
	}
	if bytes.HasPrefix(data, bomUTF16LE) {
		return UTF16LE, len(bomUTF16LE)
	}
	return "", 0
}
