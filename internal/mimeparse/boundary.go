package mimeparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/inboxcore/mailcore/internal/mailerr"
	"github.com/inboxcore/mailcore/internal/transferenc"
)

// ParseRaw is the fallback entry point for when no BODYSTRUCTURE is
// available at all — only the message's raw octets. It recovers a
// boundary (declared, or scanned-and-cross-checked per the rule
// below) and flattens every delimited part into the same mixed-style
// merge walkMixed produces, or falls back to the entire body as a
// single plain-text candidate when no boundary can be trusted.
func ParseRaw(raw []byte, opts Options) *ParseResult {
	result := &ParseResult{}
	headerBlock, body := splitHeaderBody(raw)

	boundary, ok := resolveBoundary(headerBlock, body)
	if !ok {
		result.PlainBody = charsetDecodeDefault(body, opts.DefaultCharset)
		return result
	}

	parts := splitOnBoundary(body, boundary)
	var plains, htmls []string
	for i, raw := range parts {
		h, b := splitHeaderBody(raw)
		ct, params := parseContentType(h)
		cte := headerValue(h, "Content-Transfer-Encoding")
		disposition, dispParams := parseDisposition(h)
		contentID := strings.Trim(headerValue(h, "Content-ID"), "<>")

		part := &MimePart{
			SectionID:        strconv.Itoa(i + 1),
			MediaType:        ct,
			Charset:          params["charset"],
			TransferEncoding: cte,
			Disposition:      disposition,
			ContentID:        contentID,
			DeclaredSize:     int64(len(b)),
		}
		part.OriginalFilename = dispParams["filename"]
		if part.OriginalFilename == "" {
			part.OriginalFilename = params["name"]
		}
		result.Parts = append(result.Parts, part)

		isText := strings.HasPrefix(ct, "text/") && disposition != "attachment"
		if isText {
			part.IsAttachment = false
			cs := resolveCharset(params["charset"], opts.DefaultCharset)
			text, decoded, w := transferenc.Decode(b, cte, cs, false)
			part.StoredSize = int64(len(decoded))
			part.SHA256 = sha256Hex(decoded)
			if w != "" {
				result.warn(mailerr.WarnUnknownTransferEnc, "part %d: %s", i+1, w)
			}
			if ct == "text/html" {
				htmls = append(htmls, text)
			} else if ct == "text/enriched" {
				htmls = append(htmls, enrichedToHTML(text))
				plains = append(plains, enrichedToPlain(text))
			} else {
				plains = append(plains, text)
			}
			continue
		}

		part.IsAttachment = true
		_, data, w := transferenc.Decode(b, cte, params["charset"], true)
		part.StoredSize = int64(len(data))
		part.SHA256 = sha256Hex(data)
		if w != "" {
			result.warn(mailerr.WarnUnknownTransferEnc, "part %d: %s", i+1, w)
		}
		att := &Attachment{
			SectionID: part.SectionID,
			Filename:  part.OriginalFilename,
			MediaType: ct,
			Data:      data,
			Size:      int64(len(data)),
			ContentID: contentID,
			IsInline:  disposition == "inline",
		}
		if att.Filename == "" {
			att.Filename = "attachment-" + strconv.Itoa(i+1)
		}
		att.SHA256 = part.SHA256
		result.Attachments = append(result.Attachments, att)
		if contentID != "" {
			result.addInline(att)
		}
	}
	result.warn(mailerr.WarnBoundaryRecovered, "recovered boundary %q, %d parts", boundary, len(parts))
	result.PlainBody = strings.Join(plains, "\n\n")
	result.HTMLBody = strings.Join(htmls, "<br><br>")
	return result
}

// resolveBoundary implements the two-step recovery: a boundary=
// parameter properly attached to Content-Type wins outright.
// Otherwise — a bare "multipart/..." with no usable boundary
// parameter, the actual shape of the messages that land here in the
// first place — a candidate delimiter line scanned from the body must
// still be cross-referenced against a boundary= mention found
// anywhere else in the header block, so a line that merely looks
// boundary-shaped (a diff hunk, a markdown rule) is never mistaken
// for a real delimiter.
func resolveBoundary(headerBlock, body []byte) (string, bool) {
	if _, params := parseContentType(headerBlock); params["boundary"] != "" {
		return params["boundary"], true
	}
	for _, candidate := range scanBoundaryCandidates(body) {
		if bytesContainsBoundaryRef(headerBlock, candidate) {
			return candidate, true
		}
	}
	return "", false
}

func bytesContainsBoundaryRef(headerBlock []byte, candidate string) bool {
	re := regexp.MustCompile(`(?i)boundary\s*=\s*"?` + regexp.QuoteMeta(candidate) + `"?`)
	return re.Match(headerBlock)
}

var boundaryLineRE = regexp.MustCompile(`^--([A-Za-z0-9_=-]{10,100})$`)

func scanBoundaryCandidates(body []byte) []string {
	window := body
	if len(window) > 1024 {
		window = window[:1024]
	}
	var out []string
	for _, line := range strings.Split(string(window), "\n") {
		line = strings.TrimRight(line, "\r")
		if m := boundaryLineRE.FindStringSubmatch(line); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}

func splitOnBoundary(body []byte, boundary string) [][]byte {
	delim := "--" + boundary
	text := string(body)
	segments := strings.Split(text, delim)
	var parts [][]byte
	// segments[0] is the preamble before the first delimiter; the
	// final segment after the closing "--boundary--" is the epilogue.
	for i := 1; i < len(segments)-1; i++ {
		seg := segments[i]
		seg = strings.TrimPrefix(seg, "\r\n")
		seg = strings.TrimPrefix(seg, "\n")
		if seg == "" {
			continue
		}
		parts = append(parts, []byte(seg))
	}
	return parts
}

func splitHeaderBody(raw []byte) (header, body []byte) {
	text := string(raw)
	if idx := strings.Index(text, "\r\n\r\n"); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}
	return raw, nil
}

func headerValue(headerBlock []byte, name string) string {
	lines := unfoldHeaders(headerBlock)
	prefix := strings.ToLower(name) + ":"
	for _, line := range lines {
		if strings.HasPrefix(strings.ToLower(line), prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return ""
}

func unfoldHeaders(headerBlock []byte) []string {
	raw := strings.ReplaceAll(string(headerBlock), "\r\n", "\n")
	rawLines := strings.Split(raw, "\n")
	var out []string
	for _, line := range rawLines {
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(out) > 0 {
			out[len(out)-1] += " " + strings.TrimSpace(line)
			continue
		}
		out = append(out, line)
	}
	return out
}

func parseContentType(headerBlock []byte) (mediaType string, params map[string]string) {
	val := headerValue(headerBlock, "Content-Type")
	if val == "" {
		return "text/plain", map[string]string{}
	}
	return parseMediaTypeValue(val)
}

func parseDisposition(headerBlock []byte) (disposition string, params map[string]string) {
	val := headerValue(headerBlock, "Content-Disposition")
	if val == "" {
		return "", map[string]string{}
	}
	return parseMediaTypeValue(val)
}

// parseMediaTypeValue splits "type/subtype; a=b; c=\"d\"" the way a
// Content-Type/Content-Disposition header value is structured,
// without pulling in net/mime's stricter RFC 2045 grammar — this
// fallback path already operates on header bytes that failed the
// parser enough to need boundary recovery in the first place.
func parseMediaTypeValue(val string) (string, map[string]string) {
	fields := strings.Split(val, ";")
	mediaType := strings.ToLower(strings.TrimSpace(fields[0]))
	params := map[string]string{}
	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		eq := strings.IndexByte(f, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(f[:eq]))
		value := strings.Trim(strings.TrimSpace(f[eq+1:]), `"`)
		params[key] = value
	}
	return mediaType, params
}

func charsetDecodeDefault(body []byte, defaultCharset string) string {
	text, _, _ := transferenc.Decode(body, "", resolveCharset("", defaultCharset), false)
	return text
}
