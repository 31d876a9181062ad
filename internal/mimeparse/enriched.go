package mimeparse

import (
	"html"
	"strings"
	"unicode/utf8"
)

func decodeRuneAt(s string, i int) (rune, int) {
	r, size := utf8.DecodeRuneInString(s[i:])
	if size == 0 {
		return ' ', 1
	}
	return r, size
}

// enrichedTags maps the RFC 1896 text/enriched directives this
// converter understands onto an opening/closing HTML tag pair. Any
// directive outside this set is dropped rather than passed through,
// since an unknown enriched command has no safe HTML equivalent.
var enrichedTags = map[string][2]string{
	"bold":        {"<b>", "</b>"},
	"italic":      {"<i>", "</i>"},
	"underline":   {"<u>", "</u>"},
	"fixed":       {"<tt>", "</tt>"},
	"smaller":     {"<small>", "</small>"},
	"bigger":      {"<big>", "</big>"},
	"center":      {"<center>", "</center>"},
	"flushleft":   {"<div style=\"text-align:left\">", "</div>"},
	"flushright":  {"<div style=\"text-align:right\">", "</div>"},
	"flushboth":   {"<div style=\"text-align:justify\">", "</div>"},
	"excerpt":     {"<blockquote>", "</blockquote>"},
	"subscript":   {"<sub>", "</sub>"},
	"superscript": {"<sup>", "</sup>"},
}

// enrichedToHTML upconverts RFC 1896 text/enriched markup to HTML:
// recognised <directive>/</directive> pairs map onto the table above,
// a blank line starts a new paragraph (a lone newline is whitespace
// per the format), and "<<" escapes a literal "<".
func enrichedToHTML(src string) string {
	var out strings.Builder
	paragraphs := strings.Split(normalizeEnrichedNewlines(src), "\x00")
	for i, para := range paragraphs {
		if i > 0 {
			out.WriteString("<br><br>")
		}
		out.WriteString(renderEnrichedParagraph(para))
	}
	return out.String()
}

// enrichedToPlain strips every recognised directive and collapses
// enriched's mandatory-join single newlines into spaces, leaving a
// readable plain-text projection alongside the HTML upconversion.
func enrichedToPlain(src string) string {
	text := normalizeEnrichedNewlines(src)
	var out strings.Builder
	i := 0
	for i < len(text) {
		if strings.HasPrefix(text[i:], "<<") {
			out.WriteByte('<')
			i += 2
			continue
		}
		if text[i] == '<' {
			if end := strings.IndexByte(text[i:], '>'); end >= 0 {
				i += end + 1
				continue
			}
		}
		out.WriteByte(text[i])
		i++
	}
	plain := out.String()
	plain = strings.ReplaceAll(plain, "\n", " ")
	plain = strings.ReplaceAll(plain, "\x00", "\n\n")
	return plain
}

// normalizeEnrichedNewlines protects paragraph breaks (blank lines)
// from the later single-newline-to-space collapse by marking them
// with a sentinel before any directive stripping happens.
func normalizeEnrichedNewlines(src string) string {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	return strings.ReplaceAll(src, "\n\n", "\x00")
}

func renderEnrichedParagraph(para string) string {
	var out strings.Builder
	i := 0
	for i < len(para) {
		switch {
		case strings.HasPrefix(para[i:], "<<"):
			out.WriteString("&lt;")
			i += 2
		case para[i] == '<':
			end := strings.IndexByte(para[i:], '>')
			if end < 0 {
				out.WriteString(html.EscapeString(para[i:]))
				i = len(para)
				break
			}
			directive := strings.ToLower(para[i+1 : i+end])
			i += end + 1
			closing := strings.HasPrefix(directive, "/")
			name := strings.TrimPrefix(directive, "/")
			if name == "nl" || name == "param" {
				if !closing {
					out.WriteString("<br>")
				}
				continue
			}
			tags, ok := enrichedTags[name]
			if !ok {
				continue
			}
			if closing {
				out.WriteString(tags[1])
			} else {
				out.WriteString(tags[0])
			}
		case para[i] == '\n':
			out.WriteByte(' ')
			i++
		default:
			r, size := decodeRuneAt(para, i)
			out.WriteString(html.EscapeString(string(r)))
			i += size
		}
	}
	return out.String()
}
