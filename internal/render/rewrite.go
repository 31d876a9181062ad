package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"

	"github.com/inboxcore/mailcore/internal/mailerr"
)

// Options configures a single Render call.
type Options struct {
	// MessageID is embedded in every rewritten cid: URL.
	MessageID string
	// InlineCIDs is the set of content-ids with a resolvable inline
	// attachment, used to decide whether a cid: reference rewrites to
	// a real URL or a not-found placeholder.
	InlineCIDs map[string]bool
	// BlockRemote replaces external http(s) <img src> URLs with a
	// placeholder. Anchor hrefs are left untouched — see sanitize.go.
	BlockRemote bool
	// MaxImageWidth caps displayed image width in pixels via an inline
	// style, zero disables capping.
	MaxImageWidth int
	// SanitizeHTML runs the bluemonday allowlist pass when true. Disabling
	// it is only appropriate for already-trusted content; cid/entity/
	// Wingdings rewriting and BlockRemote still run either way.
	SanitizeHTML bool
}

var (
	preambleHeaderLineRE = regexp.MustCompile(`(?i)^(Content-Type|Content-Transfer-Encoding|MIME-Version|Content-Disposition)\s*:`)
	preambleBoundaryRE   = regexp.MustCompile(`^--[A-Za-z0-9'()+_,./:=? -]{1,100}`)
	doctypeRE            = regexp.MustCompile(`(?is)<!DOCTYPE[^>]*>`)
	orphanDTDLineRE      = regexp.MustCompile(`(?im)^\s*"?-//W3C//DTD[^\n]*$`)
	metaContentTypeRE    = regexp.MustCompile(`(?is)<meta\s+[^>]*http-equiv\s*=\s*["']?content-type["']?[^>]*>`)
	orphanCharsetLineRE  = regexp.MustCompile(`(?im)^\s*charset\s*=\s*[-\w]+\s*$`)
	cidSchemeRE          = regexp.MustCompile(`(?i)^cid:(.+)$`)
)

// RenderHTML transforms html for safe display per the renderer's
// eight-step pipeline: strip leaked MIME preamble, remove DOCTYPE/meta
// noise, decode entities outside tags, map Wingdings emoticon spans,
// rewrite cid: references, sanitise, and finally wrap with a minimal
// document if the input never declared one.
func RenderHTML(input string, opts Options) (string, []mailerr.Warning) {
	var warnings []mailerr.Warning

	body := stripLeakedPreamble(input)
	body = doctypeRE.ReplaceAllString(body, "")
	body = orphanDTDLineRE.ReplaceAllString(body, "")
	body = metaContentTypeRE.ReplaceAllString(body, "")
	body = orphanCharsetLineRE.ReplaceAllString(body, "")

	body, cidWarnings := rewriteTokens(body, opts)
	warnings = append(warnings, cidWarnings...)

	if opts.SanitizeHTML {
		var sanitizeWarnings []mailerr.Warning
		body, sanitizeWarnings = Sanitize(body, opts)
		warnings = append(warnings, sanitizeWarnings...)
	} else if opts.BlockRemote {
		// Sanitize runs the block pass itself; without it, run it here.
		var blockWarnings []mailerr.Warning
		body, blockWarnings = blockRemoteImages(body)
		warnings = append(warnings, blockWarnings...)
	}

	body = ensureMinimalStructure(body)
	return body, warnings
}

// stripLeakedPreamble removes a run of header-shaped or boundary-shaped
// lines at the very start of the body, through and including the first
// blank line, exactly when every line up to that blank line looks like
// a leaked MIME header or boundary marker. A body that doesn't open
// that way is left untouched.
func stripLeakedPreamble(body string) string {
	lines := strings.Split(body, "\n")
	end := -1
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.TrimSpace(trimmed) == "" {
			end = i
			break
		}
		if !preambleHeaderLineRE.MatchString(trimmed) && !preambleBoundaryRE.MatchString(trimmed) {
			return body
		}
	}
	if end < 0 {
		return body
	}
	return strings.Join(lines[end+1:], "\n")
}

var wingdingsFamilyRE = regexp.MustCompile(`(?i)wingdings`)

var wingdingsEmoticons = map[byte]string{
	'J': "\U0001F60A", // 😊
	'L': "\U0001F61E", // 😞
	'K': "\U0001F610", // 😐
}

// rewriteTokens runs one tokenizer pass that decodes entities in text
// outside tags, maps Wingdings emoticon letters inside a
// Wingdings-styled span/font, and rewrites cid: URLs in href/src
// attributes.
func rewriteTokens(body string, opts Options) (string, []mailerr.Warning) {
	var warnings []mailerr.Warning
	var out strings.Builder
	z := xhtml.NewTokenizer(strings.NewReader(body))

	var wingdingsDepth int
	var depth int

	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			break
		}
		switch tt {
		case xhtml.TextToken:
			text := z.Token().Data
			if wingdingsDepth > 0 {
				text = mapWingdings(text)
			}
			out.WriteString(html.EscapeString(text))
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			t := z.Token()
			if tt == xhtml.StartTagToken {
				depth++
				if isWingdingsTag(t) {
					wingdingsDepth = depth
				}
			}
			attrs := t.Attr
			if t.Data == "img" && opts.MaxImageWidth > 0 {
				attrs = capImageWidth(attrs, opts.MaxImageWidth)
			}
			out.WriteByte('<')
			out.WriteString(t.Data)
			for _, attr := range attrs {
				val := attr.Val
				if (attr.Key == "href" || attr.Key == "src") && cidSchemeRE.MatchString(val) {
					val, warnings = rewriteCID(val, opts, warnings)
				}
				fmt.Fprintf(&out, " %s=%q", attr.Key, val)
			}
			if tt == xhtml.SelfClosingTagToken {
				out.WriteString("/>")
			} else {
				out.WriteString(">")
			}
		case xhtml.EndTagToken:
			t := z.Token()
			out.WriteString("</")
			out.WriteString(t.Data)
			out.WriteByte('>')
			if wingdingsDepth > 0 && depth == wingdingsDepth {
				wingdingsDepth = 0
			}
			if depth > 0 {
				depth--
			}
		case xhtml.CommentToken, xhtml.DoctypeToken:
			// dropped: comments carry no display meaning, and any
			// doctype survived the earlier regex pass only if
			// malformed enough to not match it.
		}
	}
	return out.String(), warnings
}

func isWingdingsTag(t xhtml.Token) bool {
	for _, attr := range t.Attr {
		if attr.Key == "style" || attr.Key == "face" {
			if wingdingsFamilyRE.MatchString(attr.Val) {
				return true
			}
		}
	}
	return false
}

func mapWingdings(text string) string {
	if len(text) != 1 {
		return text
	}
	if mapped, ok := wingdingsEmoticons[text[0]]; ok {
		return mapped
	}
	return text
}

// capImageWidth appends a max-width style to an <img>'s attributes so
// it never displays wider than maxWidth, preserving any style the
// message already declared.
func capImageWidth(attrs []xhtml.Attribute, maxWidth int) []xhtml.Attribute {
	out := make([]xhtml.Attribute, 0, len(attrs)+1)
	found := false
	capRule := fmt.Sprintf("max-width:%dpx;height:auto;", maxWidth)
	for _, attr := range attrs {
		if attr.Key == "style" {
			attr.Val = capRule + attr.Val
			found = true
		}
		out = append(out, attr)
	}
	if !found {
		out = append(out, xhtml.Attribute{Key: "style", Val: capRule})
	}
	return out
}

func rewriteCID(val string, opts Options, warnings []mailerr.Warning) (string, []mailerr.Warning) {
	m := cidSchemeRE.FindStringSubmatch(val)
	if m == nil {
		return val, warnings
	}
	id := strings.Trim(m[1], "<>")
	if opts.InlineCIDs[id] {
		return fmt.Sprintf("/mail/%s/cid/%s", opts.MessageID, id), warnings
	}
	warnings = append(warnings, mailerr.Warn(mailerr.WarnCIDNotFound, "cid:%s has no matching inline attachment", id))
	return fmt.Sprintf("/mail/%s/cid/missing", opts.MessageID), warnings
}

const minimalDocTemplate = `<html><head><meta name="viewport" content="width=device-width, initial-scale=1"><style>body{font-family:-apple-system,Helvetica,Arial,sans-serif;font-size:14px;}</style></head><body>%s</body></html>`

// ensureMinimalStructure wraps body in a minimal document with a
// viewport and default font if it declares neither <html> nor <body>.
func ensureMinimalStructure(body string) string {
	lower := strings.ToLower(body)
	if strings.Contains(lower, "<html") || strings.Contains(lower, "<body") {
		return body
	}
	return fmt.Sprintf(minimalDocTemplate, body)
}
