// Package render turns a parsed message body into a safe, displayable
// (text, html) pair: selecting which candidate wins, rewriting the
// chosen HTML for safe display, and normalising the chosen plain text.
// It mirrors the teacher's rendering shape in spirit — a dedicated
// pass over already-decoded content, never touching transport or MIME
// decoding — grounded concretely on spilled-ink-spilld's
// html/htmlsafe and html/htmlembed packages, the closest analogues in
// the retrieved pack to a mail body sanitiser and cid rewriter.
package render

import "github.com/inboxcore/mailcore/internal/mailerr"

// Select implements the selector contract: prefer non-empty HTML,
// fall back to non-empty plain text, and otherwise report the body as
// empty via a warning rather than silently returning nothing.
func Select(plain, html string) (content string, isHTML bool, warn *mailerr.Warning) {
	if html != "" {
		return html, true, nil
	}
	if plain != "" {
		return plain, false, nil
	}
	w := mailerr.Warn(mailerr.WarnFallbackRender, "message has no text or html body candidate")
	return "", false, &w
}
