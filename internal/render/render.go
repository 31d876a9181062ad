package render

import "github.com/inboxcore/mailcore/internal/mailerr"

// Result is the renderer's output bundle: both text and html are
// populated whenever the corresponding input candidate was non-empty,
// and ContentType names which one the caller should display first.
type Result struct {
	Text        string
	HTML        string
	ContentType string
	Warnings    []mailerr.Warning
}

// Compose runs the full body-rendering pipeline over a parsed
// message's plain and html candidates: selects the primary content
// type, runs the html candidate (if any) through RenderHTML, and the
// plain candidate (if any) through Plaintext, independent of which one
// was selected as primary — a client asking for the other
// representation still gets one.
func Compose(plain, htmlBody string, opts Options) Result {
	var res Result

	_, isHTML, warn := Select(plain, htmlBody)
	if warn != nil {
		res.Warnings = append(res.Warnings, *warn)
	}
	if isHTML {
		res.ContentType = "text/html"
	} else {
		res.ContentType = "text/plain"
	}

	if htmlBody != "" {
		out, warnings := RenderHTML(htmlBody, opts)
		res.HTML = out
		res.Warnings = append(res.Warnings, warnings...)
	}
	if plain != "" {
		res.Text = Plaintext(plain)
	} else if !isHTML {
		res.Text = Plaintext("")
	}
	return res
}
