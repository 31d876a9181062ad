package render

import (
	"strings"
	"testing"

	"github.com/inboxcore/mailcore/internal/mailerr"
)

func TestSelectPrefersHTML(t *testing.T) {
	content, isHTML, warn := Select("plain body", "<p>html body</p>")
	if !isHTML || content != "<p>html body</p>" || warn != nil {
		t.Fatalf("got %q isHTML=%v warn=%v", content, isHTML, warn)
	}
}

func TestSelectFallsBackToPlain(t *testing.T) {
	content, isHTML, warn := Select("plain body", "")
	if isHTML || content != "plain body" || warn != nil {
		t.Fatalf("got %q isHTML=%v warn=%v", content, isHTML, warn)
	}
}

func TestSelectEmptyWarns(t *testing.T) {
	content, isHTML, warn := Select("", "")
	if content != "" || isHTML || warn == nil {
		t.Fatalf("expected empty-body warning, got %q isHTML=%v warn=%v", content, isHTML, warn)
	}
}

func TestRenderHTMLStripsScriptAndEventHandlers(t *testing.T) {
	input := `<p onclick="evil()">Hello <script>alert(1)</script>world</p>`
	out, warnings := RenderHTML(input, Options{MessageID: "m1", SanitizeHTML: true})
	if strings.Contains(out, "<script") || strings.Contains(out, "alert(1)") {
		t.Fatalf("script not stripped: %q", out)
	}
	if strings.Contains(out, "onclick") {
		t.Fatalf("event handler not stripped: %q", out)
	}
	if !strings.Contains(out, "Hello") || !strings.Contains(out, "world") {
		t.Fatalf("surrounding text lost: %q", out)
	}
	found := false
	for _, w := range warnings {
		if w.Kind == mailerr.WarnRemovedScript {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected WarnRemovedScript, got %v", warnings)
	}
}

func TestRenderHTMLRewritesKnownAndUnknownCID(t *testing.T) {
	input := `<img src="cid:logo1"><img src="cid:missing1">`
	opts := Options{MessageID: "msg-42", InlineCIDs: map[string]bool{"logo1": true}}
	out, warnings := RenderHTML(input, opts)
	if !strings.Contains(out, "/mail/msg-42/cid/logo1") {
		t.Fatalf("known cid not rewritten: %q", out)
	}
	if !strings.Contains(out, "/mail/msg-42/cid/missing") {
		t.Fatalf("unknown cid not rewritten to placeholder: %q", out)
	}
	found := false
	for _, w := range warnings {
		if w.Kind == mailerr.WarnCIDNotFound {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected WarnCIDNotFound, got %v", warnings)
	}
}

func TestRenderHTMLBlocksRemoteImagesNotLinks(t *testing.T) {
	input := `<a href="http://example.com/page">link</a><img src="http://example.com/x.png">`
	out, warnings := RenderHTML(input, Options{MessageID: "m1", BlockRemote: true})
	if strings.Contains(out, `src="http://example.com/x.png"`) {
		t.Fatalf("remote image src not blocked: %q", out)
	}
	if !strings.Contains(out, `href="http://example.com/page"`) {
		t.Fatalf("anchor href should survive block_remote unchanged: %q", out)
	}
	found := false
	for _, w := range warnings {
		if w.Kind == mailerr.WarnBlockedRemote {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected WarnBlockedRemote, got %v", warnings)
	}
}

func TestRenderHTMLWrapsMinimalDocument(t *testing.T) {
	out, _ := RenderHTML("<p>just a fragment</p>", Options{MessageID: "m1"})
	if !strings.Contains(strings.ToLower(out), "<html") {
		t.Fatalf("expected minimal document wrap, got %q", out)
	}
}

func TestRenderHTMLLeavesDeclaredDocumentAlone(t *testing.T) {
	input := `<html><body><p>already a document</p></body></html>`
	out, _ := RenderHTML(input, Options{MessageID: "m1"})
	if strings.Count(strings.ToLower(out), "<html") != 1 {
		t.Fatalf("should not double-wrap, got %q", out)
	}
}

func TestRenderHTMLMapsWingdingsEmoticons(t *testing.T) {
	input := `<span style="font-family:Wingdings">J</span>`
	out, _ := RenderHTML(input, Options{MessageID: "m1"})
	if !strings.Contains(out, "\U0001F60A") {
		t.Fatalf("expected Wingdings J mapped to a smile emoji, got %q", out)
	}
}

func TestRenderHTMLCapsImageWidth(t *testing.T) {
	out, _ := RenderHTML(`<img src="http://example.com/x.png">`, Options{MessageID: "m1", MaxImageWidth: 480})
	if !strings.Contains(out, "max-width:480px") {
		t.Fatalf("expected width cap style, got %q", out)
	}
}

func TestRenderHTMLSkipsSanitizeWhenDisabled(t *testing.T) {
	input := `<p onclick="evil()">hi</p>`
	out, _ := RenderHTML(input, Options{MessageID: "m1", SanitizeHTML: false})
	if !strings.Contains(out, "onclick") {
		t.Fatalf("expected onclick to survive with sanitize disabled, got %q", out)
	}
}

func TestStripLeakedPreamble(t *testing.T) {
	input := "Content-Type: text/html\r\nMIME-Version: 1.0\r\n\r\n<p>actual body</p>"
	out := stripLeakedPreamble(input)
	if strings.Contains(out, "Content-Type") {
		t.Fatalf("leaked preamble not stripped: %q", out)
	}
	if !strings.Contains(out, "actual body") {
		t.Fatalf("body lost along with preamble: %q", out)
	}
}

func TestStripLeakedPreambleLeavesNormalBodyAlone(t *testing.T) {
	input := "<p>Subject: not a preamble, just text</p>"
	out := stripLeakedPreamble(input)
	if out != input {
		t.Fatalf("normal body should be untouched, got %q", out)
	}
}

func TestPlaintextCollapsesBlankRunsAndTrimsOrphanLines(t *testing.T) {
	input := "line one\r\n\r\n\r\n\r\nline two   \n)\n]\n"
	out := Plaintext(input)
	if strings.Contains(out, "\n\n\n\n") {
		t.Fatalf("blank run not collapsed: %q", out)
	}
	if strings.HasSuffix(out, ")") || strings.HasSuffix(out, "]") {
		t.Fatalf("trailing orphan delimiter lines not trimmed: %q", out)
	}
	if !strings.Contains(out, "line one") || !strings.Contains(out, "line two") {
		t.Fatalf("content lost: %q", out)
	}
}

func TestPlaintextEmptyReturnsPlaceholder(t *testing.T) {
	if got := Plaintext("   \n\n  "); got != PlaceholderEmptyBody {
		t.Fatalf("expected placeholder, got %q", got)
	}
}

func TestComposeSetsContentTypeFromSelection(t *testing.T) {
	res := Compose("plain text", "<p>html text</p>", Options{MessageID: "m1"})
	if res.ContentType != "text/html" {
		t.Fatalf("expected text/html content type, got %q", res.ContentType)
	}
	if res.Text == "" || res.HTML == "" {
		t.Fatalf("expected both representations populated, got %+v", res)
	}
}
