package orchestrator

import (
	"testing"

	"github.com/inboxcore/mailcore/internal/imap/respparse"
	"github.com/inboxcore/mailcore/internal/mailerr"
	"github.com/inboxcore/mailcore/internal/mimeparse"
	"github.com/inboxcore/mailcore/internal/store"
)

func TestLeafSectionIDsCollectsEveryLeaf(t *testing.T) {
	bs := &respparse.BodyStructure{
		SectionID:   "1",
		IsMultipart: true,
		Children: []*respparse.BodyStructure{
			{SectionID: "1", MediaType: "text/plain"},
			{SectionID: "2", MediaType: "application/pdf"},
		},
	}
	ids := leafSectionIDs(bs)
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Fatalf("unexpected section ids: %v", ids)
	}
}

func TestInlineCIDSetMirrorsParseResult(t *testing.T) {
	parsed := &mimeparse.ParseResult{
		InlineByCID: map[string]*mimeparse.Attachment{
			"logo1": {SectionID: "2", Filename: "logo.png"},
		},
	}
	set := inlineCIDSet(parsed)
	if !set["logo1"] || len(set) != 1 {
		t.Fatalf("unexpected set: %v", set)
	}
}

func TestAttachmentRefsFromParse(t *testing.T) {
	parsed := &mimeparse.ParseResult{
		Attachments: []*mimeparse.Attachment{
			{SectionID: "2", Filename: "report.pdf", MediaType: "application/pdf", Size: 10, SHA256: "abc"},
		},
	}
	refs := attachmentRefsFromParse(parsed)
	if len(refs) != 1 || refs[0].Filename != "report.pdf" || refs[0].SHA256 != "abc" {
		t.Fatalf("unexpected refs: %+v", refs)
	}
}

func TestToAttachmentRefsFromStoreRecords(t *testing.T) {
	records := []store.AttachmentRecord{
		{SectionID: "2", Filename: "report.pdf", MediaType: "application/pdf", Size: 10, IsInline: true, SHA256: "abc"},
	}
	refs := toAttachmentRefs(records)
	if len(refs) != 1 || !refs[0].IsInline || refs[0].SectionID != "2" {
		t.Fatalf("unexpected refs: %+v", refs)
	}
}

func TestContentTypeOfPrefersHTML(t *testing.T) {
	if ct := contentTypeOf("plain", "<p>html</p>"); ct != "text/html" {
		t.Fatalf("expected text/html, got %q", ct)
	}
	if ct := contentTypeOf("plain", ""); ct != "text/plain" {
		t.Fatalf("expected text/plain, got %q", ct)
	}
}

func TestFilterInlineDropsInlineUnlessShown(t *testing.T) {
	refs := []AttachmentRef{
		{SectionID: "1", Filename: "logo.png", IsInline: true},
		{SectionID: "2", Filename: "report.pdf", IsInline: false},
	}
	shown := filterInline(refs, true)
	if len(shown) != 2 {
		t.Fatalf("expected both attachments kept, got %+v", shown)
	}
	hidden := filterInline(refs, false)
	if len(hidden) != 1 || hidden[0].Filename != "report.pdf" {
		t.Fatalf("expected inline attachment dropped, got %+v", hidden)
	}
}

func TestFallbackResultCarriesWarning(t *testing.T) {
	w := mailerr.Warn(mailerr.WarnFallbackRender, "session unavailable")
	res := fallbackResult(w)
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != mailerr.WarnFallbackRender {
		t.Fatalf("unexpected fallback result: %+v", res)
	}
	if res.ContentType != "text/plain" {
		t.Fatalf("expected text/plain content type, got %q", res.ContentType)
	}
}
