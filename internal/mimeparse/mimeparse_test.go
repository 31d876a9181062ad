package mimeparse

import (
	"strings"
	"testing"

	"github.com/inboxcore/mailcore/internal/imap/respparse"
)

func leaf(sectionID, mediaType string) *respparse.BodyStructure {
	return &respparse.BodyStructure{SectionID: sectionID, MediaType: mediaType}
}

func TestParseSinglePartPlain(t *testing.T) {
	bs := leaf("1", "text/plain")
	sections := map[string][]byte{"1": []byte("hello world")}

	result := Parse(bs, sections, Options{DefaultCharset: "utf-8"})

	if result.PlainBody != "hello world" {
		t.Fatalf("plain body = %q", result.PlainBody)
	}
	if result.HTMLBody != "" {
		t.Fatalf("expected no html body, got %q", result.HTMLBody)
	}
	if len(result.Parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(result.Parts))
	}
}

func TestParseAlternativePrefersHTML(t *testing.T) {
	bs := &respparse.BodyStructure{
		SectionID:   "1",
		IsMultipart: true,
		Subtype:     "alternative",
		Children: []*respparse.BodyStructure{
			leaf("1", "text/plain"),
			leaf("2", "text/html"),
		},
	}
	sections := map[string][]byte{
		"1": []byte("plain version"),
		"2": []byte("<p>html version</p>"),
	}

	result := Parse(bs, sections, Options{PreferHTML: true, DefaultCharset: "utf-8"})

	if result.HTMLBody != "<p>html version</p>" {
		t.Fatalf("html body = %q", result.HTMLBody)
	}
	if result.PlainBody != "plain version" {
		t.Fatalf("plain body should still be retained, got %q", result.PlainBody)
	}
}

func TestParseMixedConcatenatesSiblings(t *testing.T) {
	bs := &respparse.BodyStructure{
		SectionID:   "1",
		IsMultipart: true,
		Subtype:     "mixed",
		Children: []*respparse.BodyStructure{
			leaf("1", "text/plain"),
			leaf("2", "text/plain"),
		},
	}
	sections := map[string][]byte{
		"1": []byte("first"),
		"2": []byte("second"),
	}

	result := Parse(bs, sections, Options{DefaultCharset: "utf-8"})

	if result.PlainBody != "first\n\nsecond" {
		t.Fatalf("plain body = %q", result.PlainBody)
	}
}

func TestParseAttachmentClassification(t *testing.T) {
	att := leaf("2", "application/pdf")
	att.Disposition = "attachment"
	att.Filename = "report.pdf"

	bs := &respparse.BodyStructure{
		SectionID:   "1",
		IsMultipart: true,
		Subtype:     "mixed",
		Children:    []*respparse.BodyStructure{leaf("1", "text/plain"), att},
	}
	sections := map[string][]byte{
		"1": []byte("body"),
		"2": []byte("%PDF-fake"),
	}

	result := Parse(bs, sections, Options{DefaultCharset: "utf-8"})

	if len(result.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(result.Attachments))
	}
	if result.Attachments[0].Filename != "report.pdf" {
		t.Fatalf("filename = %q", result.Attachments[0].Filename)
	}
	if result.Attachments[0].SHA256 == "" {
		t.Fatal("expected sha256 to be computed")
	}
}

func TestParseInlineRelated(t *testing.T) {
	html := leaf("1", "text/html")
	img := leaf("2", "image/png")
	img.Disposition = "inline"
	img.ContentID = "logo@x"

	bs := &respparse.BodyStructure{
		SectionID:   "1",
		IsMultipart: true,
		Subtype:     "related",
		Children:    []*respparse.BodyStructure{html, img},
	}
	sections := map[string][]byte{
		"1": []byte(`<img src="cid:logo@x">`),
		"2": []byte("fake-png-bytes"),
	}

	result := Parse(bs, sections, Options{DefaultCharset: "utf-8"})

	if result.HTMLBody == "" {
		t.Fatal("expected html body from primary child")
	}
	if _, ok := result.InlineByCID["logo@x"]; !ok {
		t.Fatal("expected inline attachment registered by content-id")
	}
}

func TestParseEncryptedPlaceholder(t *testing.T) {
	bs := &respparse.BodyStructure{
		SectionID:   "1",
		IsMultipart: true,
		Subtype:     "encrypted",
		Children:    []*respparse.BodyStructure{leaf("1", "application/pgp-encrypted"), leaf("2", "application/octet-stream")},
	}
	sections := map[string][]byte{
		"1": []byte("Version: 1"),
		"2": []byte("opaque"),
	}

	result := Parse(bs, sections, Options{DefaultCharset: "utf-8"})

	if !strings.Contains(result.PlainBody, "encrypted") {
		t.Fatalf("expected placeholder body, got %q", result.PlainBody)
	}
	if len(result.Attachments) != 2 {
		t.Fatalf("expected both children as attachments, got %d", len(result.Attachments))
	}
}

func TestEnrichedUpconversion(t *testing.T) {
	src := "<bold>Hi</bold> there<nl>second line\n\nnew paragraph"
	h := enrichedToHTML(src)
	if !strings.Contains(h, "<b>Hi</b>") {
		t.Fatalf("expected bold tag, got %q", h)
	}
	p := enrichedToPlain(src)
	if strings.Contains(p, "<bold>") {
		t.Fatalf("expected directives stripped, got %q", p)
	}
}

func TestResolveBoundaryRejectsUnreferencedCandidate(t *testing.T) {
	header := []byte("Content-Type: text/plain\r\n")
	body := []byte("--0123456789abcdef\r\nnot a real part\r\n")

	if _, ok := resolveBoundary(header, body); ok {
		t.Fatal("expected unreferenced boundary-shaped line to be rejected")
	}
}

func TestResolveBoundaryAcceptsDeclared(t *testing.T) {
	header := []byte("Content-Type: multipart/mixed; boundary=\"abc123def0\"\r\n")
	body := []byte("--abc123def0\r\nContent-Type: text/plain\r\n\r\nhi\r\n--abc123def0--\r\n")

	boundary, ok := resolveBoundary(header, body)
	if !ok || boundary != "abc123def0" {
		t.Fatalf("boundary = %q, ok = %v", boundary, ok)
	}
}

func TestExtractHeaderExtras(t *testing.T) {
	raw := []byte("Disposition-Notification-To: alice@example.com\r\nReferences: <a@x> <b@y>\r\n\r\n")
	extras := ExtractHeaderExtras(raw)
	if extras.ReadReceiptTo != "alice@example.com" {
		t.Fatalf("read receipt to = %q", extras.ReadReceiptTo)
	}
	if len(extras.ReferenceIDs) != 2 || extras.ReferenceIDs[0] != "a@x" {
		t.Fatalf("reference ids = %v", extras.ReferenceIDs)
	}
}
