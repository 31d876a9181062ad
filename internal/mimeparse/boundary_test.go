package mimeparse

import (
	"strings"
	"testing"

	"github.com/inboxcore/mailcore/internal/mailerr"
)

func TestResolveBoundaryScansAndCrossChecksUndeclaredContentType(t *testing.T) {
	// Content-Type carries no boundary parameter at all — a malformed
	// multipart message, the case this recovery path exists for — but
	// a custom header still names the boundary the body actually uses.
	header := []byte("Content-Type: multipart/mixed\r\nX-Original-Boundary: boundary=feedfeed01\r\n")
	body := []byte("preamble\r\n--feedfeed01\r\nContent-Type: text/plain\r\n\r\nhi\r\n--feedfeed01--\r\n")

	boundary, ok := resolveBoundary(header, body)
	if !ok || boundary != "feedfeed01" {
		t.Fatalf("boundary = %q, ok = %v", boundary, ok)
	}
}

func TestParseRawRecoversBoundaryWhenContentTypeOmitsIt(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"Content-Type: multipart/mixed",
		"X-Original-Boundary: boundary=feedfeed01",
		"",
		"--feedfeed01",
		"Content-Type: text/plain",
		"",
		"plain part",
		"--feedfeed01",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment; filename=\"report.pdf\"",
		"",
		"pdfbytes",
		"--feedfeed01--",
		"",
	}, "\r\n"))

	result := ParseRaw(raw, Options{DefaultCharset: "utf-8"})

	if strings.TrimSpace(result.PlainBody) != "plain part" {
		t.Fatalf("plain body = %q", result.PlainBody)
	}
	if len(result.Attachments) != 1 || result.Attachments[0].Filename != "report.pdf" {
		t.Fatalf("attachments = %+v", result.Attachments)
	}
	found := false
	for _, w := range result.Warnings {
		if w.Kind == mailerr.WarnBoundaryRecovered {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a boundary-recovered warning, got %v", result.Warnings)
	}
}

func TestParseRawFallsBackToPlainTextWhenNoBoundaryRecoverable(t *testing.T) {
	raw := []byte("Content-Type: text/plain\r\n\r\njust a plain message body")

	result := ParseRaw(raw, Options{DefaultCharset: "utf-8"})

	if result.PlainBody != "just a plain message body" {
		t.Fatalf("plain body = %q", result.PlainBody)
	}
	if len(result.Attachments) != 0 || len(result.Parts) != 0 {
		t.Fatalf("expected no parts recovered, got attachments=%+v parts=%+v", result.Attachments, result.Parts)
	}
}
