package mimeparse

import (
	"fmt"

	"github.com/inboxcore/mailcore/internal/imap/respparse"
	"github.com/inboxcore/mailcore/internal/mailerr"
	"github.com/teamwork/tnef"
)

// expandTNEF decodes an application/ms-tnef leaf (Outlook's
// winmail.dat) into its real attachments using github.com/teamwork/tnef.
// This is a supplemented feature absent from the BODYSTRUCTURE-only
// framing: winmail.dat shows up as one opaque attachment on the wire,
// but it is itself a container, and a complete mail core should not
// hand the user an unreadable blob when the real attachments are
// sitting one decode away.
func expandTNEF(result *ParseResult, leaf *respparse.BodyStructure, raw *Attachment) {
	if leaf.MediaType != "application/ms-tnef" {
		return
	}
	data, err := tnef.Decode(raw.Data)
	if err != nil {
		result.warn(mailerr.WarnFallbackRender, "tnef decode failed for section %s: %v", leaf.SectionID, err)
		return
	}
	for i, a := range data.Attachments {
		result.Attachments = append(result.Attachments, &Attachment{
			SectionID: fmt.Sprintf("%s.tnef.%d", leaf.SectionID, i+1),
			Filename:  a.Title,
			MediaType: "application/octet-stream",
			Data:      a.Data,
			Size:      int64(len(a.Data)),
			SHA256:    sha256Hex(a.Data),
		})
	}
}
