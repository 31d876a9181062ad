package mimeparse

import (
	"bytes"

	gomessage "github.com/emersion/go-message"

	"github.com/inboxcore/mailcore/internal/charset"
)

// HeaderExtras holds the envelope additions ENVELOPE itself doesn't
// carry (RFC 3501's ten-field structure has In-Reply-To but no
// References, and no read-receipt header at all), grounded on the
// teacher's extractReferences/extractDispositionNotificationTo in
// internal/sync/threading.go. Callers fetch a BODY.PEEK[HEADER.FIELDS
// (REFERENCES DISPOSITION-NOTIFICATION-TO)] section and pass its
// bytes here.
type HeaderExtras struct {
	ReadReceiptTo string
	ReferenceIDs  []string
}

// ExtractHeaderExtras parses References and Disposition-Notification-To
// out of raw header bytes using go-message's header reader, the same
// library the rest of the decode chain already depends on.
func ExtractHeaderExtras(rawHeader []byte) HeaderExtras {
	entity, err := gomessage.Read(bytes.NewReader(rawHeader))
	if err != nil {
		return HeaderExtras{}
	}
	var extras HeaderExtras
	if dnt := entity.Header.Get("Disposition-Notification-To"); dnt != "" {
		extras.ReadReceiptTo = charset.DecodeEncodedWords(dnt)
	}
	if refs := entity.Header.Get("References"); refs != "" {
		extras.ReferenceIDs = splitReferenceIDs(refs)
	}
	return extras
}

func splitReferenceIDs(header string) []string {
	var ids []string
	var cur []byte
	inAngle := false
	for i := 0; i < len(header); i++ {
		switch header[i] {
		case '<':
			inAngle = true
			cur = cur[:0]
		case '>':
			if inAngle {
				ids = append(ids, string(cur))
				inAngle = false
			}
		default:
			if inAngle {
				cur = append(cur, header[i])
			}
		}
	}
	return ids
}
