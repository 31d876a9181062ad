// Package mimeparse orchestrates the charset and transfer-encoding
// decoders over a BODYSTRUCTURE section tree plus fetched section
// bytes, producing MIME part records, a selected body, inline
// attachment references, and ordinary attachments. It mirrors the
// dispatch shape of the teacher's own multipart walk
// (parseMessageBodyInternal/parseMultipartBody in the aerion sync
// engine), but walks a BODYSTRUCTURE tree the IMAP response parser
// already built instead of re-parsing a go-message entity tree.
package mimeparse

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/inboxcore/mailcore/internal/charset"
	"github.com/inboxcore/mailcore/internal/imap/respparse"
	"github.com/inboxcore/mailcore/internal/mailerr"
	"github.com/inboxcore/mailcore/internal/transferenc"
)

// MimePart is the persisted-shape record for one section of the tree:
// every leaf that was visited, whether it ended up as body text, an
// inline reference, or an ordinary attachment.
type MimePart struct {
	SectionID        string
	ParentSectionID  string
	MediaType        string
	Charset          string
	TransferEncoding string
	Disposition      string
	OriginalFilename string
	ContentID        string
	DeclaredSize     int64
	StoredSize       int64
	SHA256           string
	IsAttachment     bool
}

// Attachment is a decoded attachment ready for blob storage: content
// is carried as Data here, and the caller decides whether to persist
// it content-addressed or discard it in favour of the sha256 alone.
type Attachment struct {
	SectionID string
	Filename  string
	MediaType string
	Data      []byte
	Size      int64
	ContentID string
	IsInline  bool
	SHA256    string
}

// ParseResult is everything a single message's decode pass produces.
type ParseResult struct {
	Parts       []*MimePart
	PlainBody   string
	HTMLBody    string
	Attachments []*Attachment
	InlineByCID map[string]*Attachment
	Warnings    []mailerr.Warning
}

func (r *ParseResult) warn(kind mailerr.WarningKind, format string, args ...any) {
	r.Warnings = append(r.Warnings, mailerr.Warn(kind, format, args...))
}

func (r *ParseResult) addInline(att *Attachment) {
	if att.ContentID == "" {
		return
	}
	if r.InlineByCID == nil {
		r.InlineByCID = make(map[string]*Attachment)
	}
	r.InlineByCID[att.ContentID] = att
}

// SignedPartVerifier is an optional hook for verifying a detached
// signature over a signed multipart's first child. Nil by default:
// no S/MIME/PGP verification is attempted, and the content passes
// through unchanged with the signature emitted as a plain attachment.
type SignedPartVerifier interface {
	VerifySigned(content, signature []byte, contentType string) (verified bool, reason string)
}

// EncryptedPartHandler is an optional hook for decrypting an
// encrypted multipart's children. Nil by default: encrypted content
// is never decrypted here; a placeholder body is emitted instead.
type EncryptedPartHandler interface {
	DecryptEncrypted(childSections map[string][]byte, children []*respparse.BodyStructure) (plainText, html string, err error)
}

// Options configures a single Parse call.
type Options struct {
	// PreferHTML controls which alternative-part sibling wins when
	// both a plain and an html candidate are available.
	PreferHTML bool
	// DefaultCharset is used for leaves that declare none.
	DefaultCharset string

	SignedVerifier   SignedPartVerifier
	EncryptedHandler EncryptedPartHandler
}

const encryptedPlaceholder = "[This message is encrypted; the content could not be displayed.]"

// Parse walks bs in document order, decoding every leaf's bytes from
// sections (keyed by section id, e.g. "1.2") and assembling the
// merged plain/html body, inline references, and attachments per the
// multipart semantics in multipart.go.
func Parse(bs *respparse.BodyStructure, sections map[string][]byte, opts Options) *ParseResult {
	result := &ParseResult{}
	acc := walk(result, bs, "", sections, opts)
	result.PlainBody = acc.plain
	result.HTMLBody = acc.html
	return result
}

// bodyAccumulator carries the merged plain/html text while walking,
// so a parent multipart can combine its children's contributions
// without re-visiting the tree.
type bodyAccumulator struct {
	plain string
	html  string
}

func walk(result *ParseResult, node *respparse.BodyStructure, parentID string, sections map[string][]byte, opts Options) bodyAccumulator {
	if node.IsMultipart {
		return walkMultipart(result, node, parentID, sections, opts)
	}
	return walkLeaf(result, node, parentID, sections, opts)
}

func walkLeaf(result *ParseResult, leaf *respparse.BodyStructure, parentID string, sections map[string][]byte, opts Options) bodyAccumulator {
	raw, ok := sections[leaf.SectionID]
	part := &MimePart{
		SectionID:        leaf.SectionID,
		ParentSectionID:  parentID,
		MediaType:        leaf.MediaType,
		Charset:          leaf.Charset,
		TransferEncoding: leaf.TransferEncoding,
		Disposition:      leaf.Disposition,
		OriginalFilename: leaf.Filename,
		ContentID:        leaf.ContentID,
		DeclaredSize:     leaf.Size,
	}
	result.Parts = append(result.Parts, part)

	if !ok {
		result.warn(mailerr.WarnMissingSection, "section %s (%s) not fetched", leaf.SectionID, leaf.MediaType)
		return bodyAccumulator{}
	}

	isTextCandidate := strings.HasPrefix(leaf.MediaType, "text/") && leaf.Disposition != "attachment"
	isInlineRef := leaf.Disposition == "inline" && leaf.ContentID != ""

	switch {
	case isTextCandidate:
		return classifyTextLeaf(result, part, leaf, raw, opts)
	case isInlineRef:
		att := decodeAttachment(result, part, leaf, raw)
		att.IsInline = true
		result.Attachments = append(result.Attachments, att)
		result.addInline(att)
		return bodyAccumulator{}
	default:
		att := decodeAttachment(result, part, leaf, raw)
		result.Attachments = append(result.Attachments, att)
		if leaf.ContentID != "" {
			result.addInline(att)
		}
		expandTNEF(result, leaf, att)
		return bodyAccumulator{}
	}
}

// classifyTextLeaf decodes a text/* leaf that is eligible as a body
// candidate. text/enriched is special-cased per the upconversion
// rule: it contributes to both the html and plain accumulators at
// once, rather than being a candidate for only one of them.
func classifyTextLeaf(result *ParseResult, part *MimePart, leaf *respparse.BodyStructure, raw []byte, opts Options) bodyAccumulator {
	part.IsAttachment = false
	cs := resolveCharset(leaf.Charset, opts.DefaultCharset)
	text, decoded, warn := transferenc.Decode(raw, leaf.TransferEncoding, cs, false)
	part.StoredSize = int64(len(decoded))
	part.SHA256 = sha256Hex(decoded)
	if warn != "" {
		result.warn(mailerr.WarnUnknownTransferEnc, "%s: %s", leaf.SectionID, warn)
	}
	if repaired, ok := charset.RepairMisencoding(text, cs); ok {
		result.warn(mailerr.WarnMisencodingRepaired, "section %s", leaf.SectionID)
		text = repaired
	}

	switch leaf.MediaType {
	case "text/enriched":
		html := enrichedToHTML(text)
		plain := enrichedToPlain(text)
		return bodyAccumulator{plain: plain, html: html}
	case "text/html":
		return bodyAccumulator{html: text}
	default:
		return bodyAccumulator{plain: text}
	}
}

func decodeAttachment(result *ParseResult, part *MimePart, leaf *respparse.BodyStructure, raw []byte) *Attachment {
	part.IsAttachment = true
	_, data, warn := transferenc.Decode(raw, leaf.TransferEncoding, leaf.Charset, true)
	part.StoredSize = int64(len(data))
	part.SHA256 = sha256Hex(data)
	if warn != "" {
		result.warn(mailerr.WarnUnknownTransferEnc, "%s: %s", leaf.SectionID, warn)
	}
	filename := leaf.Filename
	if filename == "" {
		filename = "attachment-" + leaf.SectionID
	}
	return &Attachment{
		SectionID: leaf.SectionID,
		Filename:  filename,
		MediaType: leaf.MediaType,
		Data:      data,
		Size:      int64(len(data)),
		ContentID: leaf.ContentID,
		SHA256:    part.SHA256,
	}
}

func resolveCharset(declared, fallback string) string {
	if declared != "" {
		return charset.Normalize(declared)
	}
	if fallback != "" {
		return charset.Normalize(fallback)
	}
	return charset.USASCII
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
