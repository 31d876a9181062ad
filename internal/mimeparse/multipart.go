package mimeparse

import (
	"strings"

	"github.com/inboxcore/mailcore/internal/imap/respparse"
	"github.com/inboxcore/mailcore/internal/mailerr"
)

// walkMultipart dispatches on the BODYSTRUCTURE subtype, grounded on
// the teacher's own tagged dispatch over go-message's multipart
// reader (parseMultipartBody) — same shape of decision, walking a
// section tree instead of re-reading the wire.
func walkMultipart(result *ParseResult, node *respparse.BodyStructure, parentID string, sections map[string][]byte, opts Options) bodyAccumulator {
	switch node.Subtype {
	case "alternative":
		return walkAlternative(result, node, sections, opts)
	case "related":
		return walkRelated(result, node, sections, opts)
	case "signed":
		return walkSigned(result, node, sections, opts)
	case "encrypted":
		return walkEncrypted(result, node, sections, opts)
	case "mixed", "report", "digest", "parallel", "":
		return walkMixed(result, node, parentID, sections, opts)
	default:
		return walkMixed(result, node, parentID, sections, opts)
	}
}

// walkAlternative parses every sibling then keeps the richest one:
// html if opts.PreferHTML and an html candidate exists, else plain.
// A text/enriched sibling already contributes to both fields (see
// classifyTextLeaf), so it naturally satisfies "retained as plain"
// even when html wins the selection.
func walkAlternative(result *ParseResult, node *respparse.BodyStructure, sections map[string][]byte, opts Options) bodyAccumulator {
	var best bodyAccumulator
	for _, child := range node.Children {
		acc := walk(result, child, node.SectionID, sections, opts)
		if acc.html != "" && best.html == "" {
			best.html = acc.html
		}
		if acc.plain != "" && best.plain == "" {
			best.plain = acc.plain
		}
	}
	if opts.PreferHTML && best.html != "" {
		return bodyAccumulator{html: best.html, plain: best.plain}
	}
	if best.plain != "" {
		return bodyAccumulator{plain: best.plain}
	}
	return best
}

// walkRelated treats the first child as the primary body and every
// other child with a content-id as an inline attachment usable by
// cid: rewriting, per spec. The siblings are still walked with
// walkLeaf/walkMultipart so their MimePart records and attachment
// bytes are captured even when they also happen to be textual.
func walkRelated(result *ParseResult, node *respparse.BodyStructure, sections map[string][]byte, opts Options) bodyAccumulator {
	if len(node.Children) == 0 {
		return bodyAccumulator{}
	}
	primary := walk(result, node.Children[0], node.SectionID, sections, opts)
	for _, sibling := range node.Children[1:] {
		if !sibling.IsMultipart && sibling.ContentID != "" {
			raw, ok := sections[sibling.SectionID]
			part := &MimePart{
				SectionID:        sibling.SectionID,
				ParentSectionID:  node.SectionID,
				MediaType:        sibling.MediaType,
				TransferEncoding: sibling.TransferEncoding,
				Disposition:      sibling.Disposition,
				OriginalFilename: sibling.Filename,
				ContentID:        sibling.ContentID,
				DeclaredSize:     sibling.Size,
			}
			result.Parts = append(result.Parts, part)
			if !ok {
				result.warn(mailerr.WarnMissingSection, "section %s (%s) not fetched", sibling.SectionID, sibling.MediaType)
				continue
			}
			att := decodeAttachment(result, part, sibling, raw)
			att.IsInline = true
			result.Attachments = append(result.Attachments, att)
			result.addInline(att)
			continue
		}
		walk(result, sibling, node.SectionID, sections, opts)
	}
	return primary
}

// walkMixed concatenates every sibling's text with "\n\n" and html
// with "<br><br>"; anything that isn't text contributes only via its
// own attachment/inline side effects. report/digest/parallel collapse
// into the same merge with no further domain handling, matching
// spec's "treated like mixed with domain labels".
func walkMixed(result *ParseResult, node *respparse.BodyStructure, parentID string, sections map[string][]byte, opts Options) bodyAccumulator {
	var plains, htmls []string
	for _, child := range node.Children {
		acc := walk(result, child, node.SectionID, sections, opts)
		if acc.plain != "" {
			plains = append(plains, acc.plain)
		}
		if acc.html != "" {
			htmls = append(htmls, acc.html)
		}
	}
	return bodyAccumulator{
		plain: strings.Join(plains, "\n\n"),
		html:  strings.Join(htmls, "<br><br>"),
	}
}

// walkSigned passes the first child through as the body and emits
// the second child (the detached signature) as a plain attachment.
// When opts.SignedVerifier is set it is invoked for its side effect
// (recording a verification result); verification never blocks the
// content from being displayed.
func walkSigned(result *ParseResult, node *respparse.BodyStructure, sections map[string][]byte, opts Options) bodyAccumulator {
	if len(node.Children) == 0 {
		return bodyAccumulator{}
	}
	acc := walk(result, node.Children[0], node.SectionID, sections, opts)
	if len(node.Children) > 1 {
		sig := node.Children[1]
		raw, ok := sections[sig.SectionID]
		part := &MimePart{
			SectionID:       sig.SectionID,
			ParentSectionID: node.SectionID,
			MediaType:       sig.MediaType,
			Disposition:     "attachment",
			DeclaredSize:    sig.Size,
		}
		result.Parts = append(result.Parts, part)
		if ok {
			att := decodeAttachment(result, part, sig, raw)
			result.Attachments = append(result.Attachments, att)
			if opts.SignedVerifier != nil {
				content := sections[node.Children[0].SectionID]
				opts.SignedVerifier.VerifySigned(content, raw, node.Children[0].MediaType)
			}
		} else {
			result.warn(mailerr.WarnMissingSection, "signature section %s not fetched", sig.SectionID)
		}
	}
	return acc
}

// walkEncrypted never decrypts. Children are emitted as opaque
// attachments and a placeholder body explains why nothing rendered,
// unless opts.EncryptedHandler is set and succeeds.
func walkEncrypted(result *ParseResult, node *respparse.BodyStructure, sections map[string][]byte, opts Options) bodyAccumulator {
	childSections := map[string][]byte{}
	for _, child := range node.Children {
		child.Walk(func(n *respparse.BodyStructure) {
			if raw, ok := sections[n.SectionID]; ok {
				childSections[n.SectionID] = raw
			}
		})
	}

	if opts.EncryptedHandler != nil {
		plain, html, err := opts.EncryptedHandler.DecryptEncrypted(childSections, node.Children)
		if err == nil && (plain != "" || html != "") {
			return bodyAccumulator{plain: plain, html: html}
		}
		if err != nil {
			result.warn(mailerr.WarnFallbackRender, "encrypted handler: %v", err)
		}
	}

	for _, child := range node.Children {
		child.Walk(func(leaf *respparse.BodyStructure) {
			if leaf.IsMultipart {
				return
			}
			raw, ok := sections[leaf.SectionID]
			part := &MimePart{
				SectionID:       leaf.SectionID,
				ParentSectionID: node.SectionID,
				MediaType:       leaf.MediaType,
				Disposition:     "attachment",
				DeclaredSize:    leaf.Size,
			}
			result.Parts = append(result.Parts, part)
			if !ok {
				return
			}
			att := decodeAttachment(result, part, leaf, raw)
			result.Attachments = append(result.Attachments, att)
		})
	}
	return bodyAccumulator{plain: encryptedPlaceholder}
}
