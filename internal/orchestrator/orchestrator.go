// Package orchestrator ties the transport, MIME parser, and renderer
// together behind a single render operation: cache lookup, structure
// fetch, section fetch, parse, render, persist, return. It is the one
// place that drives an IMAP session for message display rather than
// sync, grounded on the teacher's own sync engine shape
// (internal/sync.Engine) generalised down to the seven-step flow a
// single message's render requires.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/inboxcore/mailcore/internal/config"
	"github.com/inboxcore/mailcore/internal/imap"
	"github.com/inboxcore/mailcore/internal/imap/respparse"
	"github.com/inboxcore/mailcore/internal/logging"
	"github.com/inboxcore/mailcore/internal/mailerr"
	"github.com/inboxcore/mailcore/internal/mimeparse"
	"github.com/inboxcore/mailcore/internal/render"
	"github.com/inboxcore/mailcore/internal/store"
)

// AttachmentRef is the caller-facing attachment summary a RenderResult
// carries — no bytes, just enough to drive fetch_attachment/cid_url.
type AttachmentRef struct {
	SectionID string
	Filename  string
	MediaType string
	Size      int64
	ContentID string
	IsInline  bool
	SHA256    string
}

// RenderResult is the external render_message(message id) contract.
type RenderResult struct {
	Text        string
	HTML        string
	ContentType string
	Attachments []AttachmentRef
	Warnings    []mailerr.Warning
}

// Orchestrator renders messages on demand, caching the result and
// falling back to best-effort output on any step 2-5 failure.
type Orchestrator struct {
	pool             *imap.Pool
	store            *store.Store
	getAccount       func(accountID string) (config.Account, error)
	renderCfg        config.Render
	generatorVersion int
	log              zerolog.Logger
}

// New builds an Orchestrator. getAccount resolves an account id to
// its connection settings the same way the pool itself does, so
// Login can run here once a session is acquired but not yet
// authenticated.
func New(pool *imap.Pool, st *store.Store, getAccount func(string) (config.Account, error), renderCfg config.Render, generatorVersion int) *Orchestrator {
	return &Orchestrator{
		pool:             pool,
		store:            st,
		getAccount:       getAccount,
		renderCfg:        renderCfg,
		generatorVersion: generatorVersion,
		log:              logging.WithComponent("orchestrator"),
	}
}

// Render implements the seven-step render flow for one message,
// identified by its (account, folder, uidvalidity, uid) identity.
func (o *Orchestrator) Render(ctx context.Context, accountID, folderName string, uidvalidity, uid uint32) (*RenderResult, error) {
	messageID := store.NewMessageID(accountID, folderName, uidvalidity, uid)

	// Step 1: cache lookup.
	if cached, err := o.store.GetRenderCache(ctx, messageID); err == nil {
		if cached.GeneratorVersion == o.generatorVersion {
			atts, aerr := o.store.ListAttachments(ctx, messageID)
			if aerr != nil {
				o.log.Warn().Err(aerr).Str("message_id", messageID).Msg("failed to list cached attachments")
			}
			return &RenderResult{
				Text:        cached.Text,
				HTML:        cached.HTML,
				ContentType: contentTypeOf(cached.Text, cached.HTML),
				Attachments: filterInline(toAttachmentRefs(atts), o.renderCfg.ShowInlineAttachments),
				Warnings:    cached.Warnings,
			}, nil
		}
		o.log.Debug().Str("message_id", messageID).Int("cached_version", cached.GeneratorVersion).Msg("render cache stale, rebuilding")
	}

	sess, err := o.pool.Acquire(ctx, accountID)
	if err != nil {
		return fallbackResult(mailerr.Warn(mailerr.WarnFallbackRender, "could not acquire imap session: %v", err)), nil
	}
	closeSession := false
	defer func() { o.pool.Release(accountID, sess, closeSession) }()

	if err := o.ensureSelected(ctx, sess, accountID, folderName); err != nil {
		closeSession = true
		return fallbackResult(mailerr.Warn(mailerr.WarnFallbackRender, "could not select folder: %v", err)), nil
	}

	// Step 2: fetch structure.
	bs, err := sess.UIDFetchBodyStructure(ctx, uid)
	if err != nil {
		return o.rawBodyFallback(ctx, sess, messageID, uid, fmt.Sprintf("bodystructure fetch failed: %v", err)), nil
	}

	// Step 3: fetch sections — every leaf, plus header extras.
	sectionIDs := leafSectionIDs(bs)
	sectionIDs = append(sectionIDs, "HEADER.FIELDS (REFERENCES DISPOSITION-NOTIFICATION-TO)")
	sections, err := sess.UIDFetchSections(ctx, uid, sectionIDs)
	if err != nil {
		return o.rawBodyFallback(ctx, sess, messageID, uid, fmt.Sprintf("section fetch failed: %v", err)), nil
	}
	extras := mimeparse.ExtractHeaderExtras(sections["HEADER.FIELDS (REFERENCES DISPOSITION-NOTIFICATION-TO)"])
	delete(sections, "HEADER.FIELDS (REFERENCES DISPOSITION-NOTIFICATION-TO)")

	meta, err := sess.UIDFetchMeta(ctx, uid)
	if err != nil {
		o.log.Warn().Err(err).Str("message_id", messageID).Msg("envelope/flags fetch failed, continuing with body only")
		meta = &respparse.FetchLine{}
	}

	// Step 4: parse.
	parsed := mimeparse.Parse(bs, sections, mimeparse.Options{
		PreferHTML:     o.renderCfg.PreferHTML,
		DefaultCharset: "us-ascii",
	})

	// Step 5: render.
	result := render.Compose(parsed.PlainBody, parsed.HTMLBody, render.Options{
		MessageID:     messageID,
		InlineCIDs:    inlineCIDSet(parsed),
		BlockRemote:   o.renderCfg.BlockRemote,
		MaxImageWidth: o.renderCfg.MaxImageWidth,
		SanitizeHTML:  o.renderCfg.SanitizeHTML,
	})
	warnings := append(append([]mailerr.Warning{}, parsed.Warnings...), result.Warnings...)

	// Step 6: persist. Failures here are logged, not fatal.
	o.persist(ctx, messageID, accountID, folderName, uidvalidity, uid, meta, extras, parsed, result, warnings)

	return &RenderResult{
		Text:        result.Text,
		HTML:        result.HTML,
		ContentType: result.ContentType,
		Attachments: filterInline(attachmentRefsFromParse(parsed), o.renderCfg.ShowInlineAttachments),
		Warnings:    warnings,
	}, nil
}

// filterInline drops inline (body-displayed) attachments from the
// caller-facing list unless showInline asks for them to be listed too.
func filterInline(refs []AttachmentRef, showInline bool) []AttachmentRef {
	if showInline {
		return refs
	}
	out := make([]AttachmentRef, 0, len(refs))
	for _, r := range refs {
		if r.IsInline {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (o *Orchestrator) ensureSelected(ctx context.Context, sess *imap.Session, accountID, folderName string) error {
	if sess.State() == imap.StateGreeted {
		acct, err := o.getAccount(accountID)
		if err != nil {
			return err
		}
		if err := sess.Login(ctx, acct.Username, acct.Secret); err != nil {
			return err
		}
	}
	_, err := sess.Select(ctx, folderName)
	return err
}

func (o *Orchestrator) persist(
	ctx context.Context,
	messageID, accountID, folderName string,
	uidvalidity, uid uint32,
	meta *respparse.FetchLine,
	extras mimeparse.HeaderExtras,
	parsed *mimeparse.ParseResult,
	rendered render.Result,
	warnings []mailerr.Warning,
) {
	var env respparse.Envelope
	if meta.Envelope != nil {
		env = *meta.Envelope
	}

	threadID, err := o.store.FindThreadID(ctx, accountID, env.MessageID, env.InReplyTo, extras.ReferenceIDs)
	if err != nil {
		o.log.Warn().Err(err).Str("message_id", messageID).Msg("thread id lookup failed")
		threadID = env.MessageID
	}
	if threadID == "" {
		threadID = messageID
	}

	record := store.MessageRecord{
		ID:             messageID,
		AccountID:      accountID,
		FolderName:     folderName,
		UID:            uid,
		UIDValidity:    uidvalidity,
		Envelope:       env,
		ReadReceiptTo:  extras.ReadReceiptTo,
		ReferenceIDs:   extras.ReferenceIDs,
		ThreadID:       threadID,
		Flags:          meta.Flags,
		HasAttachments: len(parsed.Attachments) > 0,
	}
	if err := o.store.SaveMessage(ctx, record); err != nil {
		o.log.Warn().Err(err).Str("message_id", messageID).Msg("save message failed")
	}
	if err := o.store.SaveParts(ctx, messageID, parsed.Parts); err != nil {
		o.log.Warn().Err(err).Str("message_id", messageID).Msg("save parts failed")
	}
	if err := o.store.SaveAttachments(ctx, messageID, parsed.Attachments); err != nil {
		o.log.Warn().Err(err).Str("message_id", messageID).Msg("save attachments failed")
	}
	if err := o.store.PutRenderCache(ctx, store.RenderCacheEntry{
		MessageID:        messageID,
		GeneratorVersion: o.generatorVersion,
		Text:             rendered.Text,
		HTML:             rendered.HTML,
		Warnings:         warnings,
	}); err != nil {
		o.log.Warn().Err(err).Str("message_id", messageID).Msg("render cache write failed")
	}
}

func leafSectionIDs(bs *respparse.BodyStructure) []string {
	leaves := bs.Leaves()
	ids := make([]string, 0, len(leaves))
	for _, l := range leaves {
		ids = append(ids, l.SectionID)
	}
	return ids
}

func inlineCIDSet(parsed *mimeparse.ParseResult) map[string]bool {
	set := make(map[string]bool, len(parsed.InlineByCID))
	for cid := range parsed.InlineByCID {
		set[cid] = true
	}
	return set
}

func attachmentRefsFromParse(parsed *mimeparse.ParseResult) []AttachmentRef {
	refs := make([]AttachmentRef, 0, len(parsed.Attachments))
	for _, a := range parsed.Attachments {
		refs = append(refs, AttachmentRef{
			SectionID: a.SectionID,
			Filename:  a.Filename,
			MediaType: a.MediaType,
			Size:      a.Size,
			ContentID: a.ContentID,
			IsInline:  a.IsInline,
			SHA256:    a.SHA256,
		})
	}
	return refs
}

func toAttachmentRefs(records []store.AttachmentRecord) []AttachmentRef {
	refs := make([]AttachmentRef, 0, len(records))
	for _, r := range records {
		refs = append(refs, AttachmentRef{
			SectionID: r.SectionID,
			Filename:  r.Filename,
			MediaType: r.MediaType,
			Size:      r.Size,
			ContentID: r.ContentID,
			IsInline:  r.IsInline,
			SHA256:    r.SHA256,
		})
	}
	return refs
}

func contentTypeOf(text, html string) string {
	if html != "" {
		return "text/html"
	}
	if text != "" {
		return "text/plain"
	}
	return "text/plain"
}

func fallbackResult(warning mailerr.Warning) *RenderResult {
	return &RenderResult{
		Text:        render.PlaceholderEmptyBody,
		ContentType: "text/plain",
		Warnings:    []mailerr.Warning{warning},
	}
}

// rawBodyFallback is the step 2-5 recovery path: when BODYSTRUCTURE or
// the section fetch it depends on fails, the whole raw message is
// still usually fetchable as one opaque blob (section id "" maps to
// BODY.PEEK[], the entire message). mimeparse.ParseRaw recovers a
// boundary from that blob well enough to render something better than
// the bare empty-body placeholder. If even that fetch fails, the
// caller is offline or the message is gone, and the placeholder is
// the only thing left to return.
func (o *Orchestrator) rawBodyFallback(ctx context.Context, sess *imap.Session, messageID string, uid uint32, reason string) *RenderResult {
	raw, err := sess.UIDFetchSections(ctx, uid, []string{""})
	if err != nil || len(raw[""]) == 0 {
		return fallbackResult(mailerr.Warn(mailerr.WarnFallbackRender, "%s; raw body fetch unavailable", reason))
	}

	parsed := mimeparse.ParseRaw(raw[""], mimeparse.Options{
		PreferHTML:     o.renderCfg.PreferHTML,
		DefaultCharset: "us-ascii",
	})

	result := render.Compose(parsed.PlainBody, parsed.HTMLBody, render.Options{
		MessageID:     messageID,
		InlineCIDs:    inlineCIDSet(parsed),
		BlockRemote:   o.renderCfg.BlockRemote,
		MaxImageWidth: o.renderCfg.MaxImageWidth,
		SanitizeHTML:  o.renderCfg.SanitizeHTML,
	})

	warnings := append([]mailerr.Warning{mailerr.Warn(mailerr.WarnFallbackRender, "%s; recovered via raw body reparse", reason)}, parsed.Warnings...)
	warnings = append(warnings, result.Warnings...)

	return &RenderResult{
		Text:        result.Text,
		HTML:        result.HTML,
		ContentType: result.ContentType,
		Attachments: filterInline(attachmentRefsFromParse(parsed), o.renderCfg.ShowInlineAttachments),
		Warnings:    warnings,
	}
}
