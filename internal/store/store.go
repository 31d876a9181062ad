package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/inboxcore/mailcore/internal/imap/respparse"
	"github.com/inboxcore/mailcore/internal/logging"
	"github.com/inboxcore/mailcore/internal/mailerr"
	"github.com/inboxcore/mailcore/internal/mimeparse"
)

// Store is the persistence facade the orchestrator drives: message
// metadata and MIME part records live in SQLite, attachment bytes
// live in a content-addressed BlobStore keyed by sha256.
type Store struct {
	db    *DB
	blobs BlobStore
	log   zerolog.Logger
}

// New wraps an already-open, already-migrated DB and BlobStore.
func New(db *DB, blobs BlobStore) *Store {
	return &Store{db: db, blobs: blobs, log: logging.WithComponent("store")}
}

// MessageRecord is the durable row for one (account, folder, uid)
// message identity, per spec's data model.
type MessageRecord struct {
	ID             string
	AccountID      string
	FolderName     string
	UID            uint32
	UIDValidity    uint32
	Envelope       respparse.Envelope
	ReadReceiptTo  string
	ReferenceIDs   []string
	ThreadID       string
	Flags          []string
	Size           int64
	HasAttachments bool
}

// NewMessageID derives a stable message id from the (account,
// folder, uidvalidity, uid) identity named in the data model, so
// re-ingesting the same message is idempotent without a lookup.
func NewMessageID(accountID, folderName string, uidvalidity, uid uint32) string {
	return fmt.Sprintf("%s/%s/%d/%d", accountID, folderName, uidvalidity, uid)
}

// FindThreadID looks up the thread id an existing message in the
// store already carries for the same RFC 5322 Message-ID thread
// family (via In-Reply-To or any References entry), falling back to
// messageID itself when no ancestor is known yet — grounded on the
// teacher's computeThreadID/FindThreadID pairing in
// internal/sync/threading.go and internal/database.
func (s *Store) FindThreadID(ctx context.Context, accountID, messageID, inReplyTo string, references []string) (string, error) {
	candidates := make([]string, 0, len(references)+1)
	if inReplyTo != "" {
		candidates = append(candidates, inReplyTo)
	}
	candidates = append(candidates, references...)

	for _, id := range candidates {
		var threadID string
		err := s.db.QueryRowContext(ctx, `
			SELECT thread_id FROM messages WHERE account_id = ? AND message_id = ? LIMIT 1
		`, accountID, id).Scan(&threadID)
		if err == nil && threadID != "" {
			return threadID, nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
	}
	return messageID, nil
}

// UpsertFolder records (or updates) a folder's UIDVALIDITY. Per the
// invariant in spec §3, a UIDVALIDITY change invalidates every UID
// previously recorded for that folder — callers are expected to wipe
// the folder's messages before calling this with a new value.
func (s *Store) UpsertFolder(ctx context.Context, accountID, name, delimiter string, uidvalidity uint32, attributes []string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (account_id, name, delimiter, uidvalidity, attributes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id, name) DO UPDATE SET
			delimiter = excluded.delimiter,
			uidvalidity = excluded.uidvalidity,
			attributes = excluded.attributes
	`, accountID, name, delimiter, uidvalidity, strings.Join(attributes, ","))
	return err
}

// InvalidateFolderUIDs deletes every message recorded under a
// folder's prior UIDVALIDITY, per the invariant that a UIDVALIDITY
// change invalidates all previously stored UIDs for that folder.
func (s *Store) InvalidateFolderUIDs(ctx context.Context, accountID, folderName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE account_id = ? AND folder_name = ?`, accountID, folderName)
	return err
}

// SaveMessage inserts a message's envelope metadata. When a row with
// the same id already exists, only its flags and has_attachments are
// updated; the stored envelope fields are kept.
func (s *Store) SaveMessage(ctx context.Context, m MessageRecord) error {
	toJSON, _ := json.Marshal(addressStrings(m.Envelope.To))
	ccJSON, _ := json.Marshal(addressStrings(m.Envelope.CC))
	bccJSON, _ := json.Marshal(addressStrings(m.Envelope.BCC))
	refsJSON, _ := json.Marshal(m.ReferenceIDs)

	var fromName, fromAddr string
	if len(m.Envelope.From) > 0 {
		fromName = m.Envelope.From[0].Name
		if m.Envelope.From[0].Host != "" {
			fromAddr = m.Envelope.From[0].Mailbox + "@" + m.Envelope.From[0].Host
		} else {
			fromAddr = m.Envelope.From[0].Mailbox
		}
	}

	var date any
	if !m.Envelope.ParsedDate.IsZero() {
		date = m.Envelope.ParsedDate.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, account_id, folder_name, uid, uidvalidity,
			message_id, in_reply_to, references_json, thread_id,
			subject, from_name, from_address, to_json, cc_json, bcc_json, date, read_receipt_to,
			flags, size, has_attachments
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			flags = excluded.flags,
			has_attachments = excluded.has_attachments
	`,
		m.ID, m.AccountID, m.FolderName, m.UID, m.UIDValidity,
		m.Envelope.MessageID, m.Envelope.InReplyTo, string(refsJSON), m.ThreadID,
		m.Envelope.Subject, fromName, fromAddr, string(toJSON), string(ccJSON), string(bccJSON), date, m.ReadReceiptTo,
		strings.Join(m.Flags, ","), m.Size, boolToInt(m.HasAttachments),
	)
	return err
}

func addressStrings(addrs []respparse.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SaveParts replaces messageID's MIME part records with parts.
func (s *Store) SaveParts(ctx context.Context, messageID string, parts []*mimeparse.MimePart) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mime_parts WHERE message_id = ?`, messageID); err != nil {
		return err
	}
	for _, p := range parts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mime_parts (
				message_id, section_id, parent_section_id, media_type, charset, transfer_encoding,
				disposition, original_filename, sanitized_filename, content_id,
				declared_size, stored_size, sha256, is_attachment
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			messageID, p.SectionID, p.ParentSectionID, p.MediaType, p.Charset, p.TransferEncoding,
			p.Disposition, p.OriginalFilename, sanitizeFilename(p.OriginalFilename), p.ContentID,
			p.DeclaredSize, p.StoredSize, p.SHA256, boolToInt(p.IsAttachment),
		); err != nil {
			return fmt.Errorf("insert mime part %s: %w", p.SectionID, err)
		}
	}
	return tx.Commit()
}

// sanitizeFilename strips path separators and control characters so a
// malicious Content-Disposition filename can never escape the blob
// store's flat namespace or inject a path when later served over HTTP.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "\x00", "")
	return strings.TrimSpace(name)
}

// SaveAttachments writes attachment metadata and, for each distinct
// sha256 not already present, the blob bytes themselves — so two
// messages sharing an identical attachment store it once.
func (s *Store) SaveAttachments(ctx context.Context, messageID string, atts []*mimeparse.Attachment) error {
	for _, a := range atts {
		if err := s.writeBlob(ctx, a.SHA256, a.Data); err != nil {
			return fmt.Errorf("write blob for attachment %s: %w", a.Filename, err)
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO attachments (id, message_id, section_id, filename, media_type, size, content_id, is_inline, sha256, blob_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), messageID, a.SectionID, sanitizeFilename(a.Filename), a.MediaType, a.Size, a.ContentID, boolToInt(a.IsInline), a.SHA256, BlobKey(a.SHA256))
		if err != nil {
			return fmt.Errorf("insert attachment %s: %w", a.Filename, err)
		}
	}
	return nil
}

// AttachmentRecord is the persisted-shape row read back for a
// message's attachments, independent of the decode pipeline's own
// mimeparse.Attachment (which still carries the decoded bytes).
type AttachmentRecord struct {
	SectionID string
	Filename  string
	MediaType string
	Size      int64
	ContentID string
	IsInline  bool
	SHA256    string
}

// ListAttachments returns messageID's persisted attachment metadata in
// section-id order.
func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]AttachmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT section_id, filename, media_type, size, content_id, is_inline, sha256
		FROM attachments WHERE message_id = ? ORDER BY section_id
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttachmentRecord
	for rows.Next() {
		var a AttachmentRecord
		var isInline int
		if err := rows.Scan(&a.SectionID, &a.Filename, &a.MediaType, &a.Size, &a.ContentID, &isInline, &a.SHA256); err != nil {
			return nil, err
		}
		a.IsInline = isInline != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) writeBlob(ctx context.Context, sha256Hex string, data []byte) error {
	var refCount int
	err := s.db.QueryRowContext(ctx, `SELECT ref_count FROM blobs WHERE sha256 = ?`, sha256Hex).Scan(&refCount)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := s.blobs.Write(ctx, BlobKey(sha256Hex), data); err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `INSERT INTO blobs (sha256, ref_count) VALUES (?, 1)`, sha256Hex)
		return err
	case err != nil:
		return err
	default:
		_, err = s.db.ExecContext(ctx, `UPDATE blobs SET ref_count = ref_count + 1 WHERE sha256 = ?`, sha256Hex)
		return err
	}
}

// ReadAttachmentBlob fetches an attachment's decoded bytes by sha256.
func (s *Store) ReadAttachmentBlob(ctx context.Context, sha256Hex string) ([]byte, error) {
	return s.blobs.Read(ctx, BlobKey(sha256Hex))
}

// RenderCacheEntry is the persisted (text, html, warnings) tuple for
// a message, keyed by message id and the generator version that
// produced it.
type RenderCacheEntry struct {
	MessageID        string
	GeneratorVersion int
	Text             string
	HTML             string
	Warnings         []mailerr.Warning
	CreatedAt        time.Time
}

// GetRenderCache returns the cached render for messageID, if present.
// Per the generator-version invariant, the caller must still compare
// GeneratorVersion against the current one: a stale row is returned
// rather than silently rejected, so the orchestrator can log what it
// is about to rebuild.
func (s *Store) GetRenderCache(ctx context.Context, messageID string) (*RenderCacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT generator_version, text_rendered, html_rendered, warnings_json, created_at
		FROM render_cache WHERE message_id = ?
	`, messageID)

	var entry RenderCacheEntry
	var warningsJSON string
	var createdAt time.Time
	entry.MessageID = messageID
	if err := row.Scan(&entry.GeneratorVersion, &entry.Text, &entry.HTML, &warningsJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, mailerr.New(mailerr.CacheMiss, "no render cache row for "+messageID)
		}
		return nil, err
	}
	entry.CreatedAt = createdAt
	_ = json.Unmarshal([]byte(warningsJSON), &entry.Warnings)
	return &entry, nil
}

// PutRenderCache upserts a render cache row.
func (s *Store) PutRenderCache(ctx context.Context, entry RenderCacheEntry) error {
	warningsJSON, _ := json.Marshal(entry.Warnings)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO render_cache (message_id, generator_version, text_rendered, html_rendered, warnings_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET
			generator_version = excluded.generator_version,
			text_rendered = excluded.text_rendered,
			html_rendered = excluded.html_rendered,
			warnings_json = excluded.warnings_json,
			created_at = CURRENT_TIMESTAMP
	`, entry.MessageID, entry.GeneratorVersion, entry.Text, entry.HTML, string(warningsJSON))
	return err
}
