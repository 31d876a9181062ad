package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/inboxcore/mailcore/internal/imap/respparse"
	"github.com/inboxcore/mailcore/internal/mailerr"
	"github.com/inboxcore/mailcore/internal/mimeparse"
)

type memBlobStore struct {
	data map[string][]byte
}

func newMemBlobStore() *memBlobStore { return &memBlobStore{data: map[string][]byte{}} }

func (m *memBlobStore) Write(ctx context.Context, key string, data []byte) error {
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	d, ok := m.data[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return d, nil
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "mailcore.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db, newMemBlobStore())
}

func TestSaveMessageAndRenderCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msgID := NewMessageID("acct1", "INBOX", 1001, 42)
	err := s.SaveMessage(ctx, MessageRecord{
		ID:          msgID,
		AccountID:   "acct1",
		FolderName:  "INBOX",
		UID:         42,
		UIDValidity: 1001,
		Envelope: respparse.Envelope{
			Subject: "hello",
			From:    []respparse.Address{{Name: "Alice", Mailbox: "alice", Host: "example.com"}},
		},
		ThreadID: msgID,
		Flags:    []string{"\\Seen"},
	})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if _, err := s.GetRenderCache(ctx, msgID); err == nil {
		t.Fatal("expected cache miss before any render is stored")
	} else if kind, ok := mailerr.KindOf(err); !ok || kind != mailerr.CacheMiss {
		t.Fatalf("expected CacheMiss kind, got %v", err)
	}

	entry := RenderCacheEntry{
		MessageID:        msgID,
		GeneratorVersion: 1,
		Text:             "hello world",
		HTML:             "<p>hello world</p>",
		Warnings:         []mailerr.Warning{mailerr.Warn(mailerr.WarnCIDNotFound, "cid:missing")},
	}
	if err := s.PutRenderCache(ctx, entry); err != nil {
		t.Fatalf("PutRenderCache: %v", err)
	}

	got, err := s.GetRenderCache(ctx, msgID)
	if err != nil {
		t.Fatalf("GetRenderCache: %v", err)
	}
	if got.Text != entry.Text || got.HTML != entry.HTML {
		t.Fatalf("render cache mismatch: %+v", got)
	}
	if len(got.Warnings) != 1 || got.Warnings[0].Kind != mailerr.WarnCIDNotFound {
		t.Fatalf("warnings not round-tripped: %+v", got.Warnings)
	}
}

func TestSavePartsAndAttachmentsDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	msgID := NewMessageID("acct1", "INBOX", 1, 1)

	if err := s.SaveMessage(ctx, MessageRecord{ID: msgID, AccountID: "acct1", FolderName: "INBOX", UID: 1, UIDValidity: 1}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	parts := []*mimeparse.MimePart{
		{SectionID: "1", MediaType: "text/plain", StoredSize: 5, SHA256: "abc"},
	}
	if err := s.SaveParts(ctx, msgID, parts); err != nil {
		t.Fatalf("SaveParts: %v", err)
	}

	att := &mimeparse.Attachment{
		SectionID: "2",
		Filename:  "report.pdf",
		MediaType: "application/pdf",
		Data:      []byte("%PDF-fake"),
		SHA256:    "deadbeef",
	}
	if err := s.SaveAttachments(ctx, msgID, []*mimeparse.Attachment{att, att}); err != nil {
		t.Fatalf("SaveAttachments: %v", err)
	}

	data, err := s.ReadAttachmentBlob(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("ReadAttachmentBlob: %v", err)
	}
	if string(data) != "%PDF-fake" {
		t.Fatalf("blob data = %q", data)
	}

	var refCount int
	if err := s.db.QueryRowContext(ctx, `SELECT ref_count FROM blobs WHERE sha256 = ?`, "deadbeef").Scan(&refCount); err != nil {
		t.Fatalf("query ref_count: %v", err)
	}
	if refCount != 2 {
		t.Fatalf("expected ref_count 2 after inserting the same attachment twice, got %d", refCount)
	}
}
