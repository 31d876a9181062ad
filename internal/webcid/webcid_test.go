package webcid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/inboxcore/mailcore/internal/mimeparse"
	"github.com/inboxcore/mailcore/internal/store"
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
		return nil, store.ErrBlobNotFound
	}
	return d, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "mailcore.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db, newMemBlobStore())
}

func seedAttachment(t *testing.T, s *store.Store, messageID string, a *mimeparse.Attachment) {
	t.Helper()
	// attachments.message_id references messages(id), so the message row comes first.
	if err := s.SaveMessage(context.Background(), store.MessageRecord{ID: messageID, AccountID: "acct1", FolderName: "INBOX"}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if err := s.SaveAttachments(context.Background(), messageID, []*mimeparse.Attachment{a}); err != nil {
		t.Fatalf("seed attachment: %v", err)
	}
}

func TestHandleCIDServesInlineResourceByContentID(t *testing.T) {
	s := openTestStore(t)
	msgID := store.NewMessageID("acct1", "INBOX", 1, 1)
	seedAttachment(t, s, msgID, &mimeparse.Attachment{
		SectionID: "2", Filename: "logo.png", MediaType: "image/png",
		Data: []byte("pngdata"), Size: 7, ContentID: "logo1", IsInline: true, SHA256: "deadbeef",
	})

	srv := httptest.NewServer(NewRouter(Config{Store: s}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/mail/" + msgID + "/cid/logo1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		t.Fatalf("inline resource should not carry Content-Disposition, got %q", cd)
	}
}

func TestHandleCIDUnknownReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	srv := httptest.NewServer(NewRouter(Config{Store: s}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/mail/missing-message/cid/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleAttachmentServesDownloadWithDisposition(t *testing.T) {
	s := openTestStore(t)
	msgID := store.NewMessageID("acct1", "INBOX", 1, 2)
	seedAttachment(t, s, msgID, &mimeparse.Attachment{
		SectionID: "3", Filename: "report.pdf", MediaType: "application/pdf",
		Data: []byte("%PDF-1.4"), Size: 8, IsInline: false, SHA256: "cafebabe",
	})

	srv := httptest.NewServer(NewRouter(Config{Store: s}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/mail/" + msgID + "/attachment/3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="report.pdf"` {
		t.Fatalf("unexpected content disposition %q", cd)
	}
}
