// Package webcid serves the two outbound HTTP operations a rendered
// message's body references once it leaves the core: cid_url
// resolution (inline images/resources addressed by Content-ID) and
// fetch_attachment (plain attachment download), routed with
// github.com/go-chi/chi/v5 the way eSlider-mail-archive's internal/web
// router wires its own attachment and CID handlers.
package webcid

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/inboxcore/mailcore/internal/store"
)

// Config holds the dependency this package needs: a store to resolve
// attachment metadata and read blob bytes.
type Config struct {
	Store *store.Store
}

// NewRouter builds the chi router serving the CID and attachment
// routes. cmd/mailcore-serve serves it directly as the server handler;
// it can also be mounted under a parent router.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/mail/{messageID}/cid/{cid}", handleCID(cfg))
	r.Get("/mail/{messageID}/attachment/{sectionID}", handleAttachment(cfg))

	return r
}

// handleCID resolves /mail/{messageID}/cid/{cid} to the inline
// attachment whose Content-ID matches, the cid_url target that
// internal/render's cid: rewriting points at.
func handleCID(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := chi.URLParam(r, "messageID")
		cid := strings.TrimSpace(chi.URLParam(r, "cid"))
		if messageID == "" || cid == "" {
			writeError(w, http.StatusBadRequest, "missing messageID or cid")
			return
		}

		atts, err := cfg.Store.ListAttachments(r.Context(), messageID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list attachments")
			return
		}
		for _, a := range atts {
			if a.ContentID != cid {
				continue
			}
			serveBlob(w, r, cfg, a)
			return
		}
		writeError(w, http.StatusNotFound, "cid resource not found")
	}
}

// handleAttachment resolves /mail/{messageID}/attachment/{sectionID}
// to the attachment decoded from that MIME section, the
// fetch_attachment target.
func handleAttachment(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := chi.URLParam(r, "messageID")
		sectionID := chi.URLParam(r, "sectionID")
		if messageID == "" || sectionID == "" {
			writeError(w, http.StatusBadRequest, "missing messageID or sectionID")
			return
		}

		atts, err := cfg.Store.ListAttachments(r.Context(), messageID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list attachments")
			return
		}
		for _, a := range atts {
			if a.SectionID != sectionID {
				continue
			}
			serveBlob(w, r, cfg, a)
			return
		}
		writeError(w, http.StatusNotFound, "attachment not found")
	}
}

func serveBlob(w http.ResponseWriter, r *http.Request, cfg Config, a store.AttachmentRecord) {
	data, err := cfg.Store.ReadAttachmentBlob(r.Context(), a.SHA256)
	if err != nil {
		if errors.Is(err, store.ErrBlobNotFound) {
			writeError(w, http.StatusNotFound, "attachment blob not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read attachment")
		return
	}

	filename := a.Filename
	if filename == "" {
		filename = "attachment"
	}
	safeName := strings.ReplaceAll(filename, `"`, "_")

	contentType := a.MediaType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if !a.IsInline {
		w.Header().Set("Content-Disposition", `attachment; filename="`+safeName+`"`)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
