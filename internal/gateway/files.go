package gateway

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/blob"
	"github.com/chatsync/internal/logger"
)

type FileHandler struct {
	store   *blob.Store
	maxSize int64
}

func NewFileHandler(store *blob.Store, maxSize int64) *FileHandler {
	return &FileHandler{store: store, maxSize: maxSize}
}

func (h *FileHandler) upload(w http.ResponseWriter, r *http.Request, avatar bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize)
	if err := r.ParseMultipartForm(h.maxSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	var info *blob.Info
	if avatar {
		info, err = h.store.PutAvatar(r.Context(), file, header.Filename, header.Size)
	} else {
		info, err = h.store.Put(r.Context(), file, header.Filename, header.Size)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Upload accepts a multipart attachment under the "file" field.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, false)
}

// UploadAvatar accepts avatar images only, with the tighter avatar limit.
func (h *FileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, true)
}

// Serve streams a stored blob back, decompressed. The optional name query
// param becomes the download filename.
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f, err := h.store.Open(id)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeErr(w, err)
		return
	}
	defer f.Close()

	if ct := blob.ContentType(id); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if name := strings.TrimSpace(strings.ReplaceAll(r.URL.Query().Get("name"), "+", " ")); name != "" {
		w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.QueryEscape(name))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		logger.Errorf("file serve %s: %v", id, err)
	}
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
