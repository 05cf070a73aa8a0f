package api

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/objectstore"
	"github.com/Lllllllleong/mathcheckin/internal/services"
)

// PresignUpload returns a URL the browser PUTs the source PDF to.
func (h *Handler) PresignUpload(w http.ResponseWriter, r *http.Request) {
	var req models.PresignRequest
	if err := h.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	url, err := h.deps.Objects.PresignPut(r.Context(), req.FileID, req.ContentType, h.opts.PresignTTL)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.PresignResponse{URL: url, FileID: req.FileID})
}

// UploadObject stores a multipart PDF under a fresh mass upload key.
func (h *Handler) UploadObject(w http.ResponseWriter, r *http.Request) {
	file, header, err := h.formFile(w, r, "file")
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	if ct := partContentType(header); ct != objectstore.PDFContentType {
		respondError(w, r, fmt.Errorf("%w: %q", objectstore.ErrUnsupportedType, ct))
		return
	}
	key := objectstore.NewKey(header.Filename, time.Now())
	if err := h.deps.Objects.Put(r.Context(), key, objectstore.PDFContentType, file); err != nil {
		respondError(w, r, err)
		return
	}
	slog.Info("Stored source PDF.", "fileId", key, "size", header.Size)
	respondJSON(w, http.StatusOK, models.ObjectUploadResponse{Success: true, FileID: key})
}

// ClearObjects empties the source PDF bucket.
func (h *Handler) ClearObjects(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Objects.Clear(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	slog.Info("Cleared source PDF bucket.", "deleted", n)
	respondJSON(w, http.StatusOK, models.ClearBucketResponse{Success: true, Deleted: n})
}

// formFile parses a bounded multipart body and returns the named part.
func (h *Handler) formFile(w http.ResponseWriter, r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", services.ErrInvalidRequest, err)
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: no %s provided", services.ErrInvalidRequest, field)
	}
	return file, header, nil
}

func partContentType(h *multipart.FileHeader) string {
	return h.Header.Get("Content-Type")
}

func readPart(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: reading upload: %v", services.ErrInvalidRequest, err)
	}
	return data, nil
}
