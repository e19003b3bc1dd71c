package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/serisow/docapture/services/extraction_service"
)

// ExtractWordHandler serves POST /extract-word, a synchronous utility
// endpoint with no run lifecycle.
type ExtractWordHandler struct {
	auth           Authenticator
	extractor      *extraction_service.WordExtractor
	logger         *slog.Logger
	maxUploadBytes int64
}

func NewExtractWordHandler(auth Authenticator, extractor *extraction_service.WordExtractor, logger *slog.Logger, maxUploadBytes int64) *ExtractWordHandler {
	return &ExtractWordHandler{
		auth:           auth,
		extractor:      extractor,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *ExtractWordHandler) ExtractWord(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.Authenticate(r); !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(nil, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	text, err := h.extractor.Extract(data, header.Filename)
	if err != nil {
		h.logger.Error("Word extraction failed",
			slog.String("file_name", header.Filename),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to extract Word document content")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"text":      text,
		"wordCount": len(strings.Fields(text)),
		"metadata": map[string]interface{}{
			"fileName": header.Filename,
			"fileSize": len(data),
		},
	})
}
