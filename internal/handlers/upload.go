package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skyload/skyload-api/internal/config"
	"github.com/skyload/skyload-api/internal/models"
	"github.com/skyload/skyload-api/internal/objectstore"
)

type UploadHandler struct {
	cfg    *config.Config
	store  objectstore.Store
	logger zerolog.Logger
}

// NewUploadHandler builds the upload endpoint. store may be nil, in
// which case uploads land on the local filesystem instead of S3.
func NewUploadHandler(cfg *config.Config, store objectstore.Store, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{cfg: cfg, store: store, logger: logger.With().Str("handler", "upload").Logger()}
}

// Upload accepts a multipart file and stages it for a workflow run. The
// response is the file descriptor to pass to the workflow endpoint.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(h.cfg.Upload.MaxFileSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file exceeds the %d MB limit", h.cfg.Upload.MaxFileSizeMB))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !h.extensionAllowed(ext) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file type %q is not supported", ext))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	contentType := header.Header.Get("Content-Type")
	key := fmt.Sprintf("uploads/%s_%s", uuid.New().String(), sanitizeFilename(header.Filename))

	locator, err := h.stage(r, key, data, contentType)
	if err != nil {
		h.logger.Error().Err(err).Str("file", header.Filename).Msg("Upload staging failed")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	h.logger.Info().Str("file", header.Filename).Str("locator", locator).Int("bytes", len(data)).Msg("File uploaded")

	writeJSON(w, http.StatusOK, models.FileDescriptor{
		StorageLocator: locator,
		OriginalName:   header.Filename,
		ContentType:    contentType,
	})
}

const uploadListWindow = 24 * time.Hour

// ListUploads returns locators for files staged within the last day.
func (h *UploadHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-uploadListWindow)

	locators := []string{}
	if h.store != nil {
		bucket := h.cfg.Storage.Bucket
		keys, err := h.store.ListRecent(r.Context(), bucket, "uploads/", since)
		if err != nil {
			h.logger.Error().Err(err).Msg("Upload listing failed")
			writeError(w, http.StatusInternalServerError, "failed to list uploads")
			return
		}
		for _, key := range keys {
			locators = append(locators, objectstore.Locator(bucket, key))
		}
	} else {
		entries, err := os.ReadDir(filepath.Join(h.cfg.Workflow.ScriptsDir, "uploads"))
		if err != nil && !os.IsNotExist(err) {
			writeError(w, http.StatusInternalServerError, "failed to list uploads")
			return
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || info.ModTime().Before(since) {
				continue
			}
			locators = append(locators, filepath.Join(h.cfg.Workflow.ScriptsDir, "uploads", e.Name()))
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"uploads": locators, "count": len(locators)})
}

func (h *UploadHandler) stage(r *http.Request, key string, data []byte, contentType string) (string, error) {
	if h.store != nil {
		bucket := h.cfg.Storage.Bucket
		if err := h.store.Put(r.Context(), bucket, key, data, contentType); err != nil {
			return "", err
		}
		return objectstore.Locator(bucket, key), nil
	}

	path := filepath.Join(h.cfg.Workflow.ScriptsDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (h *UploadHandler) extensionAllowed(ext string) bool {
	for _, allowed := range h.cfg.Upload.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
