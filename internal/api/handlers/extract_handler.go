package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/models"
	"github.com/markdave123-py/Extracta/internal/services"
)

// ExtractHandler streams extraction results as NDJSON.
type ExtractHandler struct {
	svc        *services.ExtractionService
	archive    *services.ArchiveService
	maxBytes   int64
	allowLocal bool
	logger     *slog.Logger
}

// NewExtractHandler wires the handler. archive may be nil. Local paths are
// refused by /api/extract/source unless allowLocal is set.
func NewExtractHandler(svc *services.ExtractionService, archive *services.ArchiveService, maxBytes int64, allowLocal bool, logger *slog.Logger) *ExtractHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractHandler{svc: svc, archive: archive, maxBytes: maxBytes, allowLocal: allowLocal, logger: logger}
}

// Extract handles an uploaded document: multipart field "file", or the raw
// request body named by ?filename=.
func (h *ExtractHandler) Extract(w http.ResponseWriter, r *http.Request) {
	src, err := h.readUpload(w, r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	storageURL, err := h.archive.Archive(r.Context(), src)
	if err != nil {
		h.logger.Error("archive upload failed", "source", src.Label, "error", err)
		writeMessage(w, http.StatusInternalServerError, "upload failed")
		return
	}

	h.stream(w, r, h.svc.Stream(r.Context(), services.Request{
		Source:     src,
		Engine:     r.URL.Query().Get("engine"),
		StorageURL: storageURL,
	}))
}

// ExtractSource resolves a URL, bucket prefix or (when allowed) local path.
func (h *ExtractHandler) ExtractSource(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSource(w, r)
	if !ok {
		return
	}
	h.stream(w, r, h.svc.ExtractSource(r.Context(), req.Source, req.Engine))
}

func (h *ExtractHandler) Engines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Engines())
}

func (h *ExtractHandler) decodeSource(w http.ResponseWriter, r *http.Request) (models.ExtractSourceRequest, bool) {
	var req models.ExtractSourceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid body")
		return req, false
	}
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		writeMessage(w, http.StatusBadRequest, "source is required")
		return req, false
	}
	if !h.allowLocal && !core.IsHTTPURL(req.Source) && !strings.HasPrefix(req.Source, "s3://") {
		writeMessage(w, http.StatusBadRequest, "source must be an http(s) or s3:// URL")
		return req, false
	}
	return req, true
}

func (h *ExtractHandler) readUpload(w http.ResponseWriter, r *http.Request) (core.Source, error) {
	body := http.MaxBytesReader(w, r.Body, h.maxBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		r.Body = body
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return core.Source{}, err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return core.Source{}, errors.New("missing file field")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return core.Source{}, err
		}
		return core.FromBytes(filepath.Base(header.Filename), data, declaredType(header.Header.Get("Content-Type"))), nil
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return core.Source{}, err
	}
	if len(data) == 0 {
		return core.Source{}, errors.New("empty body")
	}
	name := filepath.Base(r.URL.Query().Get("filename"))
	if name == "." || name == "/" {
		name = "document"
	}
	return core.FromBytes(name, data, declaredType(mediaType)), nil
}

// declaredType drops uninformative content types so detection falls back to
// the file name and the bytes.
func declaredType(ct string) string {
	switch ct {
	case "", "application/octet-stream", "application/x-www-form-urlencoded":
		return ""
	}
	return ct
}

// stream writes seq as NDJSON. An error before the first element becomes a
// regular JSON error response; later errors are written as error lines.
func (h *ExtractHandler) stream(w http.ResponseWriter, r *http.Request, seq iter.Seq2[core.Element, error]) {
	next, stop := iter.Pull2(seq)
	defer stop()

	el, err, ok := next()
	if ok && err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	out := services.NewResultWriter(w)

	for ; ok; el, err, ok = next() {
		var werr error
		if err != nil {
			werr = out.Error(err)
		} else {
			werr = out.Element(el)
		}
		if werr != nil {
			h.logger.Warn("client went away", "path", r.URL.Path, "error", werr)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// SubmitJob validates the body like ExtractSource and hands it to submit.
func (h *ExtractHandler) SubmitJob(submit func(http.ResponseWriter, *http.Request, models.ExtractSourceRequest)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := h.decodeSource(w, r)
		if !ok {
			return
		}
		submit(w, r, req)
	}
}
