package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/pkg/logger"
)

// InflatedLengthHeader carries the declared size of the decompressed body.
const InflatedLengthHeader = "X-Inflated-Length"

// UploadHandler handles encounter uploads.
type UploadHandler struct {
	deps         Dependencies
	maxBodyBytes int64
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(deps Dependencies, maxBodyBytes int64) *UploadHandler {
	return &UploadHandler{deps: deps, maxBodyBytes: maxBodyBytes}
}

// HandlePostUpload handles POST /upload requests. The body is gzip
// compressed JSON; both the compressed and the declared inflated length are
// checked before anything is decompressed.
func (h *UploadHandler) HandlePostUpload(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_upload"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	raw, err := h.decode(op, r)
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err)
		return
	}

	res, err := h.deps.Upload(r.Context(), r.Header.Get("Authorization"), raw)
	if err != nil {
		status, code := classify(err)
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		if status >= http.StatusInternalServerError {
			logger.Get().Named("http").Error(r.Context(), "upload failed", logger.Error(err))
		}
		writeError(w, status, code, err)
		return
	}

	status := http.StatusOK
	if res.Status == "created" {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *UploadHandler) decode(op string, r *http.Request) (*model.RawUpload, error) {
	if r.ContentLength < 0 {
		return nil, NewKind(op, ErrLengthRequired)
	}
	if r.ContentLength > h.maxBodyBytes {
		return nil, WrapKind(op, ErrTooLarge, fmt.Errorf("compressed length %d exceeds %d", r.ContentLength, h.maxBodyBytes))
	}
	inflated, err := strconv.ParseInt(r.Header.Get(InflatedLengthHeader), 10, 64)
	if err != nil || inflated <= 0 {
		return nil, WrapKind(op, ErrBadRequest, fmt.Errorf("missing or invalid %s", InflatedLengthHeader))
	}
	if inflated > h.maxBodyBytes {
		return nil, WrapKind(op, ErrTooLarge, fmt.Errorf("inflated length %d exceeds %d", inflated, h.maxBodyBytes))
	}

	zr, err := gzip.NewReader(io.LimitReader(r.Body, r.ContentLength))
	if err != nil {
		return nil, WrapKind(op, ErrBadRequest, fmt.Errorf("gzip: %w", err))
	}
	defer zr.Close()

	data, err := io.ReadAll(io.LimitReader(zr, inflated+1))
	if err != nil {
		return nil, WrapKind(op, ErrBadRequest, fmt.Errorf("gzip: %w", err))
	}
	if int64(len(data)) != inflated {
		return nil, WrapKind(op, ErrBadRequest, fmt.Errorf("inflated length mismatch: declared %d", inflated))
	}

	var raw model.RawUpload
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, WrapKind(op, ErrBadRequest, fmt.Errorf("decode upload: %w", err))
	}
	return &raw, nil
}
