package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian/internal/api"
	"github.com/prn-tf/meridian/internal/domain"
	"github.com/prn-tf/meridian/internal/service"
)

// UploadHandler exposes the upload coordinator over HTTP.
type UploadHandler struct {
	uploads *service.UploadService
	logger  zerolog.Logger
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(uploads *service.UploadService, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		uploads: uploads,
		logger:  logger.With().Str("handler", "upload").Logger(),
	}
}

// Init handles POST /upload/init.
func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req api.InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid JSON body"})
		return
	}

	mode := domain.UploadMode(req.Mode)
	if req.Mode == "" {
		mode = domain.ModeDirect
	}

	out, err := h.uploads.InitUpload(r.Context(), service.InitUploadInput{
		Filename:    req.Filename,
		FileSize:    req.Filesize,
		ContentType: req.ContentType,
		Mode:        mode,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := api.InitResponse{Key: out.Key}
	if out.Simple {
		resp.UploadType = api.UploadTypeSimple
		resp.PresignedURL = out.PresignedURL
		resp.FileURL = out.FileURL
	} else {
		resp.UploadType = api.UploadTypeMultipart
		resp.UploadID = out.UploadID
		resp.PartSize = out.PartSize
		resp.TotalParts = out.TotalParts
		resp.PresignedParts = toAPIParts(out.PresignedParts)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Presign handles POST /upload/presign.
func (h *UploadHandler) Presign(w http.ResponseWriter, r *http.Request) {
	var req api.PresignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid JSON body"})
		return
	}

	out, err := h.uploads.PresignParts(r.Context(), service.PresignPartsInput{
		UploadID:    req.UploadID,
		PartNumbers: req.PartNumbers,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, api.PresignResponse{
		PresignedParts: toAPIParts(out.Parts),
	})
}

// Complete handles POST /upload/complete.
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid JSON body"})
		return
	}

	parts := make([]domain.PartRecord, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = domain.PartRecord{
			PartNumber: p.PartNumber,
			ETag:       p.ETag,
			Size:       p.Size,
		}
	}

	out, err := h.uploads.CompleteUpload(r.Context(), service.CompleteUploadInput{
		UploadID: req.UploadID,
		Parts:    parts,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, api.CompleteResponse{
		Status:     string(domain.SessionStatusCompleted),
		FileURL:    out.FileURL,
		Key:        out.Key,
		ETag:       out.ETag,
		TotalParts: out.TotalParts,
		Filesize:   out.FileSize,
	})
}

// Abort handles POST /upload/abort.
func (h *UploadHandler) Abort(w http.ResponseWriter, r *http.Request) {
	var req api.AbortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid JSON body"})
		return
	}

	if err := h.uploads.AbortUpload(r.Context(), req.UploadID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.SessionStatusFailed)})
}

// Status handles GET /upload/status?uploadId=...
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "uploadId is required"})
		return
	}

	out, err := h.uploads.GetStatus(r.Context(), uploadID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	sess := out.Session
	resp := api.StatusResponse{
		UploadID:            sess.UploadID,
		Status:              string(sess.Status),
		Filename:            sess.Filename,
		Filesize:            sess.FileSize,
		TotalParts:          sess.TotalParts,
		UploadedPartNumbers: sess.UploadedPartNumbers(),
		Percentage:          sess.Percentage(),
		UploadedSize:        sess.UploadedBytes(),
		RemainingSize:       sess.FileSize - sess.UploadedBytes(),
		CreatedAt:           sess.CreatedAt.Format(time.RFC3339),
		DownloadURL:         out.DownloadURL,
	}
	if sess.CompletedAt != nil {
		resp.CompletedAt = sess.CompletedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func toAPIParts(parts []service.PresignedPart) []api.PresignedPart {
	out := make([]api.PresignedPart, len(parts))
	for i, p := range parts {
		out[i] = api.PresignedPart{PartNumber: p.PartNumber, URL: p.URL}
	}
	return out
}
