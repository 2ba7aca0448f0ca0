package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/processor"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// estimatedDuration is the rough completion estimate returned on submit.
const estimatedDuration = 5 * time.Minute

// ProcessingHandler accepts uploads and queues conversion jobs.
type ProcessingHandler struct {
	logger   *observability.Logger
	svc      Service
	maxBytes int64
}

// NewProcessingHandler creates a processing handler. maxBytes bounds the
// request body.
func NewProcessingHandler(logger *observability.Logger, svc Service, maxBytes int64) *ProcessingHandler {
	return &ProcessingHandler{logger: logger, svc: svc, maxBytes: maxBytes}
}

// ProcessingResponse is returned for an accepted upload.
type ProcessingResponse struct {
	JobID                   string          `json:"job_id"`
	SessionID               string          `json:"session_id"`
	Status                  domain.JobState `json:"status"`
	Message                 string          `json:"message"`
	EstimatedCompletionTime time.Time       `json:"estimated_completion_time"`
}

// BatchJob is one queued file of a batch.
type BatchJob struct {
	JobID     string          `json:"job_id"`
	SessionID string          `json:"session_id"`
	Status    domain.JobState `json:"status"`
}

// BatchResponse is returned for an accepted batch.
type BatchResponse struct {
	BatchID string     `json:"batch_id"`
	Jobs    []BatchJob `json:"jobs"`
}

// BatchErrorResponse is returned when a batch fails part way through
// queueing. Jobs lists the files that were queued before the failure.
type BatchErrorResponse struct {
	ErrorResponse
	BatchID string     `json:"batch_id"`
	Jobs    []BatchJob `json:"jobs"`
}

// Process handles POST /api/v1/process.
func (h *ProcessingHandler) Process(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", err.Error())
		return
	}
	defer file.Close()

	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required", "")
		return
	}
	thumbnails, err := formBool(r.FormValue("generate_thumbnails"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "generate_thumbnails must be a boolean", err.Error())
		return
	}

	st, err := h.enqueue(r, header, file, processor.SubmitRequest{
		SessionID:          sessionID,
		SourceLanguage:     r.FormValue("source_language"),
		TargetLanguage:     r.FormValue("target_language"),
		GenerateThumbnails: thumbnails,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, "failed to queue presentation", err)
		return
	}

	writeJSON(w, http.StatusAccepted, ProcessingResponse{
		JobID:                   st.JobID,
		SessionID:               st.SessionID,
		Status:                  st.State,
		Message:                 "PPTX processing has been queued",
		EstimatedCompletionTime: time.Now().UTC().Add(estimatedDuration),
	})
}

// ProcessBatch handles POST /api/v1/process/batch. Every file is validated
// and staged before any of them is queued. If queueing fails part way, the
// error response lists the jobs already queued.
func (h *ProcessingHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	batchID := strings.TrimSpace(r.FormValue("batch_id"))
	if batchID == "" {
		batchID = uuid.NewString()
	}
	files := r.MultipartForm.File["files"]
	sessionIDs := r.MultipartForm.Value["session_ids"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "files are required", "")
		return
	}
	if len(files) != len(sessionIDs) {
		writeError(w, http.StatusBadRequest, "number of files must match number of session ids",
			fmt.Sprintf("%d files, %d session ids", len(files), len(sessionIDs)))
		return
	}
	for i, fh := range files {
		if !strings.EqualFold(filepath.Ext(fh.Filename), processor.SupportedExtension) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("unsupported file type for file %d", i+1),
				fmt.Sprintf("%s is not a %s file", fh.Filename, processor.SupportedExtension))
			return
		}
	}

	// Stage every file before submitting any, so a bad upload queues nothing.
	reqs := make([]processor.SubmitRequest, 0, len(files))
	unstage := func(from int) {
		for _, req := range reqs[from:] {
			os.RemoveAll(filepath.Dir(req.SourcePath))
		}
	}
	for i, fh := range files {
		req, err := h.stageFile(fh, processor.SubmitRequest{
			SessionID:          sessionIDs[i],
			GenerateThumbnails: true,
		})
		if err != nil {
			unstage(0)
			writeServiceError(w, h.logger, r, fmt.Sprintf("failed to stage file %d", i+1), err)
			return
		}
		reqs = append(reqs, req)
	}

	resp := BatchResponse{BatchID: batchID, Jobs: make([]BatchJob, 0, len(files))}
	for i, req := range reqs {
		st, err := h.svc.Submit(r.Context(), req)
		if err != nil {
			unstage(i)
			status, body := serviceError(h.logger, r, fmt.Sprintf("failed to queue file %d", i+1), err)
			h.logger.WithContext(r.Context()).Warn().
				Str("batch_id", batchID).
				Int("queued", len(resp.Jobs)).
				Int("dropped", len(reqs)-i).
				Msg("Batch partially queued")
			writeJSON(w, status, BatchErrorResponse{ErrorResponse: body, BatchID: batchID, Jobs: resp.Jobs})
			return
		}
		resp.Jobs = append(resp.Jobs, BatchJob{JobID: st.JobID, SessionID: st.SessionID, Status: st.State})
	}

	h.logger.WithContext(r.Context()).Info().
		Str("batch_id", batchID).
		Int("jobs", len(resp.Jobs)).
		Msg("Batch queued")
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *ProcessingHandler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %d byte limit", h.maxBytes), "")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return false
	}
	return true
}

// stage copies an upload into the job's upload directory and fills in the
// job id and source path.
func (h *ProcessingHandler) stage(header *multipart.FileHeader, file multipart.File, req processor.SubmitRequest) (processor.SubmitRequest, error) {
	req.JobID = uuid.NewString()
	path, err := h.svc.StageUpload(req.JobID, header.Filename, file)
	if err != nil {
		return req, err
	}
	req.SourcePath = path
	return req, nil
}

func (h *ProcessingHandler) stageFile(fh *multipart.FileHeader, req processor.SubmitRequest) (processor.SubmitRequest, error) {
	f, err := fh.Open()
	if err != nil {
		return req, domain.ValidationError("failed to read uploaded file", err)
	}
	defer f.Close()
	return h.stage(fh, f, req)
}

func (h *ProcessingHandler) enqueue(r *http.Request, header *multipart.FileHeader, file multipart.File, req processor.SubmitRequest) (domain.JobStatus, error) {
	req, err := h.stage(header, file, req)
	if err != nil {
		return domain.JobStatus{}, err
	}
	st, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		os.RemoveAll(filepath.Dir(req.SourcePath))
		return domain.JobStatus{}, err
	}
	return st, nil
}

func formBool(v string, def bool) (bool, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}
