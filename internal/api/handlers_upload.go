// handlers_upload.go - File upload operation handlers
package api

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/gpx-analyzer/backend/internal/storage"
	"github.com/labstack/echo/v4"
)

// RecentFilesLimit is the number of files returned by the recent listing.
const RecentFilesLimit = 20

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	store         storage.Store
	sessionMgr    SessionManager
	jobs          UploadJobs
	allowDeletion bool
}

// NewUploadHandler creates a new upload handler instance. jobs may be nil, in
// which case chunked uploads complete synchronously.
func NewUploadHandler(store storage.Store, sessionMgr SessionManager, jobs UploadJobs, allowDeletion bool) UploadHandler {
	return &UploadHandlerImpl{
		store:         store,
		sessionMgr:    sessionMgr,
		jobs:          jobs,
		allowDeletion: allowDeletion,
	}
}

// HandleUploadFile accepts a multipart/form-data upload in the "file" field
func (h *UploadHandlerImpl) HandleUploadFile(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		return storageError(file.Filename, err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleUploadBase64 accepts a file as base64 JSON and saves it to storage
func (h *UploadHandlerImpl) HandleUploadBase64(c echo.Context) error {
	var req uploadFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	info, err := h.store.SaveBytes(req.Name, decoded)
	if err != nil {
		return storageError(req.Name, err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleUploadChunk accepts a single chunk of a chunked upload, either as
// multipart form (uploadId, chunkIndex, file) or as base64 JSON
func (h *UploadHandlerImpl) HandleUploadChunk(c echo.Context) error {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return h.handleMultipartChunk(c)
	}

	var req uploadChunkRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	if err := h.store.SaveChunk(req.UploadID, req.ChunkIndex, bytes.NewReader(decoded)); err != nil {
		return NewBadRequestError("failed to save chunk", err)
	}

	return c.NoContent(http.StatusAccepted)
}

func (h *UploadHandlerImpl) handleMultipartChunk(c echo.Context) error {
	uploadID := c.FormValue("uploadId")
	if uploadID == "" {
		return NewValidationError("uploadId")
	}
	chunkIndex, err := strconv.Atoi(c.FormValue("chunkIndex"))
	if err != nil || chunkIndex < 0 {
		return NewValidationError("chunkIndex")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no chunk provided", err)
	}
	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open chunk", err)
	}
	defer src.Close()

	if err := h.store.SaveChunk(uploadID, chunkIndex, src); err != nil {
		return NewBadRequestError("failed to save chunk", err)
	}

	return c.NoContent(http.StatusAccepted)
}

// HandleCompleteUpload joins the chunks of an upload. With a job manager the
// work runs in the background and a job id is returned.
func (h *UploadHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	if h.jobs != nil {
		job := h.jobs.StartJob(req.UploadID, req.Name, req.TotalChunks, req.AutoParse)
		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"jobId":  job.ID,
			"status": job.Status,
		})
	}

	info, err := h.store.CompleteChunkedUpload(req.UploadID, req.Name, req.TotalChunks)
	if err != nil {
		return storageError(req.UploadID, err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleUploadJobStatus returns the state of an upload completion job
func (h *UploadHandlerImpl) HandleUploadJobStatus(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}
	if h.jobs == nil {
		return NewNotFoundError("upload job", id)
	}

	job, ok := h.jobs.GetJob(id)
	if !ok {
		return NewNotFoundError("upload job", id)
	}
	return c.JSON(http.StatusOK, job)
}

// HandleUploadJobStream streams upload job status via SSE
func (h *UploadHandlerImpl) HandleUploadJobStream(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}

	startSSE(c)

	if h.jobs == nil {
		sendSSEError(c, "upload job not found")
		return nil
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	timeout := time.NewTimer(5 * time.Minute)
	defer timeout.Stop()

	for {
		job, ok := h.jobs.GetJob(id)
		if !ok {
			sendSSEError(c, "upload job not found")
			return nil
		}

		sendSSEData(c, job)
		if job.Done() {
			return nil
		}

		select {
		case <-ticker.C:
		case <-timeout.C:
			sendSSEError(c, "stream timeout")
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// HandleGetRecentFiles returns the most recently uploaded track files
func (h *UploadHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	files, err := h.store.List(0)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}

	trackFiles := filterTrackFiles(files)
	if len(trackFiles) > RecentFilesLimit {
		trackFiles = trackFiles[:RecentFilesLimit]
	}

	return c.JSON(http.StatusOK, trackFiles)
}

// HandleGetFile returns metadata for a specific file
func (h *UploadHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return storageError(id, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes a file; reports that only involved it go with it
func (h *UploadHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if !h.allowDeletion {
		return NewForbiddenError("file deletion is disabled")
	}

	if err := h.store.Delete(id); err != nil {
		return storageError(id, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleRenameFile updates the name of a file
func (h *UploadHandlerImpl) HandleRenameFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	var req renameFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return NewValidationError("name")
	}

	info, err := h.store.Rename(id, req.Name)
	if err != nil {
		return storageError(id, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleGetFileReports lists saved statistics reports involving a file
func (h *UploadHandlerImpl) HandleGetFileReports(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if _, err := h.store.Get(id); err != nil {
		return storageError(id, err)
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	reports, err := h.sessionMgr.GetReports(c.Request().Context(), id, limit)
	if err != nil {
		return NewInternalError("failed to list reports", err)
	}
	if reports == nil {
		reports = []*models.ReportRecord{}
	}

	return c.JSON(http.StatusOK, reports)
}

// Request/Response types

type uploadFileRequest struct {
	Name string `json:"name"`
	Data string `json:"data"` // Base64-encoded content
}

func (r *uploadFileRequest) validate() error {
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type uploadChunkRequest struct {
	UploadID   string `json:"uploadId"`
	ChunkIndex int    `json:"chunkIndex"`
	Data       string `json:"data"` // Base64-encoded chunk
}

func (r *uploadChunkRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.ChunkIndex < 0 {
		return NewValidationError("chunkIndex")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type completeUploadRequest struct {
	UploadID    string `json:"uploadId"`
	Name        string `json:"name"`
	TotalChunks int    `json:"totalChunks"`
	AutoParse   bool   `json:"autoParse"`
}

func (r *completeUploadRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewBadRequestError("totalChunks must be positive", nil)
	}
	return nil
}

type renameFileRequest struct {
	Name string `json:"name"`
}

// Helper functions

// filterTrackFiles keeps GPX uploads, plain or gzip-compressed
func filterTrackFiles(files []*models.FileInfo) []*models.FileInfo {
	trackFiles := make([]*models.FileInfo, 0, len(files))
	for _, f := range files {
		nameLower := strings.ToLower(f.Name)
		if strings.HasSuffix(nameLower, ".gpx") ||
			strings.HasSuffix(nameLower, ".gpx.gz") {
			trackFiles = append(trackFiles, f)
		}
	}
	return trackFiles
}
