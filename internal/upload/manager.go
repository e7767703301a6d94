package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/gpx-analyzer/backend/internal/parser"
)

// Status represents the upload processing status.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusAssembling Status = "assembling"
	StatusChecking   Status = "checking"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Job represents an async completion of a chunked upload.
type Job struct {
	ID          string           `json:"id"`
	UploadID    string           `json:"uploadId"`
	FileName    string           `json:"fileName"`
	TotalChunks int              `json:"totalChunks"`
	AutoParse   bool             `json:"autoParse"`
	Status      Status           `json:"status"`
	Progress    float64          `json:"progress"`
	Stage       string           `json:"stage"` // Current stage description
	FileInfo    *models.FileInfo `json:"fileInfo,omitempty"`
	SessionID   string           `json:"sessionId,omitempty"` // set when AutoParse started a session
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// Done reports whether the job has finished.
func (j *Job) Done() bool {
	return j.Status == StatusComplete || j.Status == StatusError
}

// Store defines the interface needed from storage layer.
type Store interface {
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	SetStatus(id string, status string) error
}

// SessionStarter starts a parse session for an uploaded file.
type SessionStarter interface {
	StartSession(fileID, filePath string) (*models.ParseSession, error)
}

// Manager handles async upload processing.
type Manager struct {
	jobs     map[string]*Job
	mu       sync.RWMutex
	store    Store
	sessions SessionStarter
	registry *parser.Registry
}

// NewManager creates a new upload processing manager. sessions may be nil, in
// which case AutoParse is ignored.
func NewManager(store Store, sessions SessionStarter) *Manager {
	return &Manager{
		jobs:     make(map[string]*Job),
		store:    store,
		sessions: sessions,
		registry: parser.GetGlobalRegistry(),
	}
}

// StartJob begins async completion of a chunked upload.
func (m *Manager) StartJob(uploadID, fileName string, totalChunks int, autoParse bool) *Job {
	job := &Job{
		ID:          uuid.New().String(),
		UploadID:    uploadID,
		FileName:    fileName,
		TotalChunks: totalChunks,
		AutoParse:   autoParse,
		Status:      StatusProcessing,
		Stage:       "preparing",
		CreatedAt:   time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	snapshot := *job
	m.mu.Unlock()

	// Start async processing
	go m.processJob(job)

	return &snapshot
}

// GetJob returns a snapshot of a job by ID.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// processJob assembles the chunks, checks that the result is a track file and
// optionally starts parsing it.
func (m *Manager) processJob(job *Job) {
	fmt.Printf("[UploadJob %s] Starting processing: %s\n", job.ID[:8], job.FileName)

	// Stage 1: Assemble chunks (gzip content is decompressed by the store)
	m.updateJobStatus(job, StatusAssembling, "assembling chunks", 0)

	info, err := m.store.CompleteChunkedUpload(job.UploadID, job.FileName, job.TotalChunks)
	if err != nil {
		m.markJobError(job, fmt.Sprintf("failed to assemble chunks: %v", err))
		return
	}
	fmt.Printf("[UploadJob %s] Chunks assembled: %s (%d bytes)\n", job.ID[:8], info.ID, info.Size)

	// Stage 2: Check the content is something a parser accepts
	m.updateJobStatus(job, StatusChecking, "checking track format", 60)

	path, err := m.store.GetFilePath(info.ID)
	if err != nil {
		m.markJobError(job, fmt.Sprintf("stored file missing: %v", err))
		return
	}
	if _, err := m.registry.FindParser(path); err != nil {
		// keep the file; the user may still rename or delete it
		m.store.SetStatus(info.ID, models.FileStatusError)
		info.Status = models.FileStatusError
		m.setFileInfo(job, info)
		m.markJobError(job, fmt.Sprintf("not a track file: %v", err))
		return
	}
	m.setFileInfo(job, info)

	// Stage 3: Optionally start a parse session
	if job.AutoParse && m.sessions != nil {
		m.updateJobStatus(job, StatusChecking, "starting parse", 90)
		sess, err := m.sessions.StartSession(info.ID, path)
		if err != nil {
			m.markJobError(job, fmt.Sprintf("failed to start parse: %v", err))
			return
		}
		m.mu.Lock()
		job.SessionID = sess.ID
		m.mu.Unlock()
	}

	m.markJobComplete(job)
	fmt.Printf("[UploadJob %s] Processing complete: %s (%d bytes)\n", job.ID[:8], info.ID, info.Size)
}

func (m *Manager) setFileInfo(job *Job, info *models.FileInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := *info
	job.FileInfo = &snapshot
}

// updateJobStatus updates job progress (thread-safe).
func (m *Manager) updateJobStatus(job *Job, status Status, stage string, progress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = status
	job.Stage = stage
	job.Progress = progress
}

// markJobComplete marks job as complete (thread-safe).
func (m *Manager) markJobComplete(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusComplete
	job.Stage = "complete"
	job.Progress = 100
	now := time.Now()
	job.CompletedAt = &now
}

// markJobError marks job as failed (thread-safe).
func (m *Manager) markJobError(job *Job, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusError
	job.Error = errMsg
	now := time.Now()
	job.CompletedAt = &now
	fmt.Printf("[UploadJob %s] Error: %s\n", job.ID[:8], errMsg)
}

// CleanupOldJobs removes finished jobs older than maxAge and returns how many
// were removed.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range m.jobs {
		if job.Done() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}
