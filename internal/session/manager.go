package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/gpx-analyzer/backend/internal/parser"
	"github.com/gpx-analyzer/backend/internal/track"
)

// MaxSessions limits concurrent sessions to prevent memory exhaustion
const MaxSessions = 10

// SessionMaxAge is how long to keep completed sessions before cleanup
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long to keep sessions that are actively being used
const SessionKeepAliveWindow = 5 * time.Minute

// DefaultDuckDBThreshold is the assembled length from which positions are kept
// in a DuckDB file instead of memory.
const DefaultDuckDBThreshold = 1000000

var (
	// ErrSessionNotFound is returned for unknown or deleted session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotReady is returned when positions are requested before the session completed.
	ErrNotReady = errors.New("session not complete")
)

// FileStatusSetter records per-file parse outcomes. storage.Store implements it.
type FileStatusSetter interface {
	SetStatus(id string, status string) error
}

// ReportStore persists statistics computations. *catalog.Catalog implements it.
type ReportStore interface {
	SaveReport(ctx context.Context, rec *models.ReportRecord) error
	ListReports(ctx context.Context, fileID string, limit int) ([]*models.ReportRecord, error)
}

// Options configures a Manager.
type Options struct {
	TempDir             string
	DuckDBThreshold     int // <= 0 keeps every session in memory
	DuckStore           parser.DuckStoreOptions
	MaxConcurrentParses int
	Files               FileStatusSetter
	Reports             ReportStore
}

// Manager handles active track parsing sessions.
type Manager struct {
	sessions map[string]*SessionState
	mu       sync.RWMutex
	registry *parser.Registry
	opts     Options
	parseSem chan struct{}
}

// SessionState holds the session metadata and the assembled positions, either
// in memory or in a DuckDB file.
type SessionState struct {
	Session      *models.ParseSession
	Positions    []models.Position // nil when DuckStore is set
	DuckStore    *parser.DuckStore
	LastAccessed time.Time

	subscribers []chan *models.ParseSession
}

// NewManager creates a new session manager.
// Uses environment variable DUCKDB_TEMP_DIR for temp directory, defaults to ./data/temp
func NewManager() *Manager {
	tempDir := os.Getenv("DUCKDB_TEMP_DIR")
	if tempDir == "" {
		tempDir = "./data/temp"
	}
	return NewManagerWithTempDir(tempDir)
}

// NewManagerWithTempDir creates a session manager with a specific temp directory.
func NewManagerWithTempDir(tempDir string) *Manager {
	return NewManagerWithOptions(Options{
		TempDir:         tempDir,
		DuckDBThreshold: DefaultDuckDBThreshold,
	})
}

// NewManagerWithOptions creates a session manager. Session databases left in
// the temp directory by a previous run are removed.
func NewManagerWithOptions(opts Options) *Manager {
	if opts.MaxConcurrentParses < 1 {
		opts.MaxConcurrentParses = 3
	}
	if opts.TempDir != "" {
		os.MkdirAll(opts.TempDir, 0755)
		if n := sweepSessionFiles(opts.TempDir, nil); n > 0 {
			fmt.Printf("[Manager] Removed %d stale session databases from %s\n", n, opts.TempDir)
		}
	}
	return &Manager{
		sessions: make(map[string]*SessionState),
		registry: parser.GetGlobalRegistry(),
		opts:     opts,
		parseSem: make(chan struct{}, opts.MaxConcurrentParses),
	}
}

// StartSession begins the parsing process for a file.
func (m *Manager) StartSession(fileID, filePath string) (*models.ParseSession, error) {
	return m.StartMultiSession([]string{fileID}, []string{filePath})
}

// StartMultiSession begins parsing several files whose fixes are merged into
// one track.
func (m *Manager) StartMultiSession(fileIDs []string, filePaths []string) (*models.ParseSession, error) {
	if len(fileIDs) == 0 || len(fileIDs) != len(filePaths) {
		return nil, fmt.Errorf("mismatched fileIDs and filePaths")
	}

	// Clean up old sessions if at limit
	m.cleanupOldSessionsIfNeeded()

	sessionID := uuid.New().String()

	session := models.NewParseSession(sessionID, fileIDs[0])
	session.FileIDs = append([]string(nil), fileIDs...)

	state := &SessionState{
		Session:      session,
		LastAccessed: time.Now(),
	}

	m.mu.Lock()
	m.sessions[sessionID] = state
	snapshot := session.Clone()
	m.mu.Unlock()

	// Run parsing in a background goroutine
	go m.runParse(sessionID, fileIDs, filePaths)

	return snapshot, nil
}

func (m *Manager) runParse(sessionID string, fileIDs, filePaths []string) {
	// Recover from panics to prevent backend crash
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Parse %s] PANIC recovered: %v\n", shortID(sessionID), r)
			m.failSession(sessionID, fileIDs, fmt.Sprintf("parse panicked: %v", r))
		}
	}()

	m.parseSem <- struct{}{}
	defer func() { <-m.parseSem }()

	start := time.Now()
	m.update(sessionID, func(s *models.ParseSession) {
		s.Status = models.SessionStatusParsing
	})

	tracks := make([]*models.ParsedTrack, 0, len(filePaths))
	var skipped []models.ParseError
	var parserName string

	for i, filePath := range filePaths {
		fmt.Printf("[Parse %s] Starting parse of %s (%d/%d)\n", shortID(sessionID), filePath, i+1, len(filePaths))

		p, err := m.registry.FindParser(filePath)
		if err != nil {
			fmt.Printf("[Parse %s] ERROR: failed to find parser: %v\n", shortID(sessionID), err)
			m.failSession(sessionID, fileIDs, fmt.Sprintf("failed to find parser for file %d: %v", i, err))
			return
		}
		if parserName == "" {
			parserName = p.Name()
		}

		result, parseErrors, err := p.ParseWithProgress(filePath, m.progressFunc(sessionID, i, len(filePaths)))
		if err != nil {
			fmt.Printf("[Parse %s] ERROR: parse failed: %v\n", shortID(sessionID), err)
			m.failSession(sessionID, fileIDs, fmt.Sprintf("parse failed for file %d: %v", i, err))
			return
		}
		fmt.Printf("[Parse %s] File %d: %d fixes, %d skipped\n", shortID(sessionID), i+1, len(result.Fixes), result.Skipped)

		tracks = append(tracks, result)
		for _, e := range parseErrors {
			if e != nil {
				skipped = append(skipped, *e)
			}
		}
	}

	merged := parser.MergeTracks(tracks, parser.DefaultMergeConfig())
	m.update(sessionID, func(s *models.ParseSession) {
		s.Progress = 80
		s.FixCount = len(merged.Fixes)
		s.SkippedCount = merged.Skipped
	})

	positions := track.Assemble(merged.Fixes)
	gaps := track.GapCount(merged.Fixes)
	fmt.Printf("[Parse %s] Assembled %d positions from %d fixes (%d gaps)\n",
		shortID(sessionID), len(positions), len(merged.Fixes), gaps)
	logMemory(sessionID)

	m.update(sessionID, func(s *models.ParseSession) {
		s.Progress = 90
	})

	var ds *parser.DuckStore
	if m.opts.DuckDBThreshold > 0 && len(positions) >= m.opts.DuckDBThreshold {
		var err error
		ds, err = m.storePositions(sessionID, positions)
		if err != nil {
			fmt.Printf("[Parse %s] ERROR: %v\n", shortID(sessionID), err)
			m.failSession(sessionID, fileIDs, err.Error())
			return
		}
		positions = nil
	}

	elapsed := time.Since(start).Milliseconds()

	// file status first, so observers of the completed session see it
	m.setFileStatus(fileIDs, models.FileStatusParsed)

	m.mu.Lock()
	state, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		if ds != nil {
			ds.Close()
		}
		return
	}

	state.Positions = positions
	state.DuckStore = ds
	s := state.Session
	s.Status = models.SessionStatusComplete
	s.Progress = 100
	s.GapCount = gaps
	s.ProcessingTimeMs = elapsed
	s.ParserName = parserName
	s.Errors = append(s.Errors, skipped...)
	if ds != nil {
		s.Storage = "duckdb"
		s.PositionCount = ds.Len()
	} else {
		s.Storage = "memory"
		s.PositionCount = len(positions)
	}
	if merged.TimeRange != nil {
		s.StartTime = merged.TimeRange.Start.Unix()
		s.EndTime = merged.TimeRange.End.Unix()
	}
	storage := s.Storage
	m.notifyLocked(state)
	m.mu.Unlock()

	fmt.Printf("[Parse %s] Complete in %dms (%s)\n", shortID(sessionID), elapsed, storage)
}

// progressFunc maps parser progress of file i out of n onto 0-80 %.
func (m *Manager) progressFunc(sessionID string, i, n int) parser.ProgressCallback {
	return func(fixes int, bytesRead, totalBytes int64) {
		frac := 0.0
		if totalBytes > 0 {
			frac = float64(bytesRead) / float64(totalBytes)
		}
		progress := (float64(i) + frac) * 80.0 / float64(n)
		// Clamp below 80% during parsing (80-100% is for assembly and storage)
		if progress > 79.9 {
			progress = 79.9
		}
		m.update(sessionID, func(s *models.ParseSession) {
			s.Progress = progress
			s.FixCount = fixes
		})
	}
}

func (m *Manager) storePositions(sessionID string, positions []models.Position) (*parser.DuckStore, error) {
	fmt.Printf("[Parse %s] Creating DuckDB store in %s...\n", shortID(sessionID), m.opts.TempDir)
	ds, err := parser.NewDuckStore(m.opts.TempDir, sessionID, m.opts.DuckStore)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	for _, p := range positions {
		ds.AddPosition(p)
	}
	if err := ds.Finalize(); err != nil {
		ds.Close()
		return nil, fmt.Errorf("failed to store positions: %w", err)
	}
	return ds, nil
}

func logMemory(sessionID string) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	allocMB := float64(memStats.Alloc) / 1024 / 1024
	sysMB := float64(memStats.Sys) / 1024 / 1024
	fmt.Printf("[Parse %s] Memory: %.1f MB (alloc) / %.1f MB (sys)\n", shortID(sessionID), allocMB, sysMB)
}

// update applies fn to a running session and notifies subscribers.
func (m *Manager) update(sessionID string, fn func(s *models.ParseSession)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	fn(state.Session)
	m.notifyLocked(state)
}

func (m *Manager) failSession(sessionID string, fileIDs []string, reason string) {
	m.mu.Lock()
	if state, ok := m.sessions[sessionID]; ok {
		state.Session.Status = models.SessionStatusError
		state.Session.Errors = append(state.Session.Errors, models.ParseError{
			Reason: reason,
		})
		m.notifyLocked(state)
	}
	m.mu.Unlock()

	m.setFileStatus(fileIDs, models.FileStatusError)
}

func (m *Manager) setFileStatus(fileIDs []string, status string) {
	if m.opts.Files == nil {
		return
	}
	for _, id := range fileIDs {
		if err := m.opts.Files.SetStatus(id, status); err != nil {
			fmt.Printf("[Manager] Failed to set status of file %s: %v\n", shortID(id), err)
		}
	}
}

// notifyLocked pushes a snapshot to every subscriber, replacing an unread one.
// Subscribers are closed once the session is done. m.mu must be held.
func (m *Manager) notifyLocked(state *SessionState) {
	if len(state.subscribers) == 0 {
		return
	}
	snapshot := state.Session.Clone()
	for _, ch := range state.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
		if snapshot.Done() {
			close(ch)
		}
	}
	if snapshot.Done() {
		state.subscribers = nil
	}
}

// Subscribe returns a channel receiving session snapshots. The current state is
// delivered first; the channel is closed when the session completes, fails or
// is deleted. Only the latest snapshot is buffered. The returned func cancels
// the subscription.
func (m *Manager) Subscribe(id string) (<-chan *models.ParseSession, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	ch := make(chan *models.ParseSession, 1)
	ch <- state.Session.Clone()
	if state.Session.Done() {
		close(ch)
		return ch, func() {}, nil
	}
	state.subscribers = append(state.subscribers, ch)

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range state.subscribers {
			if sub == ch {
				state.subscribers = append(state.subscribers[:i], state.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

// closeLocked releases a session's storage and subscribers. m.mu must be held.
func (m *Manager) closeLocked(id string, state *SessionState) {
	if state.DuckStore != nil {
		state.DuckStore.Close()
	}
	for _, ch := range state.subscribers {
		close(ch)
	}
	state.subscribers = nil
	delete(m.sessions, id)
}

// cleanupOldSessionsIfNeeded removes the least recently used finished sessions
// if at capacity
func (m *Manager) cleanupOldSessionsIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) < MaxSessions {
		return
	}

	var done []string
	for id, state := range m.sessions {
		if state.Session.Done() {
			done = append(done, id)
		}
	}
	sort.Slice(done, func(i, j int) bool {
		return m.sessions[done[i]].LastAccessed.Before(m.sessions[done[j]].LastAccessed)
	})

	toFree := len(m.sessions) - MaxSessions + 1
	for i := 0; i < toFree && i < len(done); i++ {
		m.closeLocked(done[i], m.sessions[done[i]])
		fmt.Printf("[Manager] Cleaned up old session %s to free memory\n", shortID(done[i]))
	}
}

// CleanupOldSessions removes finished sessions not accessed within maxAge,
// but keeps sessions that have been accessed within SessionKeepAliveWindow.
// It returns the number of removed sessions.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := maxAge
	if window < SessionKeepAliveWindow {
		window = SessionKeepAliveWindow
	}
	cutoff := time.Now().Add(-window)

	removed := 0
	for id, state := range m.sessions {
		if !state.Session.Done() {
			continue
		}
		if state.LastAccessed.After(cutoff) {
			continue
		}
		idle := time.Since(state.LastAccessed).Round(time.Second)
		m.closeLocked(id, state)
		removed++
		fmt.Printf("[Manager] Cleaned up aged session %s (last accessed: %s ago)\n", shortID(id), idle)
	}
	return removed
}

// DeleteSession removes a session and its storage.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	m.closeLocked(id, state)
	return nil
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, state := range m.sessions {
		m.closeLocked(id, state)
	}
}

// GetSession returns a snapshot of a session by ID.
func (m *Manager) GetSession(id string) (*models.ParseSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return state.Session.Clone(), true
}

// TouchSession updates the LastAccessed timestamp for a session.
// This should be called whenever a session is actively being used
// to prevent it from being cleaned up.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// completedLocked returns a completed session. m.mu must be held.
func (m *Manager) completedLocked(id string) (*SessionState, error) {
	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if state.Session.Status != models.SessionStatusComplete {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, state.Session.Status)
	}
	return state, nil
}

// GetPositions returns a page of assembled positions and the total count.
// Pages start at 1.
func (m *Manager) GetPositions(ctx context.Context, id string, page, pageSize int) ([]models.Position, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, err := m.completedLocked(id)
	if err != nil {
		return nil, 0, err
	}

	total := state.Session.PositionCount
	if pageSize <= 0 {
		pageSize = total
	}
	start := (page - 1) * pageSize
	if start < 0 {
		start = 0
	}
	if start >= total {
		return []models.Position{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	// Use DuckStore if available (memory-efficient)
	if state.DuckStore != nil {
		positions, err := state.DuckStore.GetPositions(ctx, start, end-start)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				fmt.Printf("[Manager] GetPositions timeout/cancelled for session %s\n", shortID(id))
			}
			return nil, 0, err
		}
		return positions, total, nil
	}

	return state.Positions[start:end], total, nil
}

// GetChunk returns the positions whose time lies in the inclusive window
// [start, end], in track order.
func (m *Manager) GetChunk(ctx context.Context, id string, start, end int64) ([]models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, err := m.completedLocked(id)
	if err != nil {
		return nil, err
	}

	// Use DuckStore if available (memory-efficient + indexed)
	if state.DuckStore != nil {
		return state.DuckStore.GetWindow(ctx, start, end)
	}

	out := make([]models.Position, 0)
	for _, p := range state.Positions {
		if p.Time >= start && p.Time <= end {
			out = append(out, p)
		}
	}
	return out, nil
}

// allPositions returns every assembled position together with a session
// snapshot.
func (m *Manager) allPositions(ctx context.Context, id string) ([]models.Position, *models.ParseSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, err := m.completedLocked(id)
	if err != nil {
		return nil, nil, err
	}
	if state.DuckStore != nil {
		positions, err := state.DuckStore.All(ctx)
		if err != nil {
			return nil, nil, err
		}
		return positions, state.Session.Clone(), nil
	}
	return state.Positions, state.Session.Clone(), nil
}

// GetTrackInfo computes the statistics report of a session for the given
// speed limit. Errors wrapping track.ErrInvalidData mean the assembled track
// holds an invalid speed. Successful reports are saved when a report store is
// configured.
func (m *Manager) GetTrackInfo(ctx context.Context, id string, speedLimit float64) (*models.TrackInfo, error) {
	positions, session, err := m.allPositions(ctx, id)
	if err != nil {
		return nil, err
	}

	info, err := track.Calculate(positions, speedLimit)
	if err != nil {
		return nil, err
	}

	if m.opts.Reports != nil {
		rec := &models.ReportRecord{
			SessionID:  id,
			FileIDs:    session.FileIDs,
			SpeedLimit: speedLimit,
			Report:     *info,
		}
		if err := m.opts.Reports.SaveReport(ctx, rec); err != nil {
			fmt.Printf("[Manager] Failed to save report for session %s: %v\n", shortID(id), err)
		}
	}
	return info, nil
}

// GetSummary describes the extent of a session's track.
func (m *Manager) GetSummary(ctx context.Context, id string) (*models.TrackSummary, error) {
	positions, session, err := m.allPositions(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := track.Summarize(positions, session.GapCount)
	return &summary, nil
}

// GetReports lists saved reports involving a file, newest first.
func (m *Manager) GetReports(ctx context.Context, fileID string, limit int) ([]*models.ReportRecord, error) {
	if m.opts.Reports == nil {
		return []*models.ReportRecord{}, nil
	}
	return m.opts.Reports.ListReports(ctx, fileID, limit)
}

// Stats reports session counts, temp directory usage and the parsers in use.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	active, duck := 0, 0
	for _, state := range m.sessions {
		if !state.Session.Done() {
			active++
		}
		if state.DuckStore != nil {
			duck++
		}
	}
	total := len(m.sessions)
	m.mu.RUnlock()

	return map[string]interface{}{
		"sessions":       total,
		"activeSessions": active,
		"duckdbSessions": duck,
		"tempBytes":      sessionFilesSize(m.opts.TempDir),
		"parsers":        m.registry.Names(),
	}
}
