// handlers_parse.go - Parse session operation handlers
package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/gpx-analyzer/backend/internal/storage"
	"github.com/gpx-analyzer/backend/internal/track"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEApplicationMsgpack is the content type of msgpack responses.
const MIMEApplicationMsgpack = "application/x-msgpack"

const (
	defaultPageSize = 1000
	maxPageSize     = 10000
)

// ParseHandlerImpl implements the ParseHandler interface
type ParseHandlerImpl struct {
	store        storage.Store
	sessionMgr   SessionManager
	profiles     *ProfileStore
	defaultLimit float64
}

// NewParseHandler creates a new parse handler instance. profiles may be nil.
func NewParseHandler(store storage.Store, sessionMgr SessionManager, profiles *ProfileStore, defaultLimit float64) ParseHandler {
	return &ParseHandlerImpl{
		store:        store,
		sessionMgr:   sessionMgr,
		profiles:     profiles,
		defaultLimit: defaultLimit,
	}
}

// HandleStartParse starts a new parsing session for one or more files
func (h *ParseHandlerImpl) HandleStartParse(c echo.Context) error {
	var req startParseRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	// Normalize to array of file IDs
	fileIDs := req.normalizeFileIDs()
	if len(fileIDs) == 0 {
		return NewValidationError("fileId or fileIds")
	}

	// Get file paths for all files
	filePaths, validFileIDs, err := h.resolveFilePaths(fileIDs)
	if err != nil {
		return err
	}

	sess, err := h.sessionMgr.StartMultiSession(validFileIDs, filePaths)
	if err != nil {
		return NewInternalError("failed to start session", err)
	}

	return c.JSON(http.StatusAccepted, sess)
}

// HandleParseStatus returns the current status of a parsing session
func (h *ParseHandlerImpl) HandleParseStatus(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	// Touch session to prevent cleanup while being viewed
	h.sessionMgr.TouchSession(id)

	return c.JSON(http.StatusOK, sess)
}

// HandleSessionKeepAlive extends session lifetime for active viewing
func (h *ParseHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	if ok := h.sessionMgr.TouchSession(id); !ok {
		return NewNotFoundError("session", id)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleDeleteSession drops a session and its stored positions
func (h *ParseHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	if err := h.sessionMgr.DeleteSession(id); err != nil {
		return sessionError(id, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleParseProgressStream streams parsing progress via SSE
func (h *ParseHandlerImpl) HandleParseProgressStream(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	updates, cancel, err := h.sessionMgr.Subscribe(id)
	if err != nil {
		return sessionError(id, err)
	}
	defer cancel()

	startSSE(c)

	timeout := time.NewTimer(5 * time.Minute)
	defer timeout.Stop()

	for {
		select {
		case sess, ok := <-updates:
			if !ok {
				return nil
			}
			sendSSEData(c, sess)
			if sess.Done() {
				return nil
			}

		case <-timeout.C:
			sendSSEError(c, "stream timeout")
			return nil

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// HandleParsePositions returns paginated assembled positions for a session
func (h *ParseHandlerImpl) HandleParsePositions(c echo.Context) error {
	resp, err := h.positionsPage(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleParsePositionsMsgpack returns the same page in MessagePack format
func (h *ParseHandlerImpl) HandleParsePositionsMsgpack(c echo.Context) error {
	resp, err := h.positionsPage(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(resp)
	if err != nil {
		return NewInternalError("failed to encode positions", err)
	}
	return c.Blob(http.StatusOK, MIMEApplicationMsgpack, data)
}

func (h *ParseHandlerImpl) positionsPage(c echo.Context) (*positionsResponse, error) {
	id := c.Param("sessionId")
	if id == "" {
		return nil, NewValidationError("sessionId")
	}

	// Parse pagination params
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("pageSize"))
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	positions, total, err := h.sessionMgr.GetPositions(c.Request().Context(), id, page, pageSize)
	if err != nil {
		return nil, sessionError(id, err)
	}
	h.sessionMgr.TouchSession(id)

	return &positionsResponse{
		Positions: positions,
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
	}, nil
}

// HandleParseChunk returns positions within an inclusive time window given in
// Unix seconds
func (h *ParseHandlerImpl) HandleParseChunk(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	start, err := parseUnixParam(c.QueryParam("start"))
	if err != nil {
		return NewBadRequestError("invalid start time", err)
	}
	end, err := parseUnixParam(c.QueryParam("end"))
	if err != nil {
		return NewBadRequestError("invalid end time", err)
	}
	if end < start {
		return NewBadRequestError("end is before start", nil)
	}

	positions, err := h.sessionMgr.GetChunk(c.Request().Context(), id, start, end)
	if err != nil {
		return sessionError(id, err)
	}
	h.sessionMgr.TouchSession(id)

	return c.JSON(http.StatusOK, positions)
}

// HandleTrackStats computes the statistics report. The limit comes from the
// speedLimit parameter, else the named profile, else the default profile,
// else the configured default.
func (h *ParseHandlerImpl) HandleTrackStats(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	limit, profile, err := h.resolveSpeedLimit(c)
	if err != nil {
		return err
	}

	info, err := h.sessionMgr.GetTrackInfo(c.Request().Context(), id, limit)
	if err != nil {
		return sessionError(id, err)
	}
	h.sessionMgr.TouchSession(id)

	return c.JSON(http.StatusOK, trackStatsResponse{
		SessionID:         id,
		Profile:           profile,
		Report:            info,
		DriveDuration:     track.FormatDuration(info.DriveDuration),
		IdleDuration:      track.FormatDuration(info.IdleDuration),
		OverSpeedDuration: track.FormatDuration(info.OverSpeedDuration),
	})
}

// HandleTrackSummary returns the extent of the session's track
func (h *ParseHandlerImpl) HandleTrackSummary(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	summary, err := h.sessionMgr.GetSummary(c.Request().Context(), id)
	if err != nil {
		return sessionError(id, err)
	}
	h.sessionMgr.TouchSession(id)

	return c.JSON(http.StatusOK, summary)
}

func (h *ParseHandlerImpl) resolveSpeedLimit(c echo.Context) (float64, string, error) {
	if raw := c.QueryParam("speedLimit"); raw != "" {
		limit, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(limit) || math.IsInf(limit, 0) {
			return 0, "", NewBadRequestError("invalid speedLimit", err)
		}
		return limit, "", nil
	}

	if name := c.QueryParam("profile"); name != "" {
		p, ok := h.profiles.Find(name)
		if !ok {
			return 0, "", NewNotFoundError("profile", name)
		}
		return p.LimitKmh, p.Name, nil
	}

	if p, ok := h.profiles.Default(); ok {
		return p.LimitKmh, p.Name, nil
	}
	return h.defaultLimit, "", nil
}

// Request/Response types

type startParseRequest struct {
	FileID  string   `json:"fileId"`
	FileIDs []string `json:"fileIds"`
}

func (r *startParseRequest) normalizeFileIDs() []string {
	if len(r.FileIDs) > 0 {
		return r.FileIDs
	}
	if r.FileID != "" {
		return []string{r.FileID}
	}
	return nil
}

type positionsResponse struct {
	Positions []models.Position `json:"positions" msgpack:"positions"`
	Page      int               `json:"page" msgpack:"page"`
	PageSize  int               `json:"pageSize" msgpack:"pageSize"`
	Total     int               `json:"total" msgpack:"total"`
}

type trackStatsResponse struct {
	SessionID         string            `json:"sessionId"`
	Profile           string            `json:"profile,omitempty"`
	Report            *models.TrackInfo `json:"report"`
	DriveDuration     string            `json:"driveDurationText"`
	IdleDuration      string            `json:"idleDurationText"`
	OverSpeedDuration string            `json:"overSpeedDurationText"`
}

// Helper methods

func (h *ParseHandlerImpl) resolveFilePaths(fileIDs []string) ([]string, []string, error) {
	var filePaths []string
	var validFileIDs []string

	for _, fid := range fileIDs {
		info, err := h.store.Get(fid)
		if err != nil {
			return nil, nil, NewNotFoundError("file", fid)
		}

		path, err := h.store.GetFilePath(fid)
		if err != nil {
			return nil, nil, NewInternalError("failed to get file path", err)
		}

		validFileIDs = append(validFileIDs, info.ID)
		filePaths = append(filePaths, path)
	}

	return filePaths, validFileIDs, nil
}

func startSSE(c echo.Context) {
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
}

func sendSSEData(c echo.Context, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func sendSSEError(c echo.Context, message string) {
	sendSSEData(c, map[string]string{"error": message})
}

func parseUnixParam(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
