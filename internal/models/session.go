package models

// SessionStatus represents the status of a parse session.
type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusParsing  SessionStatus = "parsing"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusError    SessionStatus = "error"
)

// ParseSession represents the parse and assembly of one or more track files.
type ParseSession struct {
	ID               string        `json:"id"`
	FileID           string        `json:"fileId"`
	FileIDs          []string      `json:"fileIds,omitempty"` // All file IDs for merged sessions
	Status           SessionStatus `json:"status"`
	Progress         float64       `json:"progress"` // 0-100
	FixCount         int           `json:"fixCount"`
	PositionCount    int           `json:"positionCount"`
	GapCount         int           `json:"gapCount"`
	SkippedCount     int           `json:"skippedCount"`
	ProcessingTimeMs int64         `json:"processingTimeMs,omitempty"`
	StartTime        int64         `json:"startTime,omitempty"` // Unix seconds
	EndTime          int64         `json:"endTime,omitempty"`   // Unix seconds
	ParserName       string        `json:"parserName,omitempty"`
	Storage          string        `json:"storage,omitempty"` // "memory" or "duckdb"
	Errors           []ParseError  `json:"errors,omitempty"`
}

// Done reports whether the session has reached a terminal status.
func (s *ParseSession) Done() bool {
	return s.Status == SessionStatusComplete || s.Status == SessionStatusError
}

// Clone returns a copy that is safe to hand out while the session keeps changing.
func (s *ParseSession) Clone() *ParseSession {
	c := *s
	c.FileIDs = append([]string(nil), s.FileIDs...)
	c.Errors = append([]ParseError(nil), s.Errors...)
	return &c
}

// ParseError describes a skipped track-point or a session failure.
type ParseError struct {
	Offset  int    `json:"offset"`
	Content string `json:"content,omitempty"`
	Reason  string `json:"reason"`
}

// NewParseSession creates a new ParseSession in pending status.
func NewParseSession(id, fileID string) *ParseSession {
	return &ParseSession{
		ID:       id,
		FileID:   fileID,
		FileIDs:  []string{fileID},
		Status:   SessionStatusPending,
		Progress: 0,
		Errors:   make([]ParseError, 0),
	}
}
