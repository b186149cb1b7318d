package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Stream message types.
const (
	TypePresence       = "presence"
	TypeComment        = "comment"
	TypeCommentUpdated = "comment_updated"
	TypePing           = "ping"
)

// Presence statuses carried on the wire.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// ErrMissingUserID is returned for presence pushes without a user_id.
var ErrMissingUserID = errors.New("presence event missing user_id")

// Presence is a server push describing one collaborator's presence change.
type Presence struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`    // online, away, offline
	Timestamp int64  `json:"timestamp"` // ms since epoch, 0 if not provided
}

// CommentData locates a comment change within a shared paper.
type CommentData struct {
	PaperID   string `json:"paper_id"`
	SectionID string `json:"section_id"`
	Action    string `json:"action"` // created, updated, resolved, deleted
}

// Comment is a server push describing a comment change on a shared paper.
type Comment struct {
	Type string      `json:"type"`
	Data CommentData `json:"data"`
}

// ParsePresence decodes a presence push. Pushes without a user_id carry
// nothing actionable and are rejected.
func ParsePresence(raw []byte) (Presence, error) {
	var p Presence
	if err := json.Unmarshal(raw, &p); err != nil {
		return Presence{}, fmt.Errorf("parse presence: %w", err)
	}
	if p.UserID == "" {
		return Presence{}, ErrMissingUserID
	}
	return p, nil
}

// ParseComment decodes a comment push.
func ParseComment(raw []byte) (Comment, error) {
	var c Comment
	if err := json.Unmarshal(raw, &c); err != nil {
		return Comment{}, fmt.Errorf("parse comment: %w", err)
	}
	return c, nil
}

// TimeFromMillis converts a wire timestamp to a time.Time.
// Zero maps to the zero time rather than the Unix epoch.
func TimeFromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Millis converts t to ms since epoch, with the zero time mapping to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
