package remote

import (
	"fmt"
	"time"
)

// Table and column names on the backend.
const (
	TableMessages   = "messages"
	TableMinistries = "ministries"
	TableMembers    = "ministry_members"
	TableProfiles   = "profiles"

	ColMinistryID = "ministry_id"
	ColSentAt     = "sent_at"
)

// MessageSelect is the projection used for message reads: every message
// column plus the joined author profile.
const MessageSelect = "*,author:profiles(id,full_name,avatar_url)"

// MessageRow is the wire shape of a message row.
type MessageRow struct {
	ID         string      `json:"id"`
	MinistryID string      `json:"ministry_id"`
	UserID     string      `json:"user_id"`
	Content    string      `json:"content"`
	SentAt     string      `json:"sent_at"`
	PushSent   bool        `json:"push_sent"`
	Author     *ProfileRow `json:"author,omitempty"`
}

// NewMessageRow is the insert shape for a message.
type NewMessageRow struct {
	MinistryID string `json:"ministry_id"`
	UserID     string `json:"user_id"`
	Content    string `json:"content"`
	PushSent   bool   `json:"push_sent"`
}

// ProfileRow is the wire shape of a user profile.
type ProfileRow struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
}

// MinistryRow is the wire shape of a ministry (room).
type MinistryRow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatar_url"`
}

// MemberRow is the wire shape of a ministry membership row.
type MemberRow struct {
	ID         string `json:"id"`
	MinistryID string `json:"ministry_id"`
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
}

// ParseTimestamp converts a backend timestamp to unix milliseconds. The
// backend emits RFC3339 with or without a zone suffix; zoneless values are
// UTC.
func ParseTimestamp(s string) (int64, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTimestamp renders unix milliseconds in the form the backend's
// timestamp filters expect.
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.999Z07:00")
}
