package room

// Room is the metadata of one ministry (chat room).
type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatar_url"`
	// MemberCount is a best-effort snapshot recomputed from the roster,
	// never maintained incrementally.
	MemberCount int `json:"member_count"`
}

// Membership is the cached (room, user) membership flag.
type Membership struct {
	IsMember  bool  `json:"is_member"`
	CheckedAt int64 `json:"checked_at"` // unix milliseconds
}

// Snapshot is the read-only view exposed to the presentation layer.
type Snapshot struct {
	RoomID   string `json:"room_id"`
	Room     Room   `json:"room"`
	IsMember bool   `json:"is_member"`
	State    State  `json:"state"`
	Loading  bool   `json:"loading"`
	Error    string `json:"error,omitempty"`
}
