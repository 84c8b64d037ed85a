package feed

// Status is a message delivery status.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// Profile is a denormalized author profile attached to messages at read time.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Message is one chat message in a room's working set. Until the server
// acknowledges a send, ID is a locally generated temporary id.
type Message struct {
	ID       string  `json:"id"`
	RoomID   string  `json:"room_id"`
	AuthorID string  `json:"author_id"`
	Body     string  `json:"body"`
	SentAt   int64   `json:"sent_at"` // unix milliseconds
	Author   Profile `json:"author"`
	Status   Status  `json:"status"`
}

// Snapshot is the read-only view exposed to the presentation layer.
type Snapshot struct {
	RoomID      string    `json:"room_id"`
	Messages    []Message `json:"messages"`
	Loading     bool      `json:"loading"`
	LoadingMore bool      `json:"loading_more"`
	AllLoaded   bool      `json:"all_loaded"`
	PendingText string    `json:"pending_text"`
}

// cachedFeed is the JSON envelope persisted to the local cache.
type cachedFeed struct {
	Messages []Message `json:"messages"`
}
