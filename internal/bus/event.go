package bus

import "time"

// Event kinds published by the engines. Subscribers filter by prefix,
// e.g. "feed." receives every feed event.
const (
	KindFeedChanged    = "feed.changed"
	KindFeedIncoming   = "feed.incoming"
	KindFeedSendFailed = "feed.send_failed"

	KindRoomChanged      = "room.changed"
	KindRoomStateChanged = "room.state_changed"

	KindRealtimeConnected    = "realtime.connected"
	KindRealtimeDisconnected = "realtime.disconnected"
)

// Event is a domain event delivered through the in-process bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
