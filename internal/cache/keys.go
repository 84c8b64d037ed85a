package cache

// Key namers. Keys are partitioned by entity so concurrent writers for
// different rooms never touch the same entry.

// MessagesKey names the cached message collection for a room.
func MessagesKey(roomID string) string {
	return "ministry:" + roomID + ":messages"
}

// RoomKey names the cached metadata for a room.
func RoomKey(roomID string) string {
	return "ministry:" + roomID + ":meta"
}

// MembershipKey names the cached membership flag for a (room, user) pair.
func MembershipKey(roomID, userID string) string {
	return "ministry:" + roomID + ":member:" + userID
}
