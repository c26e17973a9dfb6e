package agentchat

import "strings"

// DefaultRoom is used when no room is supplied.
const DefaultRoom = "default_room"

// RoomContext carries the externally supplied room selection.
type RoomContext struct {
	param string
}

// NewRoomContext wraps a room selection, typically a flag or env value.
func NewRoomContext(param string) RoomContext {
	return RoomContext{param: param}
}

// Resolve returns the active room, falling back to DefaultRoom.
func (rc RoomContext) Resolve() string {
	if room := strings.TrimSpace(rc.param); room != "" {
		return room
	}
	return DefaultRoom
}
