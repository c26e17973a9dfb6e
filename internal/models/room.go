package models

import "regexp"

// Room name validation: alphanumeric, hyphens, underscores, 1-50 chars
var roomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// ValidRoomName reports whether name can be used as a room identifier.
func ValidRoomName(name string) bool {
	return roomNameRegex.MatchString(name)
}
