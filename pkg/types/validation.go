package types

import "regexp"

var roomNameRegex = regexp.MustCompile(`^[^\x00-\x1f]+$`)

// IsValidEventName reports whether name can travel as an envelope event.
func IsValidEventName(name string) bool {
	return name != ""
}

// IsValidRoomName checks the room names accepted from untrusted clients
// (the chat handlers). The core itself accepts any string.
func IsValidRoomName(room string) bool {
	if len(room) < 1 || len(room) > 100 {
		return false
	}
	return roomNameRegex.MatchString(room)
}
