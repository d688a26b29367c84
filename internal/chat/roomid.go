package chat

import (
	"strings"
)

const roomIdSeparator = "_"

// ComputeRoomID derives the canonical key for a two-party
// conversation. The lower identifier always comes first, so
// ComputeRoomID(a, b) == ComputeRoomID(b, a) and the key never changes
// once two users have exchanged a message.
func ComputeRoomID(uidA, uidB string) (string, error) {
	if err := validateUserId(uidA); err != nil {
		return "", err
	}
	if err := validateUserId(uidB); err != nil {
		return "", err
	}

	if uidA < uidB {
		return uidA + roomIdSeparator + uidB, nil
	}
	return uidB + roomIdSeparator + uidA, nil
}

func validateUserId(uid string) error {
	if uid == "" || strings.TrimSpace(uid) != uid {
		return ErrInvalidIdentifier
	}
	// the separator inside an identifier would make two different
	// pairs collide on the same room key
	if strings.Contains(uid, roomIdSeparator) {
		return ErrInvalidIdentifier
	}
	if strings.ContainsAny(uid, "/\n") {
		return ErrInvalidIdentifier
	}
	return nil
}
