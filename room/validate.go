package room

import (
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"roomsync/code"
)

// Validation is pure: identical snapshots always produce identical verdicts,
// so every client can enforce the same rules redundantly.

func ValidateRoomCode(c string, length int) error {
	if !code.Valid(c, length) {
		return &ValidationError{Field: "room code", Reason: fmt.Sprintf(
			"must be %d characters from the room code alphabet", length)}
	}
	return nil
}

const (
	minNameLen = 2
	maxNameLen = 50
)

func ValidatePlayerName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < minNameLen || n > maxNameLen {
		return &ValidationError{Field: "player name", Reason: "must be between 2 and 50 characters"}
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' && r != '-' && r != '_' {
			return &ValidationError{Field: "player name", Reason: "contains unsupported characters"}
		}
	}
	return nil
}

// CanJoinRoom reports whether a new player may enter: the room must still be
// gathering players and below capacity.
func CanJoinRoom(snap Snapshot) error {
	if snap.Meta.Status != StatusWaiting {
		return ErrNotJoinable
	}
	if len(snap.Players) >= snap.Meta.MaxPlayers {
		return ErrRoomFull
	}
	return nil
}

// CanStartGame reports whether requesterID may start the race: host only,
// still waiting, enough players, and every non-host player ready.
func CanStartGame(snap Snapshot, requesterID string, minPlayers int) error {
	if requesterID != snap.Meta.HostID {
		return ErrNotHost
	}
	if snap.Meta.Status != StatusWaiting {
		return ErrNotJoinable
	}
	if len(snap.Players) < minPlayers {
		return ErrBelowMinimum
	}
	for id, p := range snap.Players {
		if id == snap.Meta.HostID {
			continue
		}
		if !p.IsReady {
			return ErrNotAllReady
		}
	}
	return nil
}

func IsRoomExpired(snap Snapshot, now time.Time, window time.Duration) bool {
	return now.Sub(millisToTime(snap.Meta.CreatedAt)) > window
}
