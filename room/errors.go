package room

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrPlayerNotFound = errors.New("player not found")
	ErrRoomFull       = errors.New("room is full")
	ErrNotJoinable    = errors.New("room is not accepting players")
	ErrNotHost        = errors.New("operation restricted to the host")
	ErrCodeExhausted  = errors.New("could not allocate an unused room code")
	ErrDataPublished  = errors.New("game data already published")
	ErrBelowMinimum   = errors.New("not enough players to start")
	ErrNotAllReady    = errors.New("not every player is ready")
)

// ValidationError reports user-correctable input problems with a reason fit
// for inline display.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransitionError reports an illegal status-machine edge. It indicates a
// protocol ordering bug on the caller's side and is never coerced into a
// legal transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal room status transition %s -> %s", e.From, e.To)
}
