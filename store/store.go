// Package store defines the shared state tree every room participant reads
// and writes, plus the two implementations shipped with this module: an
// in-process memory tree (used by the relay) and a websocket client that
// talks to a relay (used by game clients).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrUnavailable is returned by every operation once the backing store can no
// longer be reached. Callers are expected to log and carry on unsynchronized.
var ErrUnavailable = errors.New("store unavailable")

// Event describes a change to one path of the tree. Value is nil when the
// path was deleted.
type Event struct {
	Path    string
	Value   json.RawMessage
	Deleted bool
}

type UnsubscribeFunc func()

// Store is the capability handed to the lifecycle manager, reaper and
// session adapter. Writes are atomic per path; there are no transactions
// spanning multiple paths.
type Store interface {
	// Set replaces the subtree at path with value.
	Set(ctx context.Context, path string, value any) error
	// Get reads the subtree at path into dest, reporting whether it exists.
	// dest may be a *json.RawMessage to receive the raw payload.
	Get(ctx context.Context, path string, dest any) (bool, error)
	// Delete removes the whole subtree at path. Deleting an absent path is
	// a no-op.
	Delete(ctx context.Context, path string) error
	// Keys lists the immediate child keys under path.
	Keys(ctx context.Context, path string) ([]string, error)
	// Subscribe registers fn for every change at or below path. The returned
	// func detaches the subscription.
	Subscribe(path string, fn func(Event)) UnsubscribeFunc
}

// HostPresence is implemented by stores that track liveness of a room's host
// connection. The relay uses a dropped host connection to trigger room
// closure, so hosts register themselves after creating a room.
type HostPresence interface {
	// Host marks the current connection as the host of roomCode and returns
	// a key that can resume host status on a fresh connection.
	Host(ctx context.Context, roomCode string) (string, error)
	// Resume reclaims host status for roomCode using a previously issued key.
	Resume(ctx context.Context, roomCode, key string) error
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

// pathsOverlap reports whether one path is equal to or an ancestor of the
// other, segment-wise.
func pathsOverlap(a, b string) bool {
	as, bs := splitPath(a), splitPath(b)
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
