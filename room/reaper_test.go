package room

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/store"
)

func newTestReaper(t *testing.T) (*Reaper, *store.Memory) {
	t.Helper()
	cfg := testConfig()
	cfg.CloseAnnounceGrace = 10 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond
	st := store.NewMemory()
	return NewReaper(st, cfg, zerolog.Nop()), st
}

func seedRoom(t *testing.T, st *store.Memory, roomCode string, meta Meta, players map[string]Player) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "rooms/"+roomCode+"/meta", meta))
	for id, p := range players {
		require.NoError(t, st.Set(ctx, "rooms/"+roomCode+"/players/"+id, p))
	}
}

func roomExists(t *testing.T, st *store.Memory, roomCode string) bool {
	t.Helper()
	var raw json.RawMessage
	found, err := st.Get(context.Background(), "rooms/"+roomCode, &raw)
	require.NoError(t, err)
	return found
}

func TestSweepPredicates(t *testing.T) {
	r, st := newTestReaper(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()
	old := time.Now().Add(-time.Hour).UnixMilli()
	alive := Player{ID: "p", Status: PlayerPlaying, LastSeen: now}

	seedRoom(t, st, "expire", Meta{Status: StatusPlaying, HostID: "p", CreatedAt: old},
		map[string]Player{"p": alive})
	seedRoom(t, st, "noplay", Meta{Status: StatusWaiting, HostID: "p", CreatedAt: now}, nil)
	seedRoom(t, st, "exited", Meta{Status: StatusPlaying, HostID: "p", CreatedAt: now},
		map[string]Player{"p": {ID: "p", Exited: true}, "q": {ID: "q", Exited: true}})
	seedRoom(t, st, "doneol", Meta{Status: StatusFinished, HostID: "p", CreatedAt: now, FinishedAt: old},
		map[string]Player{"p": alive})
	seedRoom(t, st, "nohost", Meta{Status: StatusPlaying, HostID: "h", CreatedAt: now},
		map[string]Player{"h": {ID: "h", Status: PlayerDisconnected, LastSeen: now}})
	seedRoom(t, st, "active", Meta{Status: StatusPlaying, HostID: "p", CreatedAt: now},
		map[string]Player{"p": alive, "q": {ID: "q", Status: PlayerPlaying, LastSeen: now}})
	seedRoom(t, st, "fresh1", Meta{Status: StatusFinished, HostID: "p", CreatedAt: now, FinishedAt: now},
		map[string]Player{"p": alive})

	require.NoError(t, r.Sweep(ctx))

	for _, gone := range []string{"expire", "noplay", "exited", "doneol", "nohost"} {
		assert.False(t, roomExists(t, st, gone), "room %s should be reaped", gone)
	}
	for _, kept := range []string{"active", "fresh1"} {
		assert.True(t, roomExists(t, st, kept), "room %s should survive", kept)
	}
}

func TestSweepIdempotent(t *testing.T) {
	r, st := newTestReaper(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	seedRoom(t, st, "stale1", Meta{Status: StatusWaiting, CreatedAt: time.Now().Add(-time.Hour).UnixMilli()}, nil)
	seedRoom(t, st, "keeper", Meta{Status: StatusPlaying, HostID: "p", CreatedAt: now},
		map[string]Player{"p": {ID: "p", Status: PlayerPlaying, LastSeen: now}})

	require.NoError(t, r.Sweep(ctx))
	var first json.RawMessage
	_, err := st.Get(ctx, "rooms", &first)
	require.NoError(t, err)

	require.NoError(t, r.Sweep(ctx))
	var second json.RawMessage
	_, err = st.Get(ctx, "rooms", &second)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second), "second sweep must change nothing")
}

func TestHandleHostDisconnectAnnouncesBeforeDeleting(t *testing.T) {
	r, st := newTestReaper(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	seedRoom(t, st, "dedead", Meta{Status: StatusPlaying, HostID: "h", CreatedAt: now},
		map[string]Player{"h": {ID: "h"}, "p": {ID: "p"}})

	var sequence []string
	unsub := st.Subscribe("rooms/dedead", func(ev store.Event) {
		if ev.Path == "rooms/dedead/meta/status" && !ev.Deleted {
			var status Status
			if json.Unmarshal(ev.Value, &status) == nil && status == StatusClosed {
				sequence = append(sequence, "closed")
			}
		}
		if ev.Path == "rooms/dedead" && ev.Deleted {
			sequence = append(sequence, "deleted")
		}
	})
	defer unsub()

	require.NoError(t, r.HandleHostDisconnect(ctx, "dedead"))

	require.Equal(t, []string{"closed", "deleted"}, sequence)
	assert.False(t, roomExists(t, st, "dedead"))

	var meta Meta
	found, err := st.Get(ctx, "rooms/dedead/meta", &meta)
	require.NoError(t, err)
	assert.False(t, found)

	// Running it again against the vanished room is a no-op.
	require.NoError(t, r.HandleHostDisconnect(ctx, "dedead"))
}

func TestRemoveInactivePlayers(t *testing.T) {
	r, st := newTestReaper(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()
	stale := time.Now().Add(-time.Hour).UnixMilli()

	seedRoom(t, st, "prunes", Meta{Status: StatusPlaying, HostID: "h", CreatedAt: now},
		map[string]Player{
			"h": {ID: "h", LastSeen: now},
			"p": {ID: "p", LastSeen: stale},
		})

	require.NoError(t, r.RemoveInactivePlayers(ctx, "prunes", 5*time.Minute))

	var snap Snapshot
	found, err := st.Get(ctx, "rooms/prunes", &snap)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, snap.Players, 1)
	_, ok := snap.Players["h"]
	assert.True(t, ok)
}

func TestRemoveInactivePlayersCascades(t *testing.T) {
	r, st := newTestReaper(t)
	ctx := context.Background()
	stale := time.Now().Add(-time.Hour).UnixMilli()

	seedRoom(t, st, "allout", Meta{Status: StatusPlaying, HostID: "h", CreatedAt: time.Now().UnixMilli()},
		map[string]Player{
			"h": {ID: "h", LastSeen: stale},
			"p": {ID: "p", LastSeen: stale},
		})

	require.NoError(t, r.RemoveInactivePlayers(ctx, "allout", 5*time.Minute))
	assert.False(t, roomExists(t, st, "allout"), "emptying a room cascades into deletion")
}

func TestReaperStartStop(t *testing.T) {
	r, st := newTestReaper(t)

	seedRoom(t, st, "stale2", Meta{Status: StatusWaiting, CreatedAt: time.Now().Add(-time.Hour).UnixMilli()}, nil)

	r.Start()
	require.Eventually(t, func() bool {
		return !roomExists(t, st, "stale2")
	}, time.Second, 5*time.Millisecond)
	r.Stop()
}
