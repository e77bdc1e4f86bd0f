package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/room"
	"roomsync/store"
)

func testRelay(t *testing.T, window time.Duration) (*Relay, *store.Memory) {
	t.Helper()
	cfg := room.DefaultConfig()
	cfg.CloseAnnounceGrace = 10 * time.Millisecond
	st := store.NewMemory()
	reaper := room.NewReaper(st, cfg, zerolog.Nop())
	keys := NewHostKeys("test-secret", time.Minute)
	return NewRelay(st, reaper, keys, window, zerolog.Nop()), st
}

// dialPipe wires a Remote store straight into a clientConn over net.Pipe,
// the same framing a real deployment uses minus the HTTP upgrade.
func dialPipe(t *testing.T, relay *Relay) *store.Remote {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	go newClientConn(relay, serverEnd, GetConnLogger(zerolog.Nop(), "pipe")).serve()
	remote := store.NewRemote(clientEnd, zerolog.Nop())
	t.Cleanup(func() { remote.Close() })
	return remote
}

func TestWireSetGetDeleteKeys(t *testing.T) {
	relay, _ := testRelay(t, time.Minute)
	remote := dialPipe(t, relay)
	ctx := context.Background()

	require.NoError(t, remote.Set(ctx, "rooms/abc/meta", room.Meta{Status: room.StatusWaiting, HostID: "h", MaxPlayers: 4}))

	var meta room.Meta
	found, err := remote.Get(ctx, "rooms/abc/meta", &meta)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, room.StatusWaiting, meta.Status)
	assert.Equal(t, "h", meta.HostID)

	keys, err := remote.Keys(ctx, "rooms")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, keys)

	require.NoError(t, remote.Delete(ctx, "rooms/abc"))
	found, err = remote.Get(ctx, "rooms/abc/meta", &meta)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWireSubscribeFanOut(t *testing.T) {
	relay, _ := testRelay(t, time.Minute)
	writer := dialPipe(t, relay)
	watcher := dialPipe(t, relay)
	ctx := context.Background()

	events := make(chan store.Event, 8)
	unsub := watcher.Subscribe("rooms/abc", func(ev store.Event) { events <- ev })
	defer unsub()

	require.NoError(t, writer.Set(ctx, "rooms/abc/meta/status", room.StatusWaiting))

	select {
	case ev := <-events:
		assert.Equal(t, "rooms/abc/meta/status", ev.Path)
		assert.False(t, ev.Deleted)
	case <-time.After(time.Second):
		t.Fatal("change never reached the second client")
	}

	require.NoError(t, writer.Delete(ctx, "rooms/abc"))
	select {
	case ev := <-events:
		assert.True(t, ev.Deleted)
	case <-time.After(time.Second):
		t.Fatal("delete never reached the second client")
	}
}

func TestWireHostAndResume(t *testing.T) {
	relay, st := testRelay(t, time.Minute)
	remote := dialPipe(t, relay)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "rooms/abc/meta", room.Meta{Status: room.StatusWaiting, HostID: "h"}))

	key, err := remote.Host(ctx, "abc")
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	fresh := dialPipe(t, relay)
	require.NoError(t, fresh.Resume(ctx, "abc", key))
	assert.Error(t, fresh.Resume(ctx, "abc", "bogus"))
}

func TestHostDropClosesRoom(t *testing.T) {
	relay, st := testRelay(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "rooms/abc/meta", room.Meta{Status: room.StatusPlaying, HostID: "h", CreatedAt: time.Now().UnixMilli()}))
	require.NoError(t, st.Set(ctx, "rooms/abc/players/h", room.Player{ID: "h", IsHost: true, Status: room.PlayerPlaying}))

	clientEnd, serverEnd := net.Pipe()
	go newClientConn(relay, serverEnd, GetConnLogger(zerolog.Nop(), "pipe")).serve()
	remote := store.NewRemote(clientEnd, zerolog.Nop())

	_, err := remote.Host(ctx, "abc")
	require.NoError(t, err)

	remote.Close()

	require.Eventually(t, func() bool {
		var meta room.Meta
		found, err := st.Get(context.Background(), "rooms/abc/meta", &meta)
		return err == nil && !found
	}, 2*time.Second, 10*time.Millisecond, "room should be closed and deleted after the reconnect window")
}

func TestHostResumeCancelsTeardown(t *testing.T) {
	relay, st := testRelay(t, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "rooms/abc/meta", room.Meta{Status: room.StatusPlaying, HostID: "h", CreatedAt: time.Now().UnixMilli()}))
	require.NoError(t, st.Set(ctx, "rooms/abc/players/h", room.Player{ID: "h", IsHost: true, Status: room.PlayerPlaying}))

	first := dialPipe(t, relay)
	key, err := first.Host(ctx, "abc")
	require.NoError(t, err)
	first.Close()
	time.Sleep(10 * time.Millisecond) // let the drop register before resuming

	// Resume on a fresh connection inside the window keeps the room alive.
	second := dialPipe(t, relay)
	require.NoError(t, second.Resume(ctx, "abc", key))

	time.Sleep(150 * time.Millisecond)
	var meta room.Meta
	found, err := st.Get(ctx, "rooms/abc/meta", &meta)
	require.NoError(t, err)
	assert.True(t, found, "resumed room must not be torn down")
	assert.NotEqual(t, room.StatusClosed, meta.Status)
}
