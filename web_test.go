package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/room"
)

func testRouter(t *testing.T) (http.Handler, *Relay) {
	t.Helper()
	relay, _ := testRelay(t, time.Minute)
	cfg := &Config{
		corsOrigins: []string{"*"},
		rateLimit:   600,
	}
	return newRouter(relay, cfg, zerolog.Nop()), relay
}

func seedTestRoom(t *testing.T, relay *Relay) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, relay.store.Set(ctx, "rooms/aB3xYz/meta",
		room.Meta{Status: room.StatusWaiting, HostID: "h", GameType: "quiz", MaxPlayers: 4, CreatedAt: time.Now().UnixMilli()}))
	require.NoError(t, relay.store.Set(ctx, "rooms/aB3xYz/players/h",
		room.Player{ID: "h", Name: "the host", IsHost: true, Status: room.PlayerActive}))
}

func TestRoomMetaEndpoint(t *testing.T) {
	router, relay := testRouter(t)
	seedTestRoom(t, relay)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest("GET", "/rooms/aB3xYz/meta", nil))

	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "application/json", res.Header().Get("Content-Type"))
	assert.Contains(t, res.Body.String(), `"status":"waiting"`)
}

func TestRoomMetaNotFound(t *testing.T) {
	router, _ := testRouter(t)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest("GET", "/rooms/zzzzzz/meta", nil))
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestRoomEventStreamNotFound(t *testing.T) {
	router, _ := testRouter(t)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest("GET", "/rooms/zzzzzz", nil))
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestRoomEventStreamRelaysDeletion(t *testing.T) {
	router, relay := testRouter(t)
	seedTestRoom(t, relay)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/rooms/aB3xYz", nil).WithContext(ctx)
	res := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(res, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond) // stream is subscribed and has sent the snapshot
	require.NoError(t, relay.store.Delete(context.Background(), "rooms/aB3xYz"))
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := res.Body.String()
	assert.Contains(t, body, `"type":"snapshot"`)
	assert.Contains(t, body, `"deleted":true`, "a subscriber must see the room disappear")
}

func TestRoomQREndpoint(t *testing.T) {
	router, relay := testRouter(t)
	seedTestRoom(t, relay)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest("GET", "/rooms/aB3xYz/qr", nil))

	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "image/png", res.Header().Get("Content-Type"))
	pngMagic := []byte{0x89, 'P', 'N', 'G'}
	assert.True(t, bytes.HasPrefix(res.Body.Bytes(), pngMagic), "body is not a PNG")
}

func TestHeartbeatEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, res.Code)
}
