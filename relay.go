package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomsync/room"
	"roomsync/store"
)

// Relay owns the shared state tree and host presence. Every client talks to
// the same Memory store; rooms whose host connection drops and never resumes
// are closed and deleted by the reaper flow.
type Relay struct {
	store  *store.Memory
	reaper *room.Reaper
	keys   *HostKeys
	window time.Duration
	log    zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer // roomCode -> pending teardown
}

func NewRelay(st *store.Memory, reaper *room.Reaper, keys *HostKeys, window time.Duration, log zerolog.Logger) *Relay {
	return &Relay{
		store:  st,
		reaper: reaper,
		keys:   keys,
		window: window,
		log:    log,
		timers: make(map[string]*time.Timer),
	}
}

// RegisterHost marks roomCode as hosted by a live connection and returns the
// reconnect key. Any pending teardown for the room is cancelled.
func (rl *Relay) RegisterHost(roomCode string) (string, error) {
	rl.mu.Lock()
	if timer, ok := rl.timers[roomCode]; ok {
		timer.Stop()
		delete(rl.timers, roomCode)
	}
	rl.mu.Unlock()
	return rl.keys.Generate(roomCode)
}

// ResumeHost validates the reconnect key and re-registers the host.
func (rl *Relay) ResumeHost(roomCode, key string) bool {
	if rl.keys.RoomCodeFromKey(key) != roomCode {
		return false
	}
	_, err := rl.RegisterHost(roomCode)
	return err == nil
}

// HostLost starts the reconnect window for roomCode. The host player is
// marked disconnected immediately so other clients see it; the room itself
// is closed and deleted only if nobody resumes in time.
func (rl *Relay) HostLost(roomCode string) {
	LogHostLost(rl.log, roomCode)

	ctx := context.Background()
	var meta room.Meta
	found, err := rl.store.Get(ctx, "rooms/"+roomCode+"/meta", &meta)
	if err != nil || !found {
		return
	}
	err = rl.store.Set(ctx, "rooms/"+roomCode+"/players/"+meta.HostID+"/status", room.PlayerDisconnected)
	if err != nil {
		rl.log.Warn().Err(err).Str("room-code", roomCode).Msg("Could not mark host disconnected")
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.timers[roomCode]; ok {
		return
	}
	rl.timers[roomCode] = time.AfterFunc(rl.window, func() {
		rl.mu.Lock()
		delete(rl.timers, roomCode)
		rl.mu.Unlock()
		err := rl.reaper.HandleHostDisconnect(context.Background(), roomCode)
		if err != nil {
			rl.log.Warn().Err(err).Str("room-code", roomCode).Msg("Host disconnect teardown failed")
		}
	})
}

// Shutdown cancels all pending teardown timers.
func (rl *Relay) Shutdown() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for roomCode, timer := range rl.timers {
		timer.Stop()
		delete(rl.timers, roomCode)
	}
}
