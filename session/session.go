// Package session bridges one single-player game into a multiplayer room.
// The game implements Hooks; the session drives the host/player flows of the
// room protocol and feeds room events back through the hooks.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomsync/room"
	"roomsync/store"
)

// Hooks is the strategy contract a game implements to become a room
// participant. It replaces any need to intercept the game's own start,
// scoring or results functions.
type Hooks interface {
	// GenerateGameData builds the shared problem set. Called on the host
	// only; every participant, host included, runs from the returned bytes.
	GenerateGameData(ctx context.Context) (json.RawMessage, error)
	// StartGame boots the local game engine from the shared payload.
	StartGame(data json.RawMessage) error
	// GameEnded runs after the final result has been reported to the room,
	// just before the game shows its own results screen.
	GameEnded(result room.Result)
	// RoomClosed tears the local session down: the room is gone and the
	// client should leave multiplayer mode.
	RoomClosed(reason string)
}

var ErrAlreadyStarted = errors.New("session already started")

const heartbeatInterval = 30 * time.Second

// Session is one client's participation in one room.
type Session struct {
	mgr   *room.Manager
	hooks Hooks
	log   zerolog.Logger

	roomCode string
	playerID string
	isHost   bool
	hostKey  string

	mu         sync.Mutex
	started    bool
	ended      bool
	closed     bool
	startedAt  time.Time
	score      int
	answered   int
	correct    int
	result     room.Result
	unsubClose store.UnsubscribeFunc
	stopBeat   chan struct{}
}

// InitAsHost creates a room for gameType and returns the session driving it.
// When the store tracks host presence the connection is registered so the
// relay can close the room if the host vanishes.
func InitAsHost(ctx context.Context, mgr *room.Manager, st store.Store, hooks Hooks, gameType string, player room.Player, log zerolog.Logger) (*Session, error) {
	roomCode, err := mgr.CreateRoom(ctx, gameType, player)
	if err != nil {
		return nil, err
	}
	s := newSession(mgr, hooks, roomCode, player.ID, true, log)
	if hp, ok := st.(store.HostPresence); ok {
		key, err := hp.Host(ctx, roomCode)
		if err != nil {
			s.log.Warn().Err(err).Msg("Host presence registration failed")
		} else {
			s.hostKey = key
		}
	}
	s.watch()
	return s, nil
}

// InitAsPlayer joins an existing room and returns the session. The caller
// then blocks on Await until the host starts the race.
func InitAsPlayer(ctx context.Context, mgr *room.Manager, hooks Hooks, roomCode string, player room.Player, log zerolog.Logger) (*Session, error) {
	if err := room.ValidateRoomCode(roomCode, mgr.Config().CodeLength); err != nil {
		return nil, err
	}
	if err := mgr.JoinRoom(ctx, roomCode, player); err != nil {
		return nil, err
	}
	s := newSession(mgr, hooks, roomCode, player.ID, false, log)
	s.watch()
	return s, nil
}

func newSession(mgr *room.Manager, hooks Hooks, roomCode, playerID string, isHost bool, log zerolog.Logger) *Session {
	return &Session{
		mgr:      mgr,
		hooks:    hooks,
		log:      log.With().Str("room-code", roomCode).Str("player", playerID).Logger(),
		roomCode: roomCode,
		playerID: playerID,
		isHost:   isHost,
		stopBeat: make(chan struct{}),
	}
}

func (s *Session) RoomCode() string { return s.roomCode }
func (s *Session) IsHost() bool     { return s.isHost }

// HostKey returns the presence key issued by the relay, empty for players
// and for stores without presence tracking.
func (s *Session) HostKey() string { return s.hostKey }

func (s *Session) watch() {
	s.unsubClose = s.mgr.OnRoomClosed(s.roomCode, s.onClosed)
	go s.heartbeatLoop()
}

func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mgr.Heartbeat(s.roomCode, s.playerID)
		case <-s.stopBeat:
			return
		}
	}
}

// Ready marks this player ready to start. Host players are implicitly ready.
func (s *Session) Ready(ctx context.Context) error {
	return s.mgr.SetReady(ctx, s.roomCode, s.playerID, true)
}

// Start runs the host-side start sequence: move to generating, build the
// payload, publish it, advance to playing, then boot the local engine from
// the exact bytes every player receives. Publishing strictly before the
// playing transition is what lets subscribers trust the status signal.
func (s *Session) Start(ctx context.Context) error {
	if !s.isHost {
		return room.ErrNotHost
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if err := s.mgr.StartGame(ctx, s.roomCode, s.playerID); err != nil {
		return err
	}
	data, err := s.hooks.GenerateGameData(ctx)
	if err != nil {
		s.abortStart()
		return err
	}
	if err := s.mgr.PublishGameData(ctx, s.roomCode, s.playerID, data); err != nil {
		s.abortStart()
		return err
	}

	if countdown := s.mgr.Config().Countdown; countdown > 0 {
		if err := s.mgr.SetRoomStatus(ctx, s.roomCode, room.StatusReady); err != nil {
			return err
		}
		select {
		case <-time.After(countdown):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := s.mgr.SetRoomStatus(ctx, s.roomCode, room.StatusPlaying); err != nil {
		return err
	}

	s.markPlaying()
	return s.hooks.StartGame(data)
}

// Await is the player-side counterpart of Start: wait for the shared
// payload, bounded by the configured timeout, then boot the local engine.
func (s *Session) Await(ctx context.Context) error {
	if s.isHost {
		return ErrAlreadyStarted
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, s.mgr.Config().GameDataTimeout)
	defer cancel()
	data, err := s.mgr.WaitForGameData(waitCtx, s.roomCode)
	if err != nil {
		return err
	}
	s.markPlaying()
	return s.hooks.StartGame(data)
}

// abortStart closes the room after a failed host-side start sequence. The
// room is already in generating at this point, so waiting players must be
// released now rather than stranded until expiry.
func (s *Session) abortStart() {
	err := s.mgr.CloseRoom(context.Background(), s.roomCode, "host failed to start")
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not close room after failed start")
	}
}

func (s *Session) markPlaying() {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	err := s.mgr.SetPlayerStatus(context.Background(), s.roomCode, s.playerID, room.PlayerPlaying)
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not mark player as playing")
	}
}

// ReportAnswer records one scoring event and pushes the running score to the
// room, throttled. Fire-and-forget: a lost sync only delays the scoreboard.
func (s *Session) ReportAnswer(points int, correct bool) {
	s.mu.Lock()
	s.answered++
	if correct {
		s.correct++
	}
	s.score += points
	score := s.score
	s.mu.Unlock()
	s.mgr.SyncScore(s.roomCode, s.playerID, score)
}

// End reports local completion: it computes the result summary and writes it
// to the room before the game shows its own results.
func (s *Session) End(ctx context.Context) (room.Result, error) {
	s.mu.Lock()
	if s.ended {
		result := s.result
		s.mu.Unlock()
		return result, nil
	}
	s.ended = true
	accuracy := 0.0
	if s.answered > 0 {
		accuracy = float64(s.correct) / float64(s.answered)
	}
	result := room.Result{
		Score:     s.score,
		ElapsedMs: time.Since(s.startedAt).Milliseconds(),
		Accuracy:  accuracy,
	}
	s.result = result
	s.mu.Unlock()

	err := s.mgr.FinalizeResult(ctx, s.roomCode, s.playerID, result)
	if err != nil && !errors.Is(err, store.ErrUnavailable) {
		return result, err
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("Result not synchronized, store unavailable")
	}
	s.hooks.GameEnded(result)
	return result, nil
}

// Leave exits the room explicitly and tears the session down.
func (s *Session) Leave(ctx context.Context) error {
	err := s.mgr.LeaveRoom(ctx, s.roomCode, s.playerID)
	s.teardown()
	if err != nil && !errors.Is(err, store.ErrUnavailable) && !errors.Is(err, room.ErrRoomNotFound) {
		return err
	}
	return nil
}

func (s *Session) onClosed(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.log.Info().Str("reason", reason).Msg("Room closed")
	s.teardown()
	s.hooks.RoomClosed(reason)
}

// teardown stops timers and detaches listeners. Session identifiers are
// kept for logging but the session accepts no further room writes.
func (s *Session) teardown() {
	s.mu.Lock()
	if s.stopBeat != nil {
		close(s.stopBeat)
		s.stopBeat = nil
	}
	unsub := s.unsubClose
	s.unsubClose = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
