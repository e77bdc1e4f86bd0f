package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomsync/code"
	"roomsync/store"
)

// Manager drives room lifecycle transitions against the injected store. It
// is the only component that writes meta/status; players write nothing but
// their own players/{id} subtree through it.
type Manager struct {
	store store.Store
	cfg   Config
	log   zerolog.Logger

	genCode func(length int) string // swapped out by tests

	throttleMu        sync.Mutex
	throttles         map[string]*scoreThrottle
	lastThrottleSweep time.Time
}

func NewManager(st store.Store, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		store:     st,
		cfg:       cfg,
		log:       log,
		genCode:   code.Generate,
		throttles: make(map[string]*scoreThrottle),
	}
}

func (m *Manager) Config() Config {
	return m.cfg
}

// Snapshot performs a one-shot read of a whole room subtree.
func (m *Manager) Snapshot(ctx context.Context, roomCode string) (Snapshot, error) {
	var snap Snapshot
	found, err := m.store.Get(ctx, roomPath(roomCode), &snap)
	if err != nil {
		return Snapshot{}, err
	}
	if !found {
		return Snapshot{}, ErrRoomNotFound
	}
	return snap, nil
}

// CreateRoom allocates an unused code, writes the initial meta and the host
// player, and returns the code. Collisions are re-drawn up to
// MaxCodeRetries; after that one more round is attempted with the code
// lengthened by a character before giving up with ErrCodeExhausted.
func (m *Manager) CreateRoom(ctx context.Context, gameType string, host Player) (string, error) {
	if err := ValidatePlayerName(host.Name); err != nil {
		return "", err
	}

	roomCode, err := m.claimCode(ctx)
	if err != nil {
		return "", err
	}

	now := nowMillis()
	meta := Meta{
		Status:     StatusWaiting,
		HostID:     host.ID,
		GameType:   gameType,
		MaxPlayers: m.cfg.MaxPlayers,
		CreatedAt:  now,
	}
	if err := m.store.Set(ctx, metaPath(roomCode), meta); err != nil {
		return "", err
	}

	host.IsHost = true
	host.Status = PlayerActive
	host.JoinedAt = now
	host.LastSeen = now
	if err := m.store.Set(ctx, playerPath(roomCode, host.ID), host); err != nil {
		return "", err
	}

	m.log.Info().Str("room-code", roomCode).Str("game-type", gameType).Msg("Created room")
	return roomCode, nil
}

func (m *Manager) claimCode(ctx context.Context) (string, error) {
	for _, length := range []int{m.cfg.CodeLength, m.cfg.CodeLength + 1} {
		for try := 0; try < m.cfg.MaxCodeRetries; try++ {
			candidate := m.genCode(length)
			var ignored json.RawMessage
			exists, err := m.store.Get(ctx, roomPath(candidate), &ignored)
			if err != nil {
				return "", err
			}
			if !exists {
				return candidate, nil
			}
		}
	}
	return "", ErrCodeExhausted
}

// JoinRoom writes the new player under players/{id} after validation. It
// never touches meta, so concurrent joins cannot clobber room state.
func (m *Manager) JoinRoom(ctx context.Context, roomCode string, player Player) error {
	if err := ValidatePlayerName(player.Name); err != nil {
		return err
	}
	snap, err := m.Snapshot(ctx, roomCode)
	if err != nil {
		return err
	}
	if err := CanJoinRoom(snap); err != nil {
		return err
	}

	now := nowMillis()
	player.IsHost = false
	player.Status = PlayerActive
	player.JoinedAt = now
	player.LastSeen = now
	if err := m.store.Set(ctx, playerPath(roomCode, player.ID), player); err != nil {
		return err
	}
	m.log.Info().Str("room-code", roomCode).Str("player", player.ID).Msg("Joined room")
	return nil
}

// LeaveRoom marks the player as exited rather than deleting the record, so
// remaining players still see who dropped out. The reaper removes the room
// once everyone has exited.
func (m *Manager) LeaveRoom(ctx context.Context, roomCode, playerID string) error {
	snap, err := m.Snapshot(ctx, roomCode)
	if err != nil {
		return err
	}
	if _, ok := snap.Players[playerID]; !ok {
		return ErrPlayerNotFound
	}
	if err := m.store.Set(ctx, playerPath(roomCode, playerID)+"/exited", true); err != nil {
		return err
	}
	if err := m.store.Set(ctx, playerPath(roomCode, playerID)+"/status", PlayerDisconnected); err != nil {
		return err
	}
	m.log.Info().Str("room-code", roomCode).Str("player", playerID).Msg("Left room")
	return nil
}

// SetReady flips the player's ready flag while the room is still gathering.
func (m *Manager) SetReady(ctx context.Context, roomCode, playerID string, ready bool) error {
	snap, err := m.Snapshot(ctx, roomCode)
	if err != nil {
		return err
	}
	if _, ok := snap.Players[playerID]; !ok {
		return ErrPlayerNotFound
	}
	if snap.Meta.Status != StatusWaiting {
		return ErrNotJoinable
	}
	return m.store.Set(ctx, playerPath(roomCode, playerID)+"/isReady", ready)
}

// SetPlayerStatus updates one player's status field. Players use it for
// their own record only; the finalization step is the one exception.
func (m *Manager) SetPlayerStatus(ctx context.Context, roomCode, playerID string, status PlayerStatus) error {
	return m.store.Set(ctx, playerPath(roomCode, playerID)+"/status", status)
}

// Heartbeat refreshes the player's lastSeen stamp. Fire-and-forget; a missed
// beat only matters if it keeps missing past the inactivity threshold. A beat
// landing after the room was reaped is skipped: writing the leaf would
// recreate a partial room subtree.
func (m *Manager) Heartbeat(roomCode, playerID string) {
	ctx := context.Background()
	if !m.roomExists(ctx, roomCode) {
		return
	}
	err := m.store.Set(ctx, playerPath(roomCode, playerID)+"/lastSeen", nowMillis())
	if err != nil {
		m.log.Warn().Err(err).Str("room-code", roomCode).Msg("Heartbeat write failed")
	}
}

func (m *Manager) roomExists(ctx context.Context, roomCode string) bool {
	var ignored json.RawMessage
	found, err := m.store.Get(ctx, metaPath(roomCode), &ignored)
	return err == nil && found
}

// StartGame validates the start conditions and moves the room to generating.
// The caller is expected to follow with PublishGameData and a transition to
// playing.
func (m *Manager) StartGame(ctx context.Context, roomCode, requesterID string) error {
	snap, err := m.Snapshot(ctx, roomCode)
	if err != nil {
		return err
	}
	if err := CanStartGame(snap, requesterID, m.cfg.MinPlayersToStart); err != nil {
		return err
	}
	return m.SetRoomStatus(ctx, roomCode, StatusGenerating)
}

// PublishGameData writes the shared payload exactly once. A second publish
// is a protocol bug: mid-flight players must never observe two different
// payloads for one room.
func (m *Manager) PublishGameData(ctx context.Context, roomCode, callerID string, payload json.RawMessage) error {
	snap, err := m.Snapshot(ctx, roomCode)
	if err != nil {
		return err
	}
	if snap.Meta.HostID != callerID {
		return ErrNotHost
	}
	if snap.hasGameData() {
		return ErrDataPublished
	}
	if err := m.store.Set(ctx, gameDataPath(roomCode), payload); err != nil {
		return err
	}
	m.log.Info().Str("room-code", roomCode).Int("bytes", len(payload)).Msg("Published game data")
	return nil
}

// SetRoomStatus performs one edge of the status machine. Illegal edges fail
// with TransitionError and leave the store untouched.
func (m *Manager) SetRoomStatus(ctx context.Context, roomCode string, next Status) error {
	var meta Meta
	found, err := m.store.Get(ctx, metaPath(roomCode), &meta)
	if err != nil {
		return err
	}
	if !found {
		return ErrRoomNotFound
	}
	if !transitionAllowed(meta.Status, next) {
		return &TransitionError{From: meta.Status, To: next}
	}
	if err := m.store.Set(ctx, statusPath(roomCode), next); err != nil {
		return err
	}
	m.log.Debug().Str("room-code", roomCode).
		Str("from", string(meta.Status)).Str("to", string(next)).Msg("Room status changed")
	return nil
}

// CloseRoom announces an intentional closure: the reason is written first so
// subscribers reacting to the status change always find it, then the room
// moves to closed.
func (m *Manager) CloseRoom(ctx context.Context, roomCode, reason string) error {
	if reason != "" {
		if err := m.store.Set(ctx, metaPath(roomCode)+"/closedReason", reason); err != nil {
			return err
		}
	}
	return m.SetRoomStatus(ctx, roomCode, StatusClosed)
}

// OnGameDataUpdate invokes fn once, as soon as a non-empty payload exists at
// gameData. Later changes are ignored; the write-once rule means there
// should be none. The returned func must be called to detach the listener.
func (m *Manager) OnGameDataUpdate(roomCode string, fn func(json.RawMessage)) store.UnsubscribeFunc {
	var once sync.Once
	fire := func(raw json.RawMessage) {
		if len(raw) == 0 || string(raw) == "null" {
			return
		}
		once.Do(func() { fn(raw) })
	}

	unsub := m.store.Subscribe(gameDataPath(roomCode), func(ev store.Event) {
		if ev.Deleted {
			return
		}
		fire(ev.Value)
	})

	// The payload may already be there; subscribing first and reading second
	// means a publish can never fall between the two.
	var existing json.RawMessage
	if found, err := m.store.Get(context.Background(), gameDataPath(roomCode), &existing); err == nil && found {
		fire(existing)
	}
	return unsub
}

// WaitForGameData blocks until the payload appears or ctx expires. Callers
// bound it with Config.GameDataTimeout so a host that never starts does not
// strand its players forever.
func (m *Manager) WaitForGameData(ctx context.Context, roomCode string) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)
	unsub := m.OnGameDataUpdate(roomCode, func(raw json.RawMessage) {
		ch <- raw
	})
	defer unsub()

	select {
	case raw := <-ch:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// throttleIdleTTL bounds how long an unused score throttle stays in the map
// before the next SyncScore call evicts it.
const throttleIdleTTL = time.Minute

// SyncScore pushes the player's score, throttled per player. At-least-once
// is fine; writing the same value twice is harmless. The trailing value is
// always flushed so the final score cannot be lost to the throttle.
func (m *Manager) SyncScore(roomCode, playerID string, score int) {
	key := roomCode + "/" + playerID
	m.throttleMu.Lock()
	if time.Since(m.lastThrottleSweep) > throttleIdleTTL {
		m.lastThrottleSweep = time.Now()
		for k, old := range m.throttles {
			if old.idle(throttleIdleTTL) {
				delete(m.throttles, k)
			}
		}
	}
	th, ok := m.throttles[key]
	if !ok {
		th = &scoreThrottle{
			interval: m.cfg.ScoreSyncInterval,
			write: func(v int) {
				ctx := context.Background()
				if !m.roomExists(ctx, roomCode) {
					return // room reaped; a late write would resurrect it
				}
				err := m.store.Set(ctx, scorePath(roomCode, playerID), v)
				if err != nil {
					m.log.Warn().Err(err).Str("room-code", roomCode).Msg("Score sync failed")
				}
			},
		}
		m.throttles[key] = th
	}
	m.throttleMu.Unlock()
	th.push(score)
}

// FinalizeResult records the player's local completion and then runs the
// finalization check. The check is a pure predicate over the snapshot and
// the finished write is idempotent, so any number of clients may run it.
func (m *Manager) FinalizeResult(ctx context.Context, roomCode, playerID string, result Result) error {
	snap, err := m.Snapshot(ctx, roomCode)
	if err != nil {
		return err
	}
	if _, ok := snap.Players[playerID]; !ok {
		return ErrPlayerNotFound
	}
	if err := m.store.Set(ctx, playerPath(roomCode, playerID)+"/result", result); err != nil {
		return err
	}
	if err := m.store.Set(ctx, scorePath(roomCode, playerID), result.Score); err != nil {
		return err
	}
	if err := m.store.Set(ctx, playerPath(roomCode, playerID)+"/status", PlayerFinished); err != nil {
		return err
	}
	return m.CheckFinalization(ctx, roomCode)
}

// CheckFinalization moves the room to finished once every non-disconnected
// player is finished. Safe to run redundantly: once the room is finished the
// check is a no-op and finishedAt keeps its first stamp.
func (m *Manager) CheckFinalization(ctx context.Context, roomCode string) error {
	snap, err := m.Snapshot(ctx, roomCode)
	if err != nil {
		return err
	}
	if snap.Meta.Status != StatusPlaying {
		return nil
	}
	if !allFinished(snap) {
		return nil
	}
	if err := m.SetRoomStatus(ctx, roomCode, StatusFinished); err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			// Another client finalized between our snapshot and this write.
			return nil
		}
		return err
	}
	if snap.Meta.FinishedAt == 0 {
		if err := m.store.Set(ctx, metaPath(roomCode)+"/finishedAt", nowMillis()); err != nil {
			return err
		}
	}
	m.log.Info().Str("room-code", roomCode).Msg("Room finished")
	return nil
}

func allFinished(snap Snapshot) bool {
	finished := 0
	for _, p := range snap.Players {
		switch p.Status {
		case PlayerDisconnected:
			continue
		case PlayerFinished:
			finished++
		default:
			return false
		}
	}
	return finished > 0
}

// OnRoomClosed invokes fn once when the room is announced closed or its
// subtree disappears. The reason is empty when the room vanished without an
// announcement (e.g. reaped on expiry).
func (m *Manager) OnRoomClosed(roomCode string, fn func(reason string)) store.UnsubscribeFunc {
	var once sync.Once
	return m.store.Subscribe(metaPath(roomCode), func(ev store.Event) {
		if ev.Deleted {
			once.Do(func() { fn("") })
			return
		}
		var meta Meta
		found, err := m.store.Get(context.Background(), metaPath(roomCode), &meta)
		if err != nil || !found {
			return
		}
		if meta.Status == StatusClosed {
			once.Do(func() { fn(meta.ClosedReason) })
		}
	})
}

// scoreThrottle coalesces rapid score updates into at most one write per
// interval, always flushing the latest value at the end of the window.
type scoreThrottle struct {
	interval time.Duration
	write    func(int)

	mu        sync.Mutex
	lastWrite time.Time
	lastTouch time.Time
	pending   int
	scheduled bool
}

func (t *scoreThrottle) idle(ttl time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.scheduled && time.Since(t.lastTouch) > ttl
}

func (t *scoreThrottle) push(score int) {
	t.mu.Lock()
	t.lastTouch = time.Now()
	if t.interval <= 0 || time.Since(t.lastWrite) >= t.interval {
		t.lastWrite = time.Now()
		t.mu.Unlock()
		t.write(score)
		return
	}
	t.pending = score
	if !t.scheduled {
		t.scheduled = true
		delay := t.interval - time.Since(t.lastWrite)
		time.AfterFunc(delay, t.flush)
	}
	t.mu.Unlock()
}

func (t *scoreThrottle) flush() {
	t.mu.Lock()
	score := t.pending
	t.scheduled = false
	t.lastWrite = time.Now()
	t.mu.Unlock()
	t.write(score)
}
