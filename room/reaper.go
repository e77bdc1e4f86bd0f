package room

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"roomsync/store"
)

// Reaper sweeps the room tree and deletes rooms that match any deletion
// predicate. Sweeps are idempotent and safe to run concurrently from
// several processes: deleting an already-deleted room is a no-op.
type Reaper struct {
	store store.Store
	cfg   Config
	log   zerolog.Logger

	sweeping atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewReaper(st store.Store, cfg Config, log zerolog.Logger) *Reaper {
	return &Reaper{
		store: st,
		cfg:   cfg,
		log:   log,
		stop:  make(chan struct{}),
	}
}

// Start runs periodic sweeps until Stop is called. A tick that lands while
// the previous sweep is still running is skipped, never stacked.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !r.sweeping.CompareAndSwap(false, true) {
					continue
				}
				if err := r.Sweep(context.Background()); err != nil {
					r.log.Warn().Err(err).Msg("Sweep failed")
				}
				r.sweeping.Store(false)
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the periodic trigger. An in-flight sweep iteration completes.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Sweep deletes every room matching a deletion predicate. Each deletion
// removes the full subtree; no partial remains are left behind.
func (r *Reaper) Sweep(ctx context.Context) error {
	codes, err := r.store.Keys(ctx, roomsRoot)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, roomCode := range codes {
		var snap Snapshot
		found, err := r.store.Get(ctx, roomPath(roomCode), &snap)
		if err != nil {
			return err
		}
		if !found {
			continue // already reaped by a concurrent sweep
		}
		reason := deleteReason(snap, now, r.cfg)
		if reason == "" {
			continue
		}
		if err := r.store.Delete(ctx, roomPath(roomCode)); err != nil {
			return err
		}
		r.log.Info().Str("room-code", roomCode).Str("reason", reason).Msg("Removing room")
	}
	return nil
}

// deleteReason is the pure sweep predicate: a non-empty string names the
// first matching deletion rule.
func deleteReason(snap Snapshot, now time.Time, cfg Config) string {
	if IsRoomExpired(snap, now, cfg.RoomExpiry) {
		return "expired"
	}
	if len(snap.Players) == 0 {
		return "empty"
	}
	allExited := true
	for _, p := range snap.Players {
		if !p.Exited {
			allExited = false
			break
		}
	}
	if allExited {
		return "all players exited"
	}
	if snap.Meta.Status == StatusFinished && snap.Meta.FinishedAt > 0 &&
		now.Sub(millisToTime(snap.Meta.FinishedAt)) > cfg.FinishedInactivity {
		return "finished and inactive"
	}
	host, ok := snap.Players[snap.Meta.HostID]
	if (!ok || host.Status == PlayerDisconnected) && onlyHostRemains(snap) {
		return "host disconnected"
	}
	return ""
}

func onlyHostRemains(snap Snapshot) bool {
	for id, p := range snap.Players {
		if id == snap.Meta.HostID {
			continue
		}
		if !p.Exited && p.Status != PlayerDisconnected {
			return false
		}
	}
	return true
}

// HandleHostDisconnect announces closure first and deletes second, so
// subscribers see an intentional shutdown instead of a bare "room not
// found". The grace period gives the announcement time to fan out.
func (r *Reaper) HandleHostDisconnect(ctx context.Context, roomCode string) error {
	var meta Meta
	found, err := r.store.Get(ctx, metaPath(roomCode), &meta)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if meta.Status != StatusClosed {
		if err := r.store.Set(ctx, metaPath(roomCode)+"/closedReason", "host disconnected"); err != nil {
			return err
		}
		if err := r.store.Set(ctx, statusPath(roomCode), StatusClosed); err != nil {
			return err
		}
	}
	r.log.Info().Str("room-code", roomCode).Msg("Host disconnected, closing room")

	select {
	case <-time.After(r.cfg.CloseAnnounceGrace):
	case <-ctx.Done():
	}
	return r.store.Delete(ctx, roomPath(roomCode))
}

// RemoveInactivePlayers prunes players whose lastSeen is older than
// threshold, cascading into full room deletion when nobody is left.
func (r *Reaper) RemoveInactivePlayers(ctx context.Context, roomCode string, threshold time.Duration) error {
	var snap Snapshot
	found, err := r.store.Get(ctx, roomPath(roomCode), &snap)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	now := time.Now()
	remaining := len(snap.Players)
	for id, p := range snap.Players {
		if now.Sub(millisToTime(p.LastSeen)) <= threshold {
			continue
		}
		if err := r.store.Delete(ctx, playerPath(roomCode, id)); err != nil {
			return err
		}
		remaining--
		r.log.Info().Str("room-code", roomCode).Str("player", id).Msg("Removed inactive player")
	}
	if remaining == 0 {
		r.log.Info().Str("room-code", roomCode).Str("reason", "empty").Msg("Removing room")
		return r.store.Delete(ctx, roomPath(roomCode))
	}
	return nil
}
