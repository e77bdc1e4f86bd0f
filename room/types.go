// Package room implements the coordination protocol for short-lived
// multiplayer rooms: the status state machine, the pure validation rules,
// the lifecycle manager that drives store writes, and the reaper that
// removes abandoned rooms.
package room

import (
	"encoding/json"
	"time"
)

// Status is the room-level state machine. Rooms only move forward:
//
//	waiting → generating → ready → playing → finished → closed
//
// closed is terminal; any non-terminal status may jump straight to closed
// when the host disappears.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
	StatusPlaying    Status = "playing"
	StatusFinished   Status = "finished"
	StatusClosed     Status = "closed"
)

type PlayerStatus string

const (
	PlayerActive       PlayerStatus = "active"
	PlayerReady        PlayerStatus = "ready"
	PlayerPlaying      PlayerStatus = "playing"
	PlayerFinished     PlayerStatus = "finished"
	PlayerDisconnected PlayerStatus = "disconnected"
)

// allowedTransitions are the legal edges of the status machine. ready may be
// skipped entirely when the deployment runs without a countdown.
var allowedTransitions = map[Status][]Status{
	StatusWaiting:    {StatusGenerating, StatusClosed},
	StatusGenerating: {StatusReady, StatusPlaying, StatusClosed},
	StatusReady:      {StatusPlaying, StatusClosed},
	StatusPlaying:    {StatusFinished, StatusClosed},
	StatusFinished:   {StatusClosed},
	StatusClosed:     {},
}

func transitionAllowed(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Meta is the room-level record at rooms/{code}/meta. Timestamps are unix
// milliseconds so every client, whatever its clock library, agrees on the
// wire shape.
type Meta struct {
	Status       Status `json:"status"`
	HostID       string `json:"hostId"`
	GameType     string `json:"gameType"`
	MaxPlayers   int    `json:"maxPlayers"`
	CreatedAt    int64  `json:"createdAt"`
	FinishedAt   int64  `json:"finishedAt,omitempty"`
	ClosedReason string `json:"closedReason,omitempty"`
}

// Player is one participant record at rooms/{code}/players/{id}. Each client
// writes only its own record; the finalization step may update Status.
type Player struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	IsHost   bool         `json:"isHost"`
	IsReady  bool         `json:"isReady"`
	Status   PlayerStatus `json:"status"`
	Score    int          `json:"score"`
	JoinedAt int64        `json:"joinedAt"`
	LastSeen int64        `json:"lastSeen"`
	Exited   bool         `json:"exited,omitempty"`
	Result   *Result      `json:"result,omitempty"`
}

// Result is the per-player summary written once on local game completion.
type Result struct {
	Score     int     `json:"score"`
	ElapsedMs int64   `json:"elapsedMs"`
	Accuracy  float64 `json:"accuracy"`
}

// Snapshot is a one-shot read of a whole room subtree.
type Snapshot struct {
	Meta     Meta              `json:"meta"`
	Players  map[string]Player `json:"players"`
	GameData json.RawMessage   `json:"gameData,omitempty"`
}

func (s Snapshot) hasGameData() bool {
	return len(s.GameData) > 0 && string(s.GameData) != "null"
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

const roomsRoot = "rooms"

func roomPath(code string) string       { return roomsRoot + "/" + code }
func metaPath(code string) string       { return roomPath(code) + "/meta" }
func statusPath(code string) string     { return metaPath(code) + "/status" }
func gameDataPath(code string) string   { return roomPath(code) + "/gameData" }
func playersPath(code string) string    { return roomPath(code) + "/players" }
func playerPath(code, id string) string { return playersPath(code) + "/" + id }
func scorePath(code, id string) string  { return playerPath(code, id) + "/score" }
