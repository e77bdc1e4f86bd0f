package room

import (
	"time"

	"roomsync/code"
)

// Config is the deployment-tunable surface of the protocol. The zero value
// is not usable; start from DefaultConfig.
type Config struct {
	CodeLength        int
	MaxCodeRetries    int // draws per code length before lengthening
	MaxPlayers        int
	MinPlayersToStart int

	RoomExpiry         time.Duration // absolute room lifetime
	FinishedInactivity time.Duration // grace before reaping a finished room
	PlayerInactivity   time.Duration // lastSeen staleness before pruning
	ScoreSyncInterval  time.Duration // throttle for score writes
	Countdown          time.Duration // ready → playing delay, 0 to skip
	GameDataTimeout    time.Duration // player-side wait for the host to start
	CloseAnnounceGrace time.Duration // delay between announcing closure and deleting
	SweepInterval      time.Duration // reaper period
}

func DefaultConfig() Config {
	return Config{
		CodeLength:         code.DefaultLength,
		MaxCodeRetries:     16,
		MaxPlayers:         8,
		MinPlayersToStart:  2,
		RoomExpiry:         30 * time.Minute,
		FinishedInactivity: 5 * time.Minute,
		PlayerInactivity:   90 * time.Second,
		ScoreSyncInterval:  2 * time.Second,
		Countdown:          3 * time.Second,
		GameDataTimeout:    2 * time.Minute,
		CloseAnnounceGrace: 2 * time.Second,
		SweepInterval:      time.Minute,
	}
}
