package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"roomsync/code"
	"roomsync/room"
)

type Config struct {
	bind        string
	port        int
	jwtSecret   string
	corsOrigins []string
	rateLimit   int
	verbose     bool

	codeLength          int
	maxPlayers          int
	minPlayers          int
	roomExpiry          time.Duration
	finishedInactivity  time.Duration
	playerInactivity    time.Duration
	scoreSyncInterval   time.Duration
	countdown           time.Duration
	gameDataTimeout     time.Duration
	closeAnnounceGrace  time.Duration
	sweepInterval       time.Duration
	hostReconnectWindow time.Duration
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.jwtSecret == "" {
		return errors.New("--jwt-secret is required (env: ROOMSYNC_JWT_SECRET)")
	}
	if c.codeLength < 4 || c.codeLength > 6 {
		return fmt.Errorf("invalid code length (must be between 4-6 inclusive): %d", c.codeLength)
	}
	if c.minPlayers < 1 || c.minPlayers > c.maxPlayers {
		return fmt.Errorf("invalid min players: %d", c.minPlayers)
	}
	return nil
}

func (c *Config) roomConfig() room.Config {
	cfg := room.DefaultConfig()
	cfg.CodeLength = c.codeLength
	cfg.MaxPlayers = c.maxPlayers
	cfg.MinPlayersToStart = c.minPlayers
	cfg.RoomExpiry = c.roomExpiry
	cfg.FinishedInactivity = c.finishedInactivity
	cfg.PlayerInactivity = c.playerInactivity
	cfg.ScoreSyncInterval = c.scoreSyncInterval
	cfg.Countdown = c.countdown
	cfg.GameDataTimeout = c.gameDataTimeout
	cfg.CloseAnnounceGrace = c.closeAnnounceGrace
	cfg.SweepInterval = c.sweepInterval
	return cfg
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ROOMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "roomsync",
		Short:         "Relay daemon serving the shared room state tree for synchronized game races.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	godotenv.Load()

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: ROOMSYNC_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 3000, "port to listen on (env: ROOMSYNC_PORT)")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "secret signing host reconnect keys (env: ROOMSYNC_JWT_SECRET)")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origin", []string{"*"}, "allowed CORS origins (env: ROOMSYNC_CORS_ORIGIN)")
	fs.IntVar(&cfg.rateLimit, "rate-limit", 60, "http requests allowed per ip per minute (env: ROOMSYNC_RATE_LIMIT)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "enable debug logging (env: ROOMSYNC_VERBOSE)")

	fs.IntVar(&cfg.codeLength, "code-length", code.DefaultLength, "room code length (env: ROOMSYNC_CODE_LENGTH)")
	fs.IntVar(&cfg.maxPlayers, "max-players", 8, "maximum players per room (env: ROOMSYNC_MAX_PLAYERS)")
	fs.IntVar(&cfg.minPlayers, "min-players", 2, "minimum players to start a race (env: ROOMSYNC_MIN_PLAYERS)")
	fs.DurationVar(&cfg.roomExpiry, "room-expiry", 30*time.Minute, "maximum room lifetime (env: ROOMSYNC_ROOM_EXPIRY)")
	fs.DurationVar(&cfg.finishedInactivity, "finished-inactivity", 5*time.Minute, "grace before reaping finished rooms (env: ROOMSYNC_FINISHED_INACTIVITY)")
	fs.DurationVar(&cfg.playerInactivity, "player-inactivity", 90*time.Second, "lastSeen staleness before pruning players (env: ROOMSYNC_PLAYER_INACTIVITY)")
	fs.DurationVar(&cfg.scoreSyncInterval, "score-sync-interval", 2*time.Second, "score write throttle interval (env: ROOMSYNC_SCORE_SYNC_INTERVAL)")
	fs.DurationVar(&cfg.countdown, "countdown", 3*time.Second, "delay between ready and playing (env: ROOMSYNC_COUNTDOWN)")
	fs.DurationVar(&cfg.gameDataTimeout, "game-data-timeout", 2*time.Minute, "player-side wait for the host to start (env: ROOMSYNC_GAME_DATA_TIMEOUT)")
	fs.DurationVar(&cfg.closeAnnounceGrace, "close-announce-grace", 2*time.Second, "delay between closure announcement and deletion (env: ROOMSYNC_CLOSE_ANNOUNCE_GRACE)")
	fs.DurationVar(&cfg.sweepInterval, "sweep-interval", time.Minute, "reaper sweep period (env: ROOMSYNC_SWEEP_INTERVAL)")
	fs.DurationVar(&cfg.hostReconnectWindow, "host-reconnect-window", 2*time.Minute, "time a host may reconnect before the room is closed (env: ROOMSYNC_HOST_RECONNECT_WINDOW)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("roomsync v{{.Version}}\n")
	cmd.SilenceUsage = true

	return cmd
}
