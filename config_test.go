package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		port:       3000,
		jwtSecret:  "secret",
		codeLength: 6,
		maxPlayers: 8,
		minPlayers: 2,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validTestConfig().validate())

	cfg := validTestConfig()
	cfg.port = 0
	assert.Error(t, cfg.validate())

	cfg = validTestConfig()
	cfg.jwtSecret = ""
	assert.Error(t, cfg.validate())

	cfg = validTestConfig()
	cfg.codeLength = 9
	assert.Error(t, cfg.validate())

	cfg = validTestConfig()
	cfg.minPlayers = 10
	assert.Error(t, cfg.validate())
}

func TestRoomConfigMapping(t *testing.T) {
	cfg := validTestConfig()
	cfg.maxPlayers = 4
	cfg.minPlayers = 3
	cfg.roomExpiry = 10 * time.Minute
	cfg.countdown = 5 * time.Second
	cfg.sweepInterval = 30 * time.Second

	rc := cfg.roomConfig()
	assert.Equal(t, 4, rc.MaxPlayers)
	assert.Equal(t, 3, rc.MinPlayersToStart)
	assert.Equal(t, 10*time.Minute, rc.RoomExpiry)
	assert.Equal(t, 5*time.Second, rc.Countdown)
	assert.Equal(t, 30*time.Second, rc.SweepInterval)
}

func TestNewCmdDefaults(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NotNil(t, cmd)
	require.NoError(t, cmd.ParseFlags([]string{}))
	assert.Equal(t, 3000, cfg.port)
	assert.Equal(t, 6, cfg.codeLength)
	assert.Equal(t, 2*time.Minute, cfg.hostReconnectWindow)
}
