package main

import (
	"os"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
}

// ConnLogger scopes relay log lines to one client connection.
type ConnLogger struct {
	zerolog zerolog.Logger
}

func GetConnLogger(base zerolog.Logger, ip string) ConnLogger {
	return ConnLogger{base.With().Str("ip", ip).Logger()}
}

func (l ConnLogger) Connected() {
	l.zerolog.Debug().Msg("Client connected")
}

func (l ConnLogger) Disconnected() {
	l.zerolog.Debug().Msg("Client disconnected")
}

func (l ConnLogger) HostRegistered(roomCode string) {
	l.zerolog.Info().Str("room-code", roomCode).Msg("Host registered")
}

func (l ConnLogger) HostResumed(roomCode string) {
	l.zerolog.Info().Str("room-code", roomCode).Msg("Host resumed")
}

func (l ConnLogger) BadFrame(err error) {
	l.zerolog.Warn().Err(err).Msg("Dropping malformed frame")
}

func LogStartedServer(log zerolog.Logger, addr string) {
	log.Info().Msgf("Starting server on %v", addr)
}

func LogHostLost(log zerolog.Logger, roomCode string) {
	log.Info().Str("room-code", roomCode).Msg("Host disconnected")
}

func LogErrorWhileUpgradingHTTP(log zerolog.Logger, err error) {
	log.Error().Err(err).Msg("Error while upgrading HTTP")
}
