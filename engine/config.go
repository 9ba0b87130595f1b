package engine

import (
	"fmt"
	"os"
	"strconv"
)

// Defaults for the lifecycle and settlement constants. All durations are in
// seconds to match the stored unix timestamps.
const (
	DefaultGracePeriod          int64 = 86400      // 24h dispute window after winner declaration
	DefaultNoWinnerWaitPeriod   int64 = 86400      // 1 day after deadline with no winner
	DefaultMaxDeadlineExtension int64 = 30 * 86400 // single extension upper bound
	DefaultMinDeadlineBuffer    int64 = 3600       // new deadline must be at least this far in the future

	DefaultWinnerPercent      uint64 = 80
	DefaultParticipantPercent uint64 = 20
)

type Config struct {
	GracePeriod          int64
	NoWinnerWaitPeriod   int64
	MaxDeadlineExtension int64
	MinDeadlineBuffer    int64
	WinnerPercent        uint64
	ParticipantPercent   uint64
}

func DefaultConfig() Config {
	return Config{
		GracePeriod:          DefaultGracePeriod,
		NoWinnerWaitPeriod:   DefaultNoWinnerWaitPeriod,
		MaxDeadlineExtension: DefaultMaxDeadlineExtension,
		MinDeadlineBuffer:    DefaultMinDeadlineBuffer,
		WinnerPercent:        DefaultWinnerPercent,
		ParticipantPercent:   DefaultParticipantPercent,
	}
}

// ConfigFromEnv reads the recognized options from the environment, falling
// back to the defaults for anything unset or unparsable.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.GracePeriod = envInt64("GRACE_PERIOD", cfg.GracePeriod)
	cfg.NoWinnerWaitPeriod = envInt64("NO_WINNER_WAIT_PERIOD", cfg.NoWinnerWaitPeriod)
	cfg.MaxDeadlineExtension = envInt64("MAX_DEADLINE_EXTENSION", cfg.MaxDeadlineExtension)
	cfg.MinDeadlineBuffer = envInt64("MIN_DEADLINE_BUFFER", cfg.MinDeadlineBuffer)
	cfg.WinnerPercent = envUint64("WINNER_PERCENT", cfg.WinnerPercent)
	cfg.ParticipantPercent = envUint64("PARTICIPANT_PERCENT", cfg.ParticipantPercent)
	return cfg
}

func (c Config) Validate() error {
	if c.WinnerPercent+c.ParticipantPercent != 100 {
		return fmt.Errorf("winner/participant percents must sum to 100, got %d+%d",
			c.WinnerPercent, c.ParticipantPercent)
	}
	if c.GracePeriod < 0 || c.NoWinnerWaitPeriod < 0 {
		return fmt.Errorf("grace and wait periods must be non-negative")
	}
	if c.MaxDeadlineExtension <= 0 || c.MinDeadlineBuffer < 0 {
		return fmt.Errorf("deadline extension bounds out of range")
	}
	return nil
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envUint64(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
