package session

import (
	"time"

	"github.com/danmuck/xlloop/internal/protocol"
)

// Config defines per-connection call limits and deadlines. A zero timeout
// disables the corresponding deadline.
type Config struct {
	IdleTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxArgs      int
	Limits       protocol.Limits
}

// DefaultConfig returns defaults for spreadsheet add-in connections, which
// stay open and idle between recalculations.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:  0,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Second,
		MaxArgs:      255,
		Limits:       protocol.DefaultLimits(),
	}
}

// WithDefaults fills unset limits from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxArgs <= 0 {
		c.MaxArgs = def.MaxArgs
	}
	if c.Limits.MaxArrayCells <= 0 {
		c.Limits.MaxArrayCells = def.Limits.MaxArrayCells
	}
	if c.Limits.MaxDepth <= 0 {
		c.Limits.MaxDepth = def.Limits.MaxDepth
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	return c
}
