package frame

import (
	"fmt"
	"log/slog"
	"time"
)

// Default executor settings.
const (
	// DefaultSlots is the default number of frames in flight.
	DefaultSlots = 2

	// MaxSlots is the deepest supported CPU/GPU overlap.
	MaxSlots = 3

	// DefaultFenceTimeout bounds the wait for a slot's previous frame.
	// Expiry is treated as device loss.
	DefaultFenceTimeout = 5 * time.Second
)

// Config configures an Executor.
type Config struct {
	// Slots is the number of frames in flight. Defaults to DefaultSlots.
	Slots int

	// FenceTimeout bounds BeginFrame's fence wait. Defaults to
	// DefaultFenceTimeout.
	FenceTimeout time.Duration

	// Logger receives frame diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// withDefaults returns the config with zero fields defaulted and validated.
func (c Config) withDefaults() (Config, error) {
	if c.Slots == 0 {
		c.Slots = DefaultSlots
	}
	if c.Slots < 1 || c.Slots > MaxSlots {
		return c, fmt.Errorf("frame: slot count %d out of range 1..%d", c.Slots, MaxSlots)
	}
	if c.FenceTimeout <= 0 {
		c.FenceTimeout = DefaultFenceTimeout
	}
	return c, nil
}
