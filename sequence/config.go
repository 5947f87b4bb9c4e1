package sequence

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSequenceConfig = errors.New("invalid sequence config")
	// ErrNoFeatures is reported when no feature set produced a window
	// for a sequence.
	ErrNoFeatures = errors.New("no features extracted")
)

// Config bounds what counts as a sequence of same-direction moves.
type Config struct {
	MinMoves        int     `yaml:"min_moves" json:"min_moves"`
	MinTicks        float64 `yaml:"min_ticks" json:"min_ticks"`
	MaxDurationMs   int64   `yaml:"max_duration_ms" json:"max_duration_ms"`
	MinVolume       float64 `yaml:"min_volume" json:"min_volume"`
	MaxRetraceTicks float64 `yaml:"max_retrace_ticks" json:"max_retrace_ticks"`
	TickSize        float64 `yaml:"tick_size" json:"tick_size"`
}

func (c Config) Validate() error {
	switch {
	case c.MinMoves < 2:
		return fmt.Errorf("%w: min_moves must be at least 2, got %d", ErrInvalidSequenceConfig, c.MinMoves)
	case c.MinTicks <= 0:
		return fmt.Errorf("%w: min_ticks must be positive", ErrInvalidSequenceConfig)
	case c.MaxDurationMs <= 0:
		return fmt.Errorf("%w: max_duration_ms must be positive", ErrInvalidSequenceConfig)
	case c.MinVolume < 0:
		return fmt.Errorf("%w: min_volume must not be negative", ErrInvalidSequenceConfig)
	case c.MaxRetraceTicks < 0:
		return fmt.Errorf("%w: max_retrace_ticks must not be negative", ErrInvalidSequenceConfig)
	case c.TickSize <= 0:
		return fmt.Errorf("%w: tick_size must be positive", ErrInvalidSequenceConfig)
	}
	return nil
}
