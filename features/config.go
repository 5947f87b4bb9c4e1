package features

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidTimeSeriesConfig rejects a calculator at construction.
	ErrInvalidTimeSeriesConfig = errors.New("invalid time series config")
	ErrUnknownCalculator       = errors.New("unknown calculator")
	// ErrInsufficientLookback is reported through the sink when a replay
	// span is too short for a calculator to fill its window.
	ErrInsufficientLookback = errors.New("insufficient lookback data")
)

// LookbackType selects how a calculator samples the event stream.
type LookbackType string

const (
	LookbackTime     LookbackType = "time"
	LookbackMessages LookbackType = "messages"
)

func ParseLookbackType(s string) (LookbackType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "time":
		return LookbackTime, nil
	case "messages", "message":
		return LookbackMessages, nil
	}
	return "", fmt.Errorf("%w: lookback_type %q", ErrInvalidTimeSeriesConfig, s)
}

func (t *LookbackType) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseLookbackType(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TimeSeriesConfig defines one calculator's sampling discipline. TIME configs
// use the millisecond fields and MESSAGES configs use the message fields.
type TimeSeriesConfig struct {
	LookbackType        LookbackType `yaml:"lookback_type" json:"lookback_type"`
	GranularityMs       int64        `yaml:"granularity_ms,omitempty" json:"granularity_ms,omitempty"`
	HistoryMs           int64        `yaml:"history_ms,omitempty" json:"history_ms,omitempty"`
	GranularityMessages int64        `yaml:"granularity_messages,omitempty" json:"granularity_messages,omitempty"`
	HistoryMessages     int64        `yaml:"history_messages,omitempty" json:"history_messages,omitempty"`
}

func TimeConfig(granularityMs, historyMs int64) TimeSeriesConfig {
	return TimeSeriesConfig{LookbackType: LookbackTime, GranularityMs: granularityMs, HistoryMs: historyMs}
}

func MessageConfig(granularity, history int64) TimeSeriesConfig {
	return TimeSeriesConfig{LookbackType: LookbackMessages, GranularityMessages: granularity, HistoryMessages: history}
}

// Validate checks that exactly the fields for the lookback type are set and
// that history is a positive whole multiple of granularity.
func (c TimeSeriesConfig) Validate() error {
	var gran, hist, otherGran, otherHist int64
	switch c.LookbackType {
	case LookbackTime:
		gran, hist = c.GranularityMs, c.HistoryMs
		otherGran, otherHist = c.GranularityMessages, c.HistoryMessages
	case LookbackMessages:
		gran, hist = c.GranularityMessages, c.HistoryMessages
		otherGran, otherHist = c.GranularityMs, c.HistoryMs
	default:
		return fmt.Errorf("%w: lookback_type %q", ErrInvalidTimeSeriesConfig, c.LookbackType)
	}
	if gran <= 0 || hist <= 0 {
		return fmt.Errorf("%w: %s lookback requires positive granularity and history", ErrInvalidTimeSeriesConfig, c.LookbackType)
	}
	if otherGran != 0 || otherHist != 0 {
		return fmt.Errorf("%w: %s lookback must not set fields of the other mode", ErrInvalidTimeSeriesConfig, c.LookbackType)
	}
	if hist%gran != 0 {
		return fmt.Errorf("%w: history %d is not a multiple of granularity %d", ErrInvalidTimeSeriesConfig, hist, gran)
	}
	return nil
}

// Span is a resolved lookback: granularity and history in the unit of
// the lookback type (milliseconds or messages).
type Span struct {
	Type        LookbackType
	Granularity int64
	History     int64
}

// Span resolves the config into its mode-independent form.
func (c TimeSeriesConfig) Span() Span {
	if c.LookbackType == LookbackTime {
		return Span{Type: LookbackTime, Granularity: c.GranularityMs, History: c.HistoryMs}
	}
	return Span{Type: LookbackMessages, Granularity: c.GranularityMessages, History: c.HistoryMessages}
}

// NumPoints is the window length.
func (s Span) NumPoints() int {
	if s.Granularity <= 0 {
		return 0
	}
	return int(s.History / s.Granularity)
}

func (s Span) GranularityDuration() time.Duration {
	return time.Duration(s.Granularity) * time.Millisecond
}

func (s Span) HistoryDuration() time.Duration {
	return time.Duration(s.History) * time.Millisecond
}

func (c TimeSeriesConfig) NumPoints() int { return c.Span().NumPoints() }

// MaxHistory returns the longest history per lookback type across spans.
// A type with no spans is absent from the result.
func MaxHistory(spans []Span) map[LookbackType]int64 {
	out := make(map[LookbackType]int64, 2)
	for _, s := range spans {
		if cur, ok := out[s.Type]; !ok || s.History > cur {
			out[s.Type] = s.History
		}
	}
	return out
}
