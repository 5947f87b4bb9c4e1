package models

import "time"

// PriceSequence is a run of consecutive same-direction mid-price moves.
type PriceSequence struct {
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	StartPrice   float64   `json:"start_price"`
	EndPrice     float64   `json:"end_price"`
	TotalTicks   float64   `json:"total_ticks"`
	Direction    int       `json:"direction"`
	StartIndex   int       `json:"start_index"`
	EndIndex     int       `json:"end_index"`
	NumMoves     int       `json:"num_moves"`
	VolumeDuring float64   `json:"volume_during"`
	AvgTradeSize float64   `json:"avg_trade_size"`
	MaxRetrace   float64   `json:"max_retrace"`
}

func (s PriceSequence) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// TotalReturn is end/start - 1.
func (s PriceSequence) TotalReturn() float64 {
	if s.StartPrice == 0 {
		return 0
	}
	return s.EndPrice/s.StartPrice - 1
}

func (s PriceSequence) MovesPerSecond() float64 {
	secs := s.Duration().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.NumMoves) / secs
}

func (s PriceSequence) TicksPerSecond() float64 {
	secs := s.Duration().Seconds()
	if secs <= 0 {
		return 0
	}
	return s.TotalTicks / secs
}

// SequenceFeatures pairs a detected sequence with the feature windows that
// preceded it. Every slice has the configured number of points for its feature.
type SequenceFeatures struct {
	SequenceID string               `json:"sequence_id"`
	Symbol     string               `json:"symbol"`
	Sequence   PriceSequence        `json:"sequence"`
	Features   map[string][]float64 `json:"features"`
}
