package sequence

import (
	"math"
	"sort"

	"mboflow/models"
)

// Summary aggregates a set of detected sequences. Durations and gaps are
// in seconds.
type Summary struct {
	TotalSequences    int     `json:"total_sequences"`
	UpSequences       int     `json:"up_sequences"`
	DownSequences     int     `json:"down_sequences"`
	AvgTicks          float64 `json:"avg_ticks"`
	AvgMoves          float64 `json:"avg_moves"`
	AvgDuration       float64 `json:"avg_duration"`
	AvgMovesPerSecond float64 `json:"avg_moves_per_second"`
	AvgVolume         float64 `json:"avg_volume"`
	AvgTradeSize      float64 `json:"avg_trade_size"`
	AvgRetrace        float64 `json:"avg_retrace"`
	AvgReturn         float64 `json:"avg_return"`
	MaxReturn         float64 `json:"max_return"`
	MinReturn         float64 `json:"min_return"`

	AvgTimeBetween *float64 `json:"avg_time_between,omitempty"`
	MinTimeBetween *float64 `json:"min_time_between,omitempty"`
	MaxTimeBetween *float64 `json:"max_time_between,omitempty"`
}

// Summarize computes the summary. The gap statistics are set only when
// there are at least two sequences.
func Summarize(seqs []models.PriceSequence) Summary {
	var s Summary
	if len(seqs) == 0 {
		return s
	}
	n := float64(len(seqs))
	s.TotalSequences = len(seqs)
	s.MaxReturn = math.Inf(-1)
	s.MinReturn = math.Inf(1)
	for _, seq := range seqs {
		switch seq.Direction {
		case 1:
			s.UpSequences++
		case -1:
			s.DownSequences++
		}
		ret := seq.TotalReturn()
		s.AvgTicks += seq.TotalTicks / n
		s.AvgMoves += float64(seq.NumMoves) / n
		s.AvgDuration += seq.Duration().Seconds() / n
		s.AvgMovesPerSecond += seq.MovesPerSecond() / n
		s.AvgVolume += seq.VolumeDuring / n
		s.AvgTradeSize += seq.AvgTradeSize / n
		s.AvgRetrace += seq.MaxRetrace / n
		s.AvgReturn += ret / n
		s.MaxReturn = math.Max(s.MaxReturn, ret)
		s.MinReturn = math.Min(s.MinReturn, ret)
	}

	if len(seqs) < 2 {
		return s
	}
	sorted := make([]models.PriceSequence, len(seqs))
	copy(sorted, seqs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	var sum float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i+1 < len(sorted); i++ {
		gap := sorted[i+1].StartTime.Sub(sorted[i].EndTime).Seconds()
		sum += gap
		lo = math.Min(lo, gap)
		hi = math.Max(hi, gap)
	}
	avg := sum / float64(len(sorted)-1)
	s.AvgTimeBetween, s.MinTimeBetween, s.MaxTimeBetween = &avg, &lo, &hi
	return s
}
