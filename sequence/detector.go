// Package sequence finds runs of consecutive same-direction mid-price moves
// and extracts the feature windows that preceded them.
package sequence

import (
	"math"
	"time"

	"mboflow/internal/ticks"
	"mboflow/logger"
	"mboflow/models"
)

// DetectorStats counts detector outcomes.
type DetectorStats struct {
	Candidates      int64 `json:"candidates"`
	Accepted        int64 `json:"accepted"`
	RejectedVolume  int64 `json:"rejected_volume"`
	RejectedLength  int64 `json:"rejected_duration"`
	RejectedRetrace int64 `json:"rejected_retrace"`
	Timeouts        int64 `json:"timeouts"`
	RetraceResets   int64 `json:"retrace_resets"`
}

// Detector is a streaming state machine over the enriched event stream.
// Events must be observed in order with increasing indexes.
type Detector struct {
	cfg  Config
	sink logger.Sink

	direction  int
	moves      int
	startIndex int
	startTime  time.Time
	startPrice float64
	volume     float64
	trades     int
	maxRetrace float64

	lastPrice float64
	hasLast   bool

	stats DetectorStats
}

func NewDetector(cfg Config, sink logger.Sink) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = logger.Discard()
	}
	return &Detector{cfg: cfg, sink: sink}, nil
}

func (d *Detector) Stats() DetectorStats { return d.stats }

// Pending returns the start index of the run in progress.
func (d *Detector) Pending() (int, bool) {
	if d.direction == 0 {
		return 0, false
	}
	return d.startIndex, true
}

// Observe feeds the event at index. It returns a sequence when the event
// completes a candidate that passes validation.
func (d *Detector) Observe(index int, ev *models.EnrichedEvent) (models.PriceSequence, bool) {
	mid, ok := ev.MidPrice()
	if !ok {
		d.addTrade(ev)
		d.checkLimits(ev)
		return models.PriceSequence{}, false
	}
	if !d.hasLast {
		d.lastPrice, d.hasLast = mid, true
		return models.PriceSequence{}, false
	}

	var (
		out     models.PriceSequence
		emitted bool
	)
	delta := ticks.Delta(d.lastPrice, mid, d.cfg.TickSize)
	switch dir := sign(delta); {
	case math.Abs(delta) < d.cfg.MinTicks:
		d.addTrade(ev)
	case dir == d.direction:
		d.moves++
		d.addTrade(ev)
		expected := float64(d.direction*d.moves) * d.cfg.MinTicks
		retrace := math.Abs(ticks.Delta(d.startPrice, mid, d.cfg.TickSize) - expected)
		d.maxRetrace = math.Max(d.maxRetrace, retrace)
		if d.moves >= d.cfg.MinMoves {
			out, emitted = d.complete(index, ev, mid)
			d.reset()
		}
	default:
		d.start(index, ev, dir)
		d.addTrade(ev)
	}

	if !emitted {
		d.checkLimits(ev)
	}
	d.lastPrice = mid
	return out, emitted
}

func (d *Detector) start(index int, ev *models.EnrichedEvent, dir int) {
	d.reset()
	d.direction = dir
	d.moves = 1
	d.startIndex = index
	d.startTime = ev.TsEvent
	d.startPrice = d.lastPrice
}

// addTrade accumulates volume while a sequence is in progress.
func (d *Detector) addTrade(ev *models.EnrichedEvent) {
	if d.direction == 0 || !ev.IsTrade {
		return
	}
	d.volume += ev.Size
	d.trades++
}

func (d *Detector) checkLimits(ev *models.EnrichedEvent) {
	if d.direction == 0 {
		return
	}
	if ev.TsEvent.Sub(d.startTime) > d.maxDuration() {
		d.stats.Timeouts++
		d.reset()
		return
	}
	if d.maxRetrace > d.cfg.MaxRetraceTicks {
		d.stats.RetraceResets++
		d.reset()
	}
}

func (d *Detector) complete(index int, ev *models.EnrichedEvent, mid float64) (models.PriceSequence, bool) {
	d.stats.Candidates++
	seq := models.PriceSequence{
		StartTime:    d.startTime,
		EndTime:      ev.TsEvent,
		StartPrice:   d.startPrice,
		EndPrice:     mid,
		TotalTicks:   math.Abs(ticks.Delta(d.startPrice, mid, d.cfg.TickSize)),
		Direction:    d.direction,
		StartIndex:   d.startIndex,
		EndIndex:     index,
		NumMoves:     d.moves,
		VolumeDuring: d.volume,
		MaxRetrace:   d.maxRetrace,
	}
	if d.trades > 0 {
		seq.AvgTradeSize = d.volume / float64(d.trades)
	}

	switch {
	case seq.VolumeDuring < d.cfg.MinVolume:
		d.stats.RejectedVolume++
		return seq, false
	case seq.Duration() > d.maxDuration():
		d.stats.RejectedLength++
		return seq, false
	case seq.MaxRetrace > d.cfg.MaxRetraceTicks:
		d.stats.RejectedRetrace++
		return seq, false
	}
	d.stats.Accepted++
	return seq, true
}

func (d *Detector) maxDuration() time.Duration {
	return time.Duration(d.cfg.MaxDurationMs) * time.Millisecond
}

// reset abandons the sequence in progress. The last observed price is kept.
func (d *Detector) reset() {
	d.direction = 0
	d.moves = 0
	d.startIndex = 0
	d.startTime = time.Time{}
	d.startPrice = 0
	d.volume = 0
	d.trades = 0
	d.maxRetrace = 0
}

// Detect runs a fresh detector over events and returns the accepted sequences.
func Detect(cfg Config, events []models.EnrichedEvent, sink logger.Sink) ([]models.PriceSequence, DetectorStats, error) {
	d, err := NewDetector(cfg, sink)
	if err != nil {
		return nil, DetectorStats{}, err
	}
	var out []models.PriceSequence
	for i := range events {
		if seq, ok := d.Observe(i, &events[i]); ok {
			out = append(out, seq)
		}
	}
	d.sink.Milestone("detect_sequences", logger.Fields{
		"events":     len(events),
		"candidates": d.stats.Candidates,
		"accepted":   d.stats.Accepted,
		"timeouts":   d.stats.Timeouts,
	})
	return out, d.stats, nil
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
