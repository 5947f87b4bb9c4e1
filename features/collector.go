package features

import (
	"sort"
	"time"

	"mboflow/logger"
	"mboflow/models"
)

// Collector replays the events preceding a sequence through a set of
// calculators and returns each calculator's last full window.
type Collector struct {
	calcs []*Calculator
	sink  logger.Sink
}

// NewCollector builds one calculator per named config. Any invalid config
// rejects the whole collector.
func NewCollector(configs map[string]TimeSeriesConfig, sink logger.Sink) (*Collector, error) {
	if sink == nil {
		sink = logger.Discard()
	}
	calcs, err := NewSet(configs)
	if err != nil {
		return nil, err
	}
	return &Collector{calcs: calcs, sink: sink}, nil
}

// Names returns the calculator names in replay order.
func (c *Collector) Names() []string {
	names := make([]string, len(c.calcs))
	for i, calc := range c.calcs {
		names[i] = calc.Name()
	}
	return names
}

// LookbackStart returns the earliest event index needed to fill every
// configured window before seqStart. ok is false when no calculator is
// configured or seqStart is outside events.
func (c *Collector) LookbackStart(events []models.EnrichedEvent, seqStart int) (start int, ok bool) {
	if len(c.calcs) == 0 || seqStart < 0 || seqStart >= len(events) {
		return 0, false
	}
	spans := make([]Span, len(c.calcs))
	for i, calc := range c.calcs {
		spans[i] = calc.span
	}
	maxHist := MaxHistory(spans)

	start = seqStart
	if ms, has := maxHist[LookbackTime]; has {
		from := events[seqStart].TsEvent.Add(-time.Duration(ms) * time.Millisecond)
		idx := sort.Search(seqStart, func(i int) bool {
			return !events[i].TsEvent.Before(from)
		})
		start = min(start, idx)
	}
	if msgs, has := maxHist[LookbackMessages]; has {
		start = min(start, max(0, seqStart-int(msgs)))
	}
	return start, true
}

// Collect replays events[start:seqStart] through freshly reset calculators.
// Calculators that never fill their window are left out of the result.
func (c *Collector) Collect(events []models.EnrichedEvent, seqStart int) map[string][]float64 {
	out := make(map[string][]float64)
	start, ok := c.LookbackStart(events, seqStart)
	if !ok {
		return out
	}
	for _, calc := range c.calcs {
		calc.Reset()
	}
	for i := start; i < seqStart; i++ {
		ev := &events[i]
		for _, calc := range c.calcs {
			if window, full := calc.Update(ev); full {
				out[calc.Name()] = window
			}
		}
	}
	for _, calc := range c.calcs {
		if _, has := out[calc.Name()]; has {
			continue
		}
		c.sink.Warning("collect_features", ErrInsufficientLookback, logger.Fields{
			"calculator":     calc.Name(),
			"sequence_start": seqStart,
			"replay_start":   start,
			"points":         calc.buf.len(),
			"num_points":     calc.NumPoints(),
		})
	}
	return out
}
