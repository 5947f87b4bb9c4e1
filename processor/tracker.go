package processor

import (
	"sync"

	"mboflow/logger"
	"mboflow/models"
	"mboflow/sequence"
)

// Tracker runs the sequence detector over one instrument's enriched stream
// and extracts each accepted sequence's features as soon as it is detected.
// It retains only the tail of the stream that the analyzer can still read.
type Tracker struct {
	symbol   string
	detector *sequence.Detector
	analyzer *sequence.Analyzer
	sink     logger.Sink

	mu        sync.Mutex
	history   []models.EnrichedEvent
	base      int // stream index of history[0]
	sequences []models.PriceSequence
	extracted []models.SequenceFeatures
}

func NewTracker(symbol string, cfg sequence.Config, analyzer *sequence.Analyzer, sink logger.Sink) (*Tracker, error) {
	d, err := sequence.NewDetector(cfg, sink)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = logger.Discard()
	}
	return &Tracker{symbol: symbol, detector: d, analyzer: analyzer, sink: sink}, nil
}

// Observe appends ev to the history and reports a sequence if ev
// completes one.
func (t *Tracker) Observe(ev models.EnrichedEvent) (models.PriceSequence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, ev)
	idx := t.base + len(t.history) - 1
	logger.IncrementEvents(1)

	seq, ok := t.detector.Observe(idx, &t.history[len(t.history)-1])
	if ok {
		t.accept(seq)
	}
	t.trim(idx)
	return seq, ok
}

func (t *Tracker) accept(seq models.PriceSequence) {
	t.sequences = append(t.sequences, seq)
	logger.IncrementSequences()
	t.sink.Milestone("sequence_detected", logger.Fields{
		"symbol":      t.symbol,
		"direction":   seq.Direction,
		"total_ticks": seq.TotalTicks,
		"start_index": seq.StartIndex,
		"end_index":   seq.EndIndex,
		"volume":      seq.VolumeDuring,
	})
	if t.analyzer == nil {
		return
	}
	if sf, ok := t.analyzer.Extract(t.symbol, t.history, t.base, seq); ok {
		t.extracted = append(t.extracted, sf)
	}
}

// trim drops events that precede the lookback of any sequence that can
// still be detected: one starting at the pending run's start, or at idx
// when no run is in progress.
func (t *Tracker) trim(idx int) {
	anchor := idx
	if start, ok := t.detector.Pending(); ok {
		anchor = start
	}
	keep := anchor
	if t.analyzer != nil {
		keep = t.analyzer.LookbackStart(t.history, anchor-t.base) + t.base
	}
	cut := keep - t.base
	if cut <= 0 || cut < len(t.history)/2 {
		return
	}
	tail := make([]models.EnrichedEvent, len(t.history)-cut, max(len(t.history)-cut, 16))
	copy(tail, t.history[cut:])
	t.history = tail
	t.base = keep
}

// Count returns the number of sequences detected so far.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sequences)
}

// Retained returns the number of events currently held.
func (t *Tracker) Retained() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}

// TrackerState is what a Tracker has accumulated over a stream.
type TrackerState struct {
	Events    int
	Sequences []models.PriceSequence
	Extracted []models.SequenceFeatures
	Detector  sequence.DetectorStats
}

// Snapshot returns the tracker's accumulated state. The slices must not be
// modified while events are still observed.
func (t *Tracker) Snapshot() TrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackerState{
		Events:    t.base + len(t.history),
		Sequences: t.sequences,
		Extracted: t.extracted,
		Detector:  t.detector.Stats(),
	}
}
