package sequence

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"mboflow/features"
	"mboflow/logger"
	"mboflow/models"
)

// Analyzer extracts pre-sequence feature windows for every configured
// feature set. Result keys are "<calculator>_<set>".
type Analyzer struct {
	sets  []string
	colls map[string]*features.Collector
	sink  logger.Sink
}

// NewAnalyzer builds one collector per feature set.
func NewAnalyzer(sets map[string]map[string]features.TimeSeriesConfig, sink logger.Sink) (*Analyzer, error) {
	if sink == nil {
		sink = logger.Discard()
	}
	a := &Analyzer{colls: make(map[string]*features.Collector, len(sets)), sink: sink}
	for name, configs := range sets {
		coll, err := features.NewCollector(configs, sink)
		if err != nil {
			return nil, fmt.Errorf("feature set %s: %w", name, err)
		}
		a.sets = append(a.sets, name)
		a.colls[name] = coll
	}
	sort.Strings(a.sets)
	return a, nil
}

// FeatureNames lists every key Analyze can return, sorted.
func (a *Analyzer) FeatureNames() []string {
	var names []string
	for _, set := range a.sets {
		for _, calc := range a.colls[set].Names() {
			names = append(names, featureKey(calc, set))
		}
	}
	sort.Strings(names)
	return names
}

func featureKey(calc, set string) string { return calc + "_" + set }

// Analyze returns the feature windows preceding seq. ok is false when no
// window could be filled.
func (a *Analyzer) Analyze(events []models.EnrichedEvent, seq models.PriceSequence) (map[string][]float64, bool) {
	out := make(map[string][]float64)
	for _, set := range a.sets {
		for name, window := range a.colls[set].Collect(events, seq.StartIndex) {
			out[featureKey(name, set)] = window
		}
	}
	if len(out) == 0 {
		a.sink.Warning("analyze_sequence", ErrNoFeatures, logger.Fields{
			"sequence_start": seq.StartTime,
			"start_index":    seq.StartIndex,
		})
		return nil, false
	}
	lengths := make(logger.Fields, len(out))
	for k, v := range out {
		lengths[k] = len(v)
	}
	a.sink.Milestone("analyze_sequence", logger.Fields{
		"sequence_start":  seq.StartTime,
		"start_index":     seq.StartIndex,
		"feature_lengths": lengths,
	})
	return out, true
}

// LookbackStart returns the earliest index of events that any feature set
// reads for a sequence starting at anchor.
func (a *Analyzer) LookbackStart(events []models.EnrichedEvent, anchor int) int {
	start := anchor
	for _, set := range a.sets {
		if s, ok := a.colls[set].LookbackStart(events, anchor); ok {
			start = min(start, s)
		}
	}
	return start
}

// Extract pairs seq with its feature windows. events may be a tail of the
// stream; offset is the stream index of events[0] and seq keeps stream
// indexes.
func (a *Analyzer) Extract(symbol string, events []models.EnrichedEvent, offset int, seq models.PriceSequence) (models.SequenceFeatures, bool) {
	local := seq
	local.StartIndex -= offset
	local.EndIndex -= offset
	feats, ok := a.Analyze(events, local)
	if !ok {
		return models.SequenceFeatures{}, false
	}
	return models.SequenceFeatures{
		SequenceID: uuid.NewString(),
		Symbol:     symbol,
		Sequence:   seq,
		Features:   feats,
	}, true
}

// AnalyzeAll pairs each sequence with its feature windows. Sequences with
// no features are dropped.
func (a *Analyzer) AnalyzeAll(symbol string, events []models.EnrichedEvent, seqs []models.PriceSequence) []models.SequenceFeatures {
	out := make([]models.SequenceFeatures, 0, len(seqs))
	for _, seq := range seqs {
		if sf, ok := a.Extract(symbol, events, 0, seq); ok {
			out = append(out, sf)
		}
	}
	return out
}
