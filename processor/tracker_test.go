package processor

import (
	"reflect"
	"testing"
	"time"

	appconfig "mboflow/config"
	"mboflow/features"
	"mboflow/models"
	"mboflow/sequence"
)

var trackerBase = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func trackerEvent(i int, mid float64) models.EnrichedEvent {
	ev := models.EnrichedEvent{}
	ev.Sequence = uint64(i + 1)
	ev.TsEvent = trackerBase.Add(time.Duration(i) * time.Millisecond)
	ev.Book.MidPrice = models.Float(mid)
	if i%2 == 0 {
		ev.IsTrade = true
		ev.EventType = models.EventTrade
		ev.Size = float64(i%5 + 1)
		ev.AggressorSide = models.SideBid
		if i%4 == 0 {
			ev.AggressorSide = models.SideAsk
		}
	}
	return ev
}

// flat, then a three tick run, then flat again
func trackerStream(flat int) []models.EnrichedEvent {
	var events []models.EnrichedEvent
	for i := 0; i < flat; i++ {
		events = append(events, trackerEvent(len(events), 100))
	}
	for _, mid := range []float64{100.25, 100.5, 100.75} {
		events = append(events, trackerEvent(len(events), mid))
	}
	for i := 0; i < flat; i++ {
		events = append(events, trackerEvent(len(events), 100.75))
	}
	return events
}

func trackerAnalyzer(t *testing.T) *sequence.Analyzer {
	t.Helper()
	a, err := sequence.NewAnalyzer(map[string]map[string]features.TimeSeriesConfig{
		"fast": {features.NameOrderFlow: features.MessageConfig(1, 4)},
		"slow": {
			features.NameTradeIntensity: features.TimeConfig(10, 40),
			features.NameMomentum:       features.MessageConfig(1, 60),
		},
	}, nil)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	return a
}

func TestTrackerKeepsHistoryBounded(t *testing.T) {
	cfg, inst := pipelineConfig(t, appconfig.SourceConfig{})
	tr, err := NewTracker("ESH4", cfg.Sequence.For(inst), trackerAnalyzer(t), nil)
	if err != nil {
		t.Fatal(err)
	}

	events := trackerStream(5000)
	peak := 0
	for _, ev := range events {
		tr.Observe(ev)
		peak = max(peak, tr.Retained())
	}
	// the longest lookback is 60 messages
	if peak > 256 {
		t.Fatalf("history grew to %d events", peak)
	}

	state := tr.Snapshot()
	if state.Events != len(events) || len(state.Sequences) != 1 || len(state.Extracted) != 1 {
		t.Fatalf("unexpected state: %d events, %d sequences, %d extracted", state.Events, len(state.Sequences), len(state.Extracted))
	}
	if got := state.Extracted[0].Sequence.StartIndex; got != 5000 {
		t.Fatalf("start index = %d, want stream index 5000", got)
	}
}

func TestTrackerFeaturesMatchFullReplay(t *testing.T) {
	cfg, inst := pipelineConfig(t, appconfig.SourceConfig{})
	analyzer := trackerAnalyzer(t)
	tr, err := NewTracker("ESH4", cfg.Sequence.For(inst), analyzer, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := trackerStream(300)
	for _, ev := range events {
		tr.Observe(ev)
	}
	live := tr.Snapshot().Extracted

	seqs, _, err := sequence.Detect(cfg.Sequence.For(inst), events, nil)
	if err != nil {
		t.Fatal(err)
	}
	full := analyzer.AnalyzeAll("ESH4", events, seqs)
	if len(live) != 1 || len(full) != 1 {
		t.Fatalf("extracted %d live, %d from full replay", len(live), len(full))
	}
	if !reflect.DeepEqual(live[0].Sequence, full[0].Sequence) {
		t.Fatalf("sequence differs:\nlive %+v\nfull %+v", live[0].Sequence, full[0].Sequence)
	}
	if !reflect.DeepEqual(live[0].Features, full[0].Features) {
		t.Fatalf("features differ:\nlive %v\nfull %v", live[0].Features, full[0].Features)
	}
	if len(live[0].Features) != 3 {
		t.Fatalf("expected every calculator to fill, got %v", live[0].Features)
	}
}
