package sequence

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"mboflow/features"
	"mboflow/logger"
	"mboflow/models"
)

type recordingSink struct {
	mu       sync.Mutex
	warnings []error
}

func (s *recordingSink) Milestone(string, logger.Fields) {}

func (s *recordingSink) Warning(_ string, err error, _ logger.Fields) {
	s.mu.Lock()
	s.warnings = append(s.warnings, err)
	s.mu.Unlock()
}

func (s *recordingSink) Error(string, error, logger.Fields) {}

func TestAnalyzerKeysAndWindows(t *testing.T) {
	a, err := NewAnalyzer(map[string]map[string]features.TimeSeriesConfig{
		"fast": {
			features.NameMomentum:  features.MessageConfig(1, 3),
			features.NameOrderFlow: features.MessageConfig(2, 4),
		},
		"slow": {
			features.NameVolatility: features.TimeConfig(100, 200),
		},
	}, nil)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	want := []string{"momentum_fast", "order_flow_fast", "volatility_slow"}
	names := a.FeatureNames()
	if len(names) != len(want) {
		t.Fatalf("feature names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("feature names = %v, want %v", names, want)
		}
	}

	events := make([]models.EnrichedEvent, 20)
	for i := range events {
		events[i] = quote(int64(i)*100, 100+float64(i%3)*0.25)
	}
	seq := models.PriceSequence{StartIndex: 15, StartTime: events[15].TsEvent}
	feats, ok := a.Analyze(events, seq)
	if !ok {
		t.Fatal("expected features")
	}
	for _, key := range want {
		if _, has := feats[key]; !has {
			t.Fatalf("missing %s in %v", key, feats)
		}
	}
	if len(feats["momentum_fast"]) != 3 || len(feats["order_flow_fast"]) != 2 || len(feats["volatility_slow"]) != 2 {
		t.Fatalf("unexpected window lengths %v", feats)
	}

	out := a.AnalyzeAll("ESH4", events, []models.PriceSequence{seq, {StartIndex: 0}})
	if len(out) != 1 || out[0].Symbol != "ESH4" || out[0].SequenceID == "" {
		t.Fatalf("unexpected sequence features %+v", out)
	}
}

func TestAnalyzerReportsNoFeatures(t *testing.T) {
	sink := &recordingSink{}
	a, err := NewAnalyzer(map[string]map[string]features.TimeSeriesConfig{
		"set": {features.NameMomentum: features.MessageConfig(1, 5)},
	}, sink)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	events := []models.EnrichedEvent{quote(0, 100), quote(1, 100), quote(2, 100)}
	if _, ok := a.Analyze(events, models.PriceSequence{StartIndex: 2}); ok {
		t.Fatal("expected no features from a short stream")
	}
	var found bool
	for _, err := range sink.warnings {
		if errors.Is(err, ErrNoFeatures) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ErrNoFeatures warning, got %v", sink.warnings)
	}

	if _, err := NewAnalyzer(map[string]map[string]features.TimeSeriesConfig{
		"bad": {features.NameMomentum: {LookbackType: features.LookbackTime}},
	}, nil); !errors.Is(err, features.ErrInvalidTimeSeriesConfig) {
		t.Fatalf("expected ErrInvalidTimeSeriesConfig, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	if s := Summarize(nil); s.TotalSequences != 0 || s.AvgTimeBetween != nil {
		t.Fatalf("unexpected empty summary %+v", s)
	}
	seqs := []models.PriceSequence{
		{
			StartTime: base.Add(10 * time.Second), EndTime: base.Add(12 * time.Second),
			StartPrice: 100, EndPrice: 99, TotalTicks: 4, Direction: -1, NumMoves: 4,
		},
		{
			StartTime: base, EndTime: base.Add(time.Second),
			StartPrice: 100, EndPrice: 101, TotalTicks: 4, Direction: 1, NumMoves: 2, VolumeDuring: 10,
		},
		{
			StartTime: base.Add(15 * time.Second), EndTime: base.Add(16 * time.Second),
			StartPrice: 100, EndPrice: 100.5, TotalTicks: 2, Direction: 1, NumMoves: 3,
		},
	}
	s := Summarize(seqs)
	if s.TotalSequences != 3 || s.UpSequences != 2 || s.DownSequences != 1 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if math.Abs(s.AvgMoves-3) > 1e-9 || math.Abs(s.MaxReturn-0.01) > 1e-9 || math.Abs(s.MinReturn+0.01) > 1e-9 {
		t.Fatalf("unexpected averages %+v", s)
	}
	// gaps: 1s -> 10s = 9s, 12s -> 15s = 3s
	if *s.AvgTimeBetween != 6 || *s.MinTimeBetween != 3 || *s.MaxTimeBetween != 9 {
		t.Fatalf("unexpected gaps %v %v %v", *s.AvgTimeBetween, *s.MinTimeBetween, *s.MaxTimeBetween)
	}
}
