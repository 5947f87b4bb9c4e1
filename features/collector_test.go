package features

import (
	"errors"
	"sync"
	"testing"
	"time"

	"mboflow/logger"
	"mboflow/models"
)

type recordingSink struct {
	mu       sync.Mutex
	warnings []logger.Fields
	errs     []error
}

func (s *recordingSink) Milestone(string, logger.Fields) {}

func (s *recordingSink) Warning(_ string, err error, fields logger.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, fields)
	s.errs = append(s.errs, err)
}

func (s *recordingSink) Error(string, error, logger.Fields) {}

func secondEvents(n int) []models.EnrichedEvent {
	events := make([]models.EnrichedEvent, n)
	for i := range events {
		events[i] = models.EnrichedEvent{
			MBOEvent: models.MBOEvent{TsEvent: base.Add(time.Duration(i) * time.Second)},
			Book:     models.BookSnapshot{MidPrice: models.Float(100 + float64(i)*0.25)},
		}
	}
	return events
}

func TestCollectorLookbackStart(t *testing.T) {
	col, err := NewCollector(map[string]TimeSeriesConfig{
		NameOrderFlow:  TimeConfig(1000, 2000),
		NameMomentum:   MessageConfig(1, 2),
		NameVolatility: TimeConfig(1000, 5000),
	}, nil)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	events := secondEvents(10)
	if start, ok := col.LookbackStart(events, 8); !ok || start != 3 {
		t.Fatalf("lookback start = %d %v, want 3", start, ok)
	}

	msgOnly, _ := NewCollector(map[string]TimeSeriesConfig{NameMomentum: MessageConfig(1, 50)}, nil)
	if start, _ := msgOnly.LookbackStart(events, 8); start != 0 {
		t.Fatalf("message lookback must clamp at 0, got %d", start)
	}
}

func TestCollectorCollect(t *testing.T) {
	sink := &recordingSink{}
	col, err := NewCollector(map[string]TimeSeriesConfig{
		NameOrderFlow:  TimeConfig(1000, 2000),
		NameMomentum:   MessageConfig(1, 2),
		NameVolatility: TimeConfig(1000, 5000),
	}, sink)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	events := secondEvents(10)

	got := col.Collect(events, 8)
	if len(got[NameOrderFlow]) != 2 || len(got[NameMomentum]) != 2 {
		t.Fatalf("unexpected windows %v", got)
	}
	if _, has := got[NameVolatility]; has {
		t.Fatal("a window that never fills must be omitted")
	}
	if len(sink.errs) != 1 || !errors.Is(sink.errs[0], ErrInsufficientLookback) {
		t.Fatalf("expected one insufficient lookback warning, got %v", sink.errs)
	}
	if sink.warnings[0]["calculator"] != NameVolatility {
		t.Fatalf("warning for wrong calculator: %v", sink.warnings[0])
	}

	// replaying again gives the same result since calculators are reset
	again := col.Collect(events, 8)
	for name, window := range got {
		for i := range window {
			if again[name][i] != window[i] {
				t.Fatalf("replay differs for %s: %v vs %v", name, window, again[name])
			}
		}
	}
}

func TestCollectorEmpty(t *testing.T) {
	col, err := NewCollector(nil, nil)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	if got := col.Collect(secondEvents(5), 3); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}

	one, _ := NewCollector(map[string]TimeSeriesConfig{NameMomentum: MessageConfig(1, 2)}, nil)
	if got := one.Collect(secondEvents(5), 9); len(got) != 0 {
		t.Fatalf("out of range start must give empty result, got %v", got)
	}
	if _, err := NewCollector(map[string]TimeSeriesConfig{"nope": MessageConfig(1, 1)}, nil); !errors.Is(err, ErrUnknownCalculator) {
		t.Fatalf("expected ErrUnknownCalculator, got %v", err)
	}
}
