package features

import (
	"math"
	"testing"

	"mboflow/models"
)

const eps = 1e-9

func trade(side models.Side, size float64, subtype string) *models.EnrichedEvent {
	return &models.EnrichedEvent{
		MBOEvent:      models.MBOEvent{Action: models.ActionTrade, Side: side, Size: size},
		IsTrade:       true,
		AggressorSide: side,
		EventSubtype:  subtype,
	}
}

func withMid(mid float64) *models.EnrichedEvent {
	return &models.EnrichedEvent{Book: models.BookSnapshot{MidPrice: models.Float(mid)}}
}

func TestOrderFlow(t *testing.T) {
	events := []*models.EnrichedEvent{
		trade(models.SideBid, 3, "aggressive_buy"),
		trade(models.SideBid, 1, "aggressive_buy"),
		trade(models.SideAsk, 2, "aggressive_sell"),
		{EventType: models.EventNew},
	}
	if got := (OrderFlow{}).Compute(events); math.Abs(got-1.0/3) > eps {
		t.Fatalf("order flow = %v, want 1/3", got)
	}
	if got := (OrderFlow{}).Compute([]*models.EnrichedEvent{{EventType: models.EventCancel}}); got != 0 {
		t.Fatalf("order flow without trades = %v, want 0", got)
	}
}

func TestBookPressure(t *testing.T) {
	ev := &models.EnrichedEvent{Book: models.BookSnapshot{
		Bids: []models.LevelEntry{{Volume: 10}, {Volume: 4}},
		Asks: []models.LevelEntry{{Volume: 5}},
	}}
	if got := (BookPressure{}).Compute([]*models.EnrichedEvent{{}, ev}); math.Abs(got-7.0/17) > eps {
		t.Fatalf("book pressure = %v, want 7/17", got)
	}

	deep := &models.EnrichedEvent{Book: models.BookSnapshot{
		Bids: []models.LevelEntry{{Volume: 1}, {Volume: 1}, {Volume: 1}, {Volume: 1}, {Volume: 1}, {Volume: 1000}},
		Asks: []models.LevelEntry{{Volume: 1}, {Volume: 1}, {Volume: 1}, {Volume: 1}, {Volume: 1}},
	}}
	if got := (BookPressure{}).Compute([]*models.EnrichedEvent{deep}); got != 0 {
		t.Fatalf("levels past the fifth must be ignored, got %v", got)
	}
	if got := (BookPressure{}).Compute([]*models.EnrichedEvent{{}}); got != 0 {
		t.Fatalf("empty book pressure = %v, want 0", got)
	}
}

func TestTradeIntensity(t *testing.T) {
	events := []*models.EnrichedEvent{
		trade(models.SideBid, 150, "aggressive_buy"),
		trade(models.SideNone, 50, "trade_unknown"),
	}
	want := (0.75 + 0.5 + 0.2) / 3
	if got := (TradeIntensity{}).Compute(events); math.Abs(got-want) > eps {
		t.Fatalf("trade intensity = %v, want %v", got, want)
	}
	if got := (TradeIntensity{}).Compute(nil); got != 0 {
		t.Fatalf("trade intensity without trades = %v, want 0", got)
	}
}

func feed(s Strategy, mids ...float64) float64 {
	var v float64
	for _, m := range mids {
		v = s.Compute([]*models.EnrichedEvent{withMid(m)})
	}
	return v
}

func TestMomentum(t *testing.T) {
	m := NewMomentum()
	if got := feed(m, 100, 101); got != 0 {
		t.Fatalf("momentum before three prices = %v, want 0", got)
	}
	if got := feed(m, 102.5); got != 1 {
		t.Fatalf("steady rise momentum = %v, want 1", got)
	}
	m.Reset()
	if got := feed(m, 100, 99, 97); got != -1 {
		t.Fatalf("steady fall momentum = %v, want -1", got)
	}
	m.Reset()
	if got := feed(m, 100, 101, 100); got != 0 {
		t.Fatalf("reversal momentum = %v, want 0", got)
	}
	// a batch without a mid leaves the history untouched
	m.Reset()
	feed(m, 100, 101)
	if got := m.Compute([]*models.EnrichedEvent{{}}); got != 0 || len(m.history.prices) != 2 {
		t.Fatalf("missing mid changed history: %v", m.history.prices)
	}
	feed(m, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)
	if len(m.history.prices) != momentumHistory {
		t.Fatalf("history length = %d, want %d", len(m.history.prices), momentumHistory)
	}
}

func TestVolatility(t *testing.T) {
	v := NewVolatility()
	if got := feed(v, 100, 101); got != 0 {
		t.Fatalf("volatility before three prices = %v, want 0", got)
	}
	got := feed(v, 103)
	_, realized := meanStd([]float64{0.01, 2.0 / 101})
	if math.Abs(got-realized) > eps || got == 0 {
		t.Fatalf("volatility without down moves = %v, want realized %v", got, realized)
	}

	v.Reset()
	got = feed(v, 100, 102, 101, 104, 103)
	rets := []float64{0.02, -1.0 / 102, 3.0 / 101, -1.0 / 104}
	_, up := meanStd([]float64{rets[0], rets[2]})
	_, down := meanStd([]float64{rets[1], rets[3]})
	if want := up/down - 1; math.Abs(got-want) > 1e-6 {
		t.Fatalf("volatility skew = %v, want %v", got, want)
	}
}

func TestNamesAreRegistered(t *testing.T) {
	for _, name := range Names() {
		if !Known(name) {
			t.Fatalf("%s not known", name)
		}
		if _, err := New(name, MessageConfig(1, 1)); err != nil {
			t.Fatalf("new %s: %v", name, err)
		}
	}
	if len(Names()) != 5 {
		t.Fatalf("expected 5 calculators, got %v", Names())
	}
}
