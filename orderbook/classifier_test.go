package orderbook

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
	warnings []error
}

func (s *recordingSink) Milestone(string, logger.Fields) {}

func (s *recordingSink) Warning(_ string, err error, _ logger.Fields) {
	s.mu.Lock()
	s.warnings = append(s.warnings, err)
	s.mu.Unlock()
}

func (s *recordingSink) Error(string, error, logger.Fields) {}

func ev(seq uint64, action models.Action, side models.Side, id uint64, price, size float64) models.MBOEvent {
	return models.MBOEvent{
		TsEvent:  t0.Add(time.Duration(seq) * time.Millisecond),
		Action:   action,
		Side:     side,
		OrderID:  id,
		Price:    price,
		Size:     size,
		Sequence: seq,
		Symbol:   "ESH4",
	}
}

func TestClassifyAddAndModify(t *testing.T) {
	c := NewClassifier(0.25, 10, nil)
	c.Classify(ev(1, models.ActionAdd, models.SideBid, 1, 100, 2))
	add := c.Classify(ev(2, models.ActionAdd, models.SideAsk, 2, 100.5, 1))
	if add.EventType != models.EventNew || add.EventSubtype != "passive_ask" || add.EntryTime == nil {
		t.Fatalf("unexpected add classification %+v", add)
	}
	if add.MidPriceBefore != nil || add.MidPriceAfter == nil || *add.MidPriceAfter != 100.25 {
		t.Fatalf("unexpected mids before=%v after=%v", add.MidPriceBefore, add.MidPriceAfter)
	}

	mod := c.Classify(ev(3, models.ActionModify, models.SideAsk, 2, 100.25, 3))
	if mod.EventType != models.EventModify || mod.EventSubtype != "modify_ask" {
		t.Fatalf("unexpected modify classification %+v", mod)
	}
	if mod.OldPrice == nil || *mod.OldPrice != 100.5 || *mod.OldSize != 1 {
		t.Fatalf("unexpected old state %v %v", mod.OldPrice, mod.OldSize)
	}
	if mod.OriginalEntryTime == nil || !mod.OriginalEntryTime.Equal(t0.Add(2*time.Millisecond)) {
		t.Fatalf("unexpected original entry time %v", mod.OriginalEntryTime)
	}
	if *mod.MidPriceBefore != 100.25 || *mod.MidPriceAfter != 100.125 {
		t.Fatalf("unexpected mids before=%v after=%v", *mod.MidPriceBefore, *mod.MidPriceAfter)
	}
	if *mod.SpreadAfter != 0.25 || *mod.Book.SpreadTicks != 1 {
		t.Fatalf("unexpected spread %v / %v ticks", *mod.SpreadAfter, *mod.Book.SpreadTicks)
	}
}

func TestClassifyUnknownModifyIsLenient(t *testing.T) {
	sink := &recordingSink{}
	c := NewClassifier(0.25, 10, sink)
	c.Classify(ev(1, models.ActionAdd, models.SideBid, 1, 100, 2))

	out := c.Classify(ev(2, models.ActionModify, models.SideBid, 42, 100.25, 5))
	if out.EventType != models.EventModify {
		t.Fatalf("expected modify event, got %q", out.EventType)
	}
	if out.OldPrice != nil || out.OldSize != nil || out.OriginalEntryTime != nil {
		t.Fatal("unknown modify must carry nil old state")
	}
	if c.Book().Len() != 1 {
		t.Fatalf("unknown modify changed the book: %d orders", c.Book().Len())
	}
	if len(sink.warnings) != 1 || !errors.Is(sink.warnings[0], ErrUnknownOrder) {
		t.Fatalf("expected one unknown order warning, got %v", sink.warnings)
	}
	if c.Stats().UnknownRefs != 1 {
		t.Fatalf("unknown refs = %d, want 1", c.Stats().UnknownRefs)
	}
}

func TestClassifyTrade(t *testing.T) {
	c := NewClassifier(0.25, 10, nil)
	c.Classify(ev(1, models.ActionAdd, models.SideAsk, 10, 100.25, 2))
	c.Classify(ev(2, models.ActionAdd, models.SideAsk, 11, 100.25, 4))
	c.Classify(ev(3, models.ActionAdd, models.SideBid, 12, 100, 1))
	before := c.Book().Snapshot(0.25, 10)

	tr := c.Classify(ev(4, models.ActionTrade, models.SideBid, 77, 100.25, 1))
	if !tr.IsTrade || tr.EventType != models.EventTrade || tr.EventSubtype != "aggressive_buy" {
		t.Fatalf("unexpected trade classification %+v", tr)
	}
	if tr.AggressorSide != models.SideBid || !tr.IsBuyAggressor() {
		t.Fatalf("unexpected aggressor %q", tr.AggressorSide)
	}
	if tr.TradeID != 4 || tr.AggressiveOrderID != 77 || tr.RestingOrderID != 10 {
		t.Fatalf("unexpected trade ids %d/%d/%d", tr.TradeID, tr.AggressiveOrderID, tr.RestingOrderID)
	}
	if tr.Book.Asks[0].Volume != before.Asks[0].Volume {
		t.Fatal("trade must not mutate the book")
	}

	unk := c.Classify(ev(5, models.ActionTrade, models.SideNone, 0, 100.25, 1))
	if unk.EventSubtype != "trade_unknown" || unk.RestingOrderID != 0 {
		t.Fatalf("unexpected unknown-side trade %+v", unk)
	}
}

func TestSessionMarkers(t *testing.T) {
	c := NewClassifier(0.25, 10, nil)
	first := c.Classify(ev(1, models.ActionAdd, models.SideBid, 1, 100, 1))
	if !first.IsSessionStart {
		t.Fatal("first event must start a session")
	}
	second := c.Classify(ev(2, models.ActionAdd, models.SideAsk, 2, 100.5, 1))
	if second.IsSessionStart || second.IsSessionEnd {
		t.Fatal("second event must not carry session markers")
	}
	c.Classify(ev(3, models.ActionCancel, models.SideBid, 1, 100, 1))
	last := c.Classify(ev(4, models.ActionCancel, models.SideAsk, 2, 100.5, 1))
	if !last.IsSessionEnd {
		t.Fatal("emptying the book must end the session")
	}
	restart := c.Classify(ev(5, models.ActionAdd, models.SideBid, 3, 99.75, 1))
	if !restart.IsSessionStart {
		t.Fatal("first event after the book empties must start a session")
	}
	if c.Stats().Sessions != 2 {
		t.Fatalf("sessions = %d, want 2", c.Stats().Sessions)
	}
}

func TestSessionStartsOnEventThatFillsBook(t *testing.T) {
	c := NewClassifier(0.25, 10, nil)
	stray := c.Classify(ev(1, models.ActionCancel, models.SideBid, 99, 100, 1))
	if stray.IsSessionStart || stray.IsSessionEnd {
		t.Fatal("a cancel on an empty book must not carry session markers")
	}
	trade := c.Classify(ev(2, models.ActionTrade, models.SideBid, 0, 100, 1))
	if trade.IsSessionStart {
		t.Fatal("a trade on an empty book must not start a session")
	}
	add := c.Classify(ev(3, models.ActionAdd, models.SideBid, 1, 100, 1))
	if !add.IsSessionStart {
		t.Fatal("the add that fills the book must start the session")
	}
	if c.Stats().Sessions != 1 {
		t.Fatalf("sessions = %d, want 1", c.Stats().Sessions)
	}
}
