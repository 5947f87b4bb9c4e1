package orderbook

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"mboflow/models"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func mustAdd(t *testing.T, b *Book, id uint64, side models.Side, price, size float64) {
	t.Helper()
	if err := b.Add(id, side, price, size, t0); err != nil {
		t.Fatalf("add %d: %v", id, err)
	}
}

func TestAddDuplicateAndInvalidSide(t *testing.T) {
	b := New()
	mustAdd(t, b, 1, models.SideBid, 100, 5)
	if err := b.Add(1, models.SideBid, 100.25, 5, t0); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	if err := b.Add(2, models.SideNone, 100, 5, t0); !errors.Is(err, ErrInvalidSide) {
		t.Fatalf("expected ErrInvalidSide, got %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 order, got %d", b.Len())
	}
	o, _ := b.Order(1)
	if o.Price != 100 {
		t.Fatalf("duplicate add replaced the live order: %+v", o)
	}
}

func TestCancelRemovesOrderFromSnapshots(t *testing.T) {
	b := New()
	mustAdd(t, b, 7, models.SideAsk, 101, 3)
	mustAdd(t, b, 8, models.SideAsk, 101, 2)
	if _, err := b.Modify(7, 101.5, 4); err != nil {
		t.Fatalf("modify: %v", err)
	}
	if _, err := b.Cancel(7); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := b.Cancel(7); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder on second cancel, got %v", err)
	}
	if _, err := b.Modify(7, 101, 1); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder on modify after cancel, got %v", err)
	}

	snap := b.Snapshot(0.25, 50)
	if len(snap.Asks) != 1 || snap.Asks[0].Price != 101 || snap.Asks[0].Volume != 2 || snap.Asks[0].OrderCount != 1 {
		t.Fatalf("unexpected ask side %+v", snap.Asks)
	}
	if _, ok := b.Order(7); ok {
		t.Fatal("cancelled order still live")
	}
}

func TestModifyPriceMovesLevel(t *testing.T) {
	b := New()
	mustAdd(t, b, 1, models.SideBid, 99.75, 2)
	mustAdd(t, b, 2, models.SideBid, 100, 1)
	prev, err := b.Modify(1, 100, 6)
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if prev.Price != 99.75 || prev.Size != 2 {
		t.Fatalf("unexpected previous state %+v", prev)
	}
	snap := b.Snapshot(0.25, 10)
	if len(snap.Bids) != 1 || snap.Bids[0].Volume != 7 || snap.Bids[0].OrderCount != 2 {
		t.Fatalf("unexpected bid side %+v", snap.Bids)
	}
	oldest, ok := b.Oldest(models.SideBid, 100)
	if !ok || oldest.ID != 2 {
		t.Fatalf("modified order should queue behind order 2, got %+v", oldest)
	}

	if _, err := b.Modify(2, 100, 0); err != nil {
		t.Fatalf("modify to zero: %v", err)
	}
	if _, ok := b.Order(2); ok {
		t.Fatal("zero-size modify should remove the order")
	}
}

func TestBestPricesAndMid(t *testing.T) {
	b := New()
	if _, ok := b.BestBid(); ok {
		t.Fatal("empty book reported a best bid")
	}
	mustAdd(t, b, 1, models.SideBid, 99.5, 1)
	mustAdd(t, b, 2, models.SideBid, 99.75, 1)
	snap := b.Snapshot(0.25, 50)
	if snap.BestBid == nil || *snap.BestBid != 99.75 {
		t.Fatalf("unexpected best bid %v", snap.BestBid)
	}
	if snap.MidPrice != nil || snap.SpreadTicks != nil || snap.BestAsk != nil {
		t.Fatal("one-sided book must not report mid or spread")
	}

	mustAdd(t, b, 3, models.SideAsk, 100.5, 1)
	mustAdd(t, b, 4, models.SideAsk, 100.25, 1)
	snap = b.Snapshot(0.25, 50)
	bid, ask, mid := *snap.BestBid, *snap.BestAsk, *snap.MidPrice
	if !(bid <= mid && mid <= ask) {
		t.Fatalf("mid %v outside [%v, %v]", mid, bid, ask)
	}
	if *snap.SpreadTicks != 2 {
		t.Fatalf("spread ticks = %d, want 2", *snap.SpreadTicks)
	}
}

func TestSnapshotRelativeLevels(t *testing.T) {
	b := New()
	mustAdd(t, b, 1, models.SideBid, 100, 1)
	mustAdd(t, b, 2, models.SideBid, 100, 4)
	mustAdd(t, b, 3, models.SideBid, 90, 1)    // 40 ticks away
	mustAdd(t, b, 4, models.SideBid, 87.25, 1) // 51 ticks away
	mustAdd(t, b, 5, models.SideAsk, 100.25, 2)

	snap := b.Snapshot(0.25, 50)
	want := []models.LevelEntry{
		{RelativeLevel: 0, Price: 100, Volume: 5, OrderCount: 2},
		{RelativeLevel: 40, Price: 90, Volume: 1, OrderCount: 1},
	}
	if !reflect.DeepEqual(snap.Bids, want) {
		t.Fatalf("bid side = %+v, want %+v", snap.Bids, want)
	}
	for _, side := range [][]models.LevelEntry{snap.Bids, snap.Asks} {
		if side[0].RelativeLevel != 0 {
			t.Fatalf("best level must be relative level 0: %+v", side)
		}
		for i := 1; i < len(side); i++ {
			if side[i].RelativeLevel < side[i-1].RelativeLevel || side[i].RelativeLevel > 50 {
				t.Fatalf("relative levels out of order: %+v", side)
			}
		}
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	events := []models.MBOEvent{
		{Action: models.ActionAdd, OrderID: 1, Side: models.SideBid, Price: 100, Size: 3},
		{Action: models.ActionAdd, OrderID: 2, Side: models.SideBid, Price: 100, Size: 2},
		{Action: models.ActionAdd, OrderID: 3, Side: models.SideAsk, Price: 100.5, Size: 1},
		{Action: models.ActionModify, OrderID: 1, Side: models.SideBid, Price: 99.75, Size: 3},
		{Action: models.ActionAdd, OrderID: 4, Side: models.SideAsk, Price: 100.25, Size: 6},
		{Action: models.ActionCancel, OrderID: 3, Side: models.SideAsk},
		{Action: models.ActionCancel, OrderID: 99, Side: models.SideAsk},
	}
	replay := func() models.BookSnapshot {
		b := New()
		for i := range events {
			_ = b.Apply(&events[i])
		}
		return b.Snapshot(0.25, 10)
	}
	first := replay()
	for i := 0; i < 5; i++ {
		if got := replay(); !reflect.DeepEqual(first, got) {
			t.Fatalf("replay %d differs: %+v vs %+v", i, first, got)
		}
	}
}
