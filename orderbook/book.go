// Package orderbook reconstructs a limit order book from market-by-order
// events and classifies each event against it.
package orderbook

import (
	"fmt"
	"time"

	"github.com/google/btree"

	"mboflow/internal/ticks"
	"mboflow/models"
)

const btreeDegree = 32

// Order is a live resting order.
type Order struct {
	ID        uint64
	Side      models.Side
	Price     float64
	Size      float64
	EntryTime time.Time
}

// level holds the orders resting at one price in arrival order.
type level struct {
	price  float64
	orders []*Order
}

func (l *level) volume() float64 {
	var v float64
	for _, o := range l.orders {
		v += o.Size
	}
	return v
}

func (l *level) remove(id uint64) {
	for i, o := range l.orders {
		if o.ID == id {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return
		}
	}
}

// Book is the order book for a single instrument. It is not safe for
// concurrent use; one processing path owns it.
type Book struct {
	orders map[uint64]*Order
	// both trees iterate best price first
	bids *btree.BTreeG[*level]
	asks *btree.BTreeG[*level]
}

func New() *Book {
	return &Book{
		orders: make(map[uint64]*Order),
		bids:   btree.NewG(btreeDegree, func(a, b *level) bool { return a.price > b.price }),
		asks:   btree.NewG(btreeDegree, func(a, b *level) bool { return a.price < b.price }),
	}
}

func (b *Book) side(s models.Side) *btree.BTreeG[*level] {
	if s == models.SideBid {
		return b.bids
	}
	return b.asks
}

func (b *Book) insert(o *Order) {
	tree := b.side(o.Side)
	lvl, ok := tree.Get(&level{price: o.Price})
	if !ok {
		lvl = &level{price: o.Price}
		tree.ReplaceOrInsert(lvl)
	}
	lvl.orders = append(lvl.orders, o)
}

func (b *Book) detach(o *Order) {
	tree := b.side(o.Side)
	lvl, ok := tree.Get(&level{price: o.Price})
	if !ok {
		return
	}
	lvl.remove(o.ID)
	if len(lvl.orders) == 0 {
		tree.Delete(lvl)
	}
}

// Add inserts a new resting order at the back of its price level.
func (b *Book) Add(id uint64, side models.Side, price, size float64, ts time.Time) error {
	if side != models.SideBid && side != models.SideAsk {
		return fmt.Errorf("add order %d: %w", id, ErrInvalidSide)
	}
	if _, ok := b.orders[id]; ok {
		return fmt.Errorf("add order %d: %w", id, ErrDuplicateOrder)
	}
	o := &Order{ID: id, Side: side, Price: price, Size: size, EntryTime: ts}
	b.orders[id] = o
	b.insert(o)
	return nil
}

// Modify changes the price and size of a live order and returns its state
// before the change. A price change moves the order to the back of the new
// level. A non-positive size removes the order.
func (b *Book) Modify(id uint64, price, size float64) (Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("modify order %d: %w", id, ErrUnknownOrder)
	}
	prev := *o
	if size <= 0 {
		b.detach(o)
		delete(b.orders, id)
		return prev, nil
	}
	if price != o.Price {
		b.detach(o)
		o.Price = price
		o.Size = size
		b.insert(o)
		return prev, nil
	}
	o.Size = size
	return prev, nil
}

// Cancel removes a live order and returns it.
func (b *Book) Cancel(id uint64) (Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("cancel order %d: %w", id, ErrUnknownOrder)
	}
	b.detach(o)
	delete(b.orders, id)
	return *o, nil
}

// Apply mutates the book for an add, modify or cancel event. Trades and
// other actions leave the book untouched.
func (b *Book) Apply(ev *models.MBOEvent) error {
	switch ev.Action {
	case models.ActionAdd:
		return b.Add(ev.OrderID, ev.Side, ev.Price, ev.Size, ev.TsEvent)
	case models.ActionModify:
		_, err := b.Modify(ev.OrderID, ev.Price, ev.Size)
		return err
	case models.ActionCancel:
		_, err := b.Cancel(ev.OrderID)
		return err
	}
	return nil
}

// Order returns a copy of the live order with the given id.
func (b *Book) Order(id uint64) (Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Len is the number of live orders.
func (b *Book) Len() int { return len(b.orders) }

func (b *Book) Empty() bool { return len(b.orders) == 0 }

func (b *Book) BestBid() (float64, bool) {
	lvl, ok := b.bids.Min()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

func (b *Book) BestAsk() (float64, bool) {
	lvl, ok := b.asks.Min()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// Mid returns the mid price and raw spread when both sides are populated.
func (b *Book) Mid() (mid, spread float64, ok bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, 0, false
	}
	return (bid + ask) / 2, ask - bid, true
}

// Oldest returns the first order queued at price on side s.
func (b *Book) Oldest(s models.Side, price float64) (Order, bool) {
	if s != models.SideBid && s != models.SideAsk {
		return Order{}, false
	}
	lvl, ok := b.side(s).Get(&level{price: price})
	if !ok || len(lvl.orders) == 0 {
		return Order{}, false
	}
	return *lvl.orders[0], true
}

// Snapshot aggregates the book into price levels. Only levels within
// maxLevels ticks of the best price on their side are kept.
func (b *Book) Snapshot(tickSize float64, maxLevels int) models.BookSnapshot {
	var snap models.BookSnapshot
	snap.Bids = collectLevels(b.bids, tickSize, maxLevels)
	snap.Asks = collectLevels(b.asks, tickSize, maxLevels)
	if len(snap.Bids) > 0 {
		snap.BestBid = models.Float(snap.Bids[0].Price)
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = models.Float(snap.Asks[0].Price)
	}
	if snap.HasMarket() {
		bid, ask := *snap.BestBid, *snap.BestAsk
		snap.MidPrice = models.Float((bid + ask) / 2)
		spread := int32(ticks.Round(bid, ask, tickSize))
		snap.SpreadTicks = &spread
	}
	return snap
}

func collectLevels(tree *btree.BTreeG[*level], tickSize float64, maxLevels int) []models.LevelEntry {
	best, ok := tree.Min()
	if !ok {
		return nil
	}
	var out []models.LevelEntry
	tree.Ascend(func(lvl *level) bool {
		rel := ticks.Distance(best.price, lvl.price, tickSize)
		if rel > int64(maxLevels) {
			return false
		}
		out = append(out, models.LevelEntry{
			RelativeLevel: int32(rel),
			Price:         lvl.price,
			Volume:        lvl.volume(),
			OrderCount:    int32(len(lvl.orders)),
		})
		return true
	})
	return out
}
