package orderbook

import (
	"errors"
	"time"

	"mboflow/logger"
	"mboflow/models"
)

// ClassifierStats counts what the classifier has seen so far.
type ClassifierStats struct {
	Events         int64
	Trades         int64
	UnknownRefs    int64
	DuplicateAdds  int64
	Sessions       int64
	UnknownActions int64
}

// Classifier owns a Book and turns raw events into enriched events,
// mutating the book as it goes.
type Classifier struct {
	book      *Book
	tickSize  float64
	maxLevels int
	sink      logger.Sink

	// armed is set while the book is empty and no event has refilled it
	armed bool
	stats ClassifierStats
}

func NewClassifier(tickSize float64, maxLevels int, sink logger.Sink) *Classifier {
	if sink == nil {
		sink = logger.Discard()
	}
	return &Classifier{
		book:      New(),
		tickSize:  tickSize,
		maxLevels: maxLevels,
		sink:      sink,
		armed:     true,
	}
}

// Book exposes the underlying book for read-only queries.
func (c *Classifier) Book() *Book { return c.book }

func (c *Classifier) Stats() ClassifierStats { return c.stats }

// Classify applies ev to the book and returns the enriched event.
func (c *Classifier) Classify(ev models.MBOEvent) models.EnrichedEvent {
	c.stats.Events++
	out := models.EnrichedEvent{MBOEvent: ev}

	if mid, spread, ok := c.book.Mid(); ok {
		out.MidPriceBefore = models.Float(mid)
		out.SpreadBefore = models.Float(spread)
	}
	wasEmpty := c.book.Empty()

	switch ev.Action {
	case models.ActionAdd:
		c.classifyAdd(ev, &out)
	case models.ActionModify:
		c.classifyModify(ev, &out)
	case models.ActionCancel:
		c.classifyCancel(ev, &out)
	case models.ActionTrade:
		c.classifyTrade(ev, &out)
	default:
		c.stats.UnknownActions++
		c.sink.Warning("classify", nil, logger.Fields{
			"action":   string(ev.Action),
			"sequence": ev.Sequence,
		})
	}

	if mid, spread, ok := c.book.Mid(); ok {
		out.MidPriceAfter = models.Float(mid)
		out.SpreadAfter = models.Float(spread)
	}
	out.Book = c.book.Snapshot(c.tickSize, c.maxLevels)

	switch {
	case c.armed && !c.book.Empty():
		out.IsSessionStart = true
		c.armed = false
		c.stats.Sessions++
	case !wasEmpty && c.book.Empty():
		out.IsSessionEnd = true
		c.armed = true
	}
	return out
}

func (c *Classifier) classifyAdd(ev models.MBOEvent, out *models.EnrichedEvent) {
	out.EventType = models.EventNew
	out.EventSubtype = "passive_" + string(ev.Side)
	entry := ev.TsEvent
	out.EntryTime = &entry

	if err := c.book.Add(ev.OrderID, ev.Side, ev.Price, ev.Size, ev.TsEvent); err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			c.stats.DuplicateAdds++
		}
		c.sink.Warning("add_order", err, logger.Fields{
			"order_id": ev.OrderID,
			"sequence": ev.Sequence,
		})
	}
}

func (c *Classifier) classifyModify(ev models.MBOEvent, out *models.EnrichedEvent) {
	out.EventType = models.EventModify
	out.EventSubtype = "modify_" + string(ev.Side)
	out.OriginalOrderID = ev.OrderID

	prev, err := c.book.Modify(ev.OrderID, ev.Price, ev.Size)
	if err != nil {
		c.unknownRef("modify_order", ev, err)
		return
	}
	out.OldPrice = models.Float(prev.Price)
	out.OldSize = models.Float(prev.Size)
	out.OriginalEntryTime = timePtr(prev.EntryTime)
}

func (c *Classifier) classifyCancel(ev models.MBOEvent, out *models.EnrichedEvent) {
	out.EventType = models.EventCancel
	out.EventSubtype = "cancel_" + string(ev.Side)
	out.IsCancel = true
	out.OriginalOrderID = ev.OrderID

	prev, err := c.book.Cancel(ev.OrderID)
	if err != nil {
		c.unknownRef("cancel_order", ev, err)
		return
	}
	out.OldPrice = models.Float(prev.Price)
	out.OldSize = models.Float(prev.Size)
	out.OriginalEntryTime = timePtr(prev.EntryTime)
}

// classifyTrade tags the trade without touching the book; the feed
// carries the fills as separate cancel and modify records.
func (c *Classifier) classifyTrade(ev models.MBOEvent, out *models.EnrichedEvent) {
	c.stats.Trades++
	out.EventType = models.EventTrade
	out.IsTrade = true
	out.TradeID = ev.Sequence
	out.AggressiveOrderID = ev.OrderID

	switch ev.Side {
	case models.SideBid:
		out.AggressorSide = models.SideBid
		out.EventSubtype = "aggressive_buy"
	case models.SideAsk:
		out.AggressorSide = models.SideAsk
		out.EventSubtype = "aggressive_sell"
	default:
		out.AggressorSide = models.SideNone
		out.EventSubtype = "trade_unknown"
		return
	}
	if resting, ok := c.book.Oldest(out.AggressorSide.Opposite(), ev.Price); ok {
		out.RestingOrderID = resting.ID
	}
}

func (c *Classifier) unknownRef(op string, ev models.MBOEvent, err error) {
	c.stats.UnknownRefs++
	c.sink.Warning(op, err, logger.Fields{
		"order_id": ev.OrderID,
		"sequence": ev.Sequence,
		"side":     string(ev.Side),
	})
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
