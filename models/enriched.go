package models

import "time"

// EventType is the classification assigned to a raw event against the book.
type EventType string

const (
	EventNew    EventType = "new"
	EventModify EventType = "modify"
	EventCancel EventType = "cancel"
	EventTrade  EventType = "trade"
)

// LevelEntry is one aggregated price level in a BookSnapshot.
type LevelEntry struct {
	RelativeLevel int32   `json:"relative_level"`
	Price         float64 `json:"price"`
	Volume        float64 `json:"volume"`
	OrderCount    int32   `json:"order_count"`
}

// BookSnapshot is the book state at emission time. Best prices are nil when
// that side is empty; MidPrice and SpreadTicks are nil unless both sides
// are present. Bids are ordered by descending price and asks by ascending
// price, each starting at relative level 0.
type BookSnapshot struct {
	BestBid     *float64     `json:"best_bid"`
	BestAsk     *float64     `json:"best_ask"`
	MidPrice    *float64     `json:"mid_price"`
	SpreadTicks *int32       `json:"spread_ticks"`
	Bids        []LevelEntry `json:"bid_side"`
	Asks        []LevelEntry `json:"ask_side"`
}

// HasMarket reports whether both sides of the book were populated.
func (b BookSnapshot) HasMarket() bool {
	return b.BestBid != nil && b.BestAsk != nil
}

// EnrichedEvent is a raw event classified against the book, with the market
// state around it. It is never mutated after the classifier returns it.
type EnrichedEvent struct {
	MBOEvent

	EventType    EventType `json:"event_type"`
	EventSubtype string    `json:"event_subtype"`
	IsTrade      bool      `json:"is_trade"`
	IsCancel     bool      `json:"is_cancel"`

	OriginalOrderID   uint64     `json:"original_order_id"`
	OldPrice          *float64   `json:"old_price"`
	OldSize           *float64   `json:"old_size"`
	EntryTime         *time.Time `json:"entry_time"`
	OriginalEntryTime *time.Time `json:"original_entry_time"`

	AggressorSide     Side   `json:"aggressor_side"`
	TradeID           uint64 `json:"trade_id"`
	AggressiveOrderID uint64 `json:"aggressive_order_id"`
	RestingOrderID    uint64 `json:"resting_order_id"`

	MidPriceBefore *float64 `json:"mid_price_before"`
	MidPriceAfter  *float64 `json:"mid_price_after"`
	SpreadBefore   *float64 `json:"spread_before"`
	SpreadAfter    *float64 `json:"spread_after"`

	Book BookSnapshot `json:"book_state"`

	IsSessionStart bool `json:"is_session_start"`
	IsSessionEnd   bool `json:"is_session_end"`
}

// MidPrice returns the mid price after the event, if the book had both sides.
func (e *EnrichedEvent) MidPrice() (float64, bool) {
	if e.Book.MidPrice == nil {
		return 0, false
	}
	return *e.Book.MidPrice, true
}

// IsBuyAggressor reports whether the event is a trade lifted by a buyer.
func (e *EnrichedEvent) IsBuyAggressor() bool {
	return e.IsTrade && e.AggressorSide == SideBid
}

// Float returns a pointer to v. Used for the nullable market-state fields.
func Float(v float64) *float64 { return &v }
