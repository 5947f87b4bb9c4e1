package models

import "time"

// Action is the lifecycle verb carried by a raw MBO record.
type Action string

const (
	ActionAdd    Action = "add"
	ActionModify Action = "modify"
	ActionCancel Action = "cancel"
	ActionTrade  Action = "trade"
)

// Side of the book an order rests on, or the aggressor side of a trade.
type Side string

const (
	SideBid  Side = "bid"
	SideAsk  Side = "ask"
	SideNone Side = "none"
)

// Opposite returns the other side of the book. SideNone has no opposite.
func (s Side) Opposite() Side {
	switch s {
	case SideBid:
		return SideAsk
	case SideAsk:
		return SideBid
	default:
		return SideNone
	}
}

// MBOEvent is one raw market-by-order record as delivered by ingestion.
// Records for one instrument are assumed to arrive with non-decreasing
// Sequence and TsEvent.
type MBOEvent struct {
	TsRecv       time.Time `json:"ts_recv"`
	TsEvent      time.Time `json:"ts_event"`
	RType        string    `json:"rtype"`
	PublisherID  string    `json:"publisher_id"`
	InstrumentID int64     `json:"instrument_id"`
	Action       Action    `json:"action"`
	Side         Side      `json:"side"`
	Price        float64   `json:"price"`
	Size         float64   `json:"size"`
	ChannelID    int64     `json:"channel_id"`
	OrderID      uint64    `json:"order_id"`
	Flags        int64     `json:"flags"`
	TsInDelta    int64     `json:"ts_in_delta"`
	Sequence     uint64    `json:"sequence"`
	Symbol       string    `json:"symbol"`
}
