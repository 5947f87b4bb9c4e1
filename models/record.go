package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventRecord is the parquet row written for every processed event.
// Timestamps are unix nanoseconds. The book state is stored as JSON.
type EventRecord struct {
	TsRecv       int64   `parquet:"name=ts_recv, type=INT64"`
	TsEvent      int64   `parquet:"name=ts_event, type=INT64"`
	RType        string  `parquet:"name=rtype, type=BYTE_ARRAY, convertedtype=UTF8"`
	PublisherID  string  `parquet:"name=publisher_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	InstrumentID int64   `parquet:"name=instrument_id, type=INT64"`
	Action       string  `parquet:"name=action, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side         string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price        float64 `parquet:"name=price, type=DOUBLE"`
	Size         float64 `parquet:"name=size, type=DOUBLE"`
	ChannelID    int64   `parquet:"name=channel_id, type=INT64"`
	OrderID      int64   `parquet:"name=order_id, type=INT64"`
	Flags        int64   `parquet:"name=flags, type=INT64"`
	TsInDelta    int64   `parquet:"name=ts_in_delta, type=INT64"`
	Sequence     int64   `parquet:"name=sequence, type=INT64"`
	Symbol       string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`

	EventType    string `parquet:"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventSubtype string `parquet:"name=event_subtype, type=BYTE_ARRAY, convertedtype=UTF8"`
	IsTrade      bool   `parquet:"name=is_trade, type=BOOLEAN"`
	IsCancel     bool   `parquet:"name=is_cancel, type=BOOLEAN"`

	OriginalOrderID   int64    `parquet:"name=original_order_id, type=INT64"`
	OldPrice          *float64 `parquet:"name=old_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	OldSize           *float64 `parquet:"name=old_size, type=DOUBLE, repetitiontype=OPTIONAL"`
	EntryTime         *int64   `parquet:"name=entry_time, type=INT64, repetitiontype=OPTIONAL"`
	OriginalEntryTime *int64   `parquet:"name=original_entry_time, type=INT64, repetitiontype=OPTIONAL"`

	AggressorSide     string `parquet:"name=aggressor_side, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradeID           int64  `parquet:"name=trade_id, type=INT64"`
	AggressiveOrderID int64  `parquet:"name=aggressive_order_id, type=INT64"`
	RestingOrderID    int64  `parquet:"name=resting_order_id, type=INT64"`

	MidPriceBefore *float64 `parquet:"name=mid_price_before, type=DOUBLE, repetitiontype=OPTIONAL"`
	MidPriceAfter  *float64 `parquet:"name=mid_price_after, type=DOUBLE, repetitiontype=OPTIONAL"`
	SpreadBefore   *float64 `parquet:"name=spread_before, type=DOUBLE, repetitiontype=OPTIONAL"`
	SpreadAfter    *float64 `parquet:"name=spread_after, type=DOUBLE, repetitiontype=OPTIONAL"`

	BestBid     *float64 `parquet:"name=best_bid, type=DOUBLE, repetitiontype=OPTIONAL"`
	BestAsk     *float64 `parquet:"name=best_ask, type=DOUBLE, repetitiontype=OPTIONAL"`
	MidPrice    *float64 `parquet:"name=mid_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	SpreadTicks *int32   `parquet:"name=spread_ticks, type=INT32, repetitiontype=OPTIONAL"`
	BookState   string   `parquet:"name=book_state, type=BYTE_ARRAY, convertedtype=UTF8"`

	IsSessionStart bool `parquet:"name=is_session_start, type=BOOLEAN"`
	IsSessionEnd   bool `parquet:"name=is_session_end, type=BOOLEAN"`
}

type bookState struct {
	Bids []LevelEntry `json:"bid_side"`
	Asks []LevelEntry `json:"ask_side"`
}

func unixNanoPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixNano()
	return &v
}

func timePtr(ns *int64) *time.Time {
	if ns == nil {
		return nil
	}
	t := time.Unix(0, *ns).UTC()
	return &t
}

// NewEventRecord flattens an enriched event into its parquet row.
func NewEventRecord(ev *EnrichedEvent) (EventRecord, error) {
	state, err := json.Marshal(bookState{Bids: ev.Book.Bids, Asks: ev.Book.Asks})
	if err != nil {
		return EventRecord{}, fmt.Errorf("marshal book state: %w", err)
	}
	return EventRecord{
		TsRecv:       ev.TsRecv.UnixNano(),
		TsEvent:      ev.TsEvent.UnixNano(),
		RType:        ev.RType,
		PublisherID:  ev.PublisherID,
		InstrumentID: ev.InstrumentID,
		Action:       string(ev.Action),
		Side:         string(ev.Side),
		Price:        ev.Price,
		Size:         ev.Size,
		ChannelID:    ev.ChannelID,
		OrderID:      int64(ev.OrderID),
		Flags:        ev.Flags,
		TsInDelta:    ev.TsInDelta,
		Sequence:     int64(ev.Sequence),
		Symbol:       ev.Symbol,

		EventType:    string(ev.EventType),
		EventSubtype: ev.EventSubtype,
		IsTrade:      ev.IsTrade,
		IsCancel:     ev.IsCancel,

		OriginalOrderID:   int64(ev.OriginalOrderID),
		OldPrice:          ev.OldPrice,
		OldSize:           ev.OldSize,
		EntryTime:         unixNanoPtr(ev.EntryTime),
		OriginalEntryTime: unixNanoPtr(ev.OriginalEntryTime),

		AggressorSide:     string(ev.AggressorSide),
		TradeID:           int64(ev.TradeID),
		AggressiveOrderID: int64(ev.AggressiveOrderID),
		RestingOrderID:    int64(ev.RestingOrderID),

		MidPriceBefore: ev.MidPriceBefore,
		MidPriceAfter:  ev.MidPriceAfter,
		SpreadBefore:   ev.SpreadBefore,
		SpreadAfter:    ev.SpreadAfter,

		BestBid:     ev.Book.BestBid,
		BestAsk:     ev.Book.BestAsk,
		MidPrice:    ev.Book.MidPrice,
		SpreadTicks: ev.Book.SpreadTicks,
		BookState:   string(state),

		IsSessionStart: ev.IsSessionStart,
		IsSessionEnd:   ev.IsSessionEnd,
	}, nil
}

// Event rebuilds the enriched event a row was written from.
func (r EventRecord) Event() (EnrichedEvent, error) {
	var state bookState
	if r.BookState != "" {
		if err := json.Unmarshal([]byte(r.BookState), &state); err != nil {
			return EnrichedEvent{}, fmt.Errorf("unmarshal book state: %w", err)
		}
	}
	return EnrichedEvent{
		MBOEvent: MBOEvent{
			TsRecv:       time.Unix(0, r.TsRecv).UTC(),
			TsEvent:      time.Unix(0, r.TsEvent).UTC(),
			RType:        r.RType,
			PublisherID:  r.PublisherID,
			InstrumentID: r.InstrumentID,
			Action:       Action(r.Action),
			Side:         Side(r.Side),
			Price:        r.Price,
			Size:         r.Size,
			ChannelID:    r.ChannelID,
			OrderID:      uint64(r.OrderID),
			Flags:        r.Flags,
			TsInDelta:    r.TsInDelta,
			Sequence:     uint64(r.Sequence),
			Symbol:       r.Symbol,
		},
		EventType:    EventType(r.EventType),
		EventSubtype: r.EventSubtype,
		IsTrade:      r.IsTrade,
		IsCancel:     r.IsCancel,

		OriginalOrderID:   uint64(r.OriginalOrderID),
		OldPrice:          r.OldPrice,
		OldSize:           r.OldSize,
		EntryTime:         timePtr(r.EntryTime),
		OriginalEntryTime: timePtr(r.OriginalEntryTime),

		AggressorSide:     Side(r.AggressorSide),
		TradeID:           uint64(r.TradeID),
		AggressiveOrderID: uint64(r.AggressiveOrderID),
		RestingOrderID:    uint64(r.RestingOrderID),

		MidPriceBefore: r.MidPriceBefore,
		MidPriceAfter:  r.MidPriceAfter,
		SpreadBefore:   r.SpreadBefore,
		SpreadAfter:    r.SpreadAfter,

		Book: BookSnapshot{
			BestBid:     r.BestBid,
			BestAsk:     r.BestAsk,
			MidPrice:    r.MidPrice,
			SpreadTicks: r.SpreadTicks,
			Bids:        state.Bids,
			Asks:        state.Asks,
		},

		IsSessionStart: r.IsSessionStart,
		IsSessionEnd:   r.IsSessionEnd,
	}, nil
}

// SequenceRecord is the parquet row describing one detected sequence.
type SequenceRecord struct {
	SequenceID   string  `parquet:"name=sequence_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol       string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartTime    int64   `parquet:"name=start_time, type=INT64"`
	EndTime      int64   `parquet:"name=end_time, type=INT64"`
	StartPrice   float64 `parquet:"name=start_price, type=DOUBLE"`
	EndPrice     float64 `parquet:"name=end_price, type=DOUBLE"`
	TotalTicks   float64 `parquet:"name=total_ticks, type=DOUBLE"`
	Direction    int32   `parquet:"name=direction, type=INT32"`
	StartIndex   int64   `parquet:"name=start_index, type=INT64"`
	EndIndex     int64   `parquet:"name=end_index, type=INT64"`
	NumMoves     int32   `parquet:"name=num_moves, type=INT32"`
	VolumeDuring float64 `parquet:"name=volume_during, type=DOUBLE"`
	AvgTradeSize float64 `parquet:"name=avg_trade_size, type=DOUBLE"`
	MaxRetrace   float64 `parquet:"name=max_retrace, type=DOUBLE"`
	FeatureCount int32   `parquet:"name=feature_count, type=INT32"`
}

// FeatureRecord is one point of one feature window preceding a sequence.
type FeatureRecord struct {
	SequenceID string  `parquet:"name=sequence_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol     string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Feature    string  `parquet:"name=feature, type=BYTE_ARRAY, convertedtype=UTF8"`
	Point      int32   `parquet:"name=point, type=INT32"`
	Value      float64 `parquet:"name=value, type=DOUBLE"`
}

// Records flattens sf into its sequence row and long-format feature rows.
// Feature rows are ordered by feature name then point.
func (sf SequenceFeatures) Records(names []string) (SequenceRecord, []FeatureRecord) {
	s := sf.Sequence
	seq := SequenceRecord{
		SequenceID:   sf.SequenceID,
		Symbol:       sf.Symbol,
		StartTime:    s.StartTime.UnixNano(),
		EndTime:      s.EndTime.UnixNano(),
		StartPrice:   s.StartPrice,
		EndPrice:     s.EndPrice,
		TotalTicks:   s.TotalTicks,
		Direction:    int32(s.Direction),
		StartIndex:   int64(s.StartIndex),
		EndIndex:     int64(s.EndIndex),
		NumMoves:     int32(s.NumMoves),
		VolumeDuring: s.VolumeDuring,
		AvgTradeSize: s.AvgTradeSize,
		MaxRetrace:   s.MaxRetrace,
		FeatureCount: int32(len(sf.Features)),
	}
	var rows []FeatureRecord
	for _, name := range names {
		values, ok := sf.Features[name]
		if !ok {
			continue
		}
		for i, v := range values {
			rows = append(rows, FeatureRecord{
				SequenceID: sf.SequenceID,
				Symbol:     sf.Symbol,
				Feature:    name,
				Point:      int32(i),
				Value:      v,
			})
		}
	}
	return seq, rows
}
