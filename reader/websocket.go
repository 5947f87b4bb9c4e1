package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "mboflow/config"
	"mboflow/internal/channel"
	"mboflow/logger"
	"mboflow/models"
)

// reconnectDelay is the wait between websocket connection attempts.
var reconnectDelay = 5 * time.Second

// WebsocketStats counts websocket traffic.
type WebsocketStats struct {
	Messages   int64
	Emitted    int64
	Malformed  int64
	Reconnects int64
}

// WebsocketReader streams JSON MBO records from a websocket into the raw
// channel. It reconnects until its context is cancelled and then closes
// the raw channel.
type WebsocketReader struct {
	url              string
	symbol           string
	handshakeTimeout time.Duration
	readTimeout      time.Duration
	channels         *channel.Channels
	ctx              context.Context
	wg               *sync.WaitGroup
	mu               sync.RWMutex
	running          bool
	log              *logger.Log
	stats            WebsocketStats
}

func NewWebsocketReader(inst appconfig.InstrumentConfig, ch *channel.Channels) *WebsocketReader {
	return &WebsocketReader{
		url:              inst.Source.URL,
		symbol:           inst.Symbol,
		handshakeTimeout: inst.Source.HandshakeTimeout,
		readTimeout:      inst.Source.ReadTimeout,
		channels:         ch,
		wg:               &sync.WaitGroup{},
		log:              logger.GetLogger(),
	}
}

func (r *WebsocketReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("websocket reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.log.WithComponent("websocket_reader").WithFields(logger.Fields{
		"symbol":    r.symbol,
		"url":       r.url,
		"operation": "start",
	}).Info("starting websocket reader")

	r.wg.Add(1)
	go r.stream()
	return nil
}

func (r *WebsocketReader) Stop() {
	r.log.WithComponent("websocket_reader").WithSymbol(r.symbol).Info("stopping websocket reader")
	r.wg.Wait()
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.log.WithComponent("websocket_reader").WithSymbol(r.symbol).Info("websocket reader stopped")
}

func (r *WebsocketReader) Stats() WebsocketStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

func (r *WebsocketReader) count(fn func(*WebsocketStats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// stream handles connection lifecycle and reconnection.
func (r *WebsocketReader) stream() {
	defer r.wg.Done()
	defer r.channels.CloseRaw()

	log := r.log.WithComponent("websocket_reader").WithFields(logger.Fields{
		"symbol": r.symbol,
		"worker": "stream",
	})

	for {
		if r.ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: r.handshakeTimeout}
		conn, _, err := dialer.DialContext(r.ctx, r.url, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket, retrying")
		} else {
			log.Info("websocket connected")
			r.read(conn, log)
		}

		if r.ctx.Err() != nil {
			return
		}
		r.count(func(s *WebsocketStats) { s.Reconnects++ })
		select {
		case <-time.After(reconnectDelay):
		case <-r.ctx.Done():
			return
		}
	}
}

// read consumes messages until the connection fails or the context ends.
func (r *WebsocketReader) read(conn *websocket.Conn, log *logger.Entry) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		if r.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(r.readTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() == nil {
				log.WithError(err).Warn("websocket read error, reconnecting")
			}
			return
		}
		r.count(func(s *WebsocketStats) { s.Messages++ })

		events, err := DecodeMessage(msg)
		if err != nil {
			r.count(func(s *WebsocketStats) { s.Malformed++ })
			log.WithError(err).Warn("skipping malformed message")
			continue
		}
		for _, ev := range events {
			if ev.Symbol == "" {
				ev.Symbol = r.symbol
			}
			if !r.channels.SendRaw(r.ctx, ev) {
				return
			}
			r.count(func(s *WebsocketStats) { s.Emitted++ })
		}
	}
}

// wireEvent is the JSON form of a record. Timestamps may be integer
// nanoseconds or RFC3339 strings; action and side accept codes or names.
type wireEvent struct {
	TsRecv       json.RawMessage `json:"ts_recv"`
	TsEvent      json.RawMessage `json:"ts_event"`
	RType        json.RawMessage `json:"rtype"`
	PublisherID  json.RawMessage `json:"publisher_id"`
	InstrumentID int64           `json:"instrument_id"`
	Action       string          `json:"action"`
	Side         string          `json:"side"`
	Price        float64         `json:"price"`
	Size         float64         `json:"size"`
	ChannelID    int64           `json:"channel_id"`
	OrderID      uint64          `json:"order_id"`
	Flags        int64           `json:"flags"`
	TsInDelta    int64           `json:"ts_in_delta"`
	Sequence     uint64          `json:"sequence"`
	Symbol       string          `json:"symbol"`
}

// DecodeMessage decodes a single record object or an array of records.
// Records with skipped actions are dropped without error.
func DecodeMessage(msg []byte) ([]models.MBOEvent, error) {
	msg = bytes.TrimSpace(msg)
	var wires []wireEvent
	if len(msg) > 0 && msg[0] == '[' {
		if err := json.Unmarshal(msg, &wires); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
	} else {
		var w wireEvent
		if err := json.Unmarshal(msg, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		wires = []wireEvent{w}
	}

	events := make([]models.MBOEvent, 0, len(wires))
	for _, w := range wires {
		ev, err := w.event()
		if err != nil {
			if errors.Is(err, ErrSkippedAction) {
				continue
			}
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (w wireEvent) event() (models.MBOEvent, error) {
	action, err := ParseAction(w.Action)
	if err != nil {
		return models.MBOEvent{}, err
	}
	side, err := ParseSide(w.Side)
	if err != nil {
		return models.MBOEvent{}, fmt.Errorf("%w: %v", ErrMalformedRow, err)
	}
	tsRecv, err := ParseTimestamp(rawString(w.TsRecv))
	if err != nil {
		return models.MBOEvent{}, fmt.Errorf("%w: ts_recv: %v", ErrMalformedRow, err)
	}
	tsEvent, err := ParseTimestamp(rawString(w.TsEvent))
	if err != nil {
		return models.MBOEvent{}, fmt.Errorf("%w: ts_event: %v", ErrMalformedRow, err)
	}
	return models.MBOEvent{
		TsRecv:       tsRecv,
		TsEvent:      tsEvent,
		RType:        rawString(w.RType),
		PublisherID:  rawString(w.PublisherID),
		InstrumentID: w.InstrumentID,
		Action:       action,
		Side:         side,
		Price:        w.Price,
		Size:         w.Size,
		ChannelID:    w.ChannelID,
		OrderID:      w.OrderID,
		Flags:        w.Flags,
		TsInDelta:    w.TsInDelta,
		Sequence:     w.Sequence,
		Symbol:       w.Symbol,
	}, nil
}

// rawString returns a JSON string's contents or a number's literal text.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
