// Package reader turns market-by-order feeds into raw events on an
// instrument's channels.
package reader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	appconfig "mboflow/config"
	"mboflow/internal/channel"
	"mboflow/logger"
	"mboflow/models"
)

// Columns of a Databento MBO CSV export, in file order.
var mboColumns = []string{
	"ts_recv", "ts_event", "rtype", "publisher_id", "instrument_id",
	"action", "side", "price", "size", "channel_id",
	"order_id", "flags", "ts_in_delta", "sequence", "symbol",
}

var (
	// ErrSkippedAction marks records whose action the book does not model
	// (fill, clear, none).
	ErrSkippedAction = errors.New("skipped action")
	ErrMalformedRow  = errors.New("malformed row")
)

// CSVStats counts rows seen by a CSVReader.
type CSVStats struct {
	Rows      int64
	Emitted   int64
	Skipped   int64
	Malformed int64
}

// CSVReader replays a Databento MBO CSV file into the raw channel and
// closes it at end of file.
type CSVReader struct {
	path     string
	symbol   string
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	stats    CSVStats
	err      error
}

func NewCSVReader(inst appconfig.InstrumentConfig, ch *channel.Channels) *CSVReader {
	return &CSVReader{
		path:     inst.Source.Path,
		symbol:   inst.Symbol,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (r *CSVReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("csv reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	f, err := os.Open(r.path)
	if err != nil {
		r.channels.CloseRaw()
		return fmt.Errorf("failed to open %s: %w", r.path, err)
	}

	r.log.WithComponent("csv_reader").WithFields(logger.Fields{
		"symbol":    r.symbol,
		"path":      r.path,
		"operation": "start",
	}).Info("starting csv reader")

	r.wg.Add(1)
	go r.run(f)
	return nil
}

// Stop waits for the reader to finish. It does not interrupt a replay;
// cancel the start context for that.
func (r *CSVReader) Stop() {
	r.wg.Wait()
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *CSVReader) Stats() CSVStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Err returns the error that ended the replay early, if any.
func (r *CSVReader) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *CSVReader) run(f *os.File) {
	defer r.wg.Done()
	defer r.channels.CloseRaw()
	defer f.Close()

	start := time.Now()
	log := r.log.WithComponent("csv_reader").WithFields(logger.Fields{
		"symbol": r.symbol,
		"path":   r.path,
	})

	err := ReadCSV(r.ctx, f, func(ev models.MBOEvent) bool {
		r.count(func(s *CSVStats) { s.Emitted++ })
		return r.channels.SendRaw(r.ctx, ev)
	}, r.onRow)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		log.WithError(err).Error("csv replay failed")
	}

	stats := r.Stats()
	logger.LogPerformanceEntry(log, "csv_reader", "replay", time.Since(start), logger.Fields{
		"rows":      stats.Rows,
		"emitted":   stats.Emitted,
		"skipped":   stats.Skipped,
		"malformed": stats.Malformed,
	})
	logger.LogDataFlowEntry(log, r.path, "raw_channel", int(stats.Emitted), "mbo")
}

// onRow is called for every data row with its parse outcome.
func (r *CSVReader) onRow(line int, err error) {
	r.count(func(s *CSVStats) { s.Rows++ })
	switch {
	case err == nil:
	case errors.Is(err, ErrSkippedAction):
		r.count(func(s *CSVStats) { s.Skipped++ })
		r.log.WithComponent("csv_reader").WithFields(logger.Fields{"line": line, "symbol": r.symbol}).Debug(err.Error())
	default:
		r.count(func(s *CSVStats) { s.Malformed++ })
		r.log.WithComponent("csv_reader").WithError(err).WithFields(logger.Fields{"line": line, "symbol": r.symbol}).Warn("skipping malformed row")
	}
}

func (r *CSVReader) count(fn func(*CSVStats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// ReadCSV parses MBO rows from src and hands each event to emit until emit
// returns false, the input ends or ctx is cancelled. A header row is
// detected and skipped. onRow, if set, sees every data row's 1-based line
// number with nil, ErrSkippedAction or ErrMalformedRow.
func ReadCSV(ctx context.Context, src io.Reader, emit func(models.MBOEvent) bool, onRow func(line int, err error)) error {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				if onRow != nil {
					onRow(line, fmt.Errorf("%w: %v", ErrMalformedRow, err))
				}
				continue
			}
			return err
		}
		if line == 1 && isHeader(rec) {
			continue
		}

		ev, err := ParseRecord(rec)
		if onRow != nil {
			onRow(line, err)
		}
		if err != nil {
			continue
		}
		if !emit(ev) {
			return ctx.Err()
		}
	}
}

func isHeader(rec []string) bool {
	for _, f := range rec {
		switch strings.TrimSpace(strings.ToLower(f)) {
		case "ts_recv", "ts_event":
			return true
		}
	}
	return false
}

// ParseRecord converts one CSV record in mboColumns order.
func ParseRecord(rec []string) (models.MBOEvent, error) {
	var ev models.MBOEvent
	if len(rec) != len(mboColumns) {
		return ev, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedRow, len(mboColumns), len(rec))
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}

	action, err := ParseAction(rec[5])
	if err != nil {
		return ev, err
	}

	var perr error
	field := func(i int, fn func(string) error) {
		if perr != nil {
			return
		}
		if err := fn(rec[i]); err != nil {
			perr = fmt.Errorf("%w: %s: %v", ErrMalformedRow, mboColumns[i], err)
		}
	}
	field(0, func(s string) (err error) { ev.TsRecv, err = ParseTimestamp(s); return })
	field(1, func(s string) (err error) { ev.TsEvent, err = ParseTimestamp(s); return })
	field(4, func(s string) (err error) { ev.InstrumentID, err = parseInt(s); return })
	field(6, func(s string) (err error) { ev.Side, err = ParseSide(s); return })
	field(7, func(s string) (err error) { ev.Price, err = strconv.ParseFloat(s, 64); return })
	field(8, func(s string) (err error) { ev.Size, err = strconv.ParseFloat(s, 64); return })
	field(9, func(s string) (err error) { ev.ChannelID, err = parseInt(s); return })
	field(10, func(s string) (err error) { ev.OrderID, err = strconv.ParseUint(s, 10, 64); return })
	field(11, func(s string) (err error) { ev.Flags, err = parseInt(s); return })
	field(12, func(s string) (err error) { ev.TsInDelta, err = parseInt(s); return })
	field(13, func(s string) (err error) { ev.Sequence, err = strconv.ParseUint(s, 10, 64); return })
	if perr != nil {
		return models.MBOEvent{}, perr
	}

	ev.RType = rec[2]
	ev.PublisherID = rec[3]
	ev.Action = action
	ev.Symbol = rec[14]
	return ev, nil
}

// parseInt accepts empty fields as zero.
func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// ParseTimestamp accepts integer nanoseconds since the epoch or RFC3339.
func ParseTimestamp(s string) (time.Time, error) {
	if ns, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(0, ns).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

// ParseAction maps Databento action codes and names. F, R and N are
// reported as ErrSkippedAction.
func ParseAction(s string) (models.Action, error) {
	switch strings.ToLower(s) {
	case "a", "add":
		return models.ActionAdd, nil
	case "m", "modify":
		return models.ActionModify, nil
	case "c", "cancel":
		return models.ActionCancel, nil
	case "t", "trade":
		return models.ActionTrade, nil
	case "f", "fill", "r", "clear", "n", "none":
		return "", fmt.Errorf("%w %q", ErrSkippedAction, s)
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrMalformedRow, s)
}

// ParseSide maps Databento side codes and names.
func ParseSide(s string) (models.Side, error) {
	switch strings.ToLower(s) {
	case "b", "bid", "buy":
		return models.SideBid, nil
	case "a", "ask", "sell", "s":
		return models.SideAsk, nil
	case "n", "none", "":
		return models.SideNone, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}
