package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "mboflow/config"
	"mboflow/internal/metadata"
	"mboflow/logger"
	"mboflow/models"
)

// WriterStats counts what an EventWriter has persisted.
type WriterStats struct {
	Files         int64
	Rows          int64
	Bytes         int64
	Errors        int64
	Uploaded      int64
	ConvertErrors int64
}

// EventWriter drains an enriched event channel into parquet files, one row
// per event, rotating every writer.batch_size rows.
type EventWriter struct {
	config   *appconfig.Config
	symbol   string
	in       <-chan models.EnrichedEvent
	uploader *S3Uploader
	metaGen  *metadata.Generator
	log      *logger.Log

	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stats   WriterStats

	buffer  []models.EventRecord
	first   *models.EnrichedEvent
	last    *models.EnrichedEvent
	written int
}

// NewEventWriter returns a writer for one instrument. uploader may be nil.
func NewEventWriter(cfg *appconfig.Config, symbol string, in <-chan models.EnrichedEvent, uploader *S3Uploader) (*EventWriter, error) {
	root := filepath.Join(cfg.Writer.OutputDir, symbol)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	gen, err := metadata.NewGenerator(root, symbol+"_events")
	if err != nil {
		return nil, fmt.Errorf("failed to load table metadata: %w", err)
	}

	w := &EventWriter{
		config:   cfg,
		symbol:   symbol,
		in:       in,
		uploader: uploader,
		metaGen:  gen,
		log:      logger.GetLogger(),
		buffer:   make([]models.EventRecord, 0, min(cfg.Writer.BatchSize, 1<<16)),
	}

	w.log.WithComponent("event_writer").WithFields(logger.Fields{
		"symbol":      symbol,
		"output_dir":  root,
		"batch_size":  cfg.Writer.BatchSize,
		"compression": cfg.Writer.Compression,
		"s3":          uploader != nil,
		"table_uuid":  gen.TableUUID(),
	}).Info("event writer initialized")

	return w, nil
}

func (w *EventWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("event writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	w.log.WithComponent("event_writer").WithFields(logger.Fields{
		"symbol":    w.symbol,
		"operation": "start",
	}).Info("starting event writer")

	w.wg.Add(1)
	go w.worker()
	return nil
}

// Stop waits for the worker to drain its channel and flush.
func (w *EventWriter) Stop() {
	w.log.WithComponent("event_writer").WithSymbol(w.symbol).Info("stopping event writer")
	w.wg.Wait()

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	stats := w.Stats()
	if stats.Files > 0 {
		if err := w.metaGen.WriteCatalogEntry(filepath.Join(w.config.Writer.OutputDir, "catalog")); err != nil {
			w.log.WithComponent("event_writer").WithError(err).Warn("failed to write catalog entry")
		}
	}
	w.log.WithComponent("event_writer").WithFields(logger.Fields{
		"symbol": w.symbol,
		"files":  stats.Files,
		"rows":   stats.Rows,
		"bytes":  stats.Bytes,
		"errors": stats.Errors,
	}).Info("event writer stopped")
}

func (w *EventWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *EventWriter) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("event_writer").WithFields(logger.Fields{
		"symbol": w.symbol,
		"worker": "event_writer",
	})
	log.Info("starting event writer worker")

	var tick <-chan time.Time
	if w.config.Writer.FlushInterval > 0 {
		ticker := time.NewTicker(w.config.Writer.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-w.ctx.Done():
			w.flush("shutdown")
			log.Info("worker stopped due to context cancellation")
			return
		case <-tick:
			w.flush("interval")
		case ev, ok := <-w.in:
			if !ok {
				w.flush("end_of_stream")
				log.Info("enriched channel closed, worker stopping")
				return
			}
			w.add(&ev)
			if len(w.buffer) >= w.config.Writer.BatchSize {
				w.flush("batch_size")
			}
		}
	}
}

func (w *EventWriter) add(ev *models.EnrichedEvent) {
	rec, err := models.NewEventRecord(ev)
	if err != nil {
		w.mu.Lock()
		w.stats.ConvertErrors++
		w.mu.Unlock()
		w.log.WithComponent("event_writer").WithError(err).WithFields(logger.Fields{
			"symbol":   w.symbol,
			"sequence": ev.Sequence,
		}).Warn("failed to convert event")
		return
	}
	w.buffer = append(w.buffer, rec)
	if w.first == nil {
		first := *ev
		w.first = &first
	}
	last := *ev
	w.last = &last
}

func (w *EventWriter) flush(reason string) {
	if len(w.buffer) == 0 {
		return
	}
	rows := w.buffer
	first, last := w.first, w.last
	w.buffer = make([]models.EventRecord, 0, cap(rows))
	w.first, w.last = nil, nil

	if err := w.writeFile(rows, first, last, reason); err != nil {
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		w.log.WithComponent("event_writer").WithError(err).WithFields(logger.Fields{
			"symbol": w.symbol,
			"rows":   len(rows),
			"reason": reason,
		}).Error("failed to write event file")
	}
}

func (w *EventWriter) writeFile(rows []models.EventRecord, first, last *models.EnrichedEvent, reason string) error {
	start := time.Now()
	rel := w.relativePath(first)
	w.written++
	log := w.log.WithComponent("event_writer").WithFields(logger.Fields{
		"symbol":    w.symbol,
		"file":      rel,
		"rows":      len(rows),
		"reason":    reason,
		"operation": "write_file",
	})

	data, err := encodeRows(rows, w.config.Writer.Compression)
	if err != nil {
		return err
	}

	localPath := filepath.Join(w.config.Writer.OutputDir, rel)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create partition directory: %w", err)
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}

	df := metadata.DataFile{
		Path:          localPath,
		FileSize:      int64(len(data)),
		RecordCount:   int64(len(rows)),
		FirstSequence: first.Sequence,
		LastSequence:  last.Sequence,
		MinTsEvent:    first.TsEvent.UnixNano(),
		MaxTsEvent:    last.TsEvent.UnixNano(),
		Partition: map[string]string{
			"symbol": w.symbol,
			"date":   first.TsEvent.UTC().Format("2006-01-02"),
		},
	}

	if w.uploader != nil {
		uri, err := w.uploader.Upload(context.WithoutCancel(w.ctx), rel, data, "application/octet-stream")
		if err != nil {
			log.WithError(err).Warn("upload failed, file kept locally")
		} else {
			df.RemoteURI = uri
			w.mu.Lock()
			w.stats.Uploaded++
			w.mu.Unlock()
		}
	}

	if err := w.metaGen.AddFile(df); err != nil {
		log.WithError(err).Warn("failed to update metadata")
	}

	w.mu.Lock()
	w.stats.Files++
	w.stats.Rows += int64(len(rows))
	w.stats.Bytes += int64(len(data))
	w.mu.Unlock()
	logger.IncrementFileWrite(int64(len(data)))

	logger.LogPerformanceEntry(log, "event_writer", "write_file", time.Since(start), logger.Fields{
		"file_size": len(data),
	})
	return nil
}

// relativePath is <symbol>/<yyyy-mm-dd>/<symbol>_events_<ts>_<seq>_<n>_<id>.parquet,
// dated by the first event in the file. ts carries nanoseconds, seq is the
// first event's sequence and n counts files within this writer, so names
// sort in stream order even when a burst shares one timestamp.
func (w *EventWriter) relativePath(first *models.EnrichedEvent) string {
	ts := first.TsEvent.UTC()
	name := fmt.Sprintf("%s_events_%s%09d_%020d_%06d_%s.parquet",
		w.symbol,
		ts.Format("20060102T150405"),
		ts.Nanosecond(),
		first.Sequence,
		w.written,
		uuid.NewString()[:8])
	return filepath.Join(w.symbol, ts.Format("2006-01-02"), name)
}
