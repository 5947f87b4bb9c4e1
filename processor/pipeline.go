package processor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	appconfig "mboflow/config"
	"mboflow/internal/channel"
	"mboflow/logger"
	"mboflow/orderbook"
	"mboflow/reader"
	"mboflow/sequence"
	"mboflow/writer"
)

// Source fills an instrument's raw channel and closes it when done.
type Source interface {
	Start(ctx context.Context) error
	Stop()
}

// Result summarizes one pipeline run.
type Result struct {
	Symbol             string
	Events             int
	Sequences          int
	Exported           int
	Classifier         orderbook.ClassifierStats
	Detector           sequence.DetectorStats
	Writer             writer.WriterStats
	Channels           channel.ChannelStats
	SuppressedWarnings int64
	Dataset            writer.DatasetMetadata
}

// Pipeline runs one instrument end to end. Instruments share nothing but
// the S3 uploader.
type Pipeline struct {
	config   *appconfig.Config
	inst     appconfig.InstrumentConfig
	uploader *writer.S3Uploader
	log      *logger.Log
	sink     *logger.ThrottledSink
}

// NewPipeline validates the instrument's detector and feature configs.
// uploader may be nil.
func NewPipeline(cfg *appconfig.Config, inst appconfig.InstrumentConfig, uploader *writer.S3Uploader) (*Pipeline, error) {
	if err := cfg.Sequence.For(inst).Validate(); err != nil {
		return nil, fmt.Errorf("instrument %s: %w", inst.Symbol, err)
	}
	log := logger.GetLogger()
	return &Pipeline{
		config:   cfg,
		inst:     inst,
		uploader: uploader,
		log:      log,
		sink:     logger.Throttle(log.Sink("pipeline_"+inst.Symbol), warningLimiter(cfg.Logging)),
	}, nil
}

func warningLimiter(cfg appconfig.LoggingConfig) *rate.Limiter {
	if cfg.WarningsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.WarningBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.WarningsPerSecond), burst)
}

// Run processes the instrument's source to completion, or until ctx is
// cancelled, then extracts features and exports the dataset. A cancelled
// run still exports what it has seen.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"symbol": p.inst.Symbol,
		"source": p.inst.Source.Type,
	})
	log.Info("starting pipeline")

	var (
		res Result
		err error
	)
	if p.inst.Source.Type == appconfig.SourceParquet {
		res, err = p.analyze(ctx)
	} else {
		res, err = p.stream(ctx)
	}
	if err != nil {
		log.WithError(err).Error("pipeline failed")
		return res, err
	}

	res.SuppressedWarnings = p.sink.SuppressedTotal()
	logger.LogPerformanceEntry(log, "pipeline", "run", time.Since(start), logger.Fields{
		"events":              res.Events,
		"sequences":           res.Sequences,
		"exported":            res.Exported,
		"suppressed_warnings": res.SuppressedWarnings,
	})
	return res, nil
}

// stream builds the book from a raw source and persists every enriched
// event while detecting sequences.
func (p *Pipeline) stream(ctx context.Context) (Result, error) {
	res := Result{Symbol: p.inst.Symbol}

	analyzer, err := sequence.NewAnalyzer(p.config.TimeSeries, p.sink)
	if err != nil {
		return res, err
	}
	tracker, err := NewTracker(p.inst.Symbol, p.config.Sequence.For(p.inst), analyzer, p.sink)
	if err != nil {
		return res, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := channel.NewChannels(p.inst.Symbol, p.config.Channels.RawBuffer, p.config.Channels.EnrichedBuffer)
	ch.StartMetricsReporting(runCtx, p.config.Metrics.ReportInterval)

	ew, err := writer.NewEventWriter(p.config, p.inst.Symbol, ch.Enriched, p.uploader)
	if err != nil {
		return res, err
	}
	proc := NewProcessor(p.config, p.inst, ch, tracker, p.sink)
	src, err := p.source(ch)
	if err != nil {
		return res, err
	}

	if err := ew.Start(runCtx); err != nil {
		return res, err
	}
	if err := proc.Start(runCtx); err != nil {
		return res, err
	}
	srcErr := src.Start(runCtx)
	if srcErr == nil {
		src.Stop()
	}
	proc.Stop()
	ew.Stop()
	if srcErr != nil {
		return res, srcErr
	}
	if r, ok := src.(*reader.CSVReader); ok && r.Err() != nil {
		return res, r.Err()
	}

	res.Classifier = proc.Stats()
	res.Writer = ew.Stats()
	res.Channels = ch.GetStats()
	return p.finish(ctx, res, analyzer, tracker.Snapshot())
}

// analyze reloads enriched events and runs detection without a book.
func (p *Pipeline) analyze(ctx context.Context) (Result, error) {
	res := Result{Symbol: p.inst.Symbol}

	events, err := reader.NewParquetReader(p.inst).Load(ctx)
	if err != nil {
		return res, err
	}
	analyzer, err := sequence.NewAnalyzer(p.config.TimeSeries, p.sink)
	if err != nil {
		return res, err
	}
	seqs, detStats, err := sequence.Detect(p.config.Sequence.For(p.inst), events, p.sink)
	if err != nil {
		return res, err
	}
	logger.IncrementEvents(len(events))
	for range seqs {
		logger.IncrementSequences()
	}
	return p.finish(ctx, res, analyzer, TrackerState{
		Events:    len(events),
		Sequences: seqs,
		Extracted: analyzer.AnalyzeAll(p.inst.Symbol, events, seqs),
		Detector:  detStats,
	})
}

func (p *Pipeline) finish(ctx context.Context, res Result, analyzer *sequence.Analyzer, state TrackerState) (Result, error) {
	res.Events = state.Events
	res.Sequences = len(state.Sequences)
	res.Detector = state.Detector
	res.Exported = len(state.Extracted)

	meta, err := writer.NewDatasetWriter(p.config, p.uploader).Write(context.WithoutCancel(ctx), writer.Dataset{
		Symbol:       p.inst.Symbol,
		Sequences:    state.Extracted,
		FeatureNames: analyzer.FeatureNames(),
		Events:       state.Events,
		Sequence:     p.config.Sequence.For(p.inst),
		TimeSeries:   p.config.TimeSeries,
		Detector:     state.Detector,
	})
	if err != nil {
		return res, err
	}
	res.Dataset = meta

	p.sink.Milestone("pipeline_complete", logger.Fields{
		"symbol":     p.inst.Symbol,
		"events":     res.Events,
		"sequences":  res.Sequences,
		"exported":   res.Exported,
		"run_id":     meta.RunID,
		"candidates": state.Detector.Candidates,
	})
	return res, nil
}

func (p *Pipeline) source(ch *channel.Channels) (Source, error) {
	switch p.inst.Source.Type {
	case appconfig.SourceCSV:
		return reader.NewCSVReader(p.inst, ch), nil
	case appconfig.SourceWebsocket:
		return reader.NewWebsocketReader(p.inst, ch), nil
	}
	return nil, fmt.Errorf("instrument %s: unsupported source type %q", p.inst.Symbol, p.inst.Source.Type)
}
