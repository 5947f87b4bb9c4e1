// Package processor runs an instrument's event stream through the book,
// the sequence detector and the writers.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "mboflow/config"
	"mboflow/internal/channel"
	"mboflow/logger"
	"mboflow/models"
	"mboflow/orderbook"
)

// Processor classifies raw events against the instrument's book, feeds the
// tracker and forwards enriched events to the writer. It runs a single
// worker because book state depends on event order.
type Processor struct {
	config     *appconfig.Config
	symbol     string
	channels   *channel.Channels
	classifier *orderbook.Classifier
	tracker    *Tracker
	ctx        context.Context
	wg         *sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log

	stats orderbook.ClassifierStats
}

func NewProcessor(cfg *appconfig.Config, inst appconfig.InstrumentConfig, ch *channel.Channels, tracker *Tracker, sink logger.Sink) *Processor {
	return &Processor{
		config:     cfg,
		symbol:     inst.Symbol,
		channels:   ch,
		classifier: orderbook.NewClassifier(inst.TickSize, inst.MaxLevels, sink),
		tracker:    tracker,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
	}
}

func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.log.WithComponent("processor").WithFields(logger.Fields{
		"symbol":    p.symbol,
		"operation": "start",
	}).Info("starting processor")

	p.wg.Add(1)
	go p.worker()

	go p.metricsReporter(ctx)
	return nil
}

// Stop waits until the raw channel has been drained.
func (p *Processor) Stop() {
	p.wg.Wait()
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	stats := p.Stats()
	p.log.WithComponent("processor").WithFields(logger.Fields{
		"symbol":       p.symbol,
		"events":       stats.Events,
		"trades":       stats.Trades,
		"unknown_refs": stats.UnknownRefs,
		"sessions":     stats.Sessions,
	}).Info("processor stopped")
}

// Stats returns the classifier counters as of the last processed event.
func (p *Processor) Stats() orderbook.ClassifierStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

func (p *Processor) worker() {
	defer p.wg.Done()
	defer p.channels.CloseEnriched()

	log := p.log.WithComponent("processor").WithFields(logger.Fields{
		"symbol": p.symbol,
		"worker": "classifier",
	})
	log.Info("starting processor worker")

	for {
		select {
		case <-p.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case raw, ok := <-p.channels.Raw:
			if !ok {
				log.Info("raw channel closed, worker stopping")
				return
			}
			ev := p.process(raw)
			if !p.channels.SendEnriched(p.ctx, ev) {
				log.Info("worker stopped while forwarding")
				return
			}
		}
	}
}

func (p *Processor) process(raw models.MBOEvent) models.EnrichedEvent {
	before := p.classifier.Stats().UnknownRefs
	ev := p.classifier.Classify(raw)
	stats := p.classifier.Stats()
	for i := before; i < stats.UnknownRefs; i++ {
		logger.IncrementUnknownOrderRefs()
	}

	p.mu.Lock()
	p.stats = stats
	p.mu.Unlock()

	p.tracker.Observe(ev)
	return ev
}

func (p *Processor) metricsReporter(ctx context.Context) {
	interval := p.config.Metrics.ReportInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	entry := p.log.WithComponent("processor").WithSymbol(p.symbol)
	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.Stats()
			fields := logger.Fields{"symbol": p.symbol}
			entry.LogMetric("processor", "events_processed", stats.Events-last, "counter", fields)
			entry.LogMetric("processor", "unknown_order_refs", stats.UnknownRefs, "gauge", fields)
			entry.LogMetric("processor", "sequences_detected", p.tracker.Count(), "gauge", fields)
			last = stats.Events
		}
	}
}
