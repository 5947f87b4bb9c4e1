package channel

import (
	"context"
	"sync"
	"time"

	"mboflow/logger"
	"mboflow/models"
)

type ChannelStats struct {
	RawSent         int64
	EnrichedSent    int64
	RawBlocked      int64
	EnrichedBlocked int64
}

// Channels connects one instrument's reader, classifier and writer. Sends
// block when a buffer is full instead of dropping, since every event has to
// reach the book in order. A blocked send is counted.
type Channels struct {
	Raw      chan models.MBOEvent
	Enriched chan models.EnrichedEvent

	symbol     string
	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
	closeOnce  sync.Once
}

func NewChannels(symbol string, rawBufferSize, enrichedBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:      make(chan models.MBOEvent, rawBufferSize),
		Enriched: make(chan models.EnrichedEvent, enrichedBufferSize),
		symbol:   symbol,
		log:      log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"symbol":               symbol,
		"raw_buffer_size":      rawBufferSize,
		"enriched_buffer_size": enrichedBufferSize,
	}).Info("channels initialized")

	return c
}

// SendRaw delivers ev to the raw channel. It returns false only when ctx
// is cancelled first.
func (c *Channels) SendRaw(ctx context.Context, ev models.MBOEvent) bool {
	select {
	case c.Raw <- ev:
		c.increment(func(s *ChannelStats) { s.RawSent++ })
		return true
	default:
	}
	c.increment(func(s *ChannelStats) { s.RawBlocked++ })
	select {
	case c.Raw <- ev:
		c.increment(func(s *ChannelStats) { s.RawSent++ })
		return true
	case <-ctx.Done():
		return false
	}
}

// SendEnriched delivers ev to the enriched channel. It returns false only
// when ctx is cancelled first.
func (c *Channels) SendEnriched(ctx context.Context, ev models.EnrichedEvent) bool {
	select {
	case c.Enriched <- ev:
		c.increment(func(s *ChannelStats) { s.EnrichedSent++ })
		return true
	default:
	}
	c.increment(func(s *ChannelStats) { s.EnrichedBlocked++ })
	select {
	case c.Enriched <- ev:
		c.increment(func(s *ChannelStats) { s.EnrichedSent++ })
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) increment(fn func(*ChannelStats)) {
	c.statsMutex.Lock()
	fn(&c.stats)
	c.statsMutex.Unlock()
}

// StartMetricsReporting logs channel statistics every interval until ctx ends.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	stats := c.GetStats()
	c.log.WithComponent("channels").WithFields(logger.Fields{
		"symbol":               c.symbol,
		"raw_sent":             stats.RawSent,
		"raw_blocked":          stats.RawBlocked,
		"enriched_sent":        stats.EnrichedSent,
		"enriched_blocked":     stats.EnrichedBlocked,
		"raw_channel_len":      len(c.Raw),
		"raw_channel_cap":      cap(c.Raw),
		"enriched_channel_len": len(c.Enriched),
		"enriched_channel_cap": cap(c.Enriched),
	}).Info("channel statistics")
}

// CloseRaw closes the raw channel. The reader owns it.
func (c *Channels) CloseRaw() { close(c.Raw) }

// CloseEnriched closes the enriched channel. The classifier owns it.
func (c *Channels) CloseEnriched() {
	c.closeOnce.Do(func() {
		close(c.Enriched)
		c.log.WithComponent("channels").WithSymbol(c.symbol).Info("channels closed")
	})
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
