package features

import (
	"fmt"
	"time"

	"mboflow/models"
)

// Strategy computes one scalar from a batch of events. Strategies may keep
// rolling state between calls; Reset returns them to their initial state.
type Strategy interface {
	Compute(events []*models.EnrichedEvent) float64
	Reset()
}

// Calculator samples the event stream with a Strategy into a sliding window
// of NumPoints values. TIME configs sample at most once per granularity
// interval; MESSAGES configs sample once per granularity events.
type Calculator struct {
	name     string
	cfg      TimeSeriesConfig
	span     Span
	strategy Strategy
	buf      *ring

	// time mode
	started bool
	clock   time.Time
	seed    float64

	// message mode
	batch []*models.EnrichedEvent
}

// NewCalculator validates cfg and binds it to s.
func NewCalculator(name string, cfg TimeSeriesConfig, s Strategy) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("calculator %s: %w", name, err)
	}
	span := cfg.Span()
	c := &Calculator{
		name:     name,
		cfg:      cfg,
		span:     span,
		strategy: s,
		buf:      newRing(span.NumPoints()),
	}
	if span.Type == LookbackMessages {
		c.batch = make([]*models.EnrichedEvent, 0, span.Granularity)
	}
	return c, nil
}

func (c *Calculator) Name() string             { return c.name }
func (c *Calculator) Config() TimeSeriesConfig { return c.cfg }
func (c *Calculator) NumPoints() int           { return c.span.NumPoints() }

// Update feeds one event. It returns a copy of the full window whenever the
// event produced a new sample and the window holds NumPoints values.
func (c *Calculator) Update(ev *models.EnrichedEvent) ([]float64, bool) {
	var sampled bool
	if c.span.Type == LookbackTime {
		sampled = c.updateTime(ev)
	} else {
		sampled = c.updateMessages(ev)
	}
	if !sampled || !c.buf.full() {
		return nil, false
	}
	return c.buf.slice(), true
}

func (c *Calculator) updateTime(ev *models.EnrichedEvent) bool {
	batch := []*models.EnrichedEvent{ev}
	if !c.started {
		c.started = true
		c.clock = ev.TsEvent
		c.seed = c.strategy.Compute(batch)
		return false
	}
	gran := c.span.GranularityDuration()
	intervals := int64(ev.TsEvent.Sub(c.clock) / gran)
	if intervals < 1 {
		return false
	}

	last, ok := c.buf.last()
	if !ok {
		last = c.seed
	}
	fill := min(intervals-1, int64(c.span.NumPoints()))
	for i := int64(0); i < fill; i++ {
		c.buf.push(last)
	}
	c.buf.push(c.strategy.Compute(batch))
	c.clock = c.clock.Add(time.Duration(intervals) * gran)
	return true
}

func (c *Calculator) updateMessages(ev *models.EnrichedEvent) bool {
	c.batch = append(c.batch, ev)
	if int64(len(c.batch)) < c.span.Granularity {
		return false
	}
	c.buf.push(c.strategy.Compute(c.batch))
	c.batch = c.batch[:0]
	return true
}

// Series returns the buffered values oldest first, full or not.
func (c *Calculator) Series() []float64 { return c.buf.slice() }

// Full reports whether the window holds NumPoints values.
func (c *Calculator) Full() bool { return c.buf.full() }

// Reset clears the window, sample clock, pending batch and strategy state.
func (c *Calculator) Reset() {
	c.buf.clear()
	c.started = false
	c.clock = time.Time{}
	c.seed = 0
	c.batch = c.batch[:0]
	c.strategy.Reset()
}
