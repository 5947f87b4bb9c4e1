package logger

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Sink receives structured notifications from the streaming core. The core
// packages never write to a logger directly; they are handed a Sink.
type Sink interface {
	Milestone(operation string, fields Fields)
	Warning(operation string, err error, fields Fields)
	Error(operation string, err error, fields Fields)
}

type componentSink struct {
	log       *Log
	component string
}

// Sink returns a Sink that writes through this logger tagged with component.
func (l *Log) Sink(component string) Sink {
	return &componentSink{log: l, component: component}
}

func (s *componentSink) entry(operation string, fields Fields) *Entry {
	e := s.log.WithComponent(s.component).WithFields(Fields{"operation": operation})
	if len(fields) > 0 {
		e = e.WithFields(fields)
	}
	return e
}

func (s *componentSink) Milestone(operation string, fields Fields) {
	s.entry(operation, fields).Info(operation)
}

func (s *componentSink) Warning(operation string, err error, fields Fields) {
	e := s.entry(operation, fields)
	if err != nil {
		e = e.WithError(err)
	}
	e.Warn(operation)
}

func (s *componentSink) Error(operation string, err error, fields Fields) {
	e := s.entry(operation, fields)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(operation)
}

type discardSink struct{}

func (discardSink) Milestone(string, Fields)       {}
func (discardSink) Warning(string, error, Fields) {}
func (discardSink) Error(string, error, Fields)   {}

// Discard returns a Sink that drops everything.
func Discard() Sink { return discardSink{} }

// ThrottledSink forwards milestones and errors unchanged and rate limits
// warnings. Suppressed warnings are counted per operation.
type ThrottledSink struct {
	next    Sink
	limiter *rate.Limiter

	mu         sync.Mutex
	suppressed map[string]int64
	total      int64
}

// Throttle wraps next so that at most limiter's rate of warnings get through.
func Throttle(next Sink, limiter *rate.Limiter) *ThrottledSink {
	return &ThrottledSink{
		next:       next,
		limiter:    limiter,
		suppressed: make(map[string]int64),
	}
}

func (t *ThrottledSink) Milestone(operation string, fields Fields) {
	t.next.Milestone(operation, fields)
}

func (t *ThrottledSink) Warning(operation string, err error, fields Fields) {
	if t.limiter.Allow() {
		t.next.Warning(operation, err, fields)
		return
	}
	atomic.AddInt64(&t.total, 1)
	t.mu.Lock()
	t.suppressed[operation]++
	t.mu.Unlock()
}

func (t *ThrottledSink) Error(operation string, err error, fields Fields) {
	t.next.Error(operation, err, fields)
}

// Suppressed returns how many warnings were dropped for each operation.
func (t *ThrottledSink) Suppressed() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.suppressed))
	for k, v := range t.suppressed {
		out[k] = v
	}
	return out
}

// SuppressedTotal returns the number of dropped warnings across operations.
func (t *ThrottledSink) SuppressedTotal() int64 {
	return atomic.LoadInt64(&t.total)
}
