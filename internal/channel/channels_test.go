package channel

import (
	"context"
	"testing"
	"time"

	"mboflow/models"
)

func TestSendCountsAndBlocks(t *testing.T) {
	c := NewChannels("ESH4", 1, 1)
	ctx := context.Background()
	if !c.SendRaw(ctx, models.MBOEvent{Sequence: 1}) {
		t.Fatal("send into empty buffer failed")
	}

	done := make(chan bool)
	go func() { done <- c.SendRaw(ctx, models.MBOEvent{Sequence: 2}) }()
	time.Sleep(10 * time.Millisecond)
	if got := <-c.Raw; got.Sequence != 1 {
		t.Fatalf("unexpected first event %d", got.Sequence)
	}
	if !<-done {
		t.Fatal("blocked send should complete once drained")
	}
	if got := <-c.Raw; got.Sequence != 2 {
		t.Fatalf("events reordered: %d", got.Sequence)
	}
	stats := c.GetStats()
	if stats.RawSent != 2 || stats.RawBlocked != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSendCancelled(t *testing.T) {
	c := NewChannels("ESH4", 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	c.SendEnriched(ctx, models.EnrichedEvent{})
	cancel()
	if c.SendEnriched(ctx, models.EnrichedEvent{}) {
		t.Fatal("send on a full channel with a cancelled context must fail")
	}
	c.CloseRaw()
	c.CloseEnriched()
	c.CloseEnriched()
}

func TestMetricsReportingStops(t *testing.T) {
	c := NewChannels("ESH4", 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	c.StartMetricsReporting(ctx, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	cancel()
}
