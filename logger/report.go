package logger

import (
	"context"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	errorsTotal       int64
	warnsTotal        int64
	eventsProcessed   int64
	unknownOrderRefs  int64
	sequencesDetected int64
	filesWritten      int64
	bytesWritten      int64
)

func recordWarn(component string) {
	if strings.TrimSpace(component) != "" {
		atomic.AddInt64(&warnsTotal, 1)
	}
}

func recordError(component string) {
	if strings.TrimSpace(component) != "" {
		atomic.AddInt64(&errorsTotal, 1)
	}
}

// IncrementEvents adds n processed input events to the report counters.
func IncrementEvents(n int) { atomic.AddInt64(&eventsProcessed, int64(n)) }

// IncrementUnknownOrderRefs counts a modify/cancel referencing an absent order.
func IncrementUnknownOrderRefs() { atomic.AddInt64(&unknownOrderRefs, 1) }

// IncrementSequences counts an emitted price sequence.
func IncrementSequences() { atomic.AddInt64(&sequencesDetected, 1) }

// IncrementFileWrite counts a persisted file of the given size.
func IncrementFileWrite(size int64) {
	atomic.AddInt64(&filesWritten, 1)
	atomic.AddInt64(&bytesWritten, size)
}

// StartReport begins periodic logging of host and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
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
				logReport(ctx, log)
			}
		}
	}()
}

func reportFields() Fields {
	return Fields{
		"errors":             atomic.LoadInt64(&errorsTotal),
		"warnings":           atomic.LoadInt64(&warnsTotal),
		"events_processed":   atomic.LoadInt64(&eventsProcessed),
		"unknown_order_refs": atomic.LoadInt64(&unknownOrderRefs),
		"sequences_detected": atomic.LoadInt64(&sequencesDetected),
		"files_written":      atomic.LoadInt64(&filesWritten),
		"bytes_written":      atomic.LoadInt64(&bytesWritten),
		"goroutines":         runtime.NumGoroutine(),
	}
}

func logReport(ctx context.Context, log *Log) {
	fields := reportFields()

	cpuPct := 0.0
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memMB := 0.0
	if memStats, err := mem.VirtualMemory(); err == nil {
		memMB = float64(memStats.Used) / 1024 / 1024
	}
	fields["cpu_percent"] = cpuPct
	fields["memory_mb"] = memMB

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	counter := func(name, key string) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(fields[key].(int64))),
		}
	}
	publishMetrics(ctx, []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
		counter("EventsProcessed", "events_processed"),
		counter("UnknownOrderRefs", "unknown_order_refs"),
		counter("SequencesDetected", "sequences_detected"),
		counter("FilesWritten", "files_written"),
		counter("Errors", "errors"),
		counter("Warnings", "warnings"),
	})
}
