package processor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	appconfig "mboflow/config"
	"mboflow/features"
	"mboflow/models"
)

// Ask walks up 0.5 three times, moving the mid one 0.25 tick each time.
const runCSV = `ts_recv,ts_event,rtype,publisher_id,instrument_id,action,side,price,size,channel_id,order_id,flags,ts_in_delta,sequence,symbol
1000000000,1000000000,160,1,42,A,B,100.00,5,0,1,0,0,1,ESH4
1001000000,1001000000,160,1,42,A,A,100.50,5,0,2,0,0,2,ESH4
1002000000,1002000000,160,1,42,T,B,100.50,2,0,90,0,0,3,ESH4
1003000000,1003000000,160,1,42,T,A,100.00,1,0,91,0,0,4,ESH4
1004000000,1004000000,160,1,42,M,A,101.00,5,0,2,0,0,5,ESH4
1005000000,1005000000,160,1,42,T,B,101.00,3,0,92,0,0,6,ESH4
1006000000,1006000000,160,1,42,M,A,101.50,5,0,2,0,0,7,ESH4
1007000000,1007000000,160,1,42,M,A,102.00,5,0,2,0,0,8,ESH4
1008000000,1008000000,160,1,42,C,A,102.00,5,0,777,0,0,9,ESH4
`

func pipelineConfig(t *testing.T, source appconfig.SourceConfig) (*appconfig.Config, appconfig.InstrumentConfig) {
	t.Helper()
	dir := t.TempDir()
	inst := appconfig.InstrumentConfig{Symbol: "ESH4", TickSize: 0.25, MaxLevels: 10, Source: source}
	cfg := &appconfig.Config{
		MBOFlow:     appconfig.MBOFlowConfig{Name: "mboflow", Version: "test"},
		Channels:    appconfig.ChannelsConfig{RawBuffer: 4, EnrichedBuffer: 4},
		Instruments: []appconfig.InstrumentConfig{inst},
		Sequence: appconfig.SequenceConfig{
			MinMoves:        3,
			MinTicks:        1,
			MaxDurationMs:   10000,
			MinVolume:       0,
			MaxRetraceTicks: 2,
		},
		TimeSeries: map[string]map[string]features.TimeSeriesConfig{
			"fast": {features.NameOrderFlow: features.MessageConfig(1, 2)},
		},
		Writer: appconfig.WriterConfig{
			BatchSize:   100,
			OutputDir:   filepath.Join(dir, "events"),
			DatasetDir:  filepath.Join(dir, "datasets"),
			Compression: "snappy",
		},
		Logging: appconfig.LoggingConfig{WarningsPerSecond: 1, WarningBurst: 1},
	}
	return cfg, inst
}

func TestPipelineStreamsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mbo.csv")
	if err := os.WriteFile(path, []byte(runCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, inst := pipelineConfig(t, appconfig.SourceConfig{Type: appconfig.SourceCSV, Path: path})

	p, err := NewPipeline(cfg, inst, nil)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Events != 9 || res.Writer.Rows != 9 || res.Classifier.Events != 9 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.Classifier.UnknownRefs != 1 {
		t.Fatalf("cancel of unknown order should be counted: %+v", res.Classifier)
	}
	if res.Sequences != 1 || res.Exported != 1 {
		t.Fatalf("expected one exported sequence, got %+v", res)
	}
	if res.Detector.Accepted != 1 {
		t.Fatalf("unexpected detector stats %+v", res.Detector)
	}
	if _, ok := res.Dataset.Files["features"]; !ok {
		t.Fatalf("features file not written: %v", res.Dataset.Files)
	}
	if got := res.Dataset.FeatureNames; len(got) != 1 || got[0] != "order_flow_fast" {
		t.Fatalf("unexpected feature names %v", got)
	}
	if res.Dataset.Summary.UpSequences != 1 || res.Dataset.Summary.AvgTicks != 3 {
		t.Fatalf("unexpected summary %+v", res.Dataset.Summary)
	}

	// Reload the written events and analyze them without a book.
	cfg2, inst2 := pipelineConfig(t, appconfig.SourceConfig{
		Type: appconfig.SourceParquet,
		Path: filepath.Join(cfg.Writer.OutputDir, "ESH4"),
	})
	p2, err := NewPipeline(cfg2, inst2, nil)
	if err != nil {
		t.Fatal(err)
	}
	res2, err := p2.Run(context.Background())
	if err != nil {
		t.Fatalf("analyze run: %v", err)
	}
	if res2.Events != 9 || res2.Sequences != 1 || res2.Exported != 1 {
		t.Fatalf("analyze mode should reproduce the stream result, got %+v", res2)
	}
}

func TestPipelineMissingSource(t *testing.T) {
	cfg, inst := pipelineConfig(t, appconfig.SourceConfig{Type: appconfig.SourceCSV, Path: "missing.csv"})
	p, err := NewPipeline(cfg, inst, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "missing.csv") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNewPipelineRejectsBadSequenceConfig(t *testing.T) {
	cfg, inst := pipelineConfig(t, appconfig.SourceConfig{Type: appconfig.SourceCSV, Path: "x.csv"})
	cfg.Sequence.MinMoves = 1
	if _, err := NewPipeline(cfg, inst, nil); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestTrackerRecordsSequences(t *testing.T) {
	cfg, inst := pipelineConfig(t, appconfig.SourceConfig{})
	tr, err := NewTracker("ESH4", cfg.Sequence.For(inst), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, mid := range []float64{100, 100.25, 100.5, 100.75} {
		ev := models.EnrichedEvent{}
		ev.Sequence = uint64(i)
		ev.Book.MidPrice = models.Float(mid)
		tr.Observe(ev)
	}
	state := tr.Snapshot()
	seqs := state.Sequences
	if state.Events != 4 || len(seqs) != 1 || tr.Count() != 1 || state.Detector.Accepted != 1 {
		t.Fatalf("unexpected tracker state: %d events, %d sequences, %+v", state.Events, len(seqs), state.Detector)
	}
	if seqs[0].StartIndex != 1 || seqs[0].EndIndex != 3 {
		t.Fatalf("unexpected indexes %+v", seqs[0])
	}
}
