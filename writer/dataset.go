package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"

	appconfig "mboflow/config"
	"mboflow/features"
	"mboflow/logger"
	"mboflow/models"
	"mboflow/sequence"
)

const (
	sequencesFile = "sequences.parquet"
	featuresFile  = "features.parquet"
	metadataFile  = "metadata.json"
)

// Dataset is everything exported for one instrument run.
type Dataset struct {
	Symbol       string
	Sequences    []models.SequenceFeatures
	FeatureNames []string
	Events       int
	Sequence     sequence.Config
	TimeSeries   map[string]map[string]features.TimeSeriesConfig
	Detector     sequence.DetectorStats
}

// DatasetMetadata is written next to the parquet files as metadata.json.
type DatasetMetadata struct {
	RunID        string                                          `json:"run_id"`
	Symbol       string                                          `json:"symbol"`
	CreatedAt    time.Time                                       `json:"created_at"`
	Version      string                                          `json:"version"`
	Events       int                                             `json:"events"`
	FeatureNames []string                                        `json:"feature_names"`
	Sequence     sequence.Config                                 `json:"sequence_config"`
	TimeSeries   map[string]map[string]features.TimeSeriesConfig `json:"timeseries_config"`
	Summary      sequence.Summary                                `json:"summary"`
	Detector     sequence.DetectorStats                          `json:"detector"`
	Files        map[string]string                               `json:"files"`
}

// DatasetWriter exports sequences and their feature windows under
// <dataset_dir>/<symbol>/<run_id>/.
type DatasetWriter struct {
	dir         string
	compression string
	version     string
	uploader    *S3Uploader
	log         *logger.Log
}

// NewDatasetWriter returns a dataset writer. uploader may be nil.
func NewDatasetWriter(cfg *appconfig.Config, uploader *S3Uploader) *DatasetWriter {
	return &DatasetWriter{
		dir:         cfg.Writer.DatasetDir,
		compression: cfg.Writer.Compression,
		version:     cfg.MBOFlow.Version,
		uploader:    uploader,
		log:         logger.GetLogger(),
	}
}

// Write exports ds and returns the metadata it wrote. Parquet files are
// only written when they have rows; metadata.json is always written.
func (w *DatasetWriter) Write(ctx context.Context, ds Dataset) (DatasetMetadata, error) {
	start := time.Now()
	meta := DatasetMetadata{
		RunID:        uuid.NewString(),
		Symbol:       ds.Symbol,
		CreatedAt:    time.Now().UTC(),
		Version:      w.version,
		Events:       ds.Events,
		FeatureNames: ds.FeatureNames,
		Sequence:     ds.Sequence,
		TimeSeries:   ds.TimeSeries,
		Detector:     ds.Detector,
		Files:        make(map[string]string),
	}

	seqs := make([]models.PriceSequence, 0, len(ds.Sequences))
	seqRows := make([]models.SequenceRecord, 0, len(ds.Sequences))
	var featRows []models.FeatureRecord
	for _, sf := range ds.Sequences {
		seqs = append(seqs, sf.Sequence)
		row, feats := sf.Records(ds.FeatureNames)
		seqRows = append(seqRows, row)
		featRows = append(featRows, feats...)
	}
	meta.Summary = sequence.Summarize(seqs)

	rel := filepath.Join(ds.Symbol, meta.RunID)
	runDir := filepath.Join(w.dir, rel)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return meta, fmt.Errorf("failed to create dataset directory: %w", err)
	}

	log := w.log.WithComponent("dataset_writer").WithFields(logger.Fields{
		"symbol": ds.Symbol,
		"run_id": meta.RunID,
	})

	if len(seqRows) > 0 {
		if err := writeLocal(filepath.Join(runDir, sequencesFile), seqRows, w.compression); err != nil {
			return meta, err
		}
		meta.Files["sequences"] = filepath.Join(rel, sequencesFile)
	}
	if len(featRows) > 0 {
		if err := writeLocal(filepath.Join(runDir, featuresFile), featRows, w.compression); err != nil {
			return meta, err
		}
		meta.Files["features"] = filepath.Join(rel, featuresFile)
	}
	meta.Files["metadata"] = filepath.Join(rel, metadataFile)

	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return meta, fmt.Errorf("failed to encode dataset metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, metadataFile), b, 0o644); err != nil {
		return meta, fmt.Errorf("failed to write dataset metadata: %w", err)
	}

	if w.uploader != nil {
		w.upload(ctx, meta, log)
	}

	logger.LogDataFlowEntry(log, "analyzer", "dataset_writer", len(featRows), "features")
	logger.LogPerformanceEntry(log, "dataset_writer", "write_dataset", time.Since(start), logger.Fields{
		"sequences":    len(seqRows),
		"feature_rows": len(featRows),
	})
	return meta, nil
}

func (w *DatasetWriter) upload(ctx context.Context, meta DatasetMetadata, log *logger.Entry) {
	for kind, rel := range meta.Files {
		data, err := os.ReadFile(filepath.Join(w.dir, rel))
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"file": rel}).Warn("failed to read dataset file for upload")
			continue
		}
		contentType := "application/octet-stream"
		if kind == "metadata" {
			contentType = "application/json"
		}
		if _, err := w.uploader.Upload(ctx, filepath.Join("datasets", rel), data, contentType); err != nil {
			log.WithError(err).WithFields(logger.Fields{"file": rel}).Warn("dataset upload failed, file kept locally")
		}
	}
}

func writeLocal[T any](path string, rows []T, compression string) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if err := writeRows(fw, rows, compression); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}
