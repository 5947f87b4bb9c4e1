package reader

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	preader "github.com/xitongsys/parquet-go/reader"

	appconfig "mboflow/config"
	"mboflow/logger"
	"mboflow/models"
)

// ParquetStats counts what a ParquetReader loaded.
type ParquetStats struct {
	Files  int
	Failed int
	Rows   int
}

// ParquetReader reloads enriched events previously written by the event
// writer so they can be analyzed without rebuilding the book.
type ParquetReader struct {
	dir    string
	symbol string
	log    *logger.Log
	stats  ParquetStats
}

func NewParquetReader(inst appconfig.InstrumentConfig) *ParquetReader {
	return &ParquetReader{
		dir:    inst.Source.Path,
		symbol: inst.Symbol,
		log:    logger.GetLogger(),
	}
}

func (r *ParquetReader) Stats() ParquetStats { return r.stats }

// Load reads every .parquet file under the directory in file name order.
// Files that fail to read are logged and skipped. The result is stably
// sorted by ts_event, then sequence.
func (r *ParquetReader) Load(ctx context.Context) ([]models.EnrichedEvent, error) {
	start := time.Now()
	log := r.log.WithComponent("parquet_reader").WithFields(logger.Fields{
		"symbol": r.symbol,
		"dir":    r.dir,
	})

	files, err := EventFiles(r.dir)
	if err != nil {
		return nil, err
	}
	log.WithFields(logger.Fields{"files": len(files)}).Info("scanned event files")

	var events []models.EnrichedEvent
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loaded, err := ReadEventFile(path)
		if err != nil {
			r.stats.Failed++
			log.WithError(err).WithFields(logger.Fields{"file": path}).Error("failed to load event file")
			continue
		}
		r.stats.Files++
		r.stats.Rows += len(loaded)
		events = append(events, loaded...)
		log.WithFields(logger.Fields{"file": path, "rows": len(loaded)}).Debug("loaded event file")
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no events found under %s", r.dir)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].TsEvent.Equal(events[j].TsEvent) {
			return events[i].TsEvent.Before(events[j].TsEvent)
		}
		return events[i].Sequence < events[j].Sequence
	})

	logger.LogPerformanceEntry(log, "parquet_reader", "load", time.Since(start), logger.Fields{
		"files":      r.stats.Files,
		"rows":       r.stats.Rows,
		"first_time": events[0].TsEvent,
		"last_time":  events[len(events)-1].TsEvent,
	})
	return events, nil
}

// EventFiles lists the .parquet files under dir sorted by file name.
func EventFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "metadata" || d.Name() == "catalog" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".parquet") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Slice(files, func(i, j int) bool {
		bi, bj := filepath.Base(files[i]), filepath.Base(files[j])
		if bi != bj {
			return bi < bj
		}
		return files[i] < files[j]
	})
	return files, nil
}

// ReadEventFile decodes every row of one event file.
func ReadEventFile(path string) ([]models.EnrichedEvent, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := preader.NewParquetReader(fr, new(models.EventRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]models.EventRecord, int(pr.GetNumRows()))
	if len(rows) == 0 {
		return nil, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	events := make([]models.EnrichedEvent, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].Event()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
