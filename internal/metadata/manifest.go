// Package metadata keeps a manifest of the parquet files written for a
// table, so readers can find every file and its row range without listing
// storage.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	metadataDir  = "metadata"
	metadataFile = "metadata.json"
)

// DataFile describes one written parquet file.
type DataFile struct {
	Path          string            `json:"path"`
	RemoteURI     string            `json:"remote_uri,omitempty"`
	FileSize      int64             `json:"file_size_in_bytes"`
	RecordCount   int64             `json:"record_count"`
	FirstSequence uint64            `json:"first_sequence"`
	LastSequence  uint64            `json:"last_sequence"`
	MinTsEvent    int64             `json:"min_ts_event"`
	MaxTsEvent    int64             `json:"max_ts_event"`
	Partition     map[string]string `json:"partition"`
	Timestamp     time.Time         `json:"-"`
}

// ManifestEntry wraps a data file with its status (1 = added).
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot points at the manifest written for one file.
type Snapshot struct {
	SnapshotID   int64  `json:"snapshot-id"`
	TimestampMs  int64  `json:"timestamp-ms"`
	Manifest     string `json:"manifest-list"`
	TotalRecords int64  `json:"total-records"`
}

// TableMetadata is the table-level metadata file.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Generator appends snapshots to a table's metadata. It is safe for
// concurrent use.
type Generator struct {
	basePath  string
	tableName string

	mu        sync.Mutex
	tableUUID string
	snapshots []Snapshot
	records   int64
}

// NewGenerator returns a generator rooted at basePath. Existing metadata
// under basePath is loaded so a restarted writer keeps appending.
func NewGenerator(basePath, tableName string) (*Generator, error) {
	g := &Generator{basePath: basePath, tableName: tableName}
	tm, err := ReadTableMetadata(basePath)
	switch {
	case err == nil:
		g.tableUUID = tm.TableUUID
		g.snapshots = tm.Snapshots
		if n := len(tm.Snapshots); n > 0 {
			g.records = tm.Snapshots[n-1].TotalRecords
		}
	case errors.Is(err, os.ErrNotExist):
		g.tableUUID = uuid.NewString()
	default:
		return nil, err
	}
	return g, nil
}

func (g *Generator) TableUUID() string { return g.tableUUID }

// AddFile writes a manifest for df and updates the table metadata.
func (g *Generator) AddFile(df DataFile) error {
	if df.Timestamp.IsZero() {
		df.Timestamp = time.Now().UTC()
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	snapID := df.Timestamp.UnixNano()
	if n := len(g.snapshots); n > 0 && snapID <= g.snapshots[n-1].SnapshotID {
		snapID = g.snapshots[n-1].SnapshotID + 1
	}
	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	manifestPath := filepath.Join(g.basePath, metadataDir, manifestFile)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal([]ManifestEntry{{Status: 1, DataFile: df}})
	if err != nil {
		return err
	}
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return err
	}
	g.records += df.RecordCount
	g.snapshots = append(g.snapshots, Snapshot{
		SnapshotID:   snapID,
		TimestampMs:  df.Timestamp.UnixMilli(),
		Manifest:     manifestFile,
		TotalRecords: g.records,
	})
	return g.writeTableMetadata()
}

func (g *Generator) writeTableMetadata() error {
	tm := TableMetadata{
		FormatVersion:     2,
		TableUUID:         g.tableUUID,
		Location:          g.basePath,
		CurrentSnapshotID: g.snapshots[len(g.snapshots)-1].SnapshotID,
		Snapshots:         g.snapshots,
	}
	b, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(g.basePath, metadataDir, metadataFile), b, 0o644)
}

// WriteCatalogEntry writes <catalogDir>/<table>.json pointing at the metadata.
func (g *Generator) WriteCatalogEntry(catalogDir string) error {
	entry := map[string]string{
		"name":              g.tableName,
		"metadata_location": filepath.Join(g.basePath, metadataDir, metadataFile),
	}
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(catalogDir, g.tableName+".json"), b, 0o644)
}

// ReadTableMetadata loads the metadata file under basePath.
func ReadTableMetadata(basePath string) (TableMetadata, error) {
	var tm TableMetadata
	b, err := os.ReadFile(filepath.Join(basePath, metadataDir, metadataFile))
	if err != nil {
		return tm, err
	}
	if err := json.Unmarshal(b, &tm); err != nil {
		return tm, fmt.Errorf("parse table metadata: %w", err)
	}
	return tm, nil
}

// DataFiles returns the files recorded in every snapshot, oldest first.
func DataFiles(basePath string) ([]DataFile, error) {
	tm, err := ReadTableMetadata(basePath)
	if err != nil {
		return nil, err
	}
	var files []DataFile
	for _, snap := range tm.Snapshots {
		b, err := os.ReadFile(filepath.Join(basePath, metadataDir, snap.Manifest))
		if err != nil {
			return nil, err
		}
		var entries []ManifestEntry
		if err := json.Unmarshal(b, &entries); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", snap.Manifest, err)
		}
		for _, e := range entries {
			files = append(files, e.DataFile)
		}
	}
	return files, nil
}
