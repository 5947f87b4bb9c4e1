package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mboflow/features"
	"mboflow/sequence"
)

const DefaultPath = "config/config.yml"

// Source types an instrument can read from.
const (
	SourceCSV       = "csv"
	SourceWebsocket = "websocket"
	SourceParquet   = "parquet"
)

type Config struct {
	MBOFlow     MBOFlowConfig      `yaml:"mboflow"`
	Channels    ChannelsConfig     `yaml:"channels"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Sequence    SequenceConfig     `yaml:"sequence"`
	// feature set name -> calculator name -> config
	TimeSeries map[string]map[string]features.TimeSeriesConfig `yaml:"timeseries"`
	Writer     WriterConfig                                    `yaml:"writer"`
	Storage    StorageConfig                                   `yaml:"storage"`
	Logging    LoggingConfig                                   `yaml:"logging"`
	Metrics    MetricsConfig                                   `yaml:"metrics"`
}

type MBOFlowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	RawBuffer      int `yaml:"raw_buffer"`
	EnrichedBuffer int `yaml:"enriched_buffer"`
}

type InstrumentConfig struct {
	Symbol    string       `yaml:"symbol"`
	TickSize  float64      `yaml:"tick_size"`
	MaxLevels int          `yaml:"max_levels"`
	Source    SourceConfig `yaml:"source"`
}

type SourceConfig struct {
	Type string `yaml:"type"`
	// Path is a CSV file for csv sources and a directory of event files
	// for parquet sources.
	Path             string        `yaml:"path"`
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
}

// SequenceConfig is the detector config without the tick size, which comes
// from each instrument.
type SequenceConfig struct {
	MinMoves        int     `yaml:"min_moves"`
	MinTicks        float64 `yaml:"min_ticks"`
	MaxDurationMs   int64   `yaml:"max_duration_ms"`
	MinVolume       float64 `yaml:"min_volume"`
	MaxRetraceTicks float64 `yaml:"max_retrace_ticks"`
}

// For returns the detector config for an instrument.
func (s SequenceConfig) For(inst InstrumentConfig) sequence.Config {
	return sequence.Config{
		MinMoves:        s.MinMoves,
		MinTicks:        s.MinTicks,
		MaxDurationMs:   s.MaxDurationMs,
		MinVolume:       s.MinVolume,
		MaxRetraceTicks: s.MaxRetraceTicks,
		TickSize:        inst.TickSize,
	}
}

type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	OutputDir     string        `yaml:"output_dir"`
	Compression   string        `yaml:"compression"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// DatasetDir receives the sequence and feature exports.
	DatasetDir string `yaml:"dataset_dir"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled           bool   `yaml:"enabled"`
	Bucket            string `yaml:"bucket"`
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	PathStyle         bool   `yaml:"path_style"`
	Prefix            string `yaml:"prefix"`
	UploadConcurrency int    `yaml:"upload_concurrency"`
	PartSizeMB        int64  `yaml:"part_size_mb"`
	AccessKeyID       string `yaml:"access_key_id"`
	SecretAccessKey   string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
	// WarningsPerSecond rate limits streaming warnings such as unknown
	// order references. Zero disables the limit.
	WarningsPerSecond float64 `yaml:"warnings_per_second"`
	WarningBurst      int     `yaml:"warning_burst"`
}

type MetricsConfig struct {
	CloudWatch     bool          `yaml:"cloudwatch"`
	Region         string        `yaml:"region"`
	Namespace      string        `yaml:"namespace"`
	Dashboard      bool          `yaml:"dashboard"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Channels: ChannelsConfig{
			RawBuffer:      10000,
			EnrichedBuffer: 10000,
		},
		Writer: WriterConfig{
			BatchSize:   100000,
			OutputDir:   "data/events",
			DatasetDir:  "data/datasets",
			Compression: "snappy",
		},
		Logging: LoggingConfig{
			Level:             "info",
			Format:            "json",
			Output:            "stdout",
			WarningsPerSecond: 10,
			WarningBurst:      50,
		},
		Metrics: MetricsConfig{
			ReportInterval: time.Minute,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	for i := range config.Instruments {
		config.Instruments[i].Source.Type = strings.ToLower(strings.TrimSpace(config.Instruments[i].Source.Type))
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.MBOFlow.Name == "" {
		return fmt.Errorf("mboflow.name is required")
	}
	if cfg.MBOFlow.Version == "" {
		return fmt.Errorf("mboflow.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.EnrichedBuffer <= 0 {
		return fmt.Errorf("channels.enriched_buffer must be greater than 0")
	}

	if len(cfg.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	seen := make(map[string]bool, len(cfg.Instruments))
	for i, inst := range cfg.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instruments[%d].symbol is required", i)
		}
		if seen[inst.Symbol] {
			return fmt.Errorf("instrument %s is configured twice", inst.Symbol)
		}
		seen[inst.Symbol] = true
		if inst.TickSize <= 0 {
			return fmt.Errorf("instrument %s: tick_size must be greater than 0", inst.Symbol)
		}
		if inst.MaxLevels < 0 {
			return fmt.Errorf("instrument %s: max_levels must not be negative", inst.Symbol)
		}
		switch inst.Source.Type {
		case SourceCSV, SourceParquet:
			if inst.Source.Path == "" {
				return fmt.Errorf("instrument %s: source.path is required for %s sources", inst.Symbol, inst.Source.Type)
			}
		case SourceWebsocket:
			if inst.Source.URL == "" {
				return fmt.Errorf("instrument %s: source.url is required for websocket sources", inst.Symbol)
			}
		default:
			return fmt.Errorf("instrument %s: unknown source type %q", inst.Symbol, inst.Source.Type)
		}
		if err := cfg.Sequence.For(inst).Validate(); err != nil {
			return fmt.Errorf("instrument %s: %w", inst.Symbol, err)
		}
	}

	for set, calcs := range cfg.TimeSeries {
		for name, ts := range calcs {
			if !features.Known(name) {
				return fmt.Errorf("timeseries.%s: %w: %q", set, features.ErrUnknownCalculator, name)
			}
			if err := ts.Validate(); err != nil {
				return fmt.Errorf("timeseries.%s.%s: %w", set, name, err)
			}
		}
	}

	if cfg.Writer.BatchSize <= 0 {
		return fmt.Errorf("writer.batch_size must be greater than 0")
	}
	switch strings.ToLower(cfg.Writer.Compression) {
	case "", "none", "uncompressed", "snappy", "gzip", "zstd":
	default:
		return fmt.Errorf("writer.compression %q is not supported", cfg.Writer.Compression)
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Logging.WarningsPerSecond < 0 {
		return fmt.Errorf("logging.warnings_per_second must not be negative")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
