package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Engine        EngineConfig
	Layout        LayoutConfig
	Preview       PreviewConfig
	Output        OutputConfig
	ObjectStore   ObjectStoreConfig
	History       HistoryConfig
	Metrics       MetricsConfig
	Observability ObservabilityConfig
}

type EngineConfig struct {
	Driver       string `koanf:"driver"`
	DatabasePath string `koanf:"database_path"`
}

// LayoutConfig describes where query files live and where results land.
type LayoutConfig struct {
	QueriesRoot  string `koanf:"queries_root"`
	OutputsRoot  string `koanf:"outputs_root"`
	QuerySuffix  string `koanf:"query_suffix"`
	OutputSuffix string `koanf:"output_suffix"`
}

type PreviewConfig struct {
	MaxRows     int `koanf:"max_rows"`
	MaxColWidth int `koanf:"max_col_width"`
}

type OutputConfig struct {
	Parquet bool `koanf:"parquet"`
}

type ObjectStoreConfig struct {
	Endpoint         string `koanf:"endpoint"`
	Region           string `koanf:"region"`
	Bucket           string `koanf:"bucket"`
	AccessKeyID      string `koanf:"access_key"`
	SecretAccessKey  string `koanf:"secret_key"`
	UseSSL           bool   `koanf:"use_ssl"`
	Prefix           string `koanf:"prefix"`
	AutoCreateBucket bool   `koanf:"auto_create_bucket"`
}

// Enabled reports whether results should be published to object storage.
func (c ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

type HistoryConfig struct {
	DSN       string `koanf:"dsn"`
	StudentID string `koanf:"student_id"`
}

func (c HistoryConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

type MetricsConfig struct {
	TextfilePath string `koanf:"textfile"`
}

type ObservabilityConfig struct {
	LogLevel slog.Level
}

// Load resolves the configuration and validates it.
func Load(lookup LookupFunc) (Config, error) {
	return validated(Resolve(lookup))
}

// LoadWithFile is Load with an explicit config file that takes the place of
// SQLRUN_CONFIG.
func LoadWithFile(path string, lookup LookupFunc) (Config, error) {
	return validated(ResolveWithFile(path, lookup))
}

// Resolve layers defaults, then the optional YAML file named by
// SQLRUN_CONFIG, then SQLRUN_* environment overrides. The result is not
// validated so callers can overlay higher-precedence sources first.
func Resolve(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := Defaults()
	if raw, ok := lookup("SQLRUN_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		if err := mergeFile(&cfg, strings.TrimSpace(raw)); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(lookup, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ResolveWithFile is Resolve with an explicit config file. An empty path
// falls back to SQLRUN_CONFIG.
func ResolveWithFile(path string, lookup LookupFunc) (Config, error) {
	if strings.TrimSpace(path) == "" || lookup == nil {
		return Resolve(lookup)
	}
	return Resolve(func(key string) (string, bool) {
		if key == "SQLRUN_CONFIG" {
			return path, true
		}
		return lookup(key)
	})
}

func validated(cfg Config, err error) (Config, error) {
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Driver:       "duckdb",
			DatabasePath: "",
		},
		Layout: LayoutConfig{
			QueriesRoot:  "queries",
			OutputsRoot:  "outputs",
			QuerySuffix:  ".sql",
			OutputSuffix: "_output.csv",
		},
		Preview: PreviewConfig{
			MaxRows:     10,
			MaxColWidth: 50,
		},
		ObjectStore: ObjectStoreConfig{
			Region:           "us-east-1",
			AutoCreateBucket: false,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelInfo,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Engine.Driver) == "" {
		return fmt.Errorf("engine driver is required")
	}
	if c.Preview.MaxRows <= 0 {
		return fmt.Errorf("preview max rows must be > 0, got %d", c.Preview.MaxRows)
	}
	if c.Preview.MaxColWidth <= 0 {
		return fmt.Errorf("preview max column width must be > 0, got %d", c.Preview.MaxColWidth)
	}
	if !strings.HasPrefix(c.Layout.QuerySuffix, ".") {
		return fmt.Errorf("query suffix must start with '.', got %q", c.Layout.QuerySuffix)
	}
	if strings.TrimSpace(c.Layout.OutputsRoot) == "" {
		return fmt.Errorf("outputs root is required")
	}
	if strings.TrimSpace(c.Layout.OutputSuffix) == "" {
		return fmt.Errorf("output suffix is required")
	}
	if c.ObjectStore.Enabled() && strings.TrimSpace(c.ObjectStore.Endpoint) == "" {
		return fmt.Errorf("object store endpoint is required when a bucket is set")
	}
	return nil
}

func applyEnv(lookup LookupFunc, cfg *Config) error {
	if err := applyString(lookup, "SQLRUN_ENGINE", &cfg.Engine.Driver); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_DATABASE_PATH", &cfg.Engine.DatabasePath); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_QUERIES_ROOT", &cfg.Layout.QueriesRoot); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_OUTPUTS_ROOT", &cfg.Layout.OutputsRoot); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_QUERY_SUFFIX", &cfg.Layout.QuerySuffix); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_OUTPUT_SUFFIX", &cfg.Layout.OutputSuffix); err != nil {
		return err
	}
	if err := applyInt(lookup, "SQLRUN_PREVIEW_MAX_ROWS", &cfg.Preview.MaxRows); err != nil {
		return err
	}
	if err := applyInt(lookup, "SQLRUN_PREVIEW_MAX_COL_WIDTH", &cfg.Preview.MaxColWidth); err != nil {
		return err
	}
	if err := applyBool(lookup, "SQLRUN_OUTPUT_PARQUET", &cfg.Output.Parquet); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return err
	}
	if err := applyBool(lookup, "SQLRUN_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return err
	}
	if err := applyBool(lookup, "SQLRUN_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_HISTORY_DSN", &cfg.History.DSN); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_STUDENT_ID", &cfg.History.StudentID); err != nil {
		return err
	}
	if err := applyString(lookup, "SQLRUN_METRICS_TEXTFILE", &cfg.Metrics.TextfilePath); err != nil {
		return err
	}
	if err := applyLogLevel(lookup, "SQLRUN_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return err
	}
	return nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level, err := ParseLogLevel(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = level
	return nil
}

func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
}
