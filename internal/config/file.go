package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// fileConfig mirrors the YAML layout of a sqlrun config file. Pointer fields
// distinguish "absent" from zero values so only keys present in the file
// override defaults.
type fileConfig struct {
	Engine struct {
		Driver       *string `koanf:"driver"`
		DatabasePath *string `koanf:"database_path"`
	} `koanf:"engine"`
	Layout struct {
		QueriesRoot  *string `koanf:"queries_root"`
		OutputsRoot  *string `koanf:"outputs_root"`
		QuerySuffix  *string `koanf:"query_suffix"`
		OutputSuffix *string `koanf:"output_suffix"`
	} `koanf:"layout"`
	Preview struct {
		MaxRows     *int `koanf:"max_rows"`
		MaxColWidth *int `koanf:"max_col_width"`
	} `koanf:"preview"`
	Output struct {
		Parquet *bool `koanf:"parquet"`
	} `koanf:"output"`
	ObjectStore struct {
		Endpoint         *string `koanf:"endpoint"`
		Region           *string `koanf:"region"`
		Bucket           *string `koanf:"bucket"`
		AccessKeyID      *string `koanf:"access_key"`
		SecretAccessKey  *string `koanf:"secret_key"`
		UseSSL           *bool   `koanf:"use_ssl"`
		Prefix           *string `koanf:"prefix"`
		AutoCreateBucket *bool   `koanf:"auto_create_bucket"`
	} `koanf:"object_store"`
	History struct {
		DSN       *string `koanf:"dsn"`
		StudentID *string `koanf:"student_id"`
	} `koanf:"history"`
	Metrics struct {
		TextfilePath *string `koanf:"textfile"`
	} `koanf:"metrics"`
	LogLevel *string `koanf:"log_level"`
}

func mergeFile(cfg *Config, path string) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := k.Unmarshal("", &fc); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	setString(&cfg.Engine.Driver, fc.Engine.Driver)
	setString(&cfg.Engine.DatabasePath, fc.Engine.DatabasePath)
	setString(&cfg.Layout.QueriesRoot, fc.Layout.QueriesRoot)
	setString(&cfg.Layout.OutputsRoot, fc.Layout.OutputsRoot)
	setString(&cfg.Layout.QuerySuffix, fc.Layout.QuerySuffix)
	setString(&cfg.Layout.OutputSuffix, fc.Layout.OutputSuffix)
	setInt(&cfg.Preview.MaxRows, fc.Preview.MaxRows)
	setInt(&cfg.Preview.MaxColWidth, fc.Preview.MaxColWidth)
	setBool(&cfg.Output.Parquet, fc.Output.Parquet)
	setString(&cfg.ObjectStore.Endpoint, fc.ObjectStore.Endpoint)
	setString(&cfg.ObjectStore.Region, fc.ObjectStore.Region)
	setString(&cfg.ObjectStore.Bucket, fc.ObjectStore.Bucket)
	setString(&cfg.ObjectStore.AccessKeyID, fc.ObjectStore.AccessKeyID)
	setString(&cfg.ObjectStore.SecretAccessKey, fc.ObjectStore.SecretAccessKey)
	setBool(&cfg.ObjectStore.UseSSL, fc.ObjectStore.UseSSL)
	setString(&cfg.ObjectStore.Prefix, fc.ObjectStore.Prefix)
	setBool(&cfg.ObjectStore.AutoCreateBucket, fc.ObjectStore.AutoCreateBucket)
	setString(&cfg.History.DSN, fc.History.DSN)
	setString(&cfg.History.StudentID, fc.History.StudentID)
	setString(&cfg.Metrics.TextfilePath, fc.Metrics.TextfilePath)

	if fc.LogLevel != nil {
		level, err := ParseLogLevel(*fc.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level in %s: %w", path, err)
		}
		cfg.Observability.LogLevel = level
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
