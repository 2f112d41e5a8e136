package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sqlrun/sqlrun/internal/catalog"
	"github.com/sqlrun/sqlrun/internal/query"
	"github.com/sqlrun/sqlrun/internal/tabular"
)

// Registrar is the part of a query engine the loader needs.
type Registrar interface {
	RegisterCSV(ctx context.Context, table, csvPath string) (catalog.Table, error)
}

var _ Registrar = query.Engine(nil)

// FileResult is the outcome of loading one data file.
type FileResult struct {
	File  tabular.File
	Table catalog.Table
	Err   error
}

type Report struct {
	Files   int
	Loaded  []catalog.Table
	Failed  []FileResult
	Catalog *catalog.Catalog
}

// Names returns the loaded table names in load order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r.Loaded))
	for _, table := range r.Loaded {
		names = append(names, table.Name)
	}
	return names
}

// Load registers every supported file in dir as a table. Per-file failures
// are logged and collected in the report; the returned error is reserved for
// a folder that cannot be listed.
func Load(ctx context.Context, dir string, engine Registrar, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	tables := catalog.New()
	report := Report{Catalog: tables}

	files, err := tabular.Discover(dir)
	if err != nil {
		return report, err
	}
	report.Files = len(files)
	if len(files) == 0 {
		logger.Warn(fmt.Sprintf("No CSV files found in '%s'", dir))
		return report, nil
	}
	logger.Info(fmt.Sprintf("Found %d CSV file(s) in '%s'", len(files), dir))

	workDir, err := os.MkdirTemp("", "sqlrun-load-")
	if err != nil {
		return report, fmt.Errorf("create load temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	for _, file := range files {
		result := loadFile(ctx, file, workDir, engine)
		if result.Err != nil {
			logger.Error(fmt.Sprintf("✗ Failed to load '%s': %v", file.Name, result.Err))
			report.Failed = append(report.Failed, result)
			continue
		}

		result.Table.SourceFile = file.Name
		if prev, replaced := tables.Put(result.Table); replaced {
			logger.Warn(fmt.Sprintf("Table '%s' from '%s' replaces the one loaded from '%s'", result.Table.Name, file.Name, prev.SourceFile))
		}
		logger.Info(fmt.Sprintf("✓ Loaded '%s' as table '%s' (%d rows, %d columns)", file.Name, result.Table.Name, result.Table.Rows, result.Table.Columns))
	}

	report.Loaded = tables.Tables()
	return report, nil
}

func loadFile(ctx context.Context, file tabular.File, workDir string, engine Registrar) FileResult {
	csvPath, err := tabular.Materialize(file, workDir)
	if err != nil {
		return FileResult{File: file, Err: err}
	}
	table, err := engine.RegisterCSV(ctx, file.Table, csvPath)
	if err != nil {
		return FileResult{File: file, Err: err}
	}
	if table.Name == "" {
		table.Name = file.Table
	}
	return FileResult{File: file, Table: table}
}
