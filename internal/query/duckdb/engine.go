package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	duckdbdriver "github.com/marcboeker/go-duckdb/v2"

	"github.com/sqlrun/sqlrun/internal/catalog"
	"github.com/sqlrun/sqlrun/internal/config"
	"github.com/sqlrun/sqlrun/internal/query"
)

const DriverName = "duckdb"

func init() {
	query.Register(DriverName, func(ctx context.Context, cfg config.EngineConfig) (query.Engine, error) {
		return Open(ctx, cfg.DatabasePath)
	})
}

// Engine runs queries against an embedded DuckDB database. An empty path
// keeps the database in memory; a file database is emptied of the main
// schema's tables and views on open.
type Engine struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Engine, error) {
	path = strings.TrimSpace(path)
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	if path != "" {
		if err := resetSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Engine{db: db}, nil
}

func resetSchema(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT table_name, table_type FROM information_schema.tables
WHERE table_schema = 'main' ORDER BY table_type DESC`)
	if err != nil {
		return fmt.Errorf("list duckdb tables: %w", err)
	}
	var drops []string
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			_ = rows.Close()
			return fmt.Errorf("list duckdb tables: %w", err)
		}
		object := "TABLE"
		if kind == "VIEW" {
			object = "VIEW"
		}
		drops = append(drops, fmt.Sprintf("DROP %s IF EXISTS %s", object, query.QuoteIdent(name)))
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("list duckdb tables: %w", err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("list duckdb tables: %w", err)
	}

	for _, stmt := range drops {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset duckdb schema: %w", err)
		}
	}
	return nil
}

func (e *Engine) Name() string {
	return "DuckDB"
}

func (e *Engine) RegisterCSV(ctx context.Context, table, csvPath string) (catalog.Table, error) {
	if strings.TrimSpace(table) == "" {
		return catalog.Table{}, fmt.Errorf("table name is required")
	}
	createSQL := fmt.Sprintf(
		`CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true)`,
		query.QuoteIdent(table), query.QuoteString(csvPath),
	)
	if _, err := e.db.ExecContext(ctx, createSQL); err != nil {
		return catalog.Table{}, fmt.Errorf("create table %q: %w", table, err)
	}

	var rowCount int64
	if err := e.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, query.QuoteIdent(table))).Scan(&rowCount); err != nil {
		return catalog.Table{}, fmt.Errorf("count rows of %q: %w", table, err)
	}

	columns, err := e.columns(ctx, table)
	if err != nil {
		return catalog.Table{}, err
	}

	return catalog.Table{
		Name:       table,
		SourceFile: filepath.Base(csvPath),
		Rows:       rowCount,
		Columns:    len(columns),
	}, nil
}

func (e *Engine) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s LIMIT 0`, query.QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", table, err)
	}
	return columns, nil
}

func (e *Engine) Execute(ctx context.Context, sqlText string) (query.Result, error) {
	sqlText = query.StripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func normalizeValues(values []any) []any {
	normalized := query.NormalizeValues(values)
	for i, value := range normalized {
		if decimal, ok := value.(duckdbdriver.Decimal); ok {
			normalized[i] = decimal.Float64()
		}
	}
	return normalized
}
