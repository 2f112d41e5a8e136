package sqlite

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sqlrun/sqlrun/internal/catalog"
	"github.com/sqlrun/sqlrun/internal/config"
	"github.com/sqlrun/sqlrun/internal/query"
)

const DriverName = "sqlite"

func init() {
	query.Register(DriverName, func(ctx context.Context, cfg config.EngineConfig) (query.Engine, error) {
		return Open(ctx, cfg.DatabasePath)
	})
}

// Engine runs queries against a pure-Go SQLite database. An in-memory
// database only exists per connection, so the pool is pinned to one.
type Engine struct {
	db *sql.DB
}

// Open connects to the database at path, or to a fresh in-memory one when
// path is empty. A file database is emptied of user tables and views so a
// run only sees the tables it loads.
func Open(ctx context.Context, path string) (*Engine, error) {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if dsn != ":memory:" {
		if err := resetSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Engine{db: db}, nil
}

func resetSchema(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT type, name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY type DESC`)
	if err != nil {
		return fmt.Errorf("list sqlite tables: %w", err)
	}
	var drops []string
	for rows.Next() {
		var kind, name string
		if err := rows.Scan(&kind, &name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("list sqlite tables: %w", err)
		}
		drops = append(drops, fmt.Sprintf("DROP %s IF EXISTS %s", strings.ToUpper(kind), query.QuoteIdent(name)))
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("list sqlite tables: %w", err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("list sqlite tables: %w", err)
	}

	for _, stmt := range drops {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset sqlite schema: %w", err)
		}
	}
	return nil
}

func (e *Engine) Name() string {
	return "SQLite"
}

func (e *Engine) RegisterCSV(ctx context.Context, table, csvPath string) (catalog.Table, error) {
	if strings.TrimSpace(table) == "" {
		return catalog.Table{}, fmt.Errorf("table name is required")
	}
	header, records, err := readCSV(csvPath)
	if err != nil {
		return catalog.Table{}, err
	}
	affinities := inferAffinities(len(header), records)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return catalog.Table{}, fmt.Errorf("begin load of %q: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+query.QuoteIdent(table)); err != nil {
		return catalog.Table{}, fmt.Errorf("drop table %q: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(table, header, affinities)); err != nil {
		return catalog.Table{}, fmt.Errorf("create table %q: %w", table, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(header)), ",")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", query.QuoteIdent(table), placeholders))
	if err != nil {
		return catalog.Table{}, fmt.Errorf("prepare insert into %q: %w", table, err)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(header))
	for index, record := range records {
		for i := range header {
			args[i] = convertCell(cellAt(record, i), affinities[i])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return catalog.Table{}, fmt.Errorf("insert row %d into %q: %w", index+1, table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return catalog.Table{}, fmt.Errorf("commit load of %q: %w", table, err)
	}

	return catalog.Table{
		Name:       table,
		SourceFile: filepath.Base(csvPath),
		Rows:       int64(len(records)),
		Columns:    len(header),
	}, nil
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
		resultRows = append(resultRows, query.NormalizeValues(values))
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

type affinity int

const (
	affinityInteger affinity = iota
	affinityReal
	affinityText
)

func (a affinity) String() string {
	switch a {
	case affinityInteger:
		return "INTEGER"
	case affinityReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func readCSV(path string) ([]string, [][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open csv %q: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("csv %q is empty", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header %q: %w", path, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	header = uniqueColumnNames(header)

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv %q: %w", path, err)
		}
		if len(record) > len(header) {
			line, _ := reader.FieldPos(0)
			return nil, nil, fmt.Errorf("csv %q line %d: %d fields, header has %d", path, line, len(record), len(header))
		}
		records = append(records, record)
	}
	return header, records, nil
}

func uniqueColumnNames(header []string) []string {
	seen := map[string]int{}
	names := make([]string, len(header))
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = fmt.Sprintf("column%d", i)
		}
		key := strings.ToLower(name)
		if count := seen[key]; count > 0 {
			name = fmt.Sprintf("%s_%d", name, count)
		}
		seen[key]++
		names[i] = name
	}
	return names
}

func inferAffinities(width int, records [][]string) []affinity {
	affinities := make([]affinity, width)
	for i := range affinities {
		affinities[i] = affinityInteger
	}
	for _, record := range records {
		for i := 0; i < width; i++ {
			cell := strings.TrimSpace(cellAt(record, i))
			if cell == "" || affinities[i] == affinityText {
				continue
			}
			if _, err := strconv.ParseInt(cell, 10, 64); err == nil {
				continue
			}
			if _, err := strconv.ParseFloat(cell, 64); err == nil {
				affinities[i] = affinityReal
				continue
			}
			affinities[i] = affinityText
		}
	}
	return affinities
}

func createTableSQL(table string, header []string, affinities []affinity) string {
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = query.QuoteIdent(name) + " " + affinities[i].String()
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", query.QuoteIdent(table), strings.Join(columns, ", "))
}

func cellAt(record []string, index int) string {
	if index < len(record) {
		return record[index]
	}
	return ""
}

func convertCell(cell string, kind affinity) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}
	switch kind {
	case affinityInteger:
		if v, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return v
		}
	case affinityReal:
		if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return v
		}
	}
	return cell
}
