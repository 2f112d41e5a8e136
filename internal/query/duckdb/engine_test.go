package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sqlrun/sqlrun/internal/config"
	"github.com/sqlrun/sqlrun/internal/query"
)

func TestRegisterCSVCountsRowsAndColumns(t *testing.T) {
	engine := openEngine(t)
	csvPath := writeCSV(t, "sales.csv", "region,product,amount\nnorth,apple,10\nnorth,pear,5\nsouth,apple,7\n")

	table, err := engine.RegisterCSV(context.Background(), "sales", csvPath)
	if err != nil {
		t.Fatalf("RegisterCSV() error = %v", err)
	}
	if table.Name != "sales" || table.Rows != 3 || table.Columns != 3 {
		t.Fatalf("table = %+v", table)
	}
	if table.SourceFile != "sales.csv" {
		t.Fatalf("SourceFile = %q", table.SourceFile)
	}
}

func TestExecuteSupportsCubeAndTrailingSemicolon(t *testing.T) {
	engine := openEngine(t)
	csvPath := writeCSV(t, "sales.csv", "region,product,amount\nnorth,apple,10\nnorth,pear,5\nsouth,apple,7\n")
	if _, err := engine.RegisterCSV(context.Background(), "sales", csvPath); err != nil {
		t.Fatalf("RegisterCSV() error = %v", err)
	}

	result, err := engine.Execute(context.Background(), `
		SELECT region, product, COUNT(*) AS n
		FROM sales
		GROUP BY CUBE (region, product)
		ORDER BY region NULLS LAST, product NULLS LAST;
	`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.Join(result.Columns, ",") != "region,product,n" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	// 3 leaf groups + 2 region subtotals + 2 product subtotals + 1 grand total.
	if len(result.Rows) != 8 {
		t.Fatalf("rows = %d: %v", len(result.Rows), result.Rows)
	}
	last := result.Rows[len(result.Rows)-1]
	if last[0] != nil || last[1] != nil || last[2] != int64(3) {
		t.Fatalf("grand total row = %#v", last)
	}
}

func TestRegisterCSVReplacesExistingTable(t *testing.T) {
	engine := openEngine(t)
	first := writeCSV(t, "a.csv", "id\n1\n2\n")
	second := writeCSV(t, "b.csv", "id,name\n1,x\n")

	if _, err := engine.RegisterCSV(context.Background(), "items", first); err != nil {
		t.Fatalf("RegisterCSV(first) error = %v", err)
	}
	table, err := engine.RegisterCSV(context.Background(), "items", second)
	if err != nil {
		t.Fatalf("RegisterCSV(second) error = %v", err)
	}
	if table.Rows != 1 || table.Columns != 2 {
		t.Fatalf("table = %+v", table)
	}
}

func TestExecuteReturnsEngineErrorForMissingTable(t *testing.T) {
	engine := openEngine(t)
	if _, err := engine.Execute(context.Background(), "SELECT * FROM does_not_exist"); err == nil {
		t.Fatal("expected error for missing table")
	}
	if _, err := engine.Execute(context.Background(), " ; "); err == nil {
		t.Fatal("expected error for empty statement")
	}
}

func TestOpenFileDatabaseDropsPreviousTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lab.duckdb")
	ctx := context.Background()

	first, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := first.RegisterCSV(ctx, "stale", writeCSV(t, "stale.csv", "id\n1\n")); err != nil {
		t.Fatalf("RegisterCSV() error = %v", err)
	}
	if _, err := first.db.ExecContext(ctx, "CREATE VIEW stale_view AS SELECT id FROM stale"); err != nil {
		t.Fatalf("ExecContext(create view) error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open(reopen) error = %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	for _, name := range []string{"stale", "stale_view"} {
		if _, err := second.Execute(ctx, "SELECT * FROM "+name); err == nil {
			t.Fatalf("%s survived reopening the database", name)
		}
	}
}

func TestRegisteredInQueryRegistry(t *testing.T) {
	engine, err := query.Open(context.Background(), config.EngineConfig{Driver: "duckdb"})
	if err != nil {
		t.Fatalf("query.Open() error = %v", err)
	}
	defer func() { _ = engine.Close() }()
	if engine.Name() != "DuckDB" {
		t.Fatalf("Name() = %q", engine.Name())
	}
}

func openEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func writeCSV(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
