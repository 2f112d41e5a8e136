package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sqlrun/sqlrun/internal/config"
	"github.com/sqlrun/sqlrun/internal/query"
)

func TestRegisterCSVInfersColumnAffinity(t *testing.T) {
	engine := openEngine(t)
	csvPath := writeCSV(t, "orders.csv", "\ufeffid,price,note\n1,2.5,first\n2,3,\n3,,third\n")

	table, err := engine.RegisterCSV(context.Background(), "orders", csvPath)
	if err != nil {
		t.Fatalf("RegisterCSV() error = %v", err)
	}
	if table.Rows != 3 || table.Columns != 3 {
		t.Fatalf("table = %+v", table)
	}

	result, err := engine.Execute(context.Background(),
		"SELECT typeof(id), typeof(price), typeof(note) FROM orders WHERE id = 1;")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got, want := result.Rows[0], []any{"integer", "real", "text"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("types = %#v, want %#v", got, want)
	}

	result, err = engine.Execute(context.Background(), "SELECT COUNT(price), COUNT(note), SUM(id) FROM orders")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got, want := result.Rows[0], []any{int64(2), int64(2), int64(6)}; !reflect.DeepEqual(got, want) {
		t.Fatalf("aggregates = %#v, want %#v", got, want)
	}
}

func TestRegisterCSVRecreatesTable(t *testing.T) {
	engine := openEngine(t)
	if _, err := engine.RegisterCSV(context.Background(), "t", writeCSV(t, "a.csv", "a\nx\ny\n")); err != nil {
		t.Fatalf("RegisterCSV(first) error = %v", err)
	}
	if _, err := engine.RegisterCSV(context.Background(), "t", writeCSV(t, "b.csv", "b,c\n1,2\n")); err != nil {
		t.Fatalf("RegisterCSV(second) error = %v", err)
	}
	result, err := engine.Execute(context.Background(), "SELECT * FROM t")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !reflect.DeepEqual(result.Columns, []string{"b", "c"}) || len(result.Rows) != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestRegisterCSVRejectsMalformedInput(t *testing.T) {
	engine := openEngine(t)
	if _, err := engine.RegisterCSV(context.Background(), "empty", writeCSV(t, "empty.csv", "")); err == nil {
		t.Fatal("expected error for empty csv")
	}
	if _, err := engine.RegisterCSV(context.Background(), "wide", writeCSV(t, "wide.csv", "a\n1,2,3\n")); err == nil {
		t.Fatal("expected error for row wider than header")
	}
	if _, err := engine.RegisterCSV(context.Background(), "missing", filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExecuteMissingTable(t *testing.T) {
	engine := openEngine(t)
	if _, err := engine.Execute(context.Background(), "SELECT * FROM nothing_here"); err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestUniqueColumnNames(t *testing.T) {
	got := uniqueColumnNames([]string{"id", "ID", " ", "name", "id"})
	want := []string{"id", "ID_1", "column2", "name", "id_2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("uniqueColumnNames() = %v, want %v", got, want)
	}
}

func TestOpenFileDatabaseDropsPreviousTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lab.db")
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
	engine, err := query.Open(context.Background(), config.EngineConfig{Driver: "sqlite"})
	if err != nil {
		t.Fatalf("query.Open() error = %v", err)
	}
	defer func() { _ = engine.Close() }()
	if engine.Name() != "SQLite" {
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
