package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var linePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3} - (DEBUG|INFO|WARNING|ERROR) - `)

func TestNewLoggerLineFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelDebug)

	logger.Debug("debugging")
	logger.Info("✓ Connected to DuckDB")
	logger.Warn("No CSV files found in 'data'")
	logger.Error("failed", slog.Any("error", errors.New("boom")), slog.String("file", "a b.csv"))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d: %q", len(lines), buf.String())
	}
	wantLevels := []string{"DEBUG", "INFO", "WARNING", "ERROR"}
	for i, line := range lines {
		if !linePattern.MatchString(line) {
			t.Fatalf("line %d has unexpected format: %q", i, line)
		}
		if !strings.Contains(line, " - "+wantLevels[i]+" - ") {
			t.Fatalf("line %d level: %q", i, line)
		}
	}
	if !strings.HasSuffix(lines[1], " - INFO - ✓ Connected to DuckDB") {
		t.Fatalf("info line = %q", lines[1])
	}
	if !strings.HasSuffix(lines[3], ` error=boom file="a b.csv"`) {
		t.Fatalf("error line = %q", lines[3])
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info record leaked: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn record missing: %q", buf.String())
	}
}

func TestNewLoggerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, nil).With(slog.String("run", "r1")).WithGroup("table")
	logger.Info("loaded", slog.Int("rows", 3))
	if !strings.Contains(buf.String(), " run=r1 table.rows=3") {
		t.Fatalf("line = %q", buf.String())
	}
}

func TestOpenRunLogWritesFileAndConsoleInLockstep(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "nested", "run1.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("stale content from a previous run\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var console bytes.Buffer
	runLog, err := OpenRunLog(path, &console, slog.LevelInfo)
	if err != nil {
		t.Fatalf("OpenRunLog() error = %v", err)
	}
	runLog.Logger.Info("first")
	runLog.Logger.Error("second")
	if err := runLog.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(body), "stale") {
		t.Fatal("log file was not truncated")
	}
	if string(body) != console.String() {
		t.Fatalf("file and console differ:\nfile=%q\nconsole=%q", body, console.String())
	}
	if strings.Count(string(body), "\n") != 2 {
		t.Fatalf("file = %q", body)
	}
}

func TestOpenRunLogCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "run.log")
	runLog, err := OpenRunLog(path, nil, slog.LevelInfo)
	if err != nil {
		t.Fatalf("OpenRunLog() error = %v", err)
	}
	defer func() { _ = runLog.Close() }()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
}

func TestOpenRunLogFailsWhenParentIsFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := OpenRunLog(filepath.Join(blocker, "run.log"), nil, slog.LevelInfo); err == nil {
		t.Fatal("expected error when parent path is a file")
	}
}

func TestRunMetricsWriteTextfile(t *testing.T) {
	metrics := NewRunMetrics("sqlite")
	metrics.ObserveLoad(3, 1)
	metrics.ObserveQuery(15, 250*time.Millisecond)
	metrics.Finish(true, time.Unix(1700000000, 0))

	if got := testutil.ToFloat64(metrics.tablesLoaded); got != 3 {
		t.Fatalf("tables loaded = %v", got)
	}
	if got := testutil.ToFloat64(metrics.resultRows); got != 15 {
		t.Fatalf("result rows = %v", got)
	}

	path := filepath.Join(t.TempDir(), "sqlrun.prom")
	if err := metrics.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, snippet := range []string{
		`sqlrun_run_success{engine="sqlite"} 1`,
		`sqlrun_table_load_failures{engine="sqlite"} 1`,
		`sqlrun_last_run_timestamp_seconds{engine="sqlite"} 1.7e+09`,
	} {
		if !strings.Contains(string(body), snippet) {
			t.Fatalf("textfile missing %q:\n%s", snippet, body)
		}
	}
}
