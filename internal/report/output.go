package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sqlrun/sqlrun/internal/config"
	"github.com/sqlrun/sqlrun/internal/query"
)

var ErrNoColumns = errors.New("report: result has no columns")

type PersistOptions struct {
	Parquet bool
}

// Artifacts lists the files written for one result.
type Artifacts struct {
	CSV     string
	Parquet string
}

func (a Artifacts) Paths() []string {
	paths := []string{a.CSV}
	if a.Parquet != "" {
		paths = append(paths, a.Parquet)
	}
	return paths
}

// OutputPath maps a query file to its result file. A query under the
// queries root keeps its sub-directories below the outputs root; any other
// query maps to its base name directly under the outputs root.
func OutputPath(queryPath string, layout config.LayoutConfig) string {
	cleaned := filepath.ToSlash(filepath.Clean(queryPath))
	root := strings.Trim(filepath.ToSlash(filepath.Clean(layout.QueriesRoot)), "/")

	relative := path.Base(cleaned)
	if root != "" && root != "." && strings.HasPrefix(cleaned, root+"/") {
		relative = strings.TrimPrefix(cleaned, root+"/")
	}
	relative = strings.TrimSuffix(relative, path.Ext(relative))
	return filepath.Join(layout.OutputsRoot, filepath.FromSlash(relative+layout.OutputSuffix))
}

// Persist writes result as CSV to outputPath, creating parent directories,
// plus a Parquet copy beside it when asked. Every file is staged under a
// temporary name first; the CSV is renamed into place last, so a failed
// run leaves no CSV behind.
func Persist(result query.Result, outputPath string, opts PersistOptions) (Artifacts, error) {
	if len(result.Columns) == 0 {
		return Artifacts{}, ErrNoColumns
	}
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("create output directory %q: %w", dir, err)
	}

	var staged []*stagedFile
	defer func() {
		for _, file := range staged {
			file.discard()
		}
	}()

	csvFile, err := stage(outputPath, func(file *os.File) error { return writeCSV(file, result) })
	if err != nil {
		return Artifacts{}, err
	}
	staged = append(staged, csvFile)

	artifacts := Artifacts{CSV: outputPath}
	if opts.Parquet {
		parquetPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".parquet"
		parquetFile, err := stage(parquetPath, func(file *os.File) error { return writeParquet(file, result) })
		if err != nil {
			return Artifacts{}, err
		}
		staged = append(staged, parquetFile)
		if err := parquetFile.commit(); err != nil {
			return Artifacts{}, err
		}
		artifacts.Parquet = parquetPath
	}

	if err := csvFile.commit(); err != nil {
		if artifacts.Parquet != "" {
			_ = os.Remove(artifacts.Parquet)
		}
		return Artifacts{}, err
	}
	return artifacts, nil
}

// stagedFile is a fully written temporary file waiting to be renamed onto
// its target.
type stagedFile struct {
	target  string
	tmpPath string
	done    bool
}

func stage(target string, write func(*os.File) error) (*stagedFile, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %q: %w", target, err)
	}
	file := &stagedFile{target: target, tmpPath: tmp.Name()}

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		file.discard()
		return nil, fmt.Errorf("write %q: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		file.discard()
		return nil, fmt.Errorf("close %q: %w", target, err)
	}
	return file, nil
}

func (f *stagedFile) commit() error {
	if err := os.Rename(f.tmpPath, f.target); err != nil {
		return fmt.Errorf("move %q into place: %w", f.target, err)
	}
	f.done = true
	return nil
}

// discard removes the temporary file unless it was committed.
func (f *stagedFile) discard() {
	if !f.done {
		_ = os.Remove(f.tmpPath)
	}
}

func writeCSV(file *os.File, result query.Result) error {
	writer := csv.NewWriter(file)
	if err := writer.Write(result.Columns); err != nil {
		return err
	}
	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i := range record {
			var value any
			if i < len(row) {
				value = row[i]
			}
			record[i] = FormatValue(value)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// FormatValue renders an engine scalar the way it appears in result files.
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case bool:
		if typed {
			return "True"
		}
		return "False"
	case float64:
		return formatFloat(typed, 64)
	case float32:
		return formatFloat(float64(typed), 32)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case int32:
		return strconv.FormatInt(int64(typed), 10)
	case int16:
		return strconv.FormatInt(int64(typed), 10)
	case int8:
		return strconv.FormatInt(int64(typed), 10)
	case uint64:
		return strconv.FormatUint(typed, 10)
	case uint32:
		return strconv.FormatUint(uint64(typed), 10)
	case uint16:
		return strconv.FormatUint(uint64(typed), 10)
	case uint8:
		return strconv.FormatUint(uint64(typed), 10)
	case time.Time:
		return formatTime(typed)
	case *time.Time:
		if typed == nil {
			return ""
		}
		return formatTime(*typed)
	default:
		return fmt.Sprint(typed)
	}
}

func formatFloat(value float64, bits int) string {
	switch {
	case math.IsNaN(value):
		return ""
	case math.IsInf(value, 1):
		return "inf"
	case math.IsInf(value, -1):
		return "-inf"
	}
	formatted := strconv.FormatFloat(value, 'f', -1, bits)
	if !strings.Contains(formatted, ".") {
		formatted += ".0"
	}
	return formatted
}

func formatTime(value time.Time) string {
	if value.Hour() == 0 && value.Minute() == 0 && value.Second() == 0 && value.Nanosecond() == 0 {
		return value.Format("2006-01-02")
	}
	if value.Nanosecond() != 0 {
		return value.Format("2006-01-02 15:04:05.000000")
	}
	return value.Format("2006-01-02 15:04:05")
}
