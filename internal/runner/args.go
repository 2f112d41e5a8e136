package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// RunPaths are the three positional arguments of a run.
type RunPaths struct {
	QueryPath string
	DataDir   string
	LogPath   string
}

const usageText = `Usage: sqlrun [flags] <path_to_sql_file> <path_to_data_folder> <path_to_log_file>

Example:
sqlrun queries/sample_schema/cube_example.sql data/sample_schema/ logs/run1.txt
`

func writeUsage(w io.Writer) {
	_, _ = io.WriteString(w, usageText)
}

// ValidateArgs checks the run paths before logging exists and prints the
// first problem found to w.
func ValidateArgs(paths RunPaths, querySuffix string, w io.Writer) error {
	err := validateArgs(paths, querySuffix)
	if err != nil {
		_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	}
	return err
}

func validateArgs(paths RunPaths, querySuffix string) error {
	if _, err := os.Stat(paths.QueryPath); err != nil {
		return fmt.Errorf("SQL file '%s' not found.", paths.QueryPath)
	}
	if !strings.HasSuffix(strings.ToLower(paths.QueryPath), strings.ToLower(querySuffix)) {
		return fmt.Errorf("'%s' is not a SQL file (%s extension required).", paths.QueryPath, querySuffix)
	}
	info, err := os.Stat(paths.DataDir)
	if err != nil {
		return fmt.Errorf("Data folder '%s' not found.", paths.DataDir)
	}
	if !info.IsDir() {
		return fmt.Errorf("'%s' is not a directory.", paths.DataDir)
	}
	return nil
}

var errArgCount = errors.New("expected exactly 3 arguments")
