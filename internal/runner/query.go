package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sqlrun/sqlrun/internal/query"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadQuery returns the trimmed text of the query file.
func ReadQuery(path string, logger *slog.Logger) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Error(fmt.Sprintf("✗ Failed to read SQL file '%s': %v", path, err))
		return "", fmt.Errorf("read sql file: %w", err)
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if !utf8.Valid(raw) {
		logger.Error(fmt.Sprintf("✗ Failed to read SQL file '%s': file is not valid UTF-8", path))
		return "", fmt.Errorf("read sql file: %s is not valid UTF-8", path)
	}

	sqlText := strings.TrimSpace(string(raw))
	if sqlText == "" {
		logger.Error(fmt.Sprintf("SQL file '%s' is empty", path))
		return "", fmt.Errorf("sql file %s is empty", path)
	}
	logger.Info(fmt.Sprintf("✓ Successfully read SQL file '%s'", path))
	return sqlText, nil
}

// ExecuteQuery runs sqlText on engine and logs the outcome.
func ExecuteQuery(ctx context.Context, engine query.Engine, sqlText string, logger *slog.Logger) (query.Result, error) {
	logger.Info("Executing SQL query...")
	logger.Info(fmt.Sprintf("Query:\n%s\n", sqlText))

	result, err := engine.Execute(ctx, sqlText)
	if err != nil {
		logger.Error(fmt.Sprintf("✗ Query execution failed: %v", err))
		return query.Result{}, err
	}
	logger.Info(fmt.Sprintf("✓ Query executed successfully. Result: %d rows, %d columns", len(result.Rows), len(result.Columns)))
	return result, nil
}
