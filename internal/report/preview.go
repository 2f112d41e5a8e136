package report

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/sqlrun/sqlrun/internal/query"
)

type PreviewOptions struct {
	MaxRows     int
	MaxColWidth int
}

func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{MaxRows: 10, MaxColWidth: 50}
}

// Preview logs the first MaxRows rows of result as a table.
func Preview(logger *slog.Logger, result query.Result, opts PreviewOptions) {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultPreviewOptions().MaxRows
	}
	if opts.MaxColWidth <= 0 {
		opts.MaxColWidth = DefaultPreviewOptions().MaxColWidth
	}

	shown := min(opts.MaxRows, len(result.Rows))
	logger.Info(fmt.Sprintf("\n=== QUERY RESULTS PREVIEW (First %d rows) ===", shown))
	if len(result.Rows) == 0 {
		logger.Info("No rows returned by the query.")
		return
	}

	logger.Info(fmt.Sprintf("Columns: \n[%s]", strings.Join(result.Columns, ", ")))
	logger.Info("")
	logger.Info("\n" + RenderTable(result.Columns, result.Rows[:shown], opts.MaxColWidth))

	if omitted := len(result.Rows) - shown; omitted > 0 {
		logger.Info(fmt.Sprintf("\n... (%d more rows not shown)", omitted))
	}
	logger.Info(strings.Repeat("=", 50))
}

// RenderTable draws rows as a light box table with every cell cut to
// maxColWidth runes.
func RenderTable(columns []string, rows [][]any, maxColWidth int) string {
	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	t := table.NewWriter()
	t.SetStyle(style)

	header := make(table.Row, len(columns))
	for i, column := range columns {
		header[i] = Truncate(column, maxColWidth)
	}
	t.AppendHeader(header)

	for _, values := range rows {
		row := make(table.Row, len(columns))
		for i := range columns {
			var value any
			if i < len(values) {
				value = values[i]
			}
			row[i] = Truncate(FormatValue(value), maxColWidth)
		}
		t.AppendRow(row)
	}
	return t.Render()
}

// Truncate shortens s to at most width runes, ending in "..." when cut.
func Truncate(s string, width int) string {
	runes := []rune(s)
	if width <= 0 || len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
