package report

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/sqlrun/sqlrun/internal/query"
)

// writeParquet stores result with every column as an optional UTF-8 string,
// rendered exactly like the CSV cells.
func writeParquet(w io.Writer, result query.Result) error {
	names := parquetColumnNames(result.Columns)
	group := parquet.Group{}
	for _, name := range names {
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("result", group)

	// Group fields are ordered by name, so map each result column to its leaf.
	leaves := make([]int, len(names))
	for i, name := range names {
		leaf, ok := schema.Lookup(name)
		if !ok {
			return fmt.Errorf("parquet column %q missing from schema", name)
		}
		leaves[i] = leaf.ColumnIndex
	}

	writer := parquet.NewWriter(w, schema)
	rows := make([]parquet.Row, 0, len(result.Rows))
	for _, values := range result.Rows {
		row := make(parquet.Row, len(names))
		for i := range names {
			var value any
			if i < len(values) {
				value = values[i]
			}
			leaf := leaves[i]
			if value == nil {
				row[leaf] = parquet.NullValue().Level(0, 0, leaf)
				continue
			}
			row[leaf] = parquet.ByteArrayValue([]byte(FormatValue(value))).Level(0, 1, leaf)
		}
		rows = append(rows, row)
	}
	if _, err := writer.WriteRows(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func parquetColumnNames(columns []string) []string {
	used := map[string]bool{}
	names := make([]string, len(columns))
	for i, column := range columns {
		base := column
		if base == "" {
			base = fmt.Sprintf("column%d", i)
		}
		name := base
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[name] = true
		names[i] = name
	}
	return names
}
