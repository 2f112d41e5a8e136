package tabular

import (
	"compress/bzip2"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/xuri/excelize/v2"
)

// Materialize returns the path of a plain CSV holding file's rows. Plain
// CSVs are used in place; other kinds are decoded into workDir.
func Materialize(file File, workDir string) (string, error) {
	if file.Kind == KindCSV {
		return file.Path, nil
	}
	target := filepath.Join(workDir, sanitizeFileComponent(file.Name)+".csv")
	switch file.Kind {
	case KindXLSX:
		if err := convertXLSX(file.Path, target); err != nil {
			return "", err
		}
	case KindGzip, KindBz2, KindXZ, KindZstd:
		if err := decompress(file, target); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unsupported data file kind %q", file.Kind)
	}
	return target, nil
}

func decompress(file File, target string) error {
	source, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("open %q: %w", file.Name, err)
	}
	defer func() { _ = source.Close() }()

	reader, closeReader, err := decompressor(file.Kind, source)
	if err != nil {
		return fmt.Errorf("decompress %q: %w", file.Name, err)
	}
	defer closeReader()

	return writeFile(target, reader)
}

func decompressor(kind Kind, source io.Reader) (io.Reader, func(), error) {
	switch kind {
	case KindGzip:
		reader, err := gzip.NewReader(source)
		if err != nil {
			return nil, nil, err
		}
		return reader, func() { _ = reader.Close() }, nil
	case KindBz2:
		return bzip2.NewReader(source), func() {}, nil
	case KindXZ:
		reader, err := xz.NewReader(source)
		if err != nil {
			return nil, nil, err
		}
		return reader, func() {}, nil
	case KindZstd:
		decoder, err := zstd.NewReader(source)
		if err != nil {
			return nil, nil, err
		}
		return decoder, decoder.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression %q", kind)
	}
}

func convertXLSX(path, target string) error {
	workbook, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("open workbook %q: %w", filepath.Base(path), err)
	}
	defer func() { _ = workbook.Close() }()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		return fmt.Errorf("workbook %q has no sheets", filepath.Base(path))
	}
	rows, err := workbook.GetRows(sheets[0])
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("sheet %q of %q is empty", sheets[0], filepath.Base(path))
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %q: %w", target, err)
	}
	writer := csv.NewWriter(out)
	width := len(rows[0])
	for _, row := range rows {
		record := make([]string, width)
		copy(record, row)
		if err := writer.Write(record); err != nil {
			_ = out.Close()
			return fmt.Errorf("write %q: %w", target, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %q: %w", target, err)
	}
	return out.Close()
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %q: %w", path, err)
	}
	return file.Close()
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
