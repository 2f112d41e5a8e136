package tabular

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Kind string

const (
	KindCSV  Kind = "csv"
	KindGzip Kind = "gzip"
	KindBz2  Kind = "bzip2"
	KindXZ   Kind = "xz"
	KindZstd Kind = "zstd"
	KindXLSX Kind = "xlsx"
)

// Longer suffixes come first so ".csv.gz" is not mistaken for ".gz".
var suffixes = []struct {
	suffix string
	kind   Kind
}{
	{".csv.gz", KindGzip},
	{".csv.bz2", KindBz2},
	{".csv.xz", KindXZ},
	{".csv.zst", KindZstd},
	{".csv", KindCSV},
	{".xlsx", KindXLSX},
}

// File is one loadable data file in a data folder.
type File struct {
	Name  string
	Path  string
	Table string
	Kind  Kind
}

// Detect reports whether name carries a supported suffix. The match is
// case-insensitive and the table name is name minus that suffix.
func Detect(name string) (Kind, string, bool) {
	lower := strings.ToLower(name)
	for _, candidate := range suffixes {
		if strings.HasSuffix(lower, candidate.suffix) {
			table := name[:len(name)-len(candidate.suffix)]
			if table == "" {
				return "", "", false
			}
			return candidate.kind, table, true
		}
	}
	return "", "", false
}

// Discover lists the supported files directly inside dir, sorted by name.
// Subdirectories are not descended into.
func Discover(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data folder %q: %w", dir, err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		kind, table, ok := Detect(entry.Name())
		if !ok {
			continue
		}
		files = append(files, File{
			Name:  entry.Name(),
			Path:  filepath.Join(dir, entry.Name()),
			Table: table,
			Kind:  kind,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
