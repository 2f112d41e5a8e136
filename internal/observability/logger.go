package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// NewLogger returns a logger that renders every record as a single
// "<timestamp> - <LEVEL> - <message>" line on writer.
func NewLogger(writer io.Writer, level slog.Leveler) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return slog.New(&lineHandler{mu: &sync.Mutex{}, w: writer, level: level})
}

// RunLog is the log stream of a single run: a truncated file and the console,
// written in lockstep.
type RunLog struct {
	Logger *slog.Logger
	Path   string
	file   *os.File
}

func OpenRunLog(path string, console io.Writer, level slog.Leveler) (*RunLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %q: %w", dir, err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}

	var sink io.Writer = file
	if console != nil {
		sink = io.MultiWriter(file, console)
	}
	return &RunLog{
		Logger: NewLogger(sink, level),
		Path:   path,
		file:   file,
	}, nil
}

func (l *RunLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

type lineHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(ts.Format(timestampLayout))
	b.WriteString(fmt.Sprintf(",%03d", ts.Nanosecond()/int(time.Millisecond)))
	b.WriteString(" - ")
	b.WriteString(levelName(record.Level))
	b.WriteString(" - ")
	b.WriteString(record.Message)

	for _, attr := range h.attrs {
		writeAttr(&b, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, h.prefix, attr)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, attr := range attrs {
		if h.prefix != "" {
			attr.Key = h.prefix + attr.Key
		}
		next.attrs = append(next.attrs, attr)
	}
	return &next
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func levelName(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func writeAttr(b *strings.Builder, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, inner := range attr.Value.Group() {
			writeAttr(b, groupPrefix, inner)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(attr.Key)
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(attrString(attr.Value)))
}

func attrString(value slog.Value) string {
	if value.Kind() == slog.KindAny {
		if err, ok := value.Any().(error); ok {
			return err.Error()
		}
	}
	return value.String()
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
