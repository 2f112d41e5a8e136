package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sqlrun/sqlrun/internal/catalog"
	"github.com/sqlrun/sqlrun/internal/config"
)

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Engine is an embedded SQL engine holding the tables of one run.
type Engine interface {
	RegisterCSV(ctx context.Context, table, csvPath string) (catalog.Table, error)
	Execute(ctx context.Context, sqlText string) (Result, error)
	Name() string
	Close() error
}

type Factory func(ctx context.Context, cfg config.EngineConfig) (Engine, error)

type UnknownDriverError struct {
	Driver    string
	Available []string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("unknown engine %q (available: %s)", e.Driver, strings.Join(e.Available, ", "))
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes an engine available under name. It panics on duplicates.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	key := strings.ToLower(strings.TrimSpace(name))
	if factory == nil {
		panic("query: Register factory is nil for " + name)
	}
	if _, exists := registry[key]; exists {
		panic("query: Register called twice for " + name)
	}
	registry[key] = factory
}

func Open(ctx context.Context, cfg config.EngineConfig) (Engine, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Driver))

	registryMu.RLock()
	factory, ok := registry[key]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownDriverError{Driver: cfg.Driver, Available: Drivers()}
	}

	engine, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s engine: %w", key, err)
	}
	return engine, nil
}

func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StripTrailingSemicolons trims whitespace and any run of trailing
// semicolons so the statement can be handed to a driver as a single query.
func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func QuoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

// NormalizeValues converts driver byte slices into strings so results can be
// compared and rendered uniformly.
func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
