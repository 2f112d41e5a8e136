package catalog

import (
	"errors"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("catalog: not found")

// Table describes one table registered in the query engine for a run.
type Table struct {
	Name       string
	SourceFile string
	Rows       int64
	Columns    int
}

// Catalog mirrors the engine-side tables of a run. Names are compared
// case-insensitively because both engines fold unquoted identifiers.
type Catalog struct {
	mu     sync.RWMutex
	order  []string
	tables map[string]Table
}

func New() *Catalog {
	return &Catalog{tables: map[string]Table{}}
}

// Put registers table, replacing any table with the same name. The
// replaced table is returned when one existed.
func (c *Catalog) Put(table Table) (Table, bool) {
	key := normalizeName(table.Name)

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, replaced := c.tables[key]
	if !replaced {
		c.order = append(c.order, key)
	}
	c.tables[key] = table
	return prev, replaced
}

func (c *Catalog) Get(name string) (Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	table, ok := c.tables[normalizeName(name)]
	if !ok {
		return Table{}, ErrNotFound
	}
	return table, nil
}

// Names returns table names in first-registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.order))
	for _, key := range c.order {
		names = append(names, c.tables[key].Name)
	}
	return names
}

func (c *Catalog) Tables() []Table {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tables := make([]Table, 0, len(c.order))
	for _, key := range c.order {
		tables = append(tables, c.tables[key])
	}
	return tables
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
