// Package dbtest provides an in-memory database.Database for tests.
package dbtest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"site-guardian/internal/database"
)

var pageQuery = regexp.MustCompile("^SELECT \\* FROM `([^`]+)` LIMIT (\\d+) OFFSET (\\d+)$")

// Table is a fake table: its DDL, columns and rows
type Table struct {
	DDL     string
	Columns []string
	Rows    [][]any
}

// DB is an in-memory database.Database. Exec records statements instead of
// running them. Like database/sql, every call fails with the context error
// once ctx is done.
type DB struct {
	mu         sync.Mutex
	Tables     map[string]*Table
	Executed   []string
	FailExec   func(stmt string) bool
	FailQuery  map[string]bool
	OnQuery    func(query string)
	OnExec     func(stmt string)
	QueryCount int
}

// New creates an empty DB
func New() *DB {
	return &DB{Tables: make(map[string]*Table), FailQuery: make(map[string]bool)}
}

// AddTable registers a table with n generated rows of (id, value)
func (d *DB) AddTable(name string, n int) *Table {
	t := &Table{
		DDL:     fmt.Sprintf("CREATE TABLE `%s` (`id` bigint NOT NULL, `value` longtext, PRIMARY KEY (`id`))", name),
		Columns: []string{"id", "value"},
	}
	for i := 1; i <= n; i++ {
		t.Rows = append(t.Rows, []any{int64(i), fmt.Sprintf("value;%d", i)})
	}
	d.Tables[name] = t
	return t
}

// Query serves the paged SELECT issued by the exporters
func (d *DB) Query(ctx context.Context, query string) (*database.ResultSet, error) {
	d.mu.Lock()
	d.QueryCount++
	hook := d.OnQuery
	d.mu.Unlock()
	if hook != nil {
		hook(query)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m := pageQuery.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	if d.FailQuery[m[1]] {
		return nil, fmt.Errorf("table %s is unreadable", m[1])
	}
	t, ok := d.Tables[m[1]]
	if !ok {
		return nil, fmt.Errorf("table %s doesn't exist", m[1])
	}
	limit, _ := strconv.Atoi(m[2])
	offset, _ := strconv.Atoi(m[3])

	result := &database.ResultSet{Columns: t.Columns}
	for i := offset; i < len(t.Rows) && i < offset+limit; i++ {
		result.Rows = append(result.Rows, t.Rows[i])
	}
	return result, nil
}

// Exec records stmt, failing it when FailExec says so
func (d *DB) Exec(ctx context.Context, stmt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OnExec != nil {
		d.OnExec(stmt)
	}
	if d.FailExec != nil && d.FailExec(stmt) {
		return fmt.Errorf("statement failed: %.40s", stmt)
	}
	d.Executed = append(d.Executed, stmt)
	return nil
}

// ShowCreateTable returns the registered DDL
func (d *DB) ShowCreateTable(ctx context.Context, table string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.Tables[table]
	if !ok {
		return "", fmt.Errorf("table %s doesn't exist", table)
	}
	return t.DDL, nil
}

// ListTablesWithPrefix lists registered tables starting with prefix
func (d *DB) ListTablesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var names []string
	for name := range d.Tables {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ExecutedMatching counts executed statements starting with prefix
func (d *DB) ExecutedMatching(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, stmt := range d.Executed {
		if strings.HasPrefix(stmt, prefix) {
			n++
		}
	}
	return n
}
