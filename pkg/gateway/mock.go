package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"path"
	"sync"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
)

// WriteHook decides whether a mock write succeeds. Returning an error rejects
// the record; wrap ErrUnreachable to simulate an outage.
type WriteHook func(objectType string, rec models.Record) error

// Mock serves deterministic records from JSON fixtures named <table>.json and
// keeps every accepted write in memory.
type Mock struct {
	fixtures    fs.FS
	writeHook   WriteHook
	unreachable bool

	mu      sync.Mutex
	tables  map[string][]models.Record
	written map[string][]models.Record
	reads   map[string]int
}

// MockOption configures a Mock.
type MockOption func(*Mock)

// WithWriteHook installs a hook consulted before each write.
func WithWriteHook(h WriteHook) MockOption {
	return func(m *Mock) { m.writeHook = h }
}

// WithUnreachable makes every call fail with ErrUnreachable.
func WithUnreachable() MockOption {
	return func(m *Mock) { m.unreachable = true }
}

// WithTable seeds table directly, bypassing fixtures.
func WithTable(table string, records []models.Record) MockOption {
	return func(m *Mock) { m.tables[table] = records }
}

// NewMock creates a mock gateway over fixtures. fixtures may be nil when every
// table is seeded with WithTable.
func NewMock(fixtures fs.FS, opts ...MockOption) *Mock {
	m := &Mock{
		fixtures: fixtures,
		tables:   make(map[string][]models.Record),
		written:  make(map[string][]models.Record),
		reads:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mock) Mode() Mode { return ModeMock }

// ReadTable returns copies of the fixture rows, projected onto opts.Fields and
// truncated to opts.MaxRows.
func (m *Mock) ReadTable(ctx context.Context, table string, opts ReadOptions) ([]models.Record, error) {
	if m.unreachable {
		return nil, errors.Wrapf(ErrUnreachable, "read %s", table)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.loadLocked(table)
	if err != nil {
		return nil, err
	}
	m.reads[table]++

	limit := len(rows)
	if opts.MaxRows > 0 && opts.MaxRows < limit {
		limit = opts.MaxRows
	}
	out := make([]models.Record, 0, limit)
	for _, row := range rows[:limit] {
		out = append(out, project(row, opts.Fields))
	}
	return out, nil
}

func (m *Mock) loadLocked(table string) ([]models.Record, error) {
	if rows, ok := m.tables[table]; ok {
		return rows, nil
	}
	if m.fixtures == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "fixture for table %s", table)
	}
	raw, err := fs.ReadFile(m.fixtures, path.Clean(table+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(errors.ErrNotFound, "fixture for table %s", table)
		}
		return nil, errors.Wrapf(err, "failed to read fixture %s", table)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rows []models.Record
	if err := dec.Decode(&rows); err != nil {
		return nil, errors.Wrapf(err, "failed to decode fixture %s", table)
	}
	m.tables[table] = rows
	return rows, nil
}

func project(row models.Record, fields []string) models.Record {
	if len(fields) == 0 {
		return row.Clone()
	}
	out := make(models.Record, len(fields))
	for _, f := range fields {
		if v, ok := row[f]; ok {
			out[f] = v
		}
	}
	return out
}

// WriteObject stores rec under objectType unless the write hook rejects it.
func (m *Mock) WriteObject(ctx context.Context, objectType string, rec models.Record) error {
	if m.unreachable {
		return errors.Wrapf(ErrUnreachable, "write %s", objectType)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.writeHook != nil {
		if err := m.writeHook(objectType, rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written[objectType] = append(m.written[objectType], rec.Clone())
	return nil
}

// Written returns the records accepted for objectType.
func (m *Mock) Written(objectType string) []models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Record(nil), m.written[objectType]...)
}

// Reads returns how often table was read.
func (m *Mock) Reads(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[table]
}
