package optimizer

import (
	"context"
	"errors"

	"github.com/qw4990/pds_replay/plan"
)

// FakeDB is an in-memory DB recording every statement, used in tests.
// Unset hooks succeed with no rows.
type FakeDB struct {
	D          Dialect
	Statements []string
	Closed     bool

	ExecFunc           func(sql string) error
	QueryFunc          func(sql string) ([][]string, error)
	ExplainAnalyzeFunc func(query string) (plan.Document, error)
	ExplainFunc        func(query string) (plan.Document, error)

	stats GatewayStats
}

// NewFakeDB creates a FakeDB with the given dialect.
func NewFakeDB(d Dialect) *FakeDB {
	return &FakeDB{D: d}
}

var errFakeClosed = errors.New("fake connection closed")

func (f *FakeDB) record(sql string) error {
	if f.Closed {
		return &ConnectionError{Op: "execute", Err: errFakeClosed}
	}
	f.Statements = append(f.Statements, sql)
	return nil
}

func (f *FakeDB) Execute(_ context.Context, sql string) error {
	if err := f.record(sql); err != nil {
		return err
	}
	f.stats.ExecuteCount++
	if f.ExecFunc != nil {
		return f.ExecFunc(sql)
	}
	return nil
}

func (f *FakeDB) QueryStrings(_ context.Context, sql string) ([][]string, error) {
	if err := f.record(sql); err != nil {
		return nil, err
	}
	f.stats.QueryCount++
	if f.QueryFunc != nil {
		return f.QueryFunc(sql)
	}
	return nil, nil
}

func (f *FakeDB) ExplainAnalyze(_ context.Context, query string) (plan.Document, error) {
	if err := f.record(f.D.ExplainAnalyzeSQL(query)); err != nil {
		return plan.Document{}, err
	}
	f.stats.ExplainAnalyzeCount++
	if f.ExplainAnalyzeFunc != nil {
		return f.ExplainAnalyzeFunc(query)
	}
	return plan.Document{}, &QueryError{SQL: query, Err: errors.New("no plan")}
}

func (f *FakeDB) Explain(_ context.Context, query string) (plan.Document, error) {
	if err := f.record(f.D.ExplainSQL(query)); err != nil {
		return plan.Document{}, err
	}
	f.stats.ExplainCount++
	if f.ExplainFunc != nil {
		return f.ExplainFunc(query)
	}
	return plan.Document{}, &QueryError{SQL: query, Err: errors.New("no plan")}
}

func (f *FakeDB) Dialect() Dialect { return f.D }

func (f *FakeDB) ResetStats() { f.stats = GatewayStats{} }

func (f *FakeDB) Stats() GatewayStats { return f.stats }

func (f *FakeDB) Close() error {
	f.Closed = true
	return nil
}
