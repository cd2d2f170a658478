package optimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/qw4990/pds_replay/plan"
)

// GatewayStats records the statistics of a database gateway.
type GatewayStats struct {
	ExecuteCount        int           // number of executed statements
	ExecuteTime         time.Duration // total execution time
	QueryCount          int           // number of row-returning queries
	QueryTime           time.Duration // total time of row-returning queries
	ExplainCount        int           // number of executed Explain
	ExplainTime         time.Duration // total time of Explain
	ExplainAnalyzeCount int           // number of executed ExplainAnalyze
	ExplainAnalyzeTime  time.Duration // total time of ExplainAnalyze
}

// Format formats the statistics.
func (s GatewayStats) Format() string {
	return fmt.Sprintf(`Execute(count/time): (%v/%v), Query: (%v/%v), Explain: (%v/%v), ExplainAnalyze: (%v/%v)`,
		s.ExecuteCount, s.ExecuteTime, s.QueryCount, s.QueryTime,
		s.ExplainCount, s.ExplainTime, s.ExplainAnalyzeCount, s.ExplainAnalyzeTime)
}

// DB is the interface of a database gateway.
// All statements run in autocommit mode on a single connection, there is no explicit commit.
type DB interface {
	Execute(ctx context.Context, sql string) error                    // execute the specified SQL statement
	QueryStrings(ctx context.Context, sql string) ([][]string, error) // run a query and return all rows as strings, NULL as ""

	ExplainAnalyze(ctx context.Context, query string) (plan.Document, error) // execute the query and return its analyzed plan
	Explain(ctx context.Context, query string) (plan.Document, error)        // return the estimated plan without executing

	Dialect() Dialect

	ResetStats()         // reset the statistics
	Stats() GatewayStats // return the statistics

	Close() error // release the underlying database connection
}

// Opener opens a new gateway connection.
type Opener func(ctx context.Context) (DB, error)

// NewOpener returns an Opener connecting to dsn with the given driver, 'postgres' or 'mysql'.
func NewOpener(driver, dsn string, format plan.Format) (Opener, error) {
	d, err := DialectFor(driver, format)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (DB, error) {
		return Open(ctx, d, dsn)
	}, nil
}
