package optimizer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/qw4990/pds_replay/plan"
	"github.com/qw4990/pds_replay/utils"
)

// sqlGateway is the database/sql implementation of DB.
type sqlGateway struct {
	db      *sql.DB
	dialect Dialect
	stats   GatewayStats
}

// Open connects to dsn and pins the pool to a single connection.
func Open(ctx context.Context, d Dialect, dsn string) (DB, error) {
	utils.Debugf("connecting to %v with driver %v", redactDSN(dsn), d.DriverName())
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, &ConnectionError{Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectionError{Op: "ping", Err: err}
	}
	return NewGateway(db, d), nil
}

// NewGateway wraps an opened *sql.DB.
func NewGateway(db *sql.DB, d Dialect) DB {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &sqlGateway{db: db, dialect: d}
}

func (g *sqlGateway) recordStats(startTime time.Time, dur *time.Duration, counter *int) {
	*dur = *dur + time.Since(startTime)
	*counter = *counter + 1
}

func (g *sqlGateway) Dialect() Dialect {
	return g.dialect
}

// ResetStats resets the statistics.
func (g *sqlGateway) ResetStats() {
	g.stats = GatewayStats{}
}

// Stats returns the statistics.
func (g *sqlGateway) Stats() GatewayStats {
	return g.stats
}

// Execute executes the specified statement.
func (g *sqlGateway) Execute(ctx context.Context, sqlText string) error {
	defer g.recordStats(time.Now(), &g.stats.ExecuteTime, &g.stats.ExecuteCount)
	utils.Debugf("execute: %v", sqlText)
	_, err := g.db.ExecContext(ctx, sqlText)
	return classify("execute", sqlText, err)
}

// QueryStrings runs the query and returns all rows, NULL values become "".
func (g *sqlGateway) QueryStrings(ctx context.Context, sqlText string) ([][]string, error) {
	defer g.recordStats(time.Now(), &g.stats.QueryTime, &g.stats.QueryCount)
	return g.queryStrings(ctx, "query", sqlText)
}

func (g *sqlGateway) queryStrings(ctx context.Context, op, sqlText string) ([][]string, error) {
	utils.Debugf("%s: %v", op, sqlText)
	rows, err := g.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, classify(op, sqlText, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(op, sqlText, err)
	}
	var result [][]string
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(op, sqlText, err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = v.String
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, sqlText, err)
	}
	return result, nil
}

// ExplainAnalyze executes the query and returns its analyzed plan.
func (g *sqlGateway) ExplainAnalyze(ctx context.Context, query string) (plan.Document, error) {
	defer g.recordStats(time.Now(), &g.stats.ExplainAnalyzeTime, &g.stats.ExplainAnalyzeCount)
	return g.explain(ctx, "explain analyze", g.dialect.ExplainAnalyzeSQL(query))
}

// Explain returns the estimated plan of the query.
func (g *sqlGateway) Explain(ctx context.Context, query string) (plan.Document, error) {
	defer g.recordStats(time.Now(), &g.stats.ExplainTime, &g.stats.ExplainCount)
	return g.explain(ctx, "explain", g.dialect.ExplainSQL(query))
}

func (g *sqlGateway) explain(ctx context.Context, op, sqlText string) (plan.Document, error) {
	rows, err := g.queryStrings(ctx, op, sqlText)
	if err != nil {
		return plan.Document{}, err
	}
	return NewDocument(g.dialect.PlanFormat(), rows)
}

// NewDocument builds a plan document from the rows returned by an EXPLAIN statement.
// PostgreSQL returns the whole document in the first column, TiDB returns one row per operator.
func NewDocument(format plan.Format, rows [][]string) (plan.Document, error) {
	if format == plan.FormatTiDBTable {
		return plan.Document{Format: format, Rows: rows}, nil
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			return plan.Document{}, fmt.Errorf("explain returned an empty row")
		}
		lines = append(lines, row[0])
	}
	return plan.Document{Format: format, Text: strings.Join(lines, "\n")}, nil
}

// Close releases the underlying database connection.
func (g *sqlGateway) Close() error {
	return g.db.Close()
}

// redactDSN hides the password of a DSN in log lines.
func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "password="); i >= 0 {
		end := strings.IndexAny(dsn[i:], " &")
		if end < 0 {
			return dsn[:i] + "password=***"
		}
		return dsn[:i] + "password=***" + dsn[i+end:]
	}
	scheme, rest := "", dsn
	if i := strings.Index(dsn, "://"); i >= 0 {
		scheme, rest = dsn[:i+3], dsn[i+3:]
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return dsn
	}
	if c := strings.Index(rest[:at], ":"); c >= 0 {
		return scheme + rest[:c] + ":***" + rest[at:]
	}
	return dsn
}
