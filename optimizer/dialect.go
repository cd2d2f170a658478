package optimizer

import (
	"fmt"
	"strings"

	"github.com/qw4990/pds_replay/plan"
	"github.com/qw4990/pds_replay/utils"
)

// Dialect builds the vendor specific statements used by the engine.
type Dialect interface {
	Name() string       // 'postgres' or 'tidb'
	DriverName() string // the database/sql driver name
	PlanFormat() plan.Format

	ExplainAnalyzeSQL(query string) string
	ExplainSQL(query string) string

	DropIndexSQL(schema, table, index string) string
	DropViewSQL(schema, view string) string
	SupportsMaterializedViews() bool

	// IndexSizeSQL returns a query yielding the size of one index in MB, or "" if the size is not exposed.
	IndexSizeSQL(schema, table, index string) string
	// PDSSizeSQL returns a query yielding the size of all secondary structures in MB.
	PDSSizeSQL(schema string) string
	// IndexesSQL returns a query yielding (index, table, backs_constraint) for all indexes of the schema.
	IndexesSQL(schema string) string
	// MaterializedViewsSQL returns a query yielding the names of all materialized views of the schema,
	// or "" if materialized views are not supported.
	MaterializedViewsSQL(schema string) string

	TablesSQL(schema string) string
	RowCountSQL(schema, table string) string
	PrimaryKeySQL(schema, table string) string
	// ColumnsSQL returns a query yielding (column, data type, byte length).
	ColumnsSQL(schema, table string) string

	HypoProbeSQL() string
	// HypoSupported interprets the result of HypoProbeSQL.
	HypoSupported(rows [][]string, err error) bool
	// CreateHypoIndexSQL may return one row whose first column is the handle used to drop it.
	CreateHypoIndexSQL(schema, table, index string, columns []string) string
	DropHypoIndexSQL(schema, table, index, handle string) string
	ResetHypoSQL() string // "" if hypothetical indexes cannot be dropped in bulk
}

// DialectFor returns the dialect of a database/sql driver.
func DialectFor(driver string, format plan.Format) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pq":
		if format == plan.FormatTiDBTable {
			return nil, fmt.Errorf("plan format %v is not supported by postgres", format)
		}
		return &postgres{format: format}, nil
	case "mysql", "tidb":
		return &tidb{}, nil
	}
	return nil, fmt.Errorf("unsupported driver: %s", driver)
}

type postgres struct {
	format plan.Format
}

func (d *postgres) Name() string { return "postgres" }

func (d *postgres) DriverName() string { return "postgres" }

func (d *postgres) PlanFormat() plan.Format { return d.format }

func (d *postgres) ExplainAnalyzeSQL(query string) string {
	return fmt.Sprintf("EXPLAIN (ANALYZE TRUE, VERBOSE TRUE, COSTS TRUE, BUFFERS TRUE, FORMAT %s) %s",
		strings.ToUpper(d.format.String()), query)
}

func (d *postgres) ExplainSQL(query string) string {
	return fmt.Sprintf("EXPLAIN (COSTS TRUE, FORMAT %s) %s", strings.ToUpper(d.format.String()), query)
}

func (d *postgres) DropIndexSQL(schema, _, index string) string {
	return fmt.Sprintf("DROP INDEX %s", utils.QualifiedName(schema, index))
}

func (d *postgres) DropViewSQL(schema, view string) string {
	return fmt.Sprintf("DROP MATERIALIZED VIEW IF EXISTS %s CASCADE", utils.QualifiedName(schema, view))
}

func (d *postgres) SupportsMaterializedViews() bool { return true }

func (d *postgres) IndexSizeSQL(schema, _, index string) string {
	return fmt.Sprintf("select CAST(pg_table_size('%s') as float)/(1024*1024)",
		utils.EscapeLiteral(utils.QualifiedName(schema, index)))
}

func (d *postgres) PDSSizeSQL(string) string {
	return `select coalesce(sum(pg_indexes_size(relid)), 0)/(1024 * 1024) AS size_mb
		from pg_catalog.pg_statio_user_tables`
}

func (d *postgres) IndexesSQL(schema string) string {
	return fmt.Sprintf(`SELECT c_ind.relname, c_tbl.relname, cons.oid IS NOT NULL
		FROM pg_index ind
		JOIN pg_class c_ind ON c_ind.oid = ind.indexrelid
		JOIN pg_class c_tbl ON c_tbl.oid = ind.indrelid
		JOIN pg_namespace n ON n.oid = c_ind.relnamespace
		LEFT JOIN pg_constraint cons ON cons.conindid = ind.indexrelid
		WHERE n.nspname = '%s'
		ORDER BY c_ind.relname`, utils.EscapeLiteral(schema))
}

func (d *postgres) MaterializedViewsSQL(schema string) string {
	return fmt.Sprintf(`select matviewname from pg_matviews where schemaname = '%s' order by matviewname`,
		utils.EscapeLiteral(schema))
}

func (d *postgres) TablesSQL(schema string) string {
	return fmt.Sprintf(`select table_name from information_schema.tables
		where table_schema = '%s' and table_type = 'BASE TABLE' order by table_name`, utils.EscapeLiteral(schema))
}

func (d *postgres) RowCountSQL(schema, table string) string {
	return fmt.Sprintf(`SELECT c.reltuples FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = '%s' AND c.relname = '%s'`, utils.EscapeLiteral(schema), utils.EscapeLiteral(table))
}

func (d *postgres) PrimaryKeySQL(schema, table string) string {
	return fmt.Sprintf(`SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = '%s'::regclass AND i.indisprimary`, utils.EscapeLiteral(utils.QualifiedName(schema, table)))
}

func (d *postgres) ColumnsSQL(schema, table string) string {
	return fmt.Sprintf(`SELECT column_name, data_type, pg_column_size(data_type)
		FROM information_schema.columns
		WHERE table_schema = '%s' AND table_name = '%s'
		ORDER BY ordinal_position`, utils.EscapeLiteral(schema), utils.EscapeLiteral(table))
}

func (d *postgres) HypoProbeSQL() string {
	return `SELECT count(*) FROM pg_extension WHERE extname = 'hypopg'`
}

func (d *postgres) HypoSupported(rows [][]string, err error) bool {
	return err == nil && len(rows) == 1 && len(rows[0]) == 1 && rows[0][0] != "0"
}

func (d *postgres) CreateHypoIndexSQL(schema, table, _ string, columns []string) string {
	ddl := fmt.Sprintf("CREATE INDEX ON %s (%s)", utils.QualifiedName(schema, table), strings.Join(columns, ", "))
	return fmt.Sprintf("SELECT indexrelid FROM hypopg_create_index('%s')", utils.EscapeLiteral(ddl))
}

func (d *postgres) DropHypoIndexSQL(_, _, _, handle string) string {
	return fmt.Sprintf("SELECT hypopg_drop_index(%s)", handle)
}

func (d *postgres) ResetHypoSQL() string {
	return "SELECT hypopg_reset()"
}

type tidb struct{}

func (d *tidb) Name() string { return "tidb" }

func (d *tidb) DriverName() string { return "mysql" }

func (d *tidb) PlanFormat() plan.Format { return plan.FormatTiDBTable }

func (d *tidb) ExplainAnalyzeSQL(query string) string {
	return "explain analyze format = 'verbose' " + query
}

func (d *tidb) ExplainSQL(query string) string {
	return "explain format = 'verbose' " + query
}

func (d *tidb) DropIndexSQL(schema, table, index string) string {
	return fmt.Sprintf("drop index %v on %v", index, utils.QualifiedName(schema, table))
}

func (d *tidb) DropViewSQL(schema, view string) string {
	return fmt.Sprintf("drop view if exists %v", utils.QualifiedName(schema, view))
}

func (d *tidb) SupportsMaterializedViews() bool { return false }

func (d *tidb) IndexSizeSQL(string, string, string) string { return "" }

func (d *tidb) PDSSizeSQL(schema string) string {
	return fmt.Sprintf(`select coalesce(sum(index_length), 0)/(1024*1024) from information_schema.tables where table_schema = '%s'`,
		utils.EscapeLiteral(schema))
}

func (d *tidb) IndexesSQL(schema string) string {
	return fmt.Sprintf(`select distinct key_name, table_name, key_name = 'PRIMARY' or non_unique = 0
		from information_schema.tidb_indexes where table_schema = '%s' order by key_name`, utils.EscapeLiteral(schema))
}

func (d *tidb) MaterializedViewsSQL(string) string { return "" }

func (d *tidb) TablesSQL(schema string) string {
	return fmt.Sprintf(`select table_name from information_schema.tables
		where table_schema = '%s' and table_type = 'BASE TABLE' order by table_name`, utils.EscapeLiteral(schema))
}

func (d *tidb) RowCountSQL(schema, table string) string {
	return fmt.Sprintf(`select table_rows from information_schema.tables where table_schema = '%s' and table_name = '%s'`,
		utils.EscapeLiteral(schema), utils.EscapeLiteral(table))
}

func (d *tidb) PrimaryKeySQL(schema, table string) string {
	return fmt.Sprintf(`select column_name from information_schema.key_column_usage
		where table_schema = '%s' and table_name = '%s' and constraint_name = 'PRIMARY' order by ordinal_position`,
		utils.EscapeLiteral(schema), utils.EscapeLiteral(table))
}

func (d *tidb) ColumnsSQL(schema, table string) string {
	return fmt.Sprintf(`select column_name, data_type, coalesce(character_octet_length, numeric_precision, 8)
		from information_schema.columns where table_schema = '%s' and table_name = '%s' order by ordinal_position`,
		utils.EscapeLiteral(schema), utils.EscapeLiteral(table))
}

func (d *tidb) HypoProbeSQL() string {
	return `drop hypo index hypo_index_test_name on test`
}

// HypoSupported treats anything but a syntax error as support for hypothetical indexes.
func (d *tidb) HypoSupported(_ [][]string, err error) bool {
	return err == nil || !strings.Contains(err.Error(), "You have an error in your SQL syntax")
}

func (d *tidb) CreateHypoIndexSQL(schema, table, index string, columns []string) string {
	return fmt.Sprintf(`create index %v type hypo on %v (%v)`, index, utils.QualifiedName(schema, table), strings.Join(columns, ", "))
}

func (d *tidb) DropHypoIndexSQL(schema, table, index, _ string) string {
	return fmt.Sprintf("drop hypo index %v on %v", index, utils.QualifiedName(schema, table))
}

func (d *tidb) ResetHypoSQL() string { return "" }
