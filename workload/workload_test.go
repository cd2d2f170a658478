package workload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewQuery(t *testing.T) {
	q := NewQuery("q1", "SELECT * FROM lineitem")
	require.True(t, q.Analytical)
	require.Equal(t, -1, q.FirstSeen)
	require.Equal(t, -1, q.LastSeen)
	require.NotEmpty(t, q.Digest)

	q.Observe(3, 1.5)
	q.Observe(4, 0.5)
	require.Equal(t, 3, q.FirstSeen)
	require.Equal(t, 4, q.LastSeen)
	require.Equal(t, 1.5, q.OriginalRunningTime)

	require.False(t, NewQuery("u1", "update t set a = 1").Analytical)
	require.True(t, NewQuery("w1", "with x as (select 1) select * from x").Analytical)
}

func TestLoadQueriesFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q1.sql"), []byte("select 1;"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q2.sql"), []byte("delete from t where a = 1"), 0644))

	qs, err := LoadQueries(dir)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	require.Equal(t, "q1", qs[0].ID)
	require.Equal(t, "select 1", qs[0].Text)
	require.True(t, qs[0].Analytical)
	require.Equal(t, "q2", qs[1].ID)
	require.False(t, qs[1].Analytical)
}

func TestLoadQueriesFromFile(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "stream.sql")
	content := "-- stream 0\nselect * from t where a = 1;\nselect * from t where a = 2;\nupdate t set b = 3 where a = 1;\n"
	require.NoError(t, os.WriteFile(fpath, []byte(content), 0644))

	qs, err := LoadQueries(fpath)
	require.NoError(t, err)
	require.Len(t, qs, 3)
	require.Equal(t, qs[0].ID, qs[1].ID)
	require.NotEqual(t, qs[0].ID, qs[2].ID)
	require.Len(t, qs[0].ID, digestIDLength)
	require.Equal(t, "select * from t where a = 2", qs[1].Text)
}

func TestLoadQueriesFromJSON(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "queries.json")
	content := `[{"id": 1, "query": "select 1;"}, {"id": "tx", "query": "insert into t values (1)"}, {"query": "select 2"}]`
	require.NoError(t, os.WriteFile(fpath, []byte(content), 0644))

	qs, err := LoadQueries(fpath)
	require.NoError(t, err)
	require.Len(t, qs, 3)
	require.Equal(t, "1", qs[0].ID)
	require.Equal(t, "select 1", qs[0].Text)
	require.Equal(t, "tx", qs[1].ID)
	require.Len(t, qs[2].ID, digestIDLength)

	qs, err = ParseJSONQueries([]byte(`[{"id": 1000000, "query": "select 3"}, {"id": 12345678901, "query": "select 4"}]`))
	require.NoError(t, err)
	require.Equal(t, "1000000", qs[0].ID)
	require.Equal(t, "12345678901", qs[1].ID)

	_, err = ParseJSONQueries([]byte(`[{"id": 1, "query": "  "}]`))
	require.Error(t, err)
	_, err = LoadQueries(filepath.Join(t.TempDir(), "missing.sql"))
	require.Error(t, err)
}

func TestFilterByID(t *testing.T) {
	qs := []*Query{NewQuery("q1", "select 1"), NewQuery("q2", "select 2"), NewQuery("q3", "select 3")}
	filtered := FilterByID(qs, []string{"q3", " q1"})
	require.Len(t, filtered, 2)
	require.Equal(t, "q1", filtered[0].ID)
	require.Equal(t, "q3", filtered[1].ID)
}

func TestParseArm(t *testing.T) {
	arm, err := ParseArm("CREATE INDEX idx_l_shipdate ON lineitem (l_shipdate, l_quantity) INCLUDE (l_discount);", "public")
	require.NoError(t, err)
	require.Equal(t, ArmIndex, arm.Kind)
	require.Equal(t, "public", arm.SchemaName)
	require.Equal(t, "lineitem", arm.TableName)
	require.Equal(t, "idx_l_shipdate", arm.IndexName)
	require.Equal(t, []string{"l_shipdate", "l_quantity"}, arm.KeyColumns)
	require.Equal(t, []string{"l_discount"}, arm.IncludeColumns)
	require.Equal(t, "CREATE INDEX idx_l_shipdate ON public.lineitem (l_shipdate, l_quantity, l_discount)", arm.DDL())

	arm, err = ParseArm("create index on tpch.orders using btree (o_custkey desc)", "public")
	require.NoError(t, err)
	require.Equal(t, "tpch", arm.SchemaName)
	require.Equal(t, "orders", arm.TableName)
	require.Equal(t, []string{"o_custkey"}, arm.KeyColumns)
	require.Equal(t, "idx_orders_o_custkey", arm.IndexName)

	arm, err = ParseArm("-- hypothetical\nCREATE INDEX hypo_c ON customer (c_nationkey);", "public")
	require.NoError(t, err)
	require.Equal(t, ArmHypothetical, arm.Kind)
}

func TestParseViewArm(t *testing.T) {
	block := `CREATE MATERIALIZED VIEW mv_rev AS SELECT l_orderkey, sum(l_extendedprice) AS rev FROM lineitem GROUP BY l_orderkey;
CREATE INDEX idx_mv_rev ON mv_rev (l_orderkey);`
	arm, err := ParseArm(block, "public")
	require.NoError(t, err)
	require.Equal(t, ArmViewIndex, arm.Kind)
	require.Equal(t, "mv_rev", arm.ViewName)
	require.Equal(t, "mv_rev", arm.Target())
	require.True(t, strings.HasPrefix(arm.ViewQuery, "SELECT l_orderkey"))
	require.Equal(t, "CREATE MATERIALIZED VIEW public.mv_rev AS "+arm.ViewQuery, arm.ViewDDL())
	require.Equal(t, "CREATE INDEX idx_mv_rev ON public.mv_rev (l_orderkey)", arm.DDL())

	_, err = ParseArm("CREATE MATERIALIZED VIEW mv AS SELECT 1 AS a;\nCREATE INDEX idx ON t (a);", "public")
	require.Error(t, err)
	_, err = ParseArm("-- hypothetical\n"+block, "public")
	require.Error(t, err)
}

func TestParseArmErrors(t *testing.T) {
	for _, block := range []string{
		"select 1;",
		"CREATE INDEX a ON t (x);\nCREATE INDEX b ON t (y);",
		"-- only a comment",
		"CREATE INDEX a ON t ();",
	} {
		_, err := ParseArm(block, "public")
		require.Error(t, err, block)
	}
}

func TestLoadDesign(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "design.sql")
	content := "CREATE INDEX a ON t (x);\n\nCREATE INDEX b ON t (y);\n\n\n-- hypothetical\nCREATE INDEX c ON u (z);\n"
	require.NoError(t, os.WriteFile(fpath, []byte(content), 0644))
	arms, err := LoadDesign(fpath, "public")
	require.NoError(t, err)
	require.Len(t, arms, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{arms[0].IndexName, arms[1].IndexName, arms[2].IndexName})
	require.Equal(t, ArmHypothetical, arms[2].Kind)
	require.Len(t, ArmsToMap(arms), 3)

	_, err = ParseDesign([]string{"CREATE INDEX a ON t (x);", "CREATE INDEX a ON u (y);"}, "public")
	require.Error(t, err)
}

func TestGeneratedIndexName(t *testing.T) {
	require.Equal(t, "idx_t_a_b", generatedIndexName("t", []string{"a", "b"}))
	long := generatedIndexName("lineitem", []string{"l_orderkey", "l_partkey", "l_suppkey", "l_linenumber", "l_quantity"})
	require.LessOrEqual(t, len(long), maxIdentifierLength)
	require.True(t, strings.HasPrefix(long, "idx_lineitem_"))
}
