package plan

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const xmlPlanDoc = `<explain xmlns="http://www.postgresql.org/2009/explain">
  <Query>
    <Plan>
      <Node-Type>Hash Join</Node-Type>
      <Total-Cost>100.00</Total-Cost>
      <Plan-Rows>10</Plan-Rows>
      <Actual-Total-Time>9.000</Actual-Total-Time>
      <Actual-Rows>8</Actual-Rows>
      <Plans>
        <Plan>
          <Node-Type>Seq Scan</Node-Type>
          <Relation-Name>orders</Relation-Name>
          <Total-Cost>40.00</Total-Cost>
          <Plan-Rows>1000</Plan-Rows>
          <Actual-Total-Time>2.500</Actual-Total-Time>
          <Actual-Rows>990</Actual-Rows>
        </Plan>
        <Plan>
          <Node-Type>Hash</Node-Type>
          <Total-Cost>30.00</Total-Cost>
          <Plan-Rows>5</Plan-Rows>
          <Actual-Total-Time>1.600</Actual-Total-Time>
          <Actual-Rows>5</Actual-Rows>
          <Plans>
            <Plan>
              <Node-Type>Index Scan</Node-Type>
              <Relation-Name>customer</Relation-Name>
              <Index-Name>idx_c_nation</Index-Name>
              <Total-Cost>25.00</Total-Cost>
              <Plan-Rows>5</Plan-Rows>
              <Actual-Total-Time>1.500</Actual-Total-Time>
              <Actual-Rows>5</Actual-Rows>
            </Plan>
          </Plans>
        </Plan>
      </Plans>
    </Plan>
    <Planning-Time>0.500</Planning-Time>
    <Triggers>
    </Triggers>
    <Execution-Time>10.000</Execution-Time>
  </Query>
</explain>`

const jsonPlanDoc = `[
  {
    "Plan": {
      "Node Type": "Hash Join",
      "Total Cost": 100.0,
      "Plan Rows": 10,
      "Actual Total Time": 9.0,
      "Actual Rows": 8,
      "Plans": [
        {"Node Type": "Seq Scan", "Relation Name": "orders", "Total Cost": 40.0, "Plan Rows": 1000, "Actual Total Time": 2.5, "Actual Rows": 990},
        {"Node Type": "Hash", "Total Cost": 30.0, "Plan Rows": 5, "Actual Total Time": 1.6, "Actual Rows": 5, "Plans": [
          {"Node Type": "Index Scan", "Relation Name": "customer", "Index Name": "idx_c_nation", "Total Cost": 25.0, "Plan Rows": 5, "Actual Total Time": 1.5, "Actual Rows": 5}
        ]}
      ]
    },
    "Planning Time": 0.5,
    "Triggers": [],
    "Execution Time": 10.0
  }
]`

func checkJoinRecord(t *testing.T, r *Record) {
	require.InDelta(t, 0.0005, r.PlanningTime, 1e-9)
	require.InDelta(t, 0.01, r.ExecutionTime, 1e-9)
	require.InDelta(t, 0.0105, r.Cost(CostElapsed), 1e-9)
	require.InDelta(t, 0.01, r.Cost(CostExecution), 1e-9)
	require.InDelta(t, 65.0, r.Cost(CostSubtree), 1e-9)
	require.InDelta(t, 100.0, r.RootCost, 1e-9)
	require.InDelta(t, 0.004, r.TotalActualElapsed, 1e-9)

	require.Len(t, r.Operators, 2)
	require.Len(t, r.ClusteredUsages, 1)
	require.Len(t, r.NonClusteredUsages, 1)

	seq := r.ClusteredUsages[1]
	require.Equal(t, "orders", seq.Table)
	require.Equal(t, HeapStructure, seq.Structure)
	require.Equal(t, KindSeqScanLike, seq.Kind)
	require.InDelta(t, 990.0, seq.ActualRows, 1e-9)
	require.InDelta(t, 1000.0, seq.EstimatedRows, 1e-9)

	idx := r.NonClusteredUsages[3]
	require.Equal(t, "customer", idx.Table)
	require.Equal(t, "idx_c_nation", idx.Structure)
	require.Equal(t, KindIndexScanLike, idx.Kind)
	require.InDelta(t, 0.0015, idx.ActualElapsed, 1e-9)
	require.Equal(t, []string{"idx_c_nation"}, r.StructuresUsed())
}

func TestParseXML(t *testing.T) {
	r, err := Parse(Document{Format: FormatXML, Text: xmlPlanDoc})
	require.NoError(t, err)
	checkJoinRecord(t, r)
}

func TestParseJSON(t *testing.T) {
	r, err := Parse(Document{Format: FormatJSON, Text: jsonPlanDoc})
	require.NoError(t, err)
	checkJoinRecord(t, r)
}

func TestParseIdempotent(t *testing.T) {
	doc := Document{Format: FormatXML, Text: xmlPlanDoc}
	r1, err := Parse(doc)
	require.NoError(t, err)
	r2, err := Parse(doc)
	require.NoError(t, err)
	require.Equal(t, r1, r2)
	require.Equal(t, r1.Format(), r2.Format())
}

func TestCostRelevanceClosure(t *testing.T) {
	for _, doc := range []Document{
		{Format: FormatXML, Text: xmlPlanDoc},
		{Format: FormatJSON, Text: jsonPlanDoc},
	} {
		r, err := Parse(doc)
		require.NoError(t, err)
		var cost, elapsed float64
		for _, op := range r.Operators {
			require.NotEqual(t, KindOther, op.Kind)
			_, inNonClustered := r.NonClusteredUsages[op.ID]
			_, inClustered := r.ClusteredUsages[op.ID]
			require.True(t, inNonClustered != inClustered, "operator %d must be in exactly one mapping", op.ID)
			cost += op.Cost
			elapsed += op.ActualElapsed
		}
		require.Equal(t, len(r.Operators), len(r.NonClusteredUsages)+len(r.ClusteredUsages))
		require.InDelta(t, cost, r.TotalEstimatedCost, 1e-9)
		require.InDelta(t, elapsed, r.TotalActualElapsed, 1e-9)
	}
}

func TestParseErrors(t *testing.T) {
	noPlanning := strings.Replace(xmlPlanDoc, "<Planning-Time>0.500</Planning-Time>", "", 1)
	noExecution := strings.Replace(jsonPlanDoc, `"Execution Time": 10.0`, `"Total": 1`, 1)
	cases := []Document{
		{Format: FormatXML, Text: noPlanning},
		{Format: FormatJSON, Text: noExecution},
		{Format: FormatXML, Text: "<explain><Query><Plan>"},
		{Format: FormatXML, Text: "<explain></explain>"},
		{Format: FormatJSON, Text: "[]"},
		{Format: FormatJSON, Text: "{not json"},
		{Format: FormatTiDBTable},
		{Format: Format(42), Text: xmlPlanDoc},
	}
	for i, doc := range cases {
		_, err := Parse(doc)
		require.Error(t, err, "case %d", i)
		var perr *ParseError
		require.True(t, errors.As(err, &perr), "case %d: %v", i, err)
	}

	// timing fields are optional for estimates
	r, err := ParseEstimate(Document{Format: FormatXML, Text: noPlanning})
	require.NoError(t, err)
	require.Equal(t, 0.0, r.PlanningTime)
	require.InDelta(t, 65.0, r.TotalEstimatedCost, 1e-9)
}

func TestParseTiDBAnalyzed(t *testing.T) {
	rows := [][]string{
		{"Projection_4", "10.00", "100.50", "3", "root", "", "time:12.5ms, loops:2, Concurrency:OFF", "test.t.a", "1 KB", "N/A"},
		{"└─IndexLookUp_10", "10.00", "90.00", "3", "root", "", "time:11ms, loops:2, index_task: {total_time: 1ms}", "", "2 KB", "N/A"},
		{"  ├─IndexRangeScan_8(Build)", "10.00", "30.00", "3", "cop[tikv]", "table:t, index:idx_a(a)", "time:1.2ms, loops:3, cop_task: {num: 1, max: 1ms}", "range:[1,1]", "N/A", "N/A"},
		{"  └─TableRowIDScan_9(Probe)", "10.00", "40.00", "3", "cop[tikv]", "table:t", "time:2ms, loops:3", "keep order:false", "N/A", "N/A"},
	}
	r, err := Parse(Document{Format: FormatTiDBTable, Rows: rows})
	require.NoError(t, err)
	require.Equal(t, 0.0, r.PlanningTime)
	require.InDelta(t, 0.0125, r.ExecutionTime, 1e-9)
	require.InDelta(t, 100.5, r.RootCost, 1e-9)
	require.Len(t, r.Operators, 1)
	require.Empty(t, r.ClusteredUsages)
	idx := r.NonClusteredUsages[2]
	require.Equal(t, "IndexRangeScan", idx.NodeType)
	require.Equal(t, "t", idx.Table)
	require.Equal(t, "idx_a", idx.Structure)
	require.InDelta(t, 0.0012, idx.ActualElapsed, 1e-9)
	require.InDelta(t, 3.0, idx.ActualRows, 1e-9)
}

func TestParseTiDBEstimate(t *testing.T) {
	rows := [][]string{
		{"TableReader_5", "10000.00", "177906.67", "root", "", "data:TableFullScan_4"},
		{"└─TableFullScan_4", "10000.00", "2035000.00", "cop[tikv]", "table:t", "keep order:false"},
	}
	doc := Document{Format: FormatTiDBTable, Rows: rows}
	r, err := ParseEstimate(doc)
	require.NoError(t, err)
	require.InDelta(t, 177906.67, r.RootCost, 1e-6)
	require.Len(t, r.ClusteredUsages, 1)
	require.Equal(t, HeapStructure, r.ClusteredUsages[1].Structure)
	require.Equal(t, "t", r.ClusteredUsages[1].Table)

	_, err = Parse(doc)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
}

func TestOperatorName(t *testing.T) {
	require.Equal(t, "IndexRangeScan", operatorName("  ├─IndexRangeScan_8(Build)"))
	require.Equal(t, "HashJoin", operatorName("HashJoin_37"))
	require.Equal(t, "CTE", operatorName("CTE_0"))
	require.Equal(t, "TableFullScan", operatorName("│ └─TableFullScan_4"))
}

func TestParseFormatAndCostType(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatXML, f)
	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, f)
	_, err = ParseFormat("yaml")
	require.Error(t, err)

	c, err := ParseCostType("")
	require.NoError(t, err)
	require.Equal(t, CostElapsed, c)
	c, err = ParseCostType("Subtree")
	require.NoError(t, err)
	require.Equal(t, CostSubtree, c)
	_, err = ParseCostType("cpu")
	require.Error(t, err)
}
