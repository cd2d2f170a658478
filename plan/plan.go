package plan

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Format is the format of a raw plan document.
type Format int

const (
	FormatXML       Format = iota // PostgreSQL EXPLAIN (FORMAT XML)
	FormatJSON                    // PostgreSQL EXPLAIN (FORMAT JSON)
	FormatTiDBTable               // TiDB EXPLAIN FORMAT='verbose' rows
)

// ParseFormat parses a format name, one of 'xml', 'json' and 'tidb'.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "xml":
		return FormatXML, nil
	case "json":
		return FormatJSON, nil
	case "tidb", "tidb-table":
		return FormatTiDBTable, nil
	}
	return 0, fmt.Errorf("unknown plan format: %s", s)
}

func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatJSON:
		return "json"
	case FormatTiDBTable:
		return "tidb"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Document is a raw plan as returned by the database.
// Text is used by the PostgreSQL formats, Rows by FormatTiDBTable.
type Document struct {
	Format Format
	Text   string
	Rows   [][]string
}

// OperatorKind classifies plan operators.
type OperatorKind int

const (
	KindOther         OperatorKind = iota
	KindIndexScanLike              // Index Scan, Index Only Scan
	KindSeqScanLike                // Seq Scan
)

func (k OperatorKind) String() string {
	switch k {
	case KindIndexScanLike:
		return "index-scan"
	case KindSeqScanLike:
		return "seq-scan"
	}
	return "other"
}

// HeapStructure is the structure name recorded for operators that read the table without an index.
const HeapStructure = "heap"

// Operator is a cost-relevant plan node.
type Operator struct {
	ID            int // position of the node among all plan nodes, in document order
	Kind          OperatorKind
	NodeType      string
	Table         string
	Structure     string
	ActualRows    float64
	EstimatedRows float64
	ActualElapsed float64 // seconds
	Cost          float64 // the node's total cost, including its children
}

// Record is the normalized result of one executed statement.
type Record struct {
	PlanningTime  float64 // seconds
	ExecutionTime float64 // seconds
	RootCost      float64 // total cost of the root node

	Operators          []Operator
	NonClusteredUsages map[int]Operator
	ClusteredUsages    map[int]Operator

	TotalEstimatedCost float64
	TotalActualElapsed float64
}

// ElapsedTime returns the planning time plus the execution time.
func (r *Record) ElapsedTime() float64 {
	return r.PlanningTime + r.ExecutionTime
}

// CostType selects which figure of a Record is used as the cost of a query.
type CostType string

const (
	CostElapsed   CostType = "elapsed"   // planning + execution time
	CostExecution CostType = "execution" // execution time only
	CostSubtree   CostType = "subtree"   // sum of the cost-relevant operators' cost
)

// ParseCostType validates a cost type name, the empty string means CostElapsed.
func ParseCostType(s string) (CostType, error) {
	switch c := CostType(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CostElapsed, nil
	case CostElapsed, CostExecution, CostSubtree:
		return c, nil
	}
	return "", fmt.Errorf("unknown cost type: %s", s)
}

// Cost returns the cost of this record under the given cost type.
func (r *Record) Cost(t CostType) float64 {
	switch t {
	case CostExecution:
		return r.ExecutionTime
	case CostSubtree:
		return r.TotalEstimatedCost
	}
	return r.ElapsedTime()
}

// StructuresUsed returns the sorted names of all indexes read by this plan.
func (r *Record) StructuresUsed() []string {
	seen := make(map[string]struct{})
	for _, op := range r.NonClusteredUsages {
		seen[op.Structure] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Format renders the operators of this record as an aligned table.
func (r *Record) Format() string {
	rows := [][]string{{"id", "kind", "node", "table", "structure", "estRows", "actRows", "cost", "elapsed(s)"}}
	for _, op := range r.Operators {
		rows = append(rows, []string{
			fmt.Sprintf("%d", op.ID), op.Kind.String(), op.NodeType, op.Table, op.Structure,
			fmt.Sprintf("%.0f", op.EstimatedRows), fmt.Sprintf("%.0f", op.ActualRows),
			fmt.Sprintf("%.2f", op.Cost), fmt.Sprintf("%.6f", op.ActualElapsed),
		})
	}
	blank := strings.Repeat(" ", 4)
	nRows, nCols := len(rows), len(rows[0])
	lines := make([]string, nRows)
	for c := 0; c < nCols; c++ {
		maxLen := 0
		for i := 0; i < nRows; i++ {
			lines[i] += rows[i][c] + blank
			if l := utf8.RuneCountInString(lines[i]); l > maxLen {
				maxLen = l
			}
		}
		for i := 0; i < nRows; i++ {
			lines[i] += strings.Repeat(" ", maxLen-utf8.RuneCountInString(lines[i]))
		}
	}
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	summary := fmt.Sprintf("planning: %.6fs, execution: %.6fs, estimated cost: %.2f, scan elapsed: %.6fs",
		r.PlanningTime, r.ExecutionTime, r.TotalEstimatedCost, r.TotalActualElapsed)
	return strings.Join(lines, "\n") + "\n" + summary
}

// ParseError is returned when a plan document is malformed or misses required fields.
type ParseError struct {
	Format Format
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %v plan: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %v plan: %s", e.Format, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// node is the format independent shape of a plan node.
type node struct {
	nodeType      string
	relation      string
	index         *string
	totalCost     float64
	planRows      float64
	actualRows    float64
	actualElapsed float64 // seconds
}

// Parse parses an analyzed plan. The planning and execution time are required.
func Parse(doc Document) (*Record, error) {
	return parse(doc, true)
}

// ParseEstimate parses a plan produced without ANALYZE, timing fields are optional.
func ParseEstimate(doc Document) (*Record, error) {
	return parse(doc, false)
}

func parse(doc Document, analyzed bool) (*Record, error) {
	var (
		nodes              []node
		planning, executed *float64
		err                error
	)
	switch doc.Format {
	case FormatXML:
		nodes, planning, executed, err = decodeXML(doc.Text)
	case FormatJSON:
		nodes, planning, executed, err = decodeJSON(doc.Text)
	case FormatTiDBTable:
		nodes, planning, executed, err = decodeTiDB(doc.Rows, analyzed)
	default:
		return nil, &ParseError{Format: doc.Format, Reason: "unsupported format"}
	}
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, &ParseError{Format: doc.Format, Reason: "no plan nodes"}
	}
	if analyzed {
		if planning == nil {
			return nil, &ParseError{Format: doc.Format, Reason: "missing planning time"}
		}
		if executed == nil {
			return nil, &ParseError{Format: doc.Format, Reason: "missing execution time"}
		}
	}
	return build(nodes, planning, executed), nil
}

func build(nodes []node, planning, executed *float64) *Record {
	r := &Record{
		RootCost:           nodes[0].totalCost,
		NonClusteredUsages: make(map[int]Operator),
		ClusteredUsages:    make(map[int]Operator),
	}
	if planning != nil {
		r.PlanningTime = *planning
	}
	if executed != nil {
		r.ExecutionTime = *executed
	}
	for id, n := range nodes {
		kind := classify(n.nodeType)
		if kind == KindOther {
			continue
		}
		structure := HeapStructure
		if n.index != nil && *n.index != "" {
			structure = *n.index
		}
		op := Operator{
			ID:            id,
			Kind:          kind,
			NodeType:      n.nodeType,
			Table:         n.relation,
			Structure:     structure,
			ActualRows:    n.actualRows,
			EstimatedRows: n.planRows,
			ActualElapsed: n.actualElapsed,
			Cost:          n.totalCost,
		}
		r.Operators = append(r.Operators, op)
		if kind == KindIndexScanLike {
			r.NonClusteredUsages[id] = op
		} else {
			r.ClusteredUsages[id] = op
		}
		r.TotalEstimatedCost += n.totalCost
		r.TotalActualElapsed += n.actualElapsed
	}
	return r
}

// classify maps a node type of any supported format to its operator kind.
// Only scans are cost-relevant, the cost of other operators is dominated by the scans below them.
func classify(nodeType string) OperatorKind {
	switch nodeType {
	case "Index Scan", "Index Only Scan", "IndexRangeScan", "IndexFullScan":
		return KindIndexScanLike
	case "Seq Scan", "TableFullScan", "TableRangeScan":
		return KindSeqScanLike
	}
	return KindOther
}
