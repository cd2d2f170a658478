package plan

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// column positions of TiDB plan rows
const (
	// | id | estRows | estCost | actRows | task | access object | execution info | operator info | memory | disk |
	analyzedColumns = 10
	// | id | estRows | estCost | task | access object | operator info |
	verboseColumns = 6
)

var execTime = regexp.MustCompile(`(?:^|[\s,{])time:\s*([0-9.]+[a-zµ]+)`)

func decodeTiDB(rows [][]string, analyzed bool) ([]node, *float64, *float64, error) {
	if len(rows) == 0 {
		return nil, nil, nil, &ParseError{Format: FormatTiDBTable, Reason: "empty plan"}
	}
	nCols := len(rows[0])
	if nCols != analyzedColumns && nCols != verboseColumns {
		return nil, nil, nil, &ParseError{Format: FormatTiDBTable, Reason: "unexpected number of plan columns: " + strconv.Itoa(nCols)}
	}
	isAnalyzed := nCols == analyzedColumns
	objCol := 4
	if isAnalyzed {
		objCol = 5
	}

	nodes := make([]node, 0, len(rows))
	for _, row := range rows {
		if len(row) != nCols {
			return nil, nil, nil, &ParseError{Format: FormatTiDBTable, Reason: "ragged plan rows"}
		}
		n := node{nodeType: operatorName(row[0])}
		if n.nodeType == "" {
			return nil, nil, nil, &ParseError{Format: FormatTiDBTable, Reason: "plan row without an operator id"}
		}
		var err error
		if n.planRows, err = parseNumber(row[1]); err != nil {
			return nil, nil, nil, &ParseError{Format: FormatTiDBTable, Reason: "bad estRows", Err: err}
		}
		if n.totalCost, err = parseNumber(row[2]); err != nil {
			return nil, nil, nil, &ParseError{Format: FormatTiDBTable, Reason: "bad estCost", Err: err}
		}
		n.relation, n.index = accessObject(row[objCol])
		if isAnalyzed {
			if n.actualRows, err = parseNumber(row[3]); err != nil {
				return nil, nil, nil, &ParseError{Format: FormatTiDBTable, Reason: "bad actRows", Err: err}
			}
			if d, ok := operatorTime(row[6]); ok {
				n.actualElapsed = d.Seconds()
			}
		}
		nodes = append(nodes, n)
	}

	// TiDB folds CTE costs into separate sub-trees, add them to the root cost.
	for i, row := range rows {
		if strings.Contains(row[0], "CTE_") && i+1 < len(rows) {
			nodes[0].totalCost += nodes[i+1].totalCost
		}
	}

	if !isAnalyzed {
		return nodes, nil, nil, nil
	}
	d, ok := operatorTime(rows[0][6])
	if !ok {
		return nodes, nil, nil, nil
	}
	planning, executed := 0.0, d.Seconds()
	return nodes, &planning, &executed, nil
}

// operatorName turns '└─IndexRangeScan_8' into 'IndexRangeScan'.
func operatorName(id string) string {
	name := strings.TrimLeft(strings.TrimSpace(id), "└├│─ ")
	if i := strings.Index(name, "("); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "_"); i > 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			name = name[:i]
		}
	}
	return name
}

// accessObject parses 'table:t, index:idx_a(a)' into ('t', 'idx_a').
func accessObject(obj string) (table string, index *string) {
	for _, part := range strings.Split(obj, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "table":
			table = strings.TrimSpace(v)
		case "index":
			name := strings.TrimSpace(v)
			if i := strings.Index(name, "("); i >= 0 {
				name = name[:i]
			}
			index = &name
		}
	}
	return
}

func operatorTime(execInfo string) (time.Duration, bool) {
	m := execTime.FindStringSubmatch(execInfo)
	if m == nil {
		return 0, false
	}
	d, err := time.ParseDuration(m[1])
	if err != nil {
		return 0, false
	}
	return d, true
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
