package workload

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/auxten/postgresql-parser/pkg/sql/parser"
	"github.com/auxten/postgresql-parser/pkg/sql/sem/tree"
	"github.com/qw4990/pds_replay/utils"
)

// maxIdentifierLength is the PostgreSQL limit for identifiers.
const maxIdentifierLength = 63

var (
	hypotheticalMarker = regexp.MustCompile(`(?im)^\s*--\s*hypothetical\s*$`)
	createViewPattern  = regexp.MustCompile(`(?is)^create\s+materialized\s+view\s+(?:if\s+not\s+exists\s+)?([\w."]+)\s+as\s+(.+)$`)
	createIndexPattern = regexp.MustCompile(`(?is)^create\s+(?:unique\s+)?index\s+(?:concurrently\s+)?(?:if\s+not\s+exists\s+)?([\w"]+)?\s*on\s+(?:only\s+)?([\w."]+)\s*(?:using\s+\w+\s*)?\((.+?)\)\s*(?:include\s*\((.+?)\))?\s*$`)
)

// LoadDesign loads the candidate arms from a design file.
// Blocks are separated by blank lines, each block defines exactly one arm.
func LoadDesign(fpath, defaultSchema string) ([]*Arm, error) {
	utils.Debugf("loading design from %s", fpath)
	blocks, err := utils.ParseBlocksFromFile(fpath)
	if err != nil {
		return nil, err
	}
	return ParseDesign(blocks, defaultSchema)
}

// ParseDesign parses the given blocks into arms, structure names must be unique.
func ParseDesign(blocks []string, defaultSchema string) ([]*Arm, error) {
	arms := make([]*Arm, 0, len(blocks))
	names := make(map[string]int)
	for i, block := range blocks {
		arm, err := ParseArm(block, defaultSchema)
		if err != nil {
			return nil, fmt.Errorf("design block #%d: %w", i+1, err)
		}
		if j, ok := names[arm.IndexName]; ok {
			return nil, fmt.Errorf("design block #%d: structure %s already defined by block #%d", i+1, arm.IndexName, j+1)
		}
		names[arm.IndexName] = i
		arms = append(arms, arm)
	}
	return arms, nil
}

// ParseArm parses one design block.
// A block holds a CREATE INDEX statement, optionally preceded by the CREATE MATERIALIZED VIEW
// it is built on. A '-- hypothetical' line marks the index as hypothetical.
func ParseArm(block, defaultSchema string) (*Arm, error) {
	hypothetical := hypotheticalMarker.MatchString(block)
	arm := &Arm{Kind: ArmIndex}
	if hypothetical {
		arm.Kind = ArmHypothetical
	}

	var indexStmt string
	for _, stmt := range utils.SplitStmts(block) {
		switch utils.GetStmtType(stmt) {
		case utils.StmtCreateMaterializedView:
			if arm.ViewName != "" {
				return nil, fmt.Errorf("more than one materialized view")
			}
			m := createViewPattern.FindStringSubmatch(stmt)
			if m == nil {
				return nil, fmt.Errorf("cannot parse materialized view: %s", stmt)
			}
			schema, name := splitQualified(m[1])
			if schema != "" {
				arm.SchemaName = schema
			}
			arm.ViewName = name
			arm.ViewQuery = strings.TrimSpace(m[2])
		case utils.StmtCreateIndex:
			if indexStmt != "" {
				return nil, fmt.Errorf("more than one index")
			}
			indexStmt = stmt
		default:
			return nil, fmt.Errorf("unexpected statement: %s", stmt)
		}
	}
	if indexStmt == "" {
		return nil, fmt.Errorf("no CREATE INDEX statement")
	}

	def, err := parseCreateIndex(indexStmt)
	if err != nil {
		return nil, err
	}
	if def.schema != "" {
		arm.SchemaName = def.schema
	}
	if arm.SchemaName == "" {
		arm.SchemaName = defaultSchema
	}
	arm.IndexName = def.name
	arm.KeyColumns = def.columns
	arm.IncludeColumns = def.include

	if arm.ViewName != "" {
		if hypothetical {
			return nil, fmt.Errorf("hypothetical indexes cannot be built on materialized views")
		}
		if def.table != arm.ViewName {
			return nil, fmt.Errorf("index %s is on %s, not on the materialized view %s", def.name, def.table, arm.ViewName)
		}
		arm.Kind = ArmViewIndex
	}
	arm.TableName = def.table
	if arm.IndexName == "" {
		arm.IndexName = generatedIndexName(arm.TableName, arm.ColumnList())
	}
	return arm, nil
}

type indexDef struct {
	name    string
	schema  string
	table   string
	columns []string
	include []string
}

// parseCreateIndex parses the statement with the PostgreSQL grammar and
// falls back to a pattern for vendor syntax the grammar rejects.
func parseCreateIndex(stmt string) (indexDef, error) {
	stmts, err := parser.Parse(stmt)
	if err == nil && len(stmts) == 1 {
		if ci, ok := stmts[0].AST.(*tree.CreateIndex); ok {
			def := indexDef{name: string(ci.Name), table: ci.Table.Table()}
			if ci.Table.ExplicitSchema {
				def.schema = ci.Table.Schema()
			}
			for _, elem := range ci.Columns {
				def.columns = append(def.columns, string(elem.Column))
			}
			for _, name := range ci.Storing {
				def.include = append(def.include, string(name))
			}
			if len(def.columns) > 0 {
				return def, nil
			}
		}
	}

	m := createIndexPattern.FindStringSubmatch(stmt)
	if m == nil {
		if err != nil {
			return indexDef{}, fmt.Errorf("cannot parse index %q: %w", stmt, err)
		}
		return indexDef{}, fmt.Errorf("cannot parse index %q", stmt)
	}
	def := indexDef{name: unquote(m[1])}
	def.schema, def.table = splitQualified(m[2])
	def.columns = columnNames(m[3])
	def.include = columnNames(m[4])
	if len(def.columns) == 0 {
		return indexDef{}, fmt.Errorf("index %q has no key columns", stmt)
	}
	return def, nil
}

// columnNames extracts the column names of 'a, b DESC, "C"'.
func columnNames(list string) []string {
	var names []string
	for _, item := range strings.Split(list, ",") {
		fields := strings.Fields(strings.TrimSpace(item))
		if len(fields) == 0 {
			continue
		}
		names = append(names, unquote(fields[0]))
	}
	return names
}

func splitQualified(name string) (schema, object string) {
	name = unquote(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		return unquote(name[:i]), unquote(name[i+1:])
	}
	return "", name
}

func unquote(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), `"`, "")
}

// generatedIndexName names an index after its table and columns.
func generatedIndexName(table string, cols []string) string {
	name := fmt.Sprintf("idx_%v_%v", table, strings.Join(cols, "_"))
	if len(name) <= maxIdentifierLength {
		return name
	}
	return fmt.Sprintf("idx_%v_%v", table, utils.ShortDigest(name, 12))[:utils.Min(maxIdentifierLength, len(table)+17)]
}
