package workload

import (
	"fmt"
	"strings"

	"github.com/qw4990/pds_replay/utils"
)

// Query represents a query of the workload.
type Query struct {
	ID         string // template id, shared by instances of the same template
	Text       string
	Digest     string // digest of the normalized text
	Analytical bool   // SELECT or WITH statement

	FirstSeen           int     // round of the first execution, -1 if never executed
	LastSeen            int     // round of the latest execution, -1 if never executed
	OriginalRunningTime float64 // cost of the first execution
}

// NewQuery creates a query that has never been executed.
func NewQuery(id, text string) *Query {
	_, digest := utils.NormalizeDigest(text)
	return &Query{
		ID:         id,
		Text:       text,
		Digest:     digest,
		Analytical: utils.IsAnalytical(text),
		FirstSeen:  -1,
		LastSeen:   -1,
	}
}

// Key returns the key of the query.
func (q *Query) Key() string {
	return q.ID
}

// Observe records an execution of this query in the given round with the given cost.
func (q *Query) Observe(round int, cost float64) {
	if q.FirstSeen < 0 {
		q.FirstSeen = round
		q.OriginalRunningTime = cost
	}
	q.LastSeen = round
}

// ArmKind is the kind of a physical design structure.
type ArmKind int

const (
	ArmIndex        ArmKind = iota // secondary index on a table
	ArmViewIndex                   // index on a materialized view created together with it
	ArmHypothetical                // planner-only index, never built
)

func (k ArmKind) String() string {
	switch k {
	case ArmIndex:
		return "index"
	case ArmViewIndex:
		return "view-index"
	case ArmHypothetical:
		return "hypothetical"
	}
	return fmt.Sprintf("ArmKind(%d)", int(k))
}

// Arm represents a candidate physical design structure.
type Arm struct {
	Kind           ArmKind
	SchemaName     string
	TableName      string
	IndexName      string
	KeyColumns     []string
	IncludeColumns []string
	ViewName       string // ArmViewIndex only
	ViewQuery      string // ArmViewIndex only

	Memory float64 // size in MB, set after creation
}

// Key returns the key of the arm, its structure name.
func (a *Arm) Key() string {
	return a.IndexName
}

// Target returns the relation the index is built on.
func (a *Arm) Target() string {
	if a.Kind == ArmViewIndex {
		return a.ViewName
	}
	return a.TableName
}

// ColumnList returns the key columns followed by the included columns.
func (a *Arm) ColumnList() []string {
	cols := make([]string, 0, len(a.KeyColumns)+len(a.IncludeColumns))
	cols = append(cols, a.KeyColumns...)
	return append(cols, a.IncludeColumns...)
}

// DDL returns the statement creating the index.
// Included columns are appended to the key so the statement works without INCLUDE support.
func (a *Arm) DDL() string {
	return fmt.Sprintf("CREATE INDEX %v ON %v (%v)", a.IndexName, utils.QualifiedName(a.SchemaName, a.Target()), strings.Join(a.ColumnList(), ", "))
}

// ViewDDL returns the statement creating the materialized view of an ArmViewIndex.
func (a *Arm) ViewDDL() string {
	return fmt.Sprintf("CREATE MATERIALIZED VIEW %v AS %v", utils.QualifiedName(a.SchemaName, a.ViewName), a.ViewQuery)
}

// String returns the string representation of the arm.
func (a *Arm) String() string {
	s := fmt.Sprintf("%v %v.%v(%v)", a.Kind, a.SchemaName, a.Target(), strings.Join(a.KeyColumns, ","))
	if len(a.IncludeColumns) > 0 {
		s += fmt.Sprintf(" include(%v)", strings.Join(a.IncludeColumns, ","))
	}
	return a.IndexName + ": " + s
}

// ArmsToMap indexes arms by structure name.
func ArmsToMap(arms []*Arm) map[string]*Arm {
	m := make(map[string]*Arm, len(arms))
	for _, a := range arms {
		m[a.Key()] = a
	}
	return m
}
