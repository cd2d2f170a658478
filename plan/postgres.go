package plan

import (
	"encoding/json"
	"encoding/xml"
	"strings"
)

type xmlPlan struct {
	NodeType        string    `xml:"Node-Type"`
	RelationName    string    `xml:"Relation-Name"`
	IndexName       *string   `xml:"Index-Name"`
	TotalCost       *float64  `xml:"Total-Cost"`
	PlanRows        float64   `xml:"Plan-Rows"`
	ActualRows      *float64  `xml:"Actual-Rows"`
	ActualTotalTime *float64  `xml:"Actual-Total-Time"`
	Plans           []xmlPlan `xml:"Plans>Plan"`
}

type xmlQuery struct {
	Plan          *xmlPlan `xml:"Plan"`
	PlanningTime  *float64 `xml:"Planning-Time"`
	ExecutionTime *float64 `xml:"Execution-Time"`
}

type xmlExplain struct {
	Query *xmlQuery `xml:"Query"`
}

func decodeXML(text string) ([]node, *float64, *float64, error) {
	var doc xmlExplain
	if err := xml.NewDecoder(strings.NewReader(text)).Decode(&doc); err != nil {
		return nil, nil, nil, &ParseError{Format: FormatXML, Reason: "malformed document", Err: err}
	}
	if doc.Query == nil || doc.Query.Plan == nil {
		return nil, nil, nil, &ParseError{Format: FormatXML, Reason: "no Query/Plan element"}
	}
	var nodes []node
	var walk func(p *xmlPlan) error
	walk = func(p *xmlPlan) error {
		n, err := newNode(FormatXML, p.NodeType, p.RelationName, p.IndexName, p.TotalCost, p.PlanRows, p.ActualRows, p.ActualTotalTime)
		if err != nil {
			return err
		}
		nodes = append(nodes, n)
		for i := range p.Plans {
			if err := walk(&p.Plans[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(doc.Query.Plan); err != nil {
		return nil, nil, nil, err
	}
	return nodes, msToSeconds(doc.Query.PlanningTime), msToSeconds(doc.Query.ExecutionTime), nil
}

type jsonPlan struct {
	NodeType        string     `json:"Node Type"`
	RelationName    string     `json:"Relation Name"`
	IndexName       *string    `json:"Index Name"`
	TotalCost       *float64   `json:"Total Cost"`
	PlanRows        float64    `json:"Plan Rows"`
	ActualRows      *float64   `json:"Actual Rows"`
	ActualTotalTime *float64   `json:"Actual Total Time"`
	Plans           []jsonPlan `json:"Plans"`
}

type jsonQuery struct {
	Plan          *jsonPlan `json:"Plan"`
	PlanningTime  *float64  `json:"Planning Time"`
	ExecutionTime *float64  `json:"Execution Time"`
}

func decodeJSON(text string) ([]node, *float64, *float64, error) {
	var queries []jsonQuery
	if err := json.Unmarshal([]byte(text), &queries); err != nil {
		return nil, nil, nil, &ParseError{Format: FormatJSON, Reason: "malformed document", Err: err}
	}
	if len(queries) == 0 || queries[0].Plan == nil {
		return nil, nil, nil, &ParseError{Format: FormatJSON, Reason: "no Plan object"}
	}
	q := queries[0]
	var nodes []node
	var walk func(p *jsonPlan) error
	walk = func(p *jsonPlan) error {
		n, err := newNode(FormatJSON, p.NodeType, p.RelationName, p.IndexName, p.TotalCost, p.PlanRows, p.ActualRows, p.ActualTotalTime)
		if err != nil {
			return err
		}
		nodes = append(nodes, n)
		for i := range p.Plans {
			if err := walk(&p.Plans[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(q.Plan); err != nil {
		return nil, nil, nil, err
	}
	return nodes, msToSeconds(q.PlanningTime), msToSeconds(q.ExecutionTime), nil
}

func newNode(f Format, nodeType, relation string, index *string, totalCost *float64, planRows float64, actualRows, actualTime *float64) (node, error) {
	if nodeType == "" {
		return node{}, &ParseError{Format: f, Reason: "plan node without a node type"}
	}
	n := node{nodeType: nodeType, relation: relation, index: index, planRows: planRows}
	if classify(nodeType) != KindOther && totalCost == nil {
		return node{}, &ParseError{Format: f, Reason: "scan node without a total cost"}
	}
	if totalCost != nil {
		n.totalCost = *totalCost
	}
	if actualRows != nil {
		n.actualRows = *actualRows
	}
	if actualTime != nil {
		n.actualElapsed = *actualTime / 1000
	}
	return n, nil
}

func msToSeconds(ms *float64) *float64 {
	if ms == nil {
		return nil
	}
	s := *ms / 1000
	return &s
}
