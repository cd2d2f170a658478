package workload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/qw4990/pds_replay/utils"
)

// digestIDLength is the length of ids derived from query digests.
const digestIDLength = 12

// LoadQueries loads the workload from the given path.
// A directory is read as one query per *.sql file named after the file,
// a *.json file as a list of {"id": ..., "query": ...} objects,
// any other file as ';' separated queries identified by the digest of their template.
func LoadQueries(fpath string) ([]*Query, error) {
	utils.Debugf("loading queries from %s", fpath)
	exist, isDir := utils.FileExists(fpath)
	if !exist {
		return nil, fmt.Errorf("workload path %s does not exist", fpath)
	}
	var queries []*Query
	switch {
	case isDir:
		rawSQLs, names, err := utils.ParseRawSQLsFromDir(fpath)
		if err != nil {
			return nil, err
		}
		for i, rawSQL := range rawSQLs {
			queries = append(queries, NewQuery(strings.TrimSuffix(names[i], ".sql"), rawSQL)) // q1.sql, 2a.sql, etc.
		}
	case strings.HasSuffix(strings.ToLower(fpath), ".json"):
		data, err := os.ReadFile(fpath)
		if err != nil {
			return nil, err
		}
		if queries, err = ParseJSONQueries(data); err != nil {
			return nil, fmt.Errorf("load %s: %w", fpath, err)
		}
	default:
		rawSQLs, err := utils.ParseRawSQLsFromFile(fpath)
		if err != nil {
			return nil, err
		}
		for _, rawSQL := range rawSQLs {
			queries = append(queries, NewQuery(utils.ShortDigest(rawSQL, digestIDLength), rawSQL))
		}
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries found in %s", fpath)
	}
	return queries, nil
}

type jsonQuery struct {
	ID    interface{} `json:"id"`
	Query string      `json:"query"`
}

// ParseJSONQueries parses a JSON list of {"id": ..., "query": ...} objects.
// Numeric and string ids are both accepted.
func ParseJSONQueries(data []byte) ([]*Query, error) {
	var raw []jsonQuery
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	queries := make([]*Query, 0, len(raw))
	for i, r := range raw {
		text := strings.TrimSuffix(strings.TrimSpace(r.Query), ";")
		if text == "" {
			return nil, fmt.Errorf("query #%d has no text", i)
		}
		id := ""
		if r.ID != nil {
			id = fmt.Sprint(r.ID)
		}
		if id == "" {
			id = utils.ShortDigest(text, digestIDLength)
		}
		queries = append(queries, NewQuery(id, text))
	}
	return queries, nil
}

// FilterByID returns the queries whose ids are in ids, keeping the original order.
func FilterByID(queries []*Query, ids []string) []*Query {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[strings.TrimSpace(id)] = struct{}{}
	}
	var filtered []*Query
	for _, q := range queries {
		if _, ok := keep[q.ID]; ok {
			filtered = append(filtered, q)
		}
	}
	return filtered
}
