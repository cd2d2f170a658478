package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pingcap/parser"
)

type StmtType int

const (
	StmtCreateMaterializedView StmtType = iota
	StmtCreateIndex
	StmtCreateTable
	StmtSelect
	StmtDML
	StmtUnknown
)

// GetStmtType returns the type of the given statement.
func GetStmtType(stmt string) StmtType {
	containAll := func(s string, substrs ...string) bool {
		s = strings.ToLower(s)
		for _, substr := range substrs {
			if !strings.Contains(s, substr) {
				return false
			}
		}
		return true
	}
	hasPrefix := func(s string, prefixes ...string) bool {
		s = strings.ToLower(strings.TrimSpace(s))
		for _, p := range prefixes {
			if strings.HasPrefix(s, p) {
				return true
			}
		}
		return false
	}

	switch {
	case hasPrefix(stmt, "create") && containAll(stmt, "materialized", "view"):
		return StmtCreateMaterializedView
	case hasPrefix(stmt, "create") && containAll(stmt, "index"):
		return StmtCreateIndex
	case hasPrefix(stmt, "create") && containAll(stmt, "table"):
		return StmtCreateTable
	case IsAnalytical(stmt):
		return StmtSelect
	case hasPrefix(stmt, "insert", "update", "delete", "merge", "upsert", "replace"):
		return StmtDML
	}
	return StmtUnknown
}

// IsAnalytical reports whether the statement is a read-only query, i.e.
// its trimmed lower-cased text starts with 'select' or 'with'.
func IsAnalytical(sqlText string) bool {
	s := strings.ToLower(strings.TrimSpace(sqlText))
	return strings.HasPrefix(s, "select") || strings.HasPrefix(s, "with")
}

// NormalizeDigest normalizes the given Query text and returns the normalized Query text and its digest.
// Literals are replaced by '?' so queries of the same template share a digest.
func NormalizeDigest(sqlText string) (string, string) {
	normalized := parser.Normalize(sqlText)
	sum := sha256.Sum256([]byte(normalized))
	return normalized, hex.EncodeToString(sum[:])
}

// ShortDigest returns the first n characters of the digest of sqlText.
func ShortDigest(sqlText string, n int) string {
	_, digest := NormalizeDigest(sqlText)
	if len(digest) > n {
		return digest[:n]
	}
	return digest
}

// QualifiedName joins a schema and an object name, omitting an empty schema.
func QualifiedName(schemaName, name string) string {
	if schemaName == "" {
		return name
	}
	return schemaName + "." + name
}

// EscapeLiteral doubles the single quotes of s so it can be embedded in a SQL string literal.
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
