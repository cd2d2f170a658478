package utils

import (
	"os"
	"path"
	"regexp"
	"strings"
)

// FileExists tests whether this file exists and is or not a directory.
func FileExists(filename string) (exist, isDir bool) {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false, false
	}
	if err != nil {
		return false, false
	}
	return true, info.IsDir()
}

// ParseRawSQLsFromDir parses raw SQLs from the given directory.
// Each *.sql in this directory is parsed as a single SQL.
func ParseRawSQLsFromDir(dirPath string) (sqls, fileNames []string, err error) {
	des, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, nil, err
	}
	for _, entry := range des {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		fpath := path.Join(dirPath, entry.Name())
		content, err := os.ReadFile(fpath)
		if err != nil {
			return nil, nil, err
		}
		sql := strings.TrimSuffix(strings.TrimSpace(string(content)), ";")
		sqls = append(sqls, strings.TrimSpace(sql))
		fileNames = append(fileNames, entry.Name())
	}
	return
}

// ParseRawSQLsFromFile parses raw SQLs from the given file.
// It ignore all comments, and assume all SQLs are separated by ';'.
func ParseRawSQLsFromFile(fpath string) ([]string, error) {
	data, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}
	return SplitStmts(string(data)), nil
}

// SplitStmts drops empty lines and '--' comments and splits the rest by ';'.
func SplitStmts(content string) []string {
	lines := strings.Split(content, "\n")
	var filteredLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") { // empty line or comment
			continue
		}
		filteredLines = append(filteredLines, line)
	}
	content = strings.Join(filteredLines, "\n")

	tmp := strings.Split(content, ";")
	var sqls []string
	for _, sql := range tmp {
		sql = strings.TrimSpace(sql)
		if sql == "" {
			continue
		}
		sqls = append(sqls, sql)
	}
	return sqls
}

var blankLines = regexp.MustCompile(`\n[ \t\r]*\n`)

// ParseBlocksFromFile splits the file into blocks separated by one or more blank lines.
// Blocks that contain nothing but whitespace are skipped.
func ParseBlocksFromFile(fpath string) ([]string, error) {
	data, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}
	return SplitBlocks(string(data)), nil
}

// SplitBlocks splits content into blank-line separated blocks.
func SplitBlocks(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var blocks []string
	for _, b := range blankLines.Split(content, -1) {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}

func Min[T int | float64](xs ...T) T {
	res := xs[0]
	for _, x := range xs {
		if x < res {
			res = x
		}
	}
	return res
}

// Must panics if err is not nil.
func Must(err error, args ...interface{}) {
	if err != nil {
		panic(append([]interface{}{err}, args...))
	}
}
