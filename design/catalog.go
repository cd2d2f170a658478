package design

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/qw4990/pds_replay/optimizer"
	"github.com/qw4990/pds_replay/utils"
)

// Column is a column of a catalog table.
type Column struct {
	Name     string
	DataType string
	Size     int // bytes per value
}

// Table is a table of the managed schema.
type Table struct {
	Name       string
	RowCount   float64
	PrimaryKey []string
	Columns    map[string]Column
}

// Catalog caches the schema metadata of one run.
// It is populated on first use and read-only afterwards, except for structure sizes.
type Catalog struct {
	db     optimizer.DB
	schema string
	tables map[string]*Table
	sizes  map[string]float64 // structure name -> MB
}

// NewCatalog creates an empty catalog of the given schema.
func NewCatalog(db optimizer.DB, schema string) *Catalog {
	return &Catalog{db: db, schema: schema, sizes: make(map[string]float64)}
}

// Tables returns all base tables of the schema.
func (c *Catalog) Tables(ctx context.Context) (map[string]*Table, error) {
	if c.tables != nil {
		return c.tables, nil
	}
	d := c.db.Dialect()
	rows, err := c.db.QueryStrings(ctx, d.TablesSQL(c.schema))
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	tables := make(map[string]*Table, len(rows))
	for _, row := range rows {
		t, err := c.loadTable(ctx, row[0])
		if err != nil {
			return nil, err
		}
		tables[t.Name] = t
	}
	utils.Debugf("catalog of schema %v loaded: %v tables", c.schema, len(tables))
	c.tables = tables
	return tables, nil
}

// Table returns the named table.
func (c *Catalog) Table(ctx context.Context, name string) (*Table, error) {
	tables, err := c.Tables(ctx)
	if err != nil {
		return nil, err
	}
	t, ok := tables[name]
	if !ok {
		return nil, fmt.Errorf("table %v.%v does not exist", c.schema, name)
	}
	return t, nil
}

func (c *Catalog) loadTable(ctx context.Context, name string) (*Table, error) {
	d := c.db.Dialect()
	t := &Table{Name: name, Columns: make(map[string]Column)}

	rows, err := c.db.QueryStrings(ctx, d.RowCountSQL(c.schema, name))
	if err != nil {
		return nil, fmt.Errorf("row count of %v: %w", name, err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		if t.RowCount, err = parseFloat(rows[0][0]); err != nil {
			return nil, fmt.Errorf("row count of %v: %w", name, err)
		}
	}

	rows, err = c.db.QueryStrings(ctx, d.PrimaryKeySQL(c.schema, name))
	if err != nil {
		return nil, fmt.Errorf("primary key of %v: %w", name, err)
	}
	for _, row := range rows {
		t.PrimaryKey = append(t.PrimaryKey, row[0])
	}

	rows, err = c.db.QueryStrings(ctx, d.ColumnsSQL(c.schema, name))
	if err != nil {
		return nil, fmt.Errorf("columns of %v: %w", name, err)
	}
	for _, row := range rows {
		col := Column{Name: row[0], DataType: row[1]}
		if s := strings.TrimSpace(row[2]); s != "" {
			size, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("size of column %v.%v: %w", name, row[0], err)
			}
			col.Size = int(size)
		}
		t.Columns[col.Name] = col
	}
	return t, nil
}

// SetSize records the size of a structure in MB.
func (c *Catalog) SetSize(name string, mb float64) {
	c.sizes[name] = mb
}

// Size returns the recorded size of a structure in MB.
func (c *Catalog) Size(name string) (float64, bool) {
	mb, ok := c.sizes[name]
	return mb, ok
}

// parseFloat parses a numeric column, the empty string (NULL) is 0.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
