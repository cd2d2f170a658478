package design

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qw4990/pds_replay/optimizer"
	"github.com/qw4990/pds_replay/utils"
	"github.com/qw4990/pds_replay/workload"
)

// Manager creates, drops and sizes the arms of one schema.
// It is not safe for concurrent use.
type Manager struct {
	db      optimizer.DB
	schema  string
	catalog *Catalog

	live        map[string]*workload.Arm
	hypoHandles map[string]string
	hypoProbed  bool
	hypoOK      bool

	now func() time.Time
}

// NewManager creates a manager of the given schema with an empty catalog.
func NewManager(db optimizer.DB, schema string) *Manager {
	return &Manager{
		db:          db,
		schema:      schema,
		catalog:     NewCatalog(db, schema),
		live:        make(map[string]*workload.Arm),
		hypoHandles: make(map[string]string),
		now:         time.Now,
	}
}

// Catalog returns the per-run catalog.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// Live returns the arms the manager believes exist, keyed by structure name.
func (m *Manager) Live() map[string]*workload.Arm {
	live := make(map[string]*workload.Arm, len(m.live))
	for k, v := range m.live {
		live[k] = v
	}
	return live
}

// Create creates the arm and returns the creation time in seconds.
// The arm must not exist yet.
func (m *Manager) Create(ctx context.Context, arm *workload.Arm) (float64, error) {
	if arm.Kind == workload.ArmHypothetical {
		return m.CreateHypothetical(ctx, arm)
	}
	start := m.now()
	if arm.Kind == workload.ArmViewIndex {
		if err := m.db.Execute(ctx, arm.ViewDDL()); err != nil {
			return 0, err
		}
	}
	if err := m.db.Execute(ctx, arm.DDL()); err != nil {
		if arm.Kind == workload.ArmViewIndex {
			if dropErr := m.db.Execute(ctx, m.db.Dialect().DropViewSQL(arm.SchemaName, arm.ViewName)); dropErr != nil {
				utils.Warningf("%v", &DropError{Arm: arm, Err: dropErr})
			}
		}
		return 0, err
	}
	cost := m.now().Sub(start).Seconds()
	m.live[arm.Key()] = arm
	utils.Debugf("created %v in %.3fs", arm, cost)
	m.SetSize(ctx, arm)
	return cost, nil
}

// SetSize reads the on-disk size of the arm and stores it on the arm and in the catalog.
// Failures are logged, the size stays unknown.
func (m *Manager) SetSize(ctx context.Context, arm *workload.Arm) {
	q := m.db.Dialect().IndexSizeSQL(arm.SchemaName, arm.Target(), arm.IndexName)
	if q == "" {
		return
	}
	mb, err := m.queryFloat(ctx, q)
	if err != nil {
		utils.Warningf("failed to get the size of %v: %v", arm.IndexName, err)
		return
	}
	arm.Memory = mb
	m.catalog.SetSize(arm.IndexName, mb)
}

// Drop drops the arm. The returned *DropError is already logged, callers may ignore it.
func (m *Manager) Drop(ctx context.Context, arm *workload.Arm) error {
	if arm.Kind == workload.ArmHypothetical {
		return m.DropHypothetical(ctx, arm)
	}
	d := m.db.Dialect()
	stmt := d.DropIndexSQL(arm.SchemaName, arm.Target(), arm.IndexName)
	if arm.Kind == workload.ArmViewIndex {
		stmt = d.DropViewSQL(arm.SchemaName, arm.ViewName)
	}
	delete(m.live, arm.Key())
	if err := m.db.Execute(ctx, stmt); err != nil {
		dropErr := &DropError{Arm: arm, Err: err}
		utils.Warningf("%v", dropErr)
		return dropErr
	}
	return nil
}

// BulkReconcile drops all arms of toRemove, then creates all arms of toAdd, both in name order.
// It returns the creation time of every created arm in seconds.
// The first failed creation stops the reconciliation with an *ApplyError.
func (m *Manager) BulkReconcile(ctx context.Context, toAdd, toRemove map[string]*workload.Arm) (map[string]float64, error) {
	for _, name := range sortedNames(toRemove) {
		m.Drop(ctx, toRemove[name])
	}
	costs := make(map[string]float64, len(toAdd))
	for _, name := range sortedNames(toAdd) {
		arm := toAdd[name]
		cost, err := m.Create(ctx, arm)
		if err != nil {
			return costs, &ApplyError{Arm: arm, Err: err}
		}
		costs[name] = cost
	}
	return costs, nil
}

// HypotheticalSupported probes once whether the database supports hypothetical indexes.
func (m *Manager) HypotheticalSupported(ctx context.Context) bool {
	if !m.hypoProbed {
		d := m.db.Dialect()
		rows, err := m.db.QueryStrings(ctx, d.HypoProbeSQL())
		m.hypoOK = d.HypoSupported(rows, err)
		m.hypoProbed = true
		if !m.hypoOK {
			utils.Warningf("%v does not support hypothetical indexes, hypothetical arms are ignored", d.Name())
		}
	}
	return m.hypoOK
}

// CreateHypothetical creates a planner-only index. It costs nothing when hypothetical indexes are not supported.
func (m *Manager) CreateHypothetical(ctx context.Context, arm *workload.Arm) (float64, error) {
	if !m.HypotheticalSupported(ctx) {
		return 0, nil
	}
	start := m.now()
	stmt := m.db.Dialect().CreateHypoIndexSQL(arm.SchemaName, arm.TableName, arm.IndexName, arm.ColumnList())
	rows, err := m.db.QueryStrings(ctx, stmt)
	if err != nil {
		return 0, err
	}
	handle := arm.IndexName
	if len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] != "" {
		handle = rows[0][0]
	}
	m.hypoHandles[arm.Key()] = handle
	m.live[arm.Key()] = arm
	return m.now().Sub(start).Seconds(), nil
}

// DropHypothetical drops a planner-only index.
func (m *Manager) DropHypothetical(ctx context.Context, arm *workload.Arm) error {
	handle, ok := m.hypoHandles[arm.Key()]
	delete(m.live, arm.Key())
	delete(m.hypoHandles, arm.Key())
	if !ok || !m.HypotheticalSupported(ctx) {
		return nil
	}
	stmt := m.db.Dialect().DropHypoIndexSQL(arm.SchemaName, arm.TableName, arm.IndexName, handle)
	if err := m.db.Execute(ctx, stmt); err != nil {
		dropErr := &DropError{Arm: arm, Err: err}
		utils.Warningf("%v", dropErr)
		return dropErr
	}
	return nil
}

// ResetHypothetical drops all planner-only indexes.
func (m *Manager) ResetHypothetical(ctx context.Context) error {
	var hypos []*workload.Arm
	for _, name := range sortedNames(m.live) {
		if arm := m.live[name]; arm.Kind == workload.ArmHypothetical {
			hypos = append(hypos, arm)
		}
	}
	if len(hypos) == 0 {
		return nil
	}
	if reset := m.db.Dialect().ResetHypoSQL(); reset != "" && m.HypotheticalSupported(ctx) {
		for _, arm := range hypos {
			delete(m.live, arm.Key())
			delete(m.hypoHandles, arm.Key())
		}
		_, err := m.db.QueryStrings(ctx, reset)
		return err
	}
	var errs []error
	for _, arm := range hypos {
		if err := m.DropHypothetical(ctx, arm); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveAllNonClustered drops every index of the schema that does not back a constraint,
// then every materialized view of the schema.
// It returns the number of dropped indexes.
func (m *Manager) RemoveAllNonClustered(ctx context.Context) (int, error) {
	d := m.db.Dialect()
	rows, err := m.db.QueryStrings(ctx, d.IndexesSQL(m.schema))
	if err != nil {
		return 0, fmt.Errorf("list indexes: %w", err)
	}
	dropped := 0
	for _, row := range rows {
		if len(row) < 3 {
			return dropped, fmt.Errorf("unexpected index row %v", row)
		}
		name, table := row[0], row[1]
		backsConstraint, err := strconv.ParseBool(strings.TrimSpace(row[2]))
		if err != nil {
			utils.Warningf("cannot tell whether index %v backs a constraint (%q), keeping it", name, row[2])
			continue
		}
		if backsConstraint {
			continue
		}
		if err := m.db.Execute(ctx, d.DropIndexSQL(m.schema, table, name)); err != nil {
			if optimizer.IsConnectionError(err) {
				return dropped, err
			}
			utils.Warningf("%v", &DropError{Arm: &workload.Arm{SchemaName: m.schema, TableName: table, IndexName: name}, Err: err})
			continue
		}
		dropped++
	}
	if err := m.removeMaterializedViews(ctx); err != nil {
		return dropped, err
	}
	for name, arm := range m.live {
		if arm.Kind != workload.ArmHypothetical {
			delete(m.live, name)
		}
	}
	utils.Infof("removed %v secondary indexes from schema %v", dropped, m.schema)
	return dropped, nil
}

func (m *Manager) removeMaterializedViews(ctx context.Context) error {
	d := m.db.Dialect()
	q := d.MaterializedViewsSQL(m.schema)
	if q == "" {
		return nil
	}
	rows, err := m.db.QueryStrings(ctx, q)
	if err != nil {
		return fmt.Errorf("list materialized views: %w", err)
	}
	for _, row := range rows {
		view := row[0]
		if err := m.db.Execute(ctx, d.DropViewSQL(m.schema, view)); err != nil {
			if optimizer.IsConnectionError(err) {
				return err
			}
			utils.Warningf("failed to drop materialized view %v: %v", utils.QualifiedName(m.schema, view), err)
			continue
		}
		utils.Infof("dropped materialized view %v", utils.QualifiedName(m.schema, view))
	}
	return nil
}

// CurrentPDSSize returns the size of all secondary structures in MB.
func (m *Manager) CurrentPDSSize(ctx context.Context) (float64, error) {
	return m.queryFloat(ctx, m.db.Dialect().PDSSizeSQL(m.schema))
}

// EstimateSize estimates the size of the arm in MB as row count times the length of its non primary key columns.
func (m *Manager) EstimateSize(ctx context.Context, arm *workload.Arm) (float64, error) {
	t, err := m.catalog.Table(ctx, arm.TableName)
	if err != nil {
		return 0, err
	}
	pk := utils.NewSet[columnName]()
	for _, c := range t.PrimaryKey {
		pk.Add(columnName(c))
	}
	cols := utils.NewSet[columnName]()
	for _, c := range arm.ColumnList() {
		if !pk.Contains(columnName(c)) {
			cols.Add(columnName(c))
		}
	}
	length := 0
	for _, c := range cols.ToList() {
		length += t.Columns[string(c)].Size
	}
	return t.RowCount * float64(length) / float64(1024*1024), nil
}

// ValidateArms checks that the tables and columns of all arms exist.
func (m *Manager) ValidateArms(ctx context.Context, arms []*workload.Arm) error {
	var errs []error
	for _, arm := range arms {
		if arm.Kind == workload.ArmViewIndex {
			if !m.db.Dialect().SupportsMaterializedViews() {
				errs = append(errs, fmt.Errorf("%v: materialized views are not supported by %v", arm.IndexName, m.db.Dialect().Name()))
			}
			continue
		}
		t, err := m.catalog.Table(ctx, arm.TableName)
		if err != nil {
			if optimizer.IsConnectionError(err) {
				return err
			}
			errs = append(errs, fmt.Errorf("%v: %w", arm.IndexName, err))
			continue
		}
		for _, c := range arm.ColumnList() {
			if _, ok := t.Columns[c]; !ok {
				errs = append(errs, fmt.Errorf("%v: column %v.%v does not exist", arm.IndexName, arm.TableName, c))
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) queryFloat(ctx context.Context, q string) (float64, error) {
	rows, err := m.db.QueryStrings(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return parseFloat(rows[0][0])
}

type columnName string

func (c columnName) Key() string { return string(c) }

func sortedNames(arms map[string]*workload.Arm) []string {
	names := make([]string, 0, len(arms))
	for name := range arms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
