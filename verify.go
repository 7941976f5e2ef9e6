package mpath

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TableSpec addresses one tree table by name for the schema-less maintenance
// entry points (integrity checks and backfills driven by config rather than
// model types). Zero columns take the library defaults.
type TableSpec struct {
	Table        string `yaml:"table"`
	KeyColumn    string `yaml:"key_column"`
	ParentColumn string `yaml:"parent_column"`
	SourceColumn string `yaml:"source_column"`
	PathColumn   string `yaml:"path_column"`
}

func (s TableSpec) withDefaults() TableSpec {
	if s.KeyColumn == "" {
		s.KeyColumn = "id"
	}
	if s.ParentColumn == "" {
		s.ParentColumn = "parent_id"
	}
	if s.SourceColumn == "" {
		s.SourceColumn = s.KeyColumn
	}
	if s.PathColumn == "" {
		s.PathColumn = "path"
	}
	return s
}

type ViolationKind string

const (
	// ViolationMissingPath: the row resolves cleanly but carries no path.
	ViolationMissingPath ViolationKind = "missing_path"
	// ViolationPathMismatch: the stored path disagrees with the parent chain.
	ViolationPathMismatch ViolationKind = "path_mismatch"
	// ViolationOrphanParent: the parent reference points at no row.
	ViolationOrphanParent ViolationKind = "orphan_parent"
	// ViolationParentCycle: the row's parent chain loops back on itself.
	ViolationParentCycle ViolationKind = "parent_cycle"
	// ViolationInvalidSource: the path-source value is empty or contains the
	// delimiter, so no segment can be derived from it.
	ViolationInvalidSource ViolationKind = "invalid_source"
)

// Violation is one integrity finding. Key, Expected and Actual are text
// renderings of the row's key and paths.
type Violation struct {
	Kind     ViolationKind
	Key      string
	Expected string
	Actual   string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s key=%s expected=%q actual=%q", v.Kind, v.Key, v.Expected, v.Actual)
}

// VerifyTable scans a whole tree table, recomputes every row's expected path
// from the parent chain in memory, and reports the differences. Rows beneath
// an unresolvable ancestor (orphan, cycle, invalid source) are not comparable
// and carry no violation of their own; fixing the cause and re-running
// surfaces whatever remains.
func VerifyTable(ctx context.Context, db *gorm.DB, spec TableSpec) ([]Violation, error) {
	const op = "mpath.VerifyTable"
	spec = spec.withDefaults()
	if spec.Table == "" {
		return nil, NewError(CodeInternal, op, "table name required", nil)
	}
	rows, err := scanTable(ctx, db, spec, op)
	if err != nil {
		return nil, err
	}
	r := newResolver(rows)

	keys := make([]string, 0, len(r.rows))
	for key := range r.rows {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []Violation
	for _, key := range keys {
		row := r.rows[key]
		expected, ok := r.resolve(key)
		if !ok {
			if kind, flagged := r.bad[key]; flagged {
				out = append(out, Violation{Kind: kind, Key: key, Actual: row.StoredPath.String})
			}
			continue
		}
		stored := row.StoredPath.String
		switch {
		case stored == "":
			out = append(out, Violation{Kind: ViolationMissingPath, Key: key, Expected: expected.String()})
		case stored != expected.String():
			out = append(out, Violation{Kind: ViolationPathMismatch, Key: key, Expected: expected.String(), Actual: stored})
		}
	}
	return out, nil
}

// RepairTable rewrites every path VerifyTable would flag as missing or
// mismatched, shallow rows first, in one transaction. Returns the number of
// rows rewritten. Orphans, cycles and invalid sources are left for the
// operator; they have no computable path.
func RepairTable(ctx context.Context, db *gorm.DB, spec TableSpec) (int64, error) {
	const op = "mpath.RepairTable"
	spec = spec.withDefaults()
	if spec.Table == "" {
		return 0, NewError(CodeInternal, op, "table name required", nil)
	}
	rows, err := scanTable(ctx, db, spec, op)
	if err != nil {
		return 0, err
	}
	r := newResolver(rows)

	type fix struct {
		key   string
		path  string
		depth int
	}
	var fixes []fix
	for key, row := range r.rows {
		expected, ok := r.resolve(key)
		if !ok {
			continue
		}
		if row.StoredPath.String != expected.String() {
			fixes = append(fixes, fix{key: key, path: expected.String(), depth: expected.Depth()})
		}
	}
	sort.Slice(fixes, func(i, j int) bool {
		if fixes[i].depth != fixes[j].depth {
			return fixes[i].depth < fixes[j].depth
		}
		return fixes[i].key < fixes[j].key
	})

	var fixed int64
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, f := range fixes {
			res := tx.Table(spec.Table).
				Where("CAST(? AS TEXT) = ?", clause.Column{Name: spec.KeyColumn}, f.key).
				Update(spec.PathColumn, f.path)
			if res.Error != nil {
				return MapError(op, res.Error)
			}
			fixed += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return fixed, nil
}

// verifyRow is one row's tree columns read in text space, so a single scan
// shape covers every key and path type the table might use.
type verifyRow struct {
	NodeKey    sql.NullString `gorm:"column:node_key"`
	ParentKey  sql.NullString `gorm:"column:parent_key"`
	SourceVal  sql.NullString `gorm:"column:source_value"`
	StoredPath sql.NullString `gorm:"column:stored_path"`
}

func scanTable(ctx context.Context, db *gorm.DB, spec TableSpec, op string) ([]*verifyRow, error) {
	var rows []*verifyRow
	err := db.WithContext(ctx).
		Table(spec.Table).
		Select("CAST(? AS TEXT) AS node_key, CAST(? AS TEXT) AS parent_key, CAST(? AS TEXT) AS source_value, CAST(? AS TEXT) AS stored_path",
			clause.Column{Name: spec.KeyColumn},
			clause.Column{Name: spec.ParentColumn},
			clause.Column{Name: spec.SourceColumn},
			clause.Column{Name: spec.PathColumn}).
		Find(&rows).Error
	if err != nil {
		return nil, MapError(op, err)
	}
	return rows, nil
}

const (
	stateVisiting uint8 = iota + 1
	stateDone
)

// resolver computes expected paths over an in-memory table snapshot,
// memoizing per row and flagging the rows whose ancestry cannot resolve.
type resolver struct {
	rows  map[string]*verifyRow
	memo  map[string]Path
	bad   map[string]ViolationKind
	state map[string]uint8
	stack []string
}

func newResolver(rows []*verifyRow) *resolver {
	r := &resolver{
		rows:  make(map[string]*verifyRow, len(rows)),
		memo:  make(map[string]Path, len(rows)),
		bad:   make(map[string]ViolationKind),
		state: make(map[string]uint8, len(rows)),
	}
	for _, row := range rows {
		if !row.NodeKey.Valid || row.NodeKey.String == "" {
			continue
		}
		r.rows[row.NodeKey.String] = row
	}
	return r
}

// resolve returns the expected path for a key, false when the row's ancestry
// cannot produce one. Cycle detection marks exactly the keys on the loop, by
// walking the visit stack back to the re-entered key.
func (r *resolver) resolve(key string) (Path, bool) {
	if p, ok := r.memo[key]; ok {
		return p, true
	}
	if _, ok := r.bad[key]; ok {
		return Path{}, false
	}
	if r.state[key] == stateDone {
		// visited without a memo entry: skipped beneath an unresolvable row
		return Path{}, false
	}

	r.state[key] = stateVisiting
	r.stack = append(r.stack, key)
	defer func() {
		r.stack = r.stack[:len(r.stack)-1]
		r.state[key] = stateDone
	}()

	row := r.rows[key]
	source := row.SourceVal.String
	if source == "" || strings.Contains(source, Delimiter) {
		r.bad[key] = ViolationInvalidSource
		return Path{}, false
	}

	if !row.ParentKey.Valid || row.ParentKey.String == "" {
		p, err := NewPath(source)
		if err != nil {
			r.bad[key] = ViolationInvalidSource
			return Path{}, false
		}
		r.memo[key] = p
		return p, true
	}

	parentKey := row.ParentKey.String
	if _, ok := r.rows[parentKey]; !ok {
		r.bad[key] = ViolationOrphanParent
		return Path{}, false
	}
	if r.state[parentKey] == stateVisiting {
		for i := len(r.stack) - 1; i >= 0; i-- {
			r.bad[r.stack[i]] = ViolationParentCycle
			if r.stack[i] == parentKey {
				break
			}
		}
		return Path{}, false
	}

	pp, ok := r.resolve(parentKey)
	if !ok {
		return Path{}, false
	}
	p, err := pp.Child(source)
	if err != nil {
		r.bad[key] = ViolationInvalidSource
		return Path{}, false
	}
	r.memo[key] = p
	return p, true
}
