package mpath

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/yungbote/mpath/pkg/dbctx"
	"github.com/yungbote/mpath/platform/logger"
)

// Manager is the explicit tree API over one model type: path assignment,
// guarded moves, subtree rebuilds, and the ancestry queries. It works with or
// without the plugin installed; every write it performs bypasses the plugin's
// callbacks so the two never double-run.
//
// Methods run on dbc.Tx when set, otherwise on the manager's base connection.
type Manager[T Node] interface {
	// AssignPath computes and persists the node's path from its stored parent.
	// Idempotent: a node that already carries a path is left alone.
	AssignPath(dbc dbctx.Context, node *T) error

	// ValidateMove checks whether node can be reparented under newParent (nil
	// means "to root") without writing anything. Reports
	// CodeCircularReference or CodeMissingParent on violation.
	ValidateMove(dbc dbctx.Context, node *T, newParent *T) error

	// Move reparents node under newParent (nil means "to root"): validates,
	// commits the parent reference, and rebuilds the subtree's paths in one
	// transaction. node's parent and path fields reflect the committed state
	// afterwards.
	Move(dbc dbctx.Context, node *T, newParent *T) error

	// RebuildSubtree recomputes the node's canonical path from its stored
	// parent and rewrites the whole subtree to match, returning affected rows.
	// For after out-of-band writes; a consistent subtree is a no-op.
	RebuildSubtree(dbc dbctx.Context, node *T) (int64, error)

	Roots(dbc dbctx.Context) ([]*T, error)
	Children(dbc dbctx.Context, node *T) ([]*T, error)
	Ancestors(dbc dbctx.Context, node *T) ([]*T, error)
	Descendants(dbc dbctx.Context, node *T) ([]*T, error)
	SelfAndDescendants(dbc dbctx.Context, node *T) ([]*T, error)

	// JoinAncestors returns the node followed by its ancestors deepest-first,
	// in one query.
	JoinAncestors(dbc dbctx.Context, node *T) ([]*T, error)

	// IsAncestorOf reports whether node is a strict ancestor of other. Never
	// true for the node itself.
	IsAncestorOf(dbc dbctx.Context, node, other *T) (bool, error)
	IsDescendantOf(dbc dbctx.Context, node, other *T) (bool, error)

	// Verify scans the whole table for path integrity violations; Repair
	// rewrites the paths Verify would flag.
	Verify(dbc dbctx.Context) ([]Violation, error)
	Repair(dbc dbctx.Context) (int64, error)
}

type manager[T Node] struct {
	db    *gorm.DB
	s     *settings
	codec Codec
	log   *logger.Logger
}

func NewManager[T Node](db *gorm.DB, baseLog *logger.Logger) (Manager[T], error) {
	s, err := resolveSettings(db, new(T))
	if err != nil {
		return nil, err
	}
	codec, err := codecForDB(db)
	if err != nil {
		return nil, err
	}
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &manager[T]{
		db:    db,
		s:     s,
		codec: codec,
		log:   baseLog.With("manager", s.sch.Name),
	}, nil
}

func (m *manager[T]) tx(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = m.db
	}
	ctx := dbc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return t.WithContext(ctx)
}

func (m *manager[T]) nodeValue(op string, node *T) (reflect.Value, error) {
	if node == nil {
		return reflect.Value{}, NewError(CodeInternal, op, "nil node", nil)
	}
	return reflect.ValueOf(node).Elem(), nil
}

// pathFor resolves a node's path, preferring the in-memory field and falling
// back to the stored row when the caller holds a partially loaded record.
func (m *manager[T]) pathFor(t *gorm.DB, op string, node *T) (Path, error) {
	rv, err := m.nodeValue(op, node)
	if err != nil {
		return Path{}, err
	}
	ctx := t.Statement.Context
	p, err := m.s.pathOf(ctx, rv)
	if err != nil || !p.IsZero() {
		return p, err
	}
	key, ok := m.s.keyOf(ctx, rv)
	if !ok {
		return Path{}, NewError(CodeInternal, op, "node has neither path nor primary key set", nil)
	}
	row, err := loadCurrent(t, m.s, op, key)
	if err != nil {
		return Path{}, err
	}
	return ParsePath(row.Path.String)
}

func (m *manager[T]) AssignPath(dbc dbctx.Context, node *T) error {
	const op = "mpath.Manager.AssignPath"
	t := m.tx(dbc)
	rv, err := m.nodeValue(op, node)
	if err != nil {
		return err
	}
	ctx := t.Statement.Context

	existing, err := m.s.pathOf(ctx, rv)
	if err != nil {
		return err
	}
	if !existing.IsZero() {
		return nil
	}
	source := m.s.sourceOf(ctx, rv)
	if source == "" {
		return NewError(CodeInvalidSegment, op,
			fmt.Sprintf("path source %q is empty", m.s.source.DBName), nil)
	}

	var next Path
	if parentKey, hasParent := m.s.parentKeyOf(ctx, rv); !hasParent {
		next, err = NewPath(source)
	} else {
		var parentPath Path
		parentPath, err = lookupPath(t, m.s, op, parentKey)
		if err != nil {
			return err
		}
		next, err = parentPath.Child(source)
	}
	if err != nil {
		return err
	}

	key, ok := m.s.keyOf(ctx, rv)
	if !ok {
		return NewError(CodeInternal, op, "node has no primary key set", nil)
	}
	res := Skip(freshSession(t, ctx)).
		Table(m.s.sch.Table).
		Where(clause.Eq{Column: m.keyCol(), Value: key}).
		Update(m.s.path.DBName, m.s.pathColumnValue(next))
	if res.Error != nil {
		return MapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return NewError(CodeNotFound, op, fmt.Sprintf("node %v not found", key), nil)
	}
	return m.s.setPath(ctx, rv, next)
}

func (m *manager[T]) ValidateMove(dbc dbctx.Context, node *T, newParent *T) error {
	const op = "mpath.Manager.ValidateMove"
	_, _, _, err := m.planMove(m.tx(dbc), op, node, newParent)
	return err
}

func (m *manager[T]) Move(dbc dbctx.Context, node *T, newParent *T) error {
	const op = "mpath.Manager.Move"
	t := m.tx(dbc)
	rv, err := m.nodeValue(op, node)
	if err != nil {
		return err
	}

	var next Path
	var parentVal interface{}
	if err := t.Transaction(func(tx *gorm.DB) error {
		old, planned, key, err := m.planMove(tx, op, node, newParent)
		if err != nil {
			return err
		}
		next = planned

		ctx := tx.Statement.Context
		if newParent != nil {
			prv := reflect.ValueOf(newParent).Elem()
			parentVal, _ = m.s.keyOf(ctx, prv)
		}
		res := Skip(freshSession(tx, ctx)).
			Table(m.s.sch.Table).
			Where(clause.Eq{Column: m.keyCol(), Value: key}).
			Update(m.s.parent.DBName, parentVal)
		if res.Error != nil {
			return MapError(op, res.Error)
		}
		if res.RowsAffected == 0 {
			return NewError(CodeNotFound, op, fmt.Sprintf("node %v not found", key), nil)
		}

		if old.IsZero() {
			// the row predates path maintenance; give it a path, no subtree
			// can exist under it
			res := Skip(freshSession(tx, ctx)).
				Table(m.s.sch.Table).
				Where(clause.Eq{Column: m.keyCol(), Value: key}).
				Update(m.s.path.DBName, m.s.pathColumnValue(next))
			if res.Error != nil {
				return MapError(op, res.Error)
			}
			return nil
		}
		rows, err := rebuildSubtree(ctx, tx, m.s, old, next)
		if err != nil {
			return err
		}
		m.log.Debug("node moved", "table", m.s.sch.Table, "new", next.String(), "rows", rows)
		return nil
	}); err != nil {
		return err
	}

	ctx := t.Statement.Context
	if err := setField(ctx, m.s.parent, rv, parentVal); err != nil {
		return NewError(CodeInternal, op, "set parent field", err)
	}
	return m.s.setPath(ctx, rv, next)
}

// planMove loads the node's stored state and computes the post-move path,
// running the cycle check against the candidate parent's pre-update path.
func (m *manager[T]) planMove(t *gorm.DB, op string, node *T, newParent *T) (old, next Path, key interface{}, err error) {
	rv, err := m.nodeValue(op, node)
	if err != nil {
		return Path{}, Path{}, nil, err
	}
	ctx := t.Statement.Context
	key, ok := m.s.keyOf(ctx, rv)
	if !ok {
		return Path{}, Path{}, nil, NewError(CodeInternal, op, "node has no primary key set", nil)
	}
	row, err := loadCurrent(t, m.s, op, key)
	if err != nil {
		return Path{}, Path{}, nil, err
	}
	source := row.Source.String
	if source == "" {
		return Path{}, Path{}, nil, NewError(CodeInvalidSegment, op, "stored path source is empty", nil)
	}

	if newParent == nil {
		next, err = NewPath(source)
	} else {
		prv := reflect.ValueOf(newParent).Elem()
		parentKey, ok := m.s.keyOf(ctx, prv)
		if !ok {
			return Path{}, Path{}, nil, NewError(CodeInternal, op, "new parent has no primary key set", nil)
		}
		var parentPath Path
		parentPath, err = lookupPath(t, m.s, op, parentKey)
		if err == nil {
			err = checkCycle(op, source, parentPath)
		}
		if err == nil {
			next, err = parentPath.Child(source)
		}
	}
	if err != nil {
		return Path{}, Path{}, nil, err
	}
	old, err = ParsePath(row.Path.String)
	return old, next, key, err
}

func (m *manager[T]) RebuildSubtree(dbc dbctx.Context, node *T) (int64, error) {
	const op = "mpath.Manager.RebuildSubtree"
	t := m.tx(dbc)
	rv, err := m.nodeValue(op, node)
	if err != nil {
		return 0, err
	}
	ctx := t.Statement.Context
	key, ok := m.s.keyOf(ctx, rv)
	if !ok {
		return 0, NewError(CodeInternal, op, "node has no primary key set", nil)
	}
	row, err := loadCurrent(t, m.s, op, key)
	if err != nil {
		return 0, err
	}
	source := row.Source.String
	if source == "" {
		return 0, NewError(CodeInvalidSegment, op, "stored path source is empty", nil)
	}

	var canonical Path
	if !row.Parent.Valid || row.Parent.String == "" {
		canonical, err = NewPath(source)
	} else {
		var parentPath Path
		parentPath, err = m.lookupPathByTextKey(t, op, row.Parent.String)
		if err != nil {
			return 0, err
		}
		canonical, err = parentPath.Child(source)
	}
	if err != nil {
		return 0, err
	}

	old, err := ParsePath(row.Path.String)
	if err != nil {
		return 0, err
	}
	if old.IsZero() {
		res := Skip(freshSession(t, ctx)).
			Table(m.s.sch.Table).
			Where(clause.Eq{Column: m.keyCol(), Value: key}).
			Update(m.s.path.DBName, m.s.pathColumnValue(canonical))
		if res.Error != nil {
			return 0, MapError(op, res.Error)
		}
		if err := m.s.setPath(ctx, rv, canonical); err != nil {
			return res.RowsAffected, err
		}
		return res.RowsAffected, nil
	}
	rows, err := rebuildSubtree(ctx, t, m.s, old, canonical)
	if err != nil {
		return 0, err
	}
	if err := m.s.setPath(ctx, rv, canonical); err != nil {
		return rows, err
	}
	return rows, nil
}

// lookupPathByTextKey is lookupPath for keys recovered from a text-cast
// column read. Comparing in text space keeps it portable across key types at
// the cost of the key index; it only backs the explicit rebuild.
func (m *manager[T]) lookupPathByTextKey(t *gorm.DB, op string, textKey string) (Path, error) {
	var raw sql.NullString
	err := freshSession(t, t.Statement.Context).
		Table(m.s.sch.Table).
		Select("CAST(? AS TEXT)", m.s.pathCol()).
		Where("CAST(? AS TEXT) = ?", m.keyCol(), textKey).
		Take(&raw).Error
	if err != nil {
		if mapped := MapError(op, err); IsCode(mapped, CodeNotFound) {
			return Path{}, NewError(CodeMissingParent, op,
				fmt.Sprintf("parent %v does not exist", textKey), err)
		} else {
			return Path{}, mapped
		}
	}
	if !raw.Valid || raw.String == "" {
		return Path{}, NewError(CodeMissingParent, op,
			fmt.Sprintf("parent %v has no path assigned yet", textKey), nil)
	}
	return ParsePath(raw.String)
}

func (m *manager[T]) Roots(dbc dbctx.Context) ([]*T, error) {
	t := m.tx(dbc)
	var out []*T
	if err := t.
		Where(gorm.Expr("? IS NULL", m.s.parentCol())).
		Order(m.pathOrder(false)).
		Find(&out).Error; err != nil {
		return nil, MapError("mpath.Manager.Roots", err)
	}
	return out, nil
}

func (m *manager[T]) Children(dbc dbctx.Context, node *T) ([]*T, error) {
	const op = "mpath.Manager.Children"
	t := m.tx(dbc)
	rv, err := m.nodeValue(op, node)
	if err != nil {
		return nil, err
	}
	key, ok := m.s.keyOf(t.Statement.Context, rv)
	if !ok {
		return nil, NewError(CodeInternal, op, "node has no primary key set", nil)
	}
	var out []*T
	if err := t.
		Where(clause.Eq{Column: m.s.parentCol(), Value: key}).
		Order(m.pathOrder(false)).
		Find(&out).Error; err != nil {
		return nil, MapError(op, err)
	}
	return out, nil
}

func (m *manager[T]) Ancestors(dbc dbctx.Context, node *T) ([]*T, error) {
	return m.pathQuery(dbc, "mpath.Manager.Ancestors", node, Codec.Ancestors, false)
}

func (m *manager[T]) Descendants(dbc dbctx.Context, node *T) ([]*T, error) {
	return m.pathQuery(dbc, "mpath.Manager.Descendants", node, Codec.Descendants, false)
}

func (m *manager[T]) SelfAndDescendants(dbc dbctx.Context, node *T) ([]*T, error) {
	return m.pathQuery(dbc, "mpath.Manager.SelfAndDescendants", node, Codec.SelfOrDescendants, false)
}

func (m *manager[T]) JoinAncestors(dbc dbctx.Context, node *T) ([]*T, error) {
	chain, err := m.pathQuery(dbc, "mpath.Manager.JoinAncestors", node, Codec.Ancestors, true)
	if err != nil {
		return nil, err
	}
	return append([]*T{node}, chain...), nil
}

// pathQuery runs one ancestry predicate against the node's path in a single
// round trip regardless of tree height. Ordering is by path, which sorts an
// ancestor chain root-first ascending (a prefix compares below its
// extensions) and descendants in depth-first order.
func (m *manager[T]) pathQuery(dbc dbctx.Context, op string, node *T,
	build func(Codec, clause.Column, Path) clause.Expr, deepestFirst bool) ([]*T, error) {
	t := m.tx(dbc)
	p, err := m.pathFor(t, op, node)
	if err != nil {
		return nil, err
	}
	if p.IsZero() {
		return nil, NewError(CodeInternal, op, "node has no path assigned", nil)
	}
	var out []*T
	if err := t.
		Where(build(m.codec, m.s.pathCol(), p)).
		Order(m.pathOrder(deepestFirst)).
		Find(&out).Error; err != nil {
		return nil, MapError(op, err)
	}
	return out, nil
}

func (m *manager[T]) IsAncestorOf(dbc dbctx.Context, node, other *T) (bool, error) {
	const op = "mpath.Manager.IsAncestorOf"
	t := m.tx(dbc)
	a, err := m.pathFor(t, op, node)
	if err != nil {
		return false, err
	}
	b, err := m.pathFor(t, op, other)
	if err != nil {
		return false, err
	}
	if a.IsZero() || b.IsZero() {
		return false, nil
	}
	return b.HasPrefix(a) && !a.Equal(b), nil
}

func (m *manager[T]) IsDescendantOf(dbc dbctx.Context, node, other *T) (bool, error) {
	return m.IsAncestorOf(dbc, other, node)
}

func (m *manager[T]) Verify(dbc dbctx.Context) ([]Violation, error) {
	t := m.tx(dbc)
	return VerifyTable(t.Statement.Context, t, m.tableSpec())
}

func (m *manager[T]) Repair(dbc dbctx.Context) (int64, error) {
	t := m.tx(dbc)
	fixed, err := RepairTable(t.Statement.Context, t, m.tableSpec())
	if err == nil && fixed > 0 {
		m.log.Debug("paths repaired", "table", m.s.sch.Table, "rows", fixed)
	}
	return fixed, err
}

func (m *manager[T]) tableSpec() TableSpec {
	return TableSpec{
		Table:        m.s.sch.Table,
		KeyColumn:    m.s.key.DBName,
		PathColumn:   m.s.path.DBName,
		ParentColumn: m.s.parent.DBName,
		SourceColumn: m.s.source.DBName,
	}
}

func (m *manager[T]) keyCol() clause.Column { return clause.Column{Name: m.s.key.DBName} }

func (m *manager[T]) pathOrder(desc bool) clause.OrderBy {
	return clause.OrderBy{Columns: []clause.OrderByColumn{{Column: m.s.pathCol(), Desc: desc}}}
}

// setField writes v into a schema field, accepting nil to zero the field (the
// GORM setter has no nil convention for every field type).
func setField(ctx context.Context, f *schema.Field, rv reflect.Value, v interface{}) error {
	if v == nil {
		fv := f.ReflectValueOf(ctx, rv)
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	return f.Set(ctx, rv, v)
}
