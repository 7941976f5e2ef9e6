package mpath

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// freshSession returns a handle on db's connection (and transaction, if any)
// whose next statement starts clean. NewDB and Context must travel in one
// Session call: chaining WithContext onto a NewDB session clones the
// in-flight statement, built SQL included, and the next finisher re-executes
// that SQL instead of building its own.
func freshSession(db *gorm.DB, ctx context.Context) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true, Context: ctx})
}

// beforeCreate assigns paths ahead of the insert for models whose path source
// exists before the row's identity does, so path and row persist in one write.
func (p *Plugin) beforeCreate(db *gorm.DB) {
	if db.Error != nil || skipped(db) {
		return
	}
	s, ok := treeSettings(db)
	if !ok || s.postAssign {
		return
	}
	if err := eachNode(db.Statement.ReflectValue, func(rv reflect.Value) error {
		return p.assignPath(db, s, rv, false)
	}); err != nil {
		_ = db.AddError(err)
	}
}

// afterCreate assigns paths for models whose source is the auto-generated
// identity: the insert has revealed it, so each row gets its path computed
// and written back with one targeted update of just the path column.
func (p *Plugin) afterCreate(db *gorm.DB) {
	if db.Error != nil || skipped(db) {
		return
	}
	s, ok := treeSettings(db)
	if !ok || !s.postAssign {
		return
	}
	if err := eachNode(db.Statement.ReflectValue, func(rv reflect.Value) error {
		return p.assignPath(db, s, rv, true)
	}); err != nil {
		_ = db.AddError(err)
	}
}

// assignPath computes and stores a node's path. Idempotent: a node that
// already carries a path is left alone.
func (p *Plugin) assignPath(db *gorm.DB, s *settings, rv reflect.Value, deferred bool) error {
	const op = "mpath.AssignPath"
	ctx := db.Statement.Context

	existing, err := s.pathOf(ctx, rv)
	if err != nil {
		return err
	}
	if !existing.IsZero() {
		return nil
	}

	source := s.sourceOf(ctx, rv)
	if source == "" {
		return NewError(CodeInvalidSegment, op,
			fmt.Sprintf("path source %q is empty at create time", s.source.DBName), nil)
	}

	var next Path
	if parentKey, hasParent := s.parentKeyOf(ctx, rv); !hasParent {
		next, err = NewPath(source)
	} else {
		var parentPath Path
		parentPath, err = p.resolveParentPath(db, s, rv, parentKey)
		if err != nil {
			return err
		}
		next, err = parentPath.Child(source)
	}
	if err != nil {
		return err
	}
	if err := s.setPath(ctx, rv, next); err != nil {
		return err
	}
	if !deferred {
		return nil
	}

	keyVal, ok := s.keyOf(ctx, rv)
	if !ok {
		return NewError(CodeInternal, op, "identity still unset after insert", nil)
	}
	res := Skip(freshSession(db, ctx)).
		Table(s.sch.Table).
		Where(clause.Eq{Column: clause.Column{Name: s.key.DBName}, Value: keyVal}).
		Update(s.path.DBName, s.pathColumnValue(next))
	if res.Error != nil {
		return MapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return NewError(CodeInternal, op, "deferred path update matched no row", nil)
	}
	return nil
}

// resolveParentPath prefers a loaded parent association (whose path the
// create flow may have assigned moments ago) and falls back to reading the
// parent row.
func (p *Plugin) resolveParentPath(db *gorm.DB, s *settings, rv reflect.Value, parentKey interface{}) (Path, error) {
	if s.parentRef != "" {
		pv := rv.FieldByName(s.parentRef)
		for pv.Kind() == reflect.Ptr {
			if pv.IsNil() {
				pv = reflect.Value{}
				break
			}
			pv = pv.Elem()
		}
		if pv.IsValid() && pv.Kind() == reflect.Struct && pv.Type() == s.sch.ModelType {
			if pp, err := s.pathOf(db.Statement.Context, pv); err == nil && !pp.IsZero() {
				return pp, nil
			}
		}
	}
	return lookupPath(db, s, "mpath.AssignPath", parentKey)
}

// lookupPath reads one row's stored path by primary key. A missing row or a
// row without a path yields CodeMissingParent: path assignment cannot invent
// ancestry.
func lookupPath(db *gorm.DB, s *settings, op string, key interface{}) (Path, error) {
	key = derefValue(key)
	if key == nil {
		return Path{}, NewError(CodeMissingParent, op, "nil parent reference", nil)
	}
	var raw sql.NullString
	err := freshSession(db, db.Statement.Context).
		Table(s.sch.Table).
		Select("CAST(? AS TEXT)", clause.Column{Name: s.path.DBName}).
		Where(clause.Eq{Column: clause.Column{Name: s.key.DBName}, Value: key}).
		Take(&raw).Error
	if err != nil {
		if mapped := MapError(op, err); IsCode(mapped, CodeNotFound) {
			return Path{}, NewError(CodeMissingParent, op,
				fmt.Sprintf("parent %v does not exist", key), err)
		} else {
			return Path{}, mapped
		}
	}
	if !raw.Valid || raw.String == "" {
		return Path{}, NewError(CodeMissingParent, op,
			fmt.Sprintf("parent %v has no path assigned yet", key), nil)
	}
	return ParsePath(raw.String)
}

// currentRow is a node's stored state read just before an update commits.
type currentRow struct {
	Source sql.NullString
	Parent sql.NullString
	Path   sql.NullString
}

func loadCurrent(db *gorm.DB, s *settings, op string, key interface{}) (*currentRow, error) {
	var row currentRow
	err := freshSession(db, db.Statement.Context).
		Table(s.sch.Table).
		Select("CAST(? AS TEXT) AS source, CAST(? AS TEXT) AS parent, CAST(? AS TEXT) AS path",
			clause.Column{Name: s.source.DBName},
			clause.Column{Name: s.parent.DBName},
			clause.Column{Name: s.path.DBName}).
		Where(clause.Eq{Column: clause.Column{Name: s.key.DBName}, Value: key}).
		Take(&row).Error
	if err != nil {
		return nil, MapError(op, err)
	}
	return &row, nil
}

// moveState carries a confirmed parent change from the pre-update guard to
// the post-update rebuild.
type moveState struct {
	key  interface{}
	old  Path
	next Path
}

// beforeUpdate guards structural updates: when the destination touches the
// parent column it loads the row's stored state, runs the cycle check against
// the candidate parent's pre-update path, and stages the rebuild. Violations
// abort the whole update via AddError before anything is written.
func (p *Plugin) beforeUpdate(db *gorm.DB) {
	const op = "mpath.Update"
	if db.Error != nil || skipped(db) {
		return
	}
	s, ok := treeSettings(db)
	if !ok {
		return
	}
	// The path column is library-owned: strip it from caller updates so a
	// stale in-memory value cannot clobber what the rebuild writes. Writes
	// that really must touch it go through Skip.
	db.Statement.Omits = append(db.Statement.Omits, s.path.DBName)

	newParent, declared := pendingParent(db, s)
	if !declared {
		return
	}

	rv := db.Statement.ReflectValue
	if rv.Kind() != reflect.Struct {
		_ = db.AddError(NewError(CodeInternal, op,
			"parent changes require a primary-key addressed update", nil))
		return
	}
	keyVal, hasKey := s.keyOf(db.Statement.Context, rv)
	if !hasKey {
		_ = db.AddError(NewError(CodeInternal, op,
			"parent changes require the model's primary key to be set", nil))
		return
	}
	prev, err := loadCurrent(db, s, op, keyVal)
	if err != nil {
		if IsCode(err, CodeNotFound) {
			// nothing to guard; the update will touch zero rows
			return
		}
		_ = db.AddError(err)
		return
	}

	newKey, newSet := normalizeKey(newParent)
	oldKey, oldSet := prev.Parent.String, prev.Parent.Valid && prev.Parent.String != ""
	if newSet == oldSet && newKey == oldKey {
		return
	}
	source := prev.Source.String
	if source == "" {
		_ = db.AddError(NewError(CodeInvalidSegment, op, "stored path source is empty", nil))
		return
	}

	var next Path
	if !newSet {
		next, err = NewPath(source)
	} else {
		var parentPath Path
		parentPath, err = lookupPath(db, s, op, newParent)
		if err == nil {
			err = checkCycle(op, source, parentPath)
		}
		if err == nil {
			next, err = parentPath.Child(source)
		}
	}
	if err != nil {
		_ = db.AddError(err)
		return
	}

	oldPath, err := ParsePath(prev.Path.String)
	if err != nil {
		_ = db.AddError(err)
		return
	}
	db.InstanceSet("mpath:move", &moveState{key: keyVal, old: oldPath, next: next})
}

// afterUpdate runs the subtree rebuild once the parent change has actually
// been written. Still inside the statement's transaction, so the stale-path
// window closes before the caller sees the commit.
func (p *Plugin) afterUpdate(db *gorm.DB) {
	if db.Error != nil || skipped(db) {
		return
	}
	v, ok := db.InstanceGet("mpath:move")
	if !ok {
		return
	}
	if db.RowsAffected == 0 {
		return
	}
	s, ok := treeSettings(db)
	if !ok {
		return
	}
	mv := v.(*moveState)
	ctx := db.Statement.Context

	var rows int64
	var err error
	if mv.old.IsZero() {
		// the row predates path maintenance; give it a path, no subtree to move
		res := Skip(freshSession(db, ctx)).
			Table(s.sch.Table).
			Where(clause.Eq{Column: clause.Column{Name: s.key.DBName}, Value: mv.key}).
			Update(s.path.DBName, s.pathColumnValue(mv.next))
		rows, err = res.RowsAffected, res.Error
		if err != nil {
			err = MapError("mpath.RebuildSubtree", err)
		}
	} else {
		rows, err = rebuildSubtree(ctx, db, s, mv.old, mv.next)
	}
	if err != nil {
		_ = db.AddError(err)
		return
	}
	if rv := db.Statement.ReflectValue; rv.Kind() == reflect.Struct && rv.Type() == s.sch.ModelType {
		_ = s.setPath(ctx, rv, mv.next)
	}
	p.log.Debug("subtree paths rebuilt",
		"table", s.sch.Table, "old", mv.old.String(), "new", mv.next.String(), "rows", rows)
}

// pendingParent inspects the update destination for an intended parent
// change: a map key, a struct field carrying a value, or a zero struct field
// the caller explicitly selected (clearing to root). Struct destinations of
// any type count, partial update structs included: the parent column resolves
// through the dest's own parsed schema, and select/omit gating mirrors how
// gorm converts struct dests to assignments, so the guard sees exactly the
// parent writes the update statement will carry.
func pendingParent(db *gorm.DB, s *settings) (interface{}, bool) {
	stmt := db.Statement
	selectColumns, restricted := stmt.SelectAndOmitColumns(false, true)
	sel, ok := selectColumns[s.parent.DBName]
	if ok && !sel {
		// parent column omitted or deselected; gorm will not write it
		return nil, false
	}
	switch dest := stmt.Dest.(type) {
	case map[string]interface{}:
		if !ok && restricted {
			return nil, false
		}
		if v, has := dest[s.parent.DBName]; has {
			return v, true
		}
		if v, has := dest[s.parent.Name]; has {
			return v, true
		}
	default:
		rv := reflect.ValueOf(stmt.Dest)
		for rv.Kind() == reflect.Ptr {
			if rv.IsNil() {
				return nil, false
			}
			rv = rv.Elem()
		}
		if !rv.IsValid() || rv.Kind() != reflect.Struct {
			return nil, false
		}
		field := s.parent
		if rv.Type() != s.sch.ModelType {
			destSch, err := schema.Parse(stmt.Dest, schemaStore, db.NamingStrategy)
			if err != nil {
				return nil, false
			}
			if field = destSch.LookUpField(s.parent.DBName); field == nil || !field.Updatable {
				return nil, false
			}
		}
		v, zero := field.ValueOf(stmt.Context, rv)
		if !zero && (ok || !restricted) {
			return v, true
		}
		if zero && ok {
			// a selected zero value writes NULL: an explicit clear to root
			return nil, true
		}
	}
	return nil, false
}

// eachNode applies fn to every struct destination of a statement, covering
// single records and batches.
func eachNode(rv reflect.Value, fn func(reflect.Value) error) error {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			elem := rv.Index(i)
			for elem.Kind() == reflect.Ptr {
				if elem.IsNil() {
					elem = reflect.Value{}
					break
				}
				elem = elem.Elem()
			}
			if !elem.IsValid() || elem.Kind() != reflect.Struct {
				continue
			}
			if err := fn(elem); err != nil {
				return err
			}
		}
	case reflect.Struct:
		return fn(rv)
	}
	return nil
}

func derefValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}
