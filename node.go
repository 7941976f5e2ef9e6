package mpath

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Config maps a tree-enabled model onto its columns. Zero fields fall back to
// defaults: "path", "parent_id", the primary key as path source, and a
// "Parent" association field for resolving loaded parents without a query.
//
// The parent column must reference the model's own primary key; the source
// column supplies the node's path segment and must be unique across the table
// for ancestor tests to be sound.
//
// The path field is either a Path, which migrates to the backend-native
// column type on its own, or any string-kind field whose column type the
// model author keeps appropriate for the backend.
type Config struct {
	PathColumn   string
	ParentColumn string
	SourceColumn string
	ParentField  string
}

// Node marks a GORM model as tree-enabled. Implement with a value receiver so
// both T and *T satisfy it:
//
//	func (Category) TreeConfig() mpath.Config { return mpath.Config{SourceColumn: "slug"} }
type Node interface {
	TreeConfig() Config
}

var errNotTreeModel = errors.New("mpath: model does not implement Node")

// settings is the resolved, cached form of a model's Config: schema fields
// plus the create-timing branch. Resolved once per model type.
type settings struct {
	sch    *schema.Schema
	key    *schema.Field
	path   *schema.Field
	parent *schema.Field
	source *schema.Field

	// parentRef names the struct field holding the loaded parent, "" when the
	// model declares none.
	parentRef string

	// postAssign: the path source is the auto-generated identity, so the path
	// can only be written after the insert reveals it.
	postAssign bool
}

var (
	settingsCache sync.Map // reflect.Type -> *settings
	schemaStore   = &sync.Map{}
)

// resolveSettings parses model (a struct, pointer, or slice thereof) and
// resolves its tree settings. Returns errNotTreeModel when the type does not
// implement Node.
func resolveSettings(db *gorm.DB, model interface{}) (*settings, error) {
	rt := indirectStructType(reflect.TypeOf(model))
	if rt == nil {
		return nil, NewError(CodeInternal, "mpath", fmt.Sprintf("cannot derive a model struct from %T", model), nil)
	}
	if cached, ok := settingsCache.Load(rt); ok {
		return cached.(*settings), nil
	}
	if _, ok := reflect.New(rt).Interface().(Node); !ok {
		return nil, errNotTreeModel
	}
	sch, err := schema.Parse(reflect.New(rt).Interface(), schemaStore, db.NamingStrategy)
	if err != nil {
		return nil, NewError(CodeInternal, "mpath", "parse model schema", err)
	}
	return settingsForSchema(sch)
}

// settingsForSchema resolves settings from an already-parsed schema (the hook
// path, where GORM has done the parsing).
func settingsForSchema(sch *schema.Schema) (*settings, error) {
	if cached, ok := settingsCache.Load(sch.ModelType); ok {
		return cached.(*settings), nil
	}
	node, ok := reflect.New(sch.ModelType).Interface().(Node)
	if !ok {
		return nil, errNotTreeModel
	}
	cfg := node.TreeConfig()
	if cfg.PathColumn == "" {
		cfg.PathColumn = "path"
	}
	if cfg.ParentColumn == "" {
		cfg.ParentColumn = "parent_id"
	}
	if cfg.ParentField == "" {
		cfg.ParentField = "Parent"
	}

	s := &settings{sch: sch}
	if s.key = sch.PrioritizedPrimaryField; s.key == nil {
		return nil, NewError(CodeInternal, "mpath", fmt.Sprintf("model %s has no primary key", sch.Name), nil)
	}
	if s.path = sch.LookUpField(cfg.PathColumn); s.path == nil {
		return nil, NewError(CodeInternal, "mpath", fmt.Sprintf("model %s has no path column %q", sch.Name, cfg.PathColumn), nil)
	}
	if s.parent = sch.LookUpField(cfg.ParentColumn); s.parent == nil {
		return nil, NewError(CodeInternal, "mpath", fmt.Sprintf("model %s has no parent column %q", sch.Name, cfg.ParentColumn), nil)
	}
	if cfg.SourceColumn == "" {
		s.source = s.key
	} else if s.source = sch.LookUpField(cfg.SourceColumn); s.source == nil {
		return nil, NewError(CodeInternal, "mpath", fmt.Sprintf("model %s has no source column %q", sch.Name, cfg.SourceColumn), nil)
	}
	if rel, ok := sch.Relationships.Relations[cfg.ParentField]; ok && rel.Type == schema.BelongsTo {
		s.parentRef = cfg.ParentField
	}
	s.postAssign = s.source == s.key && (s.key.AutoIncrement || s.key.HasDefaultValue)

	settingsCache.Store(sch.ModelType, s)
	return s, nil
}

func indirectStructType(rt reflect.Type) reflect.Type {
	for rt != nil {
		switch rt.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Array:
			rt = rt.Elem()
		case reflect.Struct:
			return rt
		default:
			return nil
		}
	}
	return nil
}

var pathType = reflect.TypeOf(Path{})

// pathOf reads the record's path column as a Path, accepting both Path-typed
// and string-kind columns.
func (s *settings) pathOf(ctx context.Context, rv reflect.Value) (Path, error) {
	v, zero := s.path.ValueOf(ctx, rv)
	if zero || v == nil {
		return Path{}, nil
	}
	switch t := v.(type) {
	case Path:
		return t, nil
	case string:
		return ParsePath(t)
	}
	if pv := reflect.ValueOf(v); pv.Kind() == reflect.String {
		return ParsePath(pv.String())
	}
	return Path{}, NewError(CodeInternal, "mpath", fmt.Sprintf("unsupported path column type %T on %s", v, s.sch.Name), nil)
}

func (s *settings) setPath(ctx context.Context, rv reflect.Value, p Path) error {
	var val interface{}
	switch {
	case s.path.FieldType == pathType:
		val = p
	case s.path.FieldType.Kind() == reflect.String:
		val = p.String()
	default:
		return NewError(CodeInternal, "mpath", fmt.Sprintf("unsupported path column type %s on %s", s.path.FieldType, s.sch.Name), nil)
	}
	if err := s.path.Set(ctx, rv, val); err != nil {
		return NewError(CodeInternal, "mpath", "set path field", err)
	}
	return nil
}

// pathColumnValue converts a Path to the value written in targeted updates,
// matching the field's declared type.
func (s *settings) pathColumnValue(p Path) interface{} {
	if s.path.FieldType == pathType {
		return p
	}
	return p.String()
}

// sourceOf renders the record's path-source column as a segment string;
// empty when the column is unset.
func (s *settings) sourceOf(ctx context.Context, rv reflect.Value) string {
	v, zero := s.source.ValueOf(ctx, rv)
	if zero {
		return ""
	}
	str, _ := normalizeKey(v)
	return str
}

// parentKeyOf reads the record's parent reference. set is false for roots.
func (s *settings) parentKeyOf(ctx context.Context, rv reflect.Value) (interface{}, bool) {
	v, zero := s.parent.ValueOf(ctx, rv)
	if zero || v == nil {
		return nil, false
	}
	return v, true
}

// keyOf reads the record's primary key.
func (s *settings) keyOf(ctx context.Context, rv reflect.Value) (interface{}, bool) {
	v, zero := s.key.ValueOf(ctx, rv)
	if zero || v == nil {
		return nil, false
	}
	return v, true
}

// normalizeKey renders an identity or parent-reference value as a comparable
// string. ok is false for nil (and nil-pointer) values.
func normalizeKey(v interface{}) (string, bool) {
	if v == nil {
		return "", false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch t := rv.Interface().(type) {
	case string:
		return t, t != ""
	case []byte:
		return string(t), len(t) > 0
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}
